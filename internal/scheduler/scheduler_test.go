package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traficast/backend/internal/domain"
	"github.com/traficast/backend/internal/repository/memory"
)

// blockingForecaster parks until released so tests can hold a job
// mid-flight.
type blockingForecaster struct {
	started chan struct{}
	release chan struct{}
	reqs    chan domain.ForecastRequest
}

func newBlockingForecaster() *blockingForecaster {
	return &blockingForecaster{
		started: make(chan struct{}),
		release: make(chan struct{}),
		reqs:    make(chan domain.ForecastRequest, 8),
	}
}

func (f *blockingForecaster) Forecast(ctx context.Context, req domain.ForecastRequest) ([]domain.PredictionRecord, domain.OutcomeSummary, error) {
	f.reqs <- req
	close(f.started)
	<-f.release
	return nil, domain.OutcomeSummary{Requested: len(req.LocationIDs)}, nil
}

type stubReconciler struct {
	calls   int
	windows [][2]time.Time
}

func (r *stubReconciler) Reconcile(ctx context.Context, from, to time.Time) (domain.ReconcileSummary, error) {
	r.calls++
	r.windows = append(r.windows, [2]time.Time{from, to})
	return domain.ReconcileSummary{ReconciledCount: 3, SkippedCount: 1}, nil
}

func testDirectory(n int) *memory.LocationDirectory {
	dir := memory.NewLocationDirectory()
	for i := 1; i <= n; i++ {
		dir.Add(domain.Location{ID: int64(i), Name: string(rune('A' + i - 1))})
	}
	return dir
}

func TestManualTriggerConflictsWhileRunning(t *testing.T) {
	forecaster := newBlockingForecaster()
	sched := New(forecaster, &stubReconciler{}, testDirectory(3), Config{})

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunDailyNow(context.Background())
		done <- err
	}()

	<-forecaster.started

	// Same job: must be rejected while the first run is in flight.
	if _, err := sched.RunDailyNow(context.Background()); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Errorf("second daily trigger: error = %v, want %v", err, ErrJobAlreadyRunning)
	}

	// Distinct jobs may run concurrently with it.
	if _, err := sched.RunReconciliationNow(context.Background()); err != nil {
		t.Errorf("reconciliation alongside daily: %v", err)
	}

	close(forecaster.release)
	if err := <-done; err != nil {
		t.Fatalf("first daily run failed: %v", err)
	}

	// Lock released: the job is runnable again.
	forecaster2 := newBlockingForecaster()
	close(forecaster2.release)
	sched.orchestrator = forecaster2
	if _, err := sched.RunDailyNow(context.Background()); err != nil {
		t.Errorf("daily after release: %v", err)
	}
}

func TestScheduledTickSkippedWhileRunning(t *testing.T) {
	forecaster := newBlockingForecaster()
	sched := New(forecaster, &stubReconciler{}, testDirectory(1), Config{})

	first := make(chan struct{})
	go func() {
		sched.runScheduled("daily", &sched.dailyLock, sched.runDaily)
		close(first)
	}()

	<-forecaster.started

	// A second tick firing mid-run must return immediately without
	// queueing; the forecaster would park forever if it got a call.
	tickDone := make(chan struct{})
	go func() {
		sched.runScheduled("daily", &sched.dailyLock, sched.runDaily)
		close(tickDone)
	}()

	select {
	case <-tickDone:
	case <-time.After(time.Second):
		t.Fatal("overlapping tick was not skipped")
	}

	close(forecaster.release)
	<-first
}

func TestScheduledJobErrorIsContained(t *testing.T) {
	sched := New(nil, &stubReconciler{}, testDirectory(1), Config{})

	// Panics and errors at the job boundary must not escape.
	sched.runScheduled("daily", &sched.dailyLock, func(ctx context.Context) error {
		panic("job exploded")
	})
	sched.runScheduled("daily", &sched.dailyLock, func(ctx context.Context) error {
		return errors.New("job failed")
	})
}

func TestDailyRequestShape(t *testing.T) {
	forecaster := newBlockingForecaster()
	close(forecaster.release)
	sched := New(forecaster, &stubReconciler{}, testDirectory(3), Config{DailyMinConfidence: 0.7})

	if _, err := sched.RunDailyNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := <-forecaster.reqs
	if req.Kind != domain.KindDaily {
		t.Errorf("kind = %v, want DAILY", req.Kind)
	}
	if len(req.LocationIDs) != 3 {
		t.Errorf("got %d locations, want all 3 active", len(req.LocationIDs))
	}
	if req.MinimumConfidence == nil || *req.MinimumConfidence != 0.7 {
		t.Errorf("minimum confidence = %v, want 0.7", req.MinimumConfidence)
	}
	if !req.TargetTime.After(time.Now()) {
		t.Errorf("target %v not in the future", req.TargetTime)
	}
	if req.TargetTime.Hour() != 0 || req.TargetTime.Minute() != 0 {
		t.Errorf("daily target %v is not midnight UTC", req.TargetTime)
	}
}

// recordingForecaster captures every request and reports full success.
type recordingForecaster struct {
	reqs []domain.ForecastRequest
}

func (f *recordingForecaster) Forecast(ctx context.Context, req domain.ForecastRequest) ([]domain.PredictionRecord, domain.OutcomeSummary, error) {
	f.reqs = append(f.reqs, req)
	return nil, domain.OutcomeSummary{
		Requested: len(req.LocationIDs),
		Succeeded: len(req.LocationIDs),
	}, nil
}

func TestDailyForecastCoversAllActiveLocations(t *testing.T) {
	// 150 active locations exceed what one forecast request admits; the
	// daily job must chunk, never drop the tail.
	forecaster := &recordingForecaster{}
	sched := New(forecaster, &stubReconciler{}, testDirectory(150), Config{})

	summary, err := sched.RunDailyNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forecaster.reqs) != 2 {
		t.Fatalf("got %d forecast requests, want 2 chunks", len(forecaster.reqs))
	}
	if n := len(forecaster.reqs[0].LocationIDs); n != domain.MaxForecastLocations {
		t.Errorf("first chunk carries %d locations, want %d", n, domain.MaxForecastLocations)
	}
	if n := len(forecaster.reqs[1].LocationIDs); n != 50 {
		t.Errorf("second chunk carries %d locations, want 50", n)
	}

	seen := make(map[int64]bool)
	for _, req := range forecaster.reqs {
		if req.Kind != domain.KindDaily {
			t.Errorf("chunk kind = %v, want DAILY", req.Kind)
		}
		if !req.TargetTime.Equal(forecaster.reqs[0].TargetTime) {
			t.Errorf("chunk target %v differs from %v", req.TargetTime, forecaster.reqs[0].TargetTime)
		}
		for _, id := range req.LocationIDs {
			if seen[id] {
				t.Errorf("location %d forecast twice", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != 150 {
		t.Errorf("chunks covered %d distinct locations, want all 150", len(seen))
	}

	if summary.Requested != 150 || summary.Succeeded != 150 {
		t.Errorf("merged summary = %+v, want 150 requested and succeeded", summary)
	}
}

func TestHourlyRequestLimitsLocations(t *testing.T) {
	forecaster := newBlockingForecaster()
	close(forecaster.release)
	sched := New(forecaster, &stubReconciler{}, testDirectory(25), Config{
		HourlyLocationLimit: 20,
		HourlyMinConfidence: 0.8,
	})

	if _, err := sched.RunHourlyNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := <-forecaster.reqs
	if req.Kind != domain.KindHourly {
		t.Errorf("kind = %v, want HOURLY", req.Kind)
	}
	if len(req.LocationIDs) != 20 {
		t.Errorf("got %d locations, want top 20", len(req.LocationIDs))
	}
	if req.TargetTime.Minute() != 0 || req.TargetTime.Second() != 0 {
		t.Errorf("hourly target %v is not a full hour", req.TargetTime)
	}
}

func TestReconciliationWindowUsesLookback(t *testing.T) {
	rec := &stubReconciler{}
	sched := New(newBlockingForecaster(), rec, testDirectory(1), Config{ReconcileLookback: 48 * time.Hour})

	summary, err := sched.RunReconciliationNow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ReconciledCount != 3 || summary.SkippedCount != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if rec.calls != 1 {
		t.Fatalf("reconciler called %d times, want 1", rec.calls)
	}
	window := rec.windows[0]
	if got := window[1].Sub(window[0]); got != 48*time.Hour {
		t.Errorf("window span = %v, want 48h", got)
	}
}

func TestNoActiveLocationsFailsForecastJobs(t *testing.T) {
	forecaster := newBlockingForecaster()
	sched := New(forecaster, &stubReconciler{}, memory.NewLocationDirectory(), Config{})

	if _, err := sched.RunDailyNow(context.Background()); err == nil {
		t.Error("expected error with no active locations")
	}
}
