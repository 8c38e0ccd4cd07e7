package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/traficast/backend/internal/domain"
)

// ErrJobAlreadyRunning is returned by manual triggers when the same job
// is still executing. The caller should treat it as a conflict, not a
// failure.
var ErrJobAlreadyRunning = errors.New("job is already running")

// ForecastRunner is the orchestration entry point the jobs drive.
type ForecastRunner interface {
	Forecast(ctx context.Context, req domain.ForecastRequest) ([]domain.PredictionRecord, domain.OutcomeSummary, error)
}

// ReconcileRunner is the reconciliation entry point the nightly job drives.
type ReconcileRunner interface {
	Reconcile(ctx context.Context, from, to time.Time) (domain.ReconcileSummary, error)
}

// Config tunes what the recurring jobs cover.
type Config struct {
	HourlyLocationLimit int
	DailyMinConfidence  float64
	HourlyMinConfidence float64
	ReconcileLookback   time.Duration
	JobTimeout          time.Duration
}

// Scheduler owns the three recurring jobs: daily forecast at midnight,
// hourly forecast on the hour, accuracy reconciliation at 03:00. Each
// job holds a run lock so a tick that fires while the previous run of
// the same job is still executing is skipped, never queued. Manual
// triggers go through the same locks and the same job bodies, so manual
// and scheduled executions behave identically.
type Scheduler struct {
	scheduler    *gocron.Scheduler
	orchestrator ForecastRunner
	reconciler   ReconcileRunner
	locations    domain.LocationDirectory
	cfg          Config

	dailyLock     sync.Mutex
	hourlyLock    sync.Mutex
	reconcileLock sync.Mutex
}

// New creates a Scheduler.
func New(orchestrator ForecastRunner, reconciler ReconcileRunner, locations domain.LocationDirectory, cfg Config) *Scheduler {
	if cfg.HourlyLocationLimit <= 0 {
		cfg.HourlyLocationLimit = 20
	}
	if cfg.ReconcileLookback <= 0 {
		cfg.ReconcileLookback = 24 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		scheduler:    gocron.NewScheduler(time.UTC),
		orchestrator: orchestrator,
		reconciler:   reconciler,
		locations:    locations,
		cfg:          cfg,
	}
}

// Start registers the cron jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Cron("0 0 * * *").Do(func() {
		s.runScheduled("daily", &s.dailyLock, s.runDaily)
	}); err != nil {
		return fmt.Errorf("scheduler: failed to register daily job: %w", err)
	}

	if _, err := s.scheduler.Cron("0 * * * *").Do(func() {
		s.runScheduled("hourly", &s.hourlyLock, s.runHourly)
	}); err != nil {
		return fmt.Errorf("scheduler: failed to register hourly job: %w", err)
	}

	if _, err := s.scheduler.Cron("0 3 * * *").Do(func() {
		s.runScheduled("reconciliation", &s.reconcileLock, s.runReconciliation)
	}); err != nil {
		return fmt.Errorf("scheduler: failed to register reconciliation job: %w", err)
	}

	s.scheduler.StartAsync()
	log.Println("scheduler: started (daily 00:00, hourly :00, reconciliation 03:00 UTC)")
	return nil
}

// Stop stops the scheduler and cancels any future ticks. In-flight jobs
// finish on their own timeout budget.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// runScheduled guards an automatic tick: an overlapping tick of the same
// job is dropped, and any error or panic is contained at the job
// boundary so the schedule keeps firing.
func (s *Scheduler) runScheduled(name string, lock *sync.Mutex, job func(ctx context.Context) error) {
	if !lock.TryLock() {
		log.Printf("scheduler: %s job still running, skipping tick", name)
		return
	}
	defer lock.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: %s job panicked: %v", name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	log.Printf("scheduler: %s job started", name)
	if err := job(ctx); err != nil {
		log.Printf("scheduler: %s job failed: %v", name, err)
		return
	}
	log.Printf("scheduler: %s job completed", name)
}

// RunDailyNow triggers the daily forecast job manually. Returns
// ErrJobAlreadyRunning when a daily run is in flight.
func (s *Scheduler) RunDailyNow(ctx context.Context) (domain.OutcomeSummary, error) {
	if !s.dailyLock.TryLock() {
		return domain.OutcomeSummary{}, ErrJobAlreadyRunning
	}
	defer s.dailyLock.Unlock()

	return s.forecastDaily(ctx)
}

// RunHourlyNow triggers the hourly forecast job manually.
func (s *Scheduler) RunHourlyNow(ctx context.Context) (domain.OutcomeSummary, error) {
	return s.runManualForecast(ctx, &s.hourlyLock, s.hourlyRequest)
}

// RunReconciliationNow triggers the reconciliation job manually.
func (s *Scheduler) RunReconciliationNow(ctx context.Context) (domain.ReconcileSummary, error) {
	if !s.reconcileLock.TryLock() {
		return domain.ReconcileSummary{}, ErrJobAlreadyRunning
	}
	defer s.reconcileLock.Unlock()

	to := time.Now().UTC()
	return s.reconciler.Reconcile(ctx, to.Add(-s.cfg.ReconcileLookback), to)
}

func (s *Scheduler) runManualForecast(
	ctx context.Context,
	lock *sync.Mutex,
	buildRequest func(ctx context.Context) (domain.ForecastRequest, error),
) (domain.OutcomeSummary, error) {
	if !lock.TryLock() {
		return domain.OutcomeSummary{}, ErrJobAlreadyRunning
	}
	defer lock.Unlock()

	req, err := buildRequest(ctx)
	if err != nil {
		return domain.OutcomeSummary{}, err
	}
	_, summary, err := s.orchestrator.Forecast(ctx, req)
	return summary, err
}

func (s *Scheduler) runDaily(ctx context.Context) error {
	summary, err := s.forecastDaily(ctx)
	if err != nil {
		return err
	}
	log.Printf("scheduler: daily forecast: %d requested, %d succeeded, %d failed",
		summary.Requested, summary.Succeeded, summary.Failed)
	return nil
}

// forecastDaily covers every active location. The active set may exceed
// what a single forecast request admits, so it is fanned out in
// request-sized chunks whose outcomes merge into one summary.
func (s *Scheduler) forecastDaily(ctx context.Context) (domain.OutcomeSummary, error) {
	ids, err := s.activeLocationIDs(ctx, 0)
	if err != nil {
		return domain.OutcomeSummary{}, err
	}

	now := time.Now().UTC()
	nextMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	minConfidence := s.cfg.DailyMinConfidence

	var total domain.OutcomeSummary
	for start := 0; start < len(ids); start += domain.MaxForecastLocations {
		end := start + domain.MaxForecastLocations
		if end > len(ids) {
			end = len(ids)
		}

		_, summary, err := s.orchestrator.Forecast(ctx, domain.ForecastRequest{
			LocationIDs:       ids[start:end],
			TargetTime:        nextMidnight,
			Kind:              domain.KindDaily,
			MinimumConfidence: &minConfidence,
		})
		mergeSummaries(&total, summary)
		if err != nil {
			return total, fmt.Errorf("scheduler: daily forecast chunk at offset %d: %w", start, err)
		}
	}

	return total, nil
}

func mergeSummaries(total *domain.OutcomeSummary, s domain.OutcomeSummary) {
	total.Requested += s.Requested
	total.Succeeded += s.Succeeded
	total.Failed += s.Failed
	total.MissingFromResponse = append(total.MissingFromResponse, s.MissingFromResponse...)
	total.Errors = append(total.Errors, s.Errors...)
}

func (s *Scheduler) runHourly(ctx context.Context) error {
	req, err := s.hourlyRequest(ctx)
	if err != nil {
		return err
	}
	_, summary, err := s.orchestrator.Forecast(ctx, req)
	if err != nil {
		return err
	}
	log.Printf("scheduler: hourly forecast: %d requested, %d succeeded, %d failed",
		summary.Requested, summary.Succeeded, summary.Failed)
	return nil
}

func (s *Scheduler) runReconciliation(ctx context.Context) error {
	to := time.Now().UTC()
	summary, err := s.reconciler.Reconcile(ctx, to.Add(-s.cfg.ReconcileLookback), to)
	if err != nil {
		return err
	}
	log.Printf("scheduler: reconciliation: %d reconciled, %d skipped",
		summary.ReconciledCount, summary.SkippedCount)
	return nil
}

// hourlyRequest targets the next full hour for the top-N major
// locations, keeping the hourly cadence cheap.
func (s *Scheduler) hourlyRequest(ctx context.Context) (domain.ForecastRequest, error) {
	limit := s.cfg.HourlyLocationLimit
	if limit > domain.MaxForecastLocations {
		log.Printf("scheduler: hourly location limit %d exceeds the per-request cap, using %d",
			limit, domain.MaxForecastLocations)
		limit = domain.MaxForecastLocations
	}

	ids, err := s.activeLocationIDs(ctx, limit)
	if err != nil {
		return domain.ForecastRequest{}, err
	}

	now := time.Now().UTC()
	nextHour := now.Truncate(time.Hour).Add(time.Hour)
	minConfidence := s.cfg.HourlyMinConfidence

	return domain.ForecastRequest{
		LocationIDs:       ids,
		TargetTime:        nextHour,
		Kind:              domain.KindHourly,
		MinimumConfidence: &minConfidence,
	}, nil
}

func (s *Scheduler) activeLocationIDs(ctx context.Context, limit int) ([]int64, error) {
	locations, err := s.locations.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to list active locations: %w", err)
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("scheduler: no active locations to forecast")
	}
	if limit > 0 && len(locations) > limit {
		locations = locations[:limit]
	}

	ids := make([]int64, 0, len(locations))
	for _, loc := range locations {
		ids = append(ids, loc.ID)
	}
	return ids, nil
}
