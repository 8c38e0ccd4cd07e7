package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/traficast/backend/internal/domain"
	"github.com/traficast/backend/internal/repository/memory"
	"github.com/traficast/backend/internal/scheduler"
	"github.com/traficast/backend/internal/service"
)

type testEnv struct {
	app   *fiber.App
	store *memory.PredictionStore
}

// newTestEnv wires the full stack against a fake model service.
func newTestEnv(t *testing.T, modelHandler http.HandlerFunc) testEnv {
	t.Helper()

	srv := httptest.NewServer(modelHandler)
	t.Cleanup(srv.Close)

	store := memory.NewPredictionStore()
	observations := memory.NewObservationStore()
	directory := memory.NewLocationDirectory()
	directory.Add(domain.Location{ID: 1, Name: "Central Crossing"})
	directory.Add(domain.Location{ID: 2, Name: "River Bridge"})

	model := service.NewModelClient(srv.URL, 5*time.Second, time.Second)
	orchestrator := service.NewOrchestrator(directory, store, model, service.NoopPublisher{})
	reconciler := service.NewReconciler(store, observations, 0)
	sched := scheduler.New(orchestrator, reconciler, directory, scheduler.Config{})

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": true, "message": err.Error()})
		},
	})
	SetupRoutes(app, NewHandler(orchestrator, sched, model, store))

	return testEnv{app: app, store: store}
}

func okModel(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{
		"predictions": [
			{"locationId": 1, "predictedVehicleCount": 120, "predictedSpeed": 45.5,
			 "predictedCongestionLevel": "NORMAL", "confidenceScore": 0.85}
		],
		"modelVersion": "v1"
	}`))
}

func TestForecastEndpointValidation(t *testing.T) {
	env := newTestEnv(t, okModel)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{{{`, fiber.StatusBadRequest},
		{"empty location list", `{"locationIds": [], "targetDatetime": "2031-01-01T00:00:00Z", "predictionType": "DAILY"}`, fiber.StatusBadRequest},
		{"past target", `{"locationIds": [1], "targetDatetime": "2001-01-01T00:00:00Z", "predictionType": "DAILY"}`, fiber.StatusBadRequest},
		{"unknown location", `{"locationIds": [1, 42], "targetDatetime": "2031-01-01T00:00:00Z", "predictionType": "DAILY"}`, fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions/forecast", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := env.app.Test(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestForecastEndpointSuccess(t *testing.T) {
	env := newTestEnv(t, okModel)

	target := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"locationIds": [1], "targetDatetime": %q, "predictionType": "HOURLY"}`, target)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions/forecast", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload struct {
		Success bool                      `json:"success"`
		Data    []domain.PredictionRecord `json:"data"`
		Summary domain.OutcomeSummary     `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || len(payload.Data) != 1 || payload.Summary.Succeeded != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestForecastEndpointBadGatewayOnModelFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})

	target := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"locationIds": [1], "targetDatetime": %q, "predictionType": "HOURLY"}`, target)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions/forecast", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestLatestPredictionEndpoint(t *testing.T) {
	env := newTestEnv(t, okModel)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/predictions/latest/1", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404 with no predictions yet", resp.StatusCode)
	}

	rec := domain.PredictionRecord{
		LocationID:               1,
		PredictionTime:           time.Now().UTC(),
		TargetTime:               time.Now().UTC().Add(time.Hour),
		PredictedVehicleCount:    50,
		PredictedCongestionLevel: domain.CongestionSlow,
		Kind:                     domain.KindHourly,
	}
	if err := env.store.SavePrediction(context.Background(), &rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	resp, err = env.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/latest/1", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	resp, err = env.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/latest/abc", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a bad id", resp.StatusCode)
	}
}

func TestManualTriggerEndpoints(t *testing.T) {
	env := newTestEnv(t, okModel)

	// Reconciliation with nothing due still succeeds with zero counts.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/jobs/reconciliation", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	// Daily trigger drives the same orchestration path.
	resp, err = env.app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/jobs/daily", nil), 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, okModel)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	down := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	resp, err = down.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when the model probe fails", resp.StatusCode)
	}
}

func TestAccuracyStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, okModel)

	// Two reconciled records inside the default 24h window.
	for i, score := range []float64{0.8, 0.6} {
		rec := domain.PredictionRecord{
			LocationID:               int64(i + 1),
			PredictionTime:           time.Now().UTC().Add(-10 * time.Hour),
			TargetTime:               time.Now().UTC().Add(-6 * time.Hour),
			PredictedVehicleCount:    10,
			PredictedCongestionLevel: domain.CongestionNormal,
			Kind:                     domain.KindHourly,
		}
		if err := env.store.SavePrediction(context.Background(), &rec); err != nil {
			t.Fatalf("save: %v", err)
		}
		err := env.store.FillReconciliation(context.Background(), rec.ID, domain.Reconciliation{
			ActualVehicleCount: 10,
			AccuracyScore:      score,
			ReconciledAt:       time.Now().UTC().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("fill: %v", err)
		}
	}

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/accuracy/stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Count int     `json:"count"`
			Mean  float64 `json:"mean"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Data.Count != 2 || payload.Data.Mean != 0.7 {
		t.Errorf("stats = %+v, want count 2 mean 0.7", payload.Data)
	}
}
