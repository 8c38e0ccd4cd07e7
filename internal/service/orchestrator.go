package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/traficast/backend/internal/domain"
)

// Forecaster produces one batched model forecast per request.
type Forecaster interface {
	Forecast(ctx context.Context, req domain.ForecastRequest) (domain.ModelResult, error)
}

// Orchestrator drives the request-time forecast path: validate, resolve
// locations, call the model once per batch, persist per-location records.
type Orchestrator struct {
	locations   domain.LocationDirectory
	predictions domain.PredictionStore
	model       Forecaster
	publisher   domain.PredictionPublisher
	validate    *validator.Validate
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(
	locations domain.LocationDirectory,
	predictions domain.PredictionStore,
	model Forecaster,
	publisher domain.PredictionPublisher,
) *Orchestrator {
	return &Orchestrator{
		locations:   locations,
		predictions: predictions,
		model:       model,
		publisher:   publisher,
		validate:    validator.New(),
	}
}

// Forecast runs one orchestration pass. Validation and location
// resolution abort the whole call with no side effects; everything
// downstream is per-location with partial success reported in the
// outcome summary.
func (o *Orchestrator) Forecast(ctx context.Context, req domain.ForecastRequest) ([]domain.PredictionRecord, domain.OutcomeSummary, error) {
	start := time.Now()
	defer func() {
		forecastDuration.Observe(time.Since(start).Seconds())
	}()

	var summary domain.OutcomeSummary

	if err := o.validateRequest(req); err != nil {
		return nil, summary, err
	}

	// Duplicate ids would produce duplicate records for the same
	// (location, target time, kind) slot; collapse them up front.
	req.LocationIDs = dedupeIDs(req.LocationIDs)
	summary.Requested = len(req.LocationIDs)

	resolved, err := o.resolveLocations(ctx, req.LocationIDs)
	if err != nil {
		return nil, summary, err
	}

	runID := uuid.NewString()
	log.Printf("orchestrator: run %s: forecasting %d locations, kind=%s, target=%s",
		runID, len(req.LocationIDs), req.Kind, req.TargetTime.UTC().Format(time.RFC3339))

	result, err := o.model.Forecast(ctx, req)
	if err != nil {
		return nil, summary, fmt.Errorf("orchestrator: run %s: %w", runID, err)
	}

	// One stamp per run, taken before the fan-out, so records of the same
	// run share a prediction time and the field stays monotonic across runs.
	predictionTime := time.Now().UTC()

	accepted := make([]domain.PredictionRecord, 0, len(result.Predictions))
	seen := make(map[int64]bool, len(result.Predictions))
	for _, p := range result.Predictions {
		if _, ok := resolved[p.LocationID]; !ok {
			log.Printf("orchestrator: run %s: dropping prediction for unexpected location %d", runID, p.LocationID)
			predictionsDropped.Inc()
			continue
		}
		if seen[p.LocationID] {
			log.Printf("orchestrator: run %s: dropping duplicate prediction for location %d", runID, p.LocationID)
			predictionsDropped.Inc()
			continue
		}
		seen[p.LocationID] = true
		predictionsGenerated.Inc()
		accepted = append(accepted, domain.PredictionRecord{
			LocationID:               p.LocationID,
			PredictionTime:           predictionTime,
			TargetTime:               req.TargetTime.UTC(),
			PredictedVehicleCount:    p.VehicleCount,
			PredictedSpeed:           p.Speed,
			PredictedCongestionLevel: p.CongestionLevel,
			ConfidenceScore:          p.Confidence,
			Kind:                     req.Kind,
			ModelVersion:             result.ModelVersion,
		})
	}

	for _, id := range req.LocationIDs {
		if !seen[id] {
			summary.MissingFromResponse = append(summary.MissingFromResponse, id)
		}
	}

	// Writes are independent per record; persist concurrently.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		records []domain.PredictionRecord
	)
	for i := range accepted {
		rec := accepted[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := o.predictions.SavePrediction(ctx, &rec); err != nil {
				log.Printf("orchestrator: run %s: save failed for location %d: %v", runID, rec.LocationID, err)
				predictionsFailed.Inc()
				mu.Lock()
				summary.Failed++
				summary.Errors = append(summary.Errors, domain.LocationError{
					LocationID: rec.LocationID,
					Reason:     err.Error(),
				})
				mu.Unlock()
				return
			}
			predictionsStored.Inc()

			if pubErr := o.publisher.Publish(ctx, rec); pubErr != nil {
				log.Printf("orchestrator: run %s: publish failed for location %d: %v", runID, rec.LocationID, pubErr)
			}

			mu.Lock()
			summary.Succeeded++
			records = append(records, rec)
			mu.Unlock()
		}()
	}
	wg.Wait()

	log.Printf("orchestrator: run %s completed: %d requested, %d succeeded, %d failed, %d missing from response",
		runID, summary.Requested, summary.Succeeded, summary.Failed, len(summary.MissingFromResponse))

	return records, summary, nil
}

func (o *Orchestrator) validateRequest(req domain.ForecastRequest) error {
	if err := o.validate.Struct(req); err != nil {
		return fmt.Errorf("orchestrator: %v: %w", err, domain.ErrInvalidRequest)
	}
	if !req.TargetTime.After(time.Now()) {
		return fmt.Errorf("orchestrator: target time must be in the future: %w", domain.ErrInvalidRequest)
	}
	return nil
}

// resolveLocations resolves all requested ids in one batch. Any
// unresolvable id rejects the whole request before the model is called.
func (o *Orchestrator) resolveLocations(ctx context.Context, ids []int64) (map[int64]domain.Location, error) {
	locations, err := o.locations.Resolve(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: failed to resolve locations: %w", err)
	}

	resolved := make(map[int64]domain.Location, len(locations))
	for _, loc := range locations {
		resolved[loc.ID] = loc
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := resolved[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.UnknownLocationError{MissingIDs: missing}
	}

	return resolved, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
