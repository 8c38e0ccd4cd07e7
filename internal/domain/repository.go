package domain

import (
	"context"
	"time"
)

// PredictionStore owns persistence of prediction records.
// This follows the Dependency Inversion Principle - domain defines the interface
type PredictionStore interface {
	// SavePrediction persists a new record and assigns its identity.
	SavePrediction(ctx context.Context, record *PredictionRecord) error

	// FindDue returns records whose target time lies before now, whose
	// reconciliation is still empty, and whose prediction time falls in
	// [from, to].
	FindDue(ctx context.Context, now, from, to time.Time) ([]PredictionRecord, error)

	// FillReconciliation writes the reconciliation sub-record of one
	// prediction. It must only touch rows whose reconciliation is still
	// empty so concurrent runs never conflict.
	FillReconciliation(ctx context.Context, id int64, rec Reconciliation) error

	// LatestForLocation returns the most recently computed prediction
	// for a location, or nil when none exists.
	LatestForLocation(ctx context.Context, locationID int64) (*PredictionRecord, error)

	// ReconciledScores returns accuracy scores of records reconciled in
	// [from, to].
	ReconciledScores(ctx context.Context, from, to time.Time) ([]float64, error)

	// Health checks store connectivity.
	Health(ctx context.Context) error
}

// ObservationStore reads real traffic measurements.
type ObservationStore interface {
	// FindNearest returns the observation for the location closest in
	// time to around, within ±tolerance, or nil when none qualifies.
	FindNearest(ctx context.Context, locationID int64, around time.Time, tolerance time.Duration) (*Observation, error)
}

// LocationDirectory resolves and lists registered locations.
type LocationDirectory interface {
	// Resolve returns the active locations matching the given ids.
	// Missing ids are simply absent from the result.
	Resolve(ctx context.Context, ids []int64) ([]Location, error)

	// ListActive returns all active locations ordered by name.
	ListActive(ctx context.Context) ([]Location, error)
}

// PredictionPublisher fans out freshly persisted predictions to
// downstream consumers. Publishing is best-effort.
type PredictionPublisher interface {
	Publish(ctx context.Context, record PredictionRecord) error
}
