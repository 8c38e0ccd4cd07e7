// Package memory provides in-memory implementations of the domain
// stores. They back the server's degraded mode when no database is
// configured and double as fixtures in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/traficast/backend/internal/domain"
)

// PredictionStore is an in-memory domain.PredictionStore.
type PredictionStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*domain.PredictionRecord
}

// NewPredictionStore creates an empty in-memory prediction store.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{
		nextID:  1,
		records: make(map[int64]*domain.PredictionRecord),
	}
}

// SavePrediction stores a copy of the record and assigns its id.
func (s *PredictionStore) SavePrediction(ctx context.Context, record *domain.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.ID = s.nextID
	s.nextID++

	stored := *record
	s.records[stored.ID] = &stored
	return nil
}

// FindDue returns unreconciled records with past target times created in
// [from, to], ordered by target time.
func (s *PredictionStore) FindDue(ctx context.Context, now, from, to time.Time) ([]domain.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []domain.PredictionRecord
	for _, r := range s.records {
		if r.Reconciliation != nil {
			continue
		}
		if !r.TargetTime.Before(now) {
			continue
		}
		if r.PredictionTime.Before(from) || r.PredictionTime.After(to) {
			continue
		}
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].TargetTime.Before(results[j].TargetTime)
	})
	return results, nil
}

// FillReconciliation fills the reconciliation sub-record exactly once.
func (s *PredictionStore) FillReconciliation(ctx context.Context, id int64, rec domain.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("memory: prediction %d not found", id)
	}
	if r.Reconciliation != nil {
		return fmt.Errorf("memory: prediction %d already reconciled", id)
	}

	filled := rec
	r.Reconciliation = &filled
	return nil
}

// LatestForLocation returns the most recent prediction for a location,
// or nil when none exists.
func (s *PredictionStore) LatestForLocation(ctx context.Context, locationID int64) (*domain.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.PredictionRecord
	for _, r := range s.records {
		if r.LocationID != locationID {
			continue
		}
		if latest == nil || r.PredictionTime.After(latest.PredictionTime) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}

	out := *latest
	return &out, nil
}

// ReconciledScores returns accuracy scores of records reconciled in
// [from, to].
func (s *PredictionStore) ReconciledScores(ctx context.Context, from, to time.Time) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var scores []float64
	for _, r := range s.records {
		if r.Reconciliation == nil {
			continue
		}
		at := r.Reconciliation.ReconciledAt
		if at.Before(from) || at.After(to) {
			continue
		}
		scores = append(scores, r.Reconciliation.AccuracyScore)
	}
	return scores, nil
}

// Health always succeeds.
func (s *PredictionStore) Health(ctx context.Context) error {
	return nil
}

// ObservationStore is an in-memory domain.ObservationStore.
type ObservationStore struct {
	mu           sync.Mutex
	observations []domain.Observation
}

// NewObservationStore creates an empty in-memory observation store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{}
}

// Add appends an observation.
func (s *ObservationStore) Add(obs domain.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs)
}

// FindNearest returns the observation closest in time to around within
// ±tolerance, or nil when none qualifies.
func (s *ObservationStore) FindNearest(ctx context.Context, locationID int64, around time.Time, tolerance time.Duration) (*domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Observation
	var bestDelta time.Duration
	for i := range s.observations {
		obs := s.observations[i]
		if obs.LocationID != locationID {
			continue
		}
		delta := obs.RecordedAt.Sub(around)
		if delta < 0 {
			delta = -delta
		}
		if delta > tolerance {
			continue
		}
		if best == nil || delta < bestDelta {
			best = &obs
			bestDelta = delta
		}
	}
	if best == nil {
		return nil, nil
	}

	out := *best
	return &out, nil
}

// LocationDirectory is an in-memory domain.LocationDirectory.
type LocationDirectory struct {
	mu        sync.Mutex
	locations map[int64]domain.Location
}

// NewLocationDirectory creates an empty in-memory location directory.
func NewLocationDirectory() *LocationDirectory {
	return &LocationDirectory{locations: make(map[int64]domain.Location)}
}

// Add registers a location.
func (d *LocationDirectory) Add(loc domain.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[loc.ID] = loc
}

// Resolve returns the known locations matching the given ids.
func (d *LocationDirectory) Resolve(ctx context.Context, ids []int64) ([]domain.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var results []domain.Location
	for _, id := range ids {
		if loc, ok := d.locations[id]; ok {
			results = append(results, loc)
		}
	}
	return results, nil
}

// ListActive returns all known locations ordered by name.
func (d *LocationDirectory) ListActive(ctx context.Context) ([]domain.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	results := make([]domain.Location, 0, len(d.locations))
	for _, loc := range d.locations {
		results = append(results, loc)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results, nil
}
