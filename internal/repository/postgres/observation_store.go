package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traficast/backend/internal/domain"
)

// ObservationStore reads real traffic measurements from PostgreSQL. The
// traffic_data table is append-only and owned by the ingestion pipeline;
// this store never writes it.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore creates a PostgreSQL-backed observation store.
func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

// FindNearest returns the observation closest in time to around within
// ±tolerance, or nil when none qualifies.
func (s *ObservationStore) FindNearest(ctx context.Context, locationID int64, around time.Time, tolerance time.Duration) (*domain.Observation, error) {
	query := `
		SELECT location_id, recorded_at, vehicle_count, average_speed, congestion_level
		FROM traffic_data
		WHERE location_id = $1
		  AND recorded_at BETWEEN $2 AND $3
		ORDER BY abs(extract(epoch FROM (recorded_at - $4)))
		LIMIT 1
	`

	var (
		obs   domain.Observation
		level string
	)
	err := s.pool.QueryRow(ctx, query,
		locationID, around.Add(-tolerance), around.Add(tolerance), around,
	).Scan(&obs.LocationID, &obs.RecordedAt, &obs.VehicleCount, &obs.AverageSpeed, &level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to query observation: %w", err)
	}

	obs.CongestionLevel = domain.CongestionLevel(level)
	return &obs, nil
}
