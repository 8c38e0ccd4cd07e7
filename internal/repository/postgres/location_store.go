package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traficast/backend/internal/domain"
)

// LocationDirectory resolves registered locations from PostgreSQL.
// Soft-deleted locations are never returned.
type LocationDirectory struct {
	pool *pgxpool.Pool
}

// NewLocationDirectory creates a PostgreSQL-backed location directory.
func NewLocationDirectory(pool *pgxpool.Pool) *LocationDirectory {
	return &LocationDirectory{pool: pool}
}

// Resolve returns the active locations matching the given ids. Missing
// ids are simply absent from the result.
func (d *LocationDirectory) Resolve(ctx context.Context, ids []int64) ([]domain.Location, error) {
	query := `
		SELECT id, location_name, latitude, longitude,
			   coalesce(road_type, ''), coalesce(lane_count, 0),
			   coalesce(speed_limit, 0), coalesce(address, '')
		FROM locations
		WHERE id = ANY($1) AND is_deleted = false
	`

	rows, err := d.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to resolve locations: %w", err)
	}
	defer rows.Close()

	return collectLocations(rows)
}

// ListActive returns all active locations ordered by name.
func (d *LocationDirectory) ListActive(ctx context.Context) ([]domain.Location, error) {
	query := `
		SELECT id, location_name, latitude, longitude,
			   coalesce(road_type, ''), coalesce(lane_count, 0),
			   coalesce(speed_limit, 0), coalesce(address, '')
		FROM locations
		WHERE is_deleted = false
		ORDER BY location_name
	`

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list active locations: %w", err)
	}
	defer rows.Close()

	return collectLocations(rows)
}

func collectLocations(rows pgx.Rows) ([]domain.Location, error) {
	var results []domain.Location
	for rows.Next() {
		var loc domain.Location
		err := rows.Scan(
			&loc.ID, &loc.Name, &loc.Latitude, &loc.Longitude,
			&loc.RoadType, &loc.LaneCount, &loc.SpeedLimit, &loc.Address,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan location row: %w", err)
		}
		results = append(results, loc)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("postgres: location rows iteration: %w", rows.Err())
	}

	return results, nil
}
