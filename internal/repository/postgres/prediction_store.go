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

// findDueLimit bounds how many records one reconciliation run scans.
// Leftovers stay due and are picked up by the next run.
const findDueLimit = 500

// PredictionStore implements domain.PredictionStore on PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PostgreSQL-backed prediction store.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// SavePrediction inserts a new prediction record and assigns its id.
func (s *PredictionStore) SavePrediction(ctx context.Context, record *domain.PredictionRecord) error {
	query := `
		INSERT INTO prediction_history (
			location_id, prediction_time, target_time,
			predicted_vehicle_count, predicted_speed, predicted_congestion_level,
			confidence_score, prediction_type, model_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		record.LocationID, record.PredictionTime, record.TargetTime,
		record.PredictedVehicleCount, record.PredictedSpeed, string(record.PredictedCongestionLevel),
		record.ConfidenceScore, string(record.Kind), record.ModelVersion,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to save prediction: %w", err)
	}

	return nil
}

// FindDue returns unreconciled records whose target time has passed,
// restricted to a prediction-time window so repeated runs only scan
// recently created predictions.
func (s *PredictionStore) FindDue(ctx context.Context, now, from, to time.Time) ([]domain.PredictionRecord, error) {
	query := `
		SELECT id, location_id, prediction_time, target_time,
			   predicted_vehicle_count, predicted_speed, predicted_congestion_level,
			   confidence_score, prediction_type, model_version,
			   actual_vehicle_count, actual_speed, actual_congestion_level,
			   accuracy_score, reconciled_at
		FROM prediction_history
		WHERE target_time < $1
		  AND actual_vehicle_count IS NULL
		  AND prediction_time BETWEEN $2 AND $3
		ORDER BY target_time
		LIMIT $4
	`

	rows, err := s.pool.Query(ctx, query, now, from, to, findDueLimit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query due predictions: %w", err)
	}
	defer rows.Close()

	var results []domain.PredictionRecord
	for rows.Next() {
		record, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan prediction row: %w", err)
		}
		results = append(results, record)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("postgres: prediction rows iteration: %w", rows.Err())
	}

	return results, nil
}

// FillReconciliation writes the reconciliation sub-record exactly once.
// The empty-reconciliation predicate keeps concurrent runs from touching
// the same row twice.
func (s *PredictionStore) FillReconciliation(ctx context.Context, id int64, rec domain.Reconciliation) error {
	query := `
		UPDATE prediction_history
		SET actual_vehicle_count = $2, actual_speed = $3, actual_congestion_level = $4,
			accuracy_score = $5, reconciled_at = $6
		WHERE id = $1 AND actual_vehicle_count IS NULL
	`

	tag, err := s.pool.Exec(ctx, query,
		id, rec.ActualVehicleCount, rec.ActualSpeed, string(rec.ActualCongestionLevel),
		rec.AccuracyScore, rec.ReconciledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to fill reconciliation for prediction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: prediction %d already reconciled or missing", id)
	}

	return nil
}

// LatestForLocation returns the most recent prediction for a location,
// or nil when none exists.
func (s *PredictionStore) LatestForLocation(ctx context.Context, locationID int64) (*domain.PredictionRecord, error) {
	query := `
		SELECT id, location_id, prediction_time, target_time,
			   predicted_vehicle_count, predicted_speed, predicted_congestion_level,
			   confidence_score, prediction_type, model_version,
			   actual_vehicle_count, actual_speed, actual_congestion_level,
			   accuracy_score, reconciled_at
		FROM prediction_history
		WHERE location_id = $1
		ORDER BY prediction_time DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, locationID)
	record, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to query latest prediction: %w", err)
	}

	return &record, nil
}

// ReconciledScores returns accuracy scores of records reconciled in the
// given window.
func (s *PredictionStore) ReconciledScores(ctx context.Context, from, to time.Time) ([]float64, error) {
	query := `
		SELECT accuracy_score
		FROM prediction_history
		WHERE reconciled_at BETWEEN $1 AND $2
		  AND accuracy_score IS NOT NULL
	`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query accuracy scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan accuracy score: %w", err)
		}
		scores = append(scores, score)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("postgres: score rows iteration: %w", rows.Err())
	}

	return scores, nil
}

// Health checks database connectivity.
func (s *PredictionStore) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

func scanPrediction(row pgx.Row) (domain.PredictionRecord, error) {
	var (
		record         domain.PredictionRecord
		predictedLevel string
		kind           string
		actualCount    *int
		actualSpeed    *float64
		actualLevel    *string
		accuracyScore  *float64
		reconciledAt   *time.Time
	)

	err := row.Scan(
		&record.ID, &record.LocationID, &record.PredictionTime, &record.TargetTime,
		&record.PredictedVehicleCount, &record.PredictedSpeed, &predictedLevel,
		&record.ConfidenceScore, &kind, &record.ModelVersion,
		&actualCount, &actualSpeed, &actualLevel, &accuracyScore, &reconciledAt,
	)
	if err != nil {
		return domain.PredictionRecord{}, err
	}

	record.PredictedCongestionLevel = domain.CongestionLevel(predictedLevel)
	record.Kind = domain.PredictionKind(kind)

	if actualCount != nil {
		record.Reconciliation = &domain.Reconciliation{
			ActualVehicleCount: *actualCount,
		}
		if actualSpeed != nil {
			record.Reconciliation.ActualSpeed = *actualSpeed
		}
		if actualLevel != nil {
			record.Reconciliation.ActualCongestionLevel = domain.CongestionLevel(*actualLevel)
		}
		if accuracyScore != nil {
			record.Reconciliation.AccuracyScore = *accuracyScore
		}
		if reconciledAt != nil {
			record.Reconciliation.ReconciledAt = *reconciledAt
		}
	}

	return record, nil
}
