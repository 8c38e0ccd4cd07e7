package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/traficast/backend/internal/domain"
	"github.com/traficast/backend/pkg/utils"
)

// Accuracy component weights. Vehicle count dominates because it is the
// primary operational signal; speed and congestion split the rest.
const (
	vehicleCountWeight = 0.4
	speedWeight        = 0.3
	congestionWeight   = 0.3
)

// DefaultObservationTolerance is how far an observation may lie from a
// prediction's target time and still count as its ground truth.
const DefaultObservationTolerance = 30 * time.Minute

// Reconciler matches past-due predictions against the observations that
// actually occurred and scores their accuracy.
type Reconciler struct {
	predictions  domain.PredictionStore
	observations domain.ObservationStore
	tolerance    time.Duration
}

// NewReconciler creates a reconciler. A non-positive tolerance falls
// back to the default ±30 minute window.
func NewReconciler(predictions domain.PredictionStore, observations domain.ObservationStore, tolerance time.Duration) *Reconciler {
	if tolerance <= 0 {
		tolerance = DefaultObservationTolerance
	}
	return &Reconciler{
		predictions:  predictions,
		observations: observations,
		tolerance:    tolerance,
	}
}

// Reconcile scans predictions created in [from, to] whose target time
// has passed and whose reconciliation is still empty. Records without a
// qualifying observation are skipped, not failed; they stay eligible for
// later runs. Per-record store errors are logged and skipped, never
// abort the batch.
func (r *Reconciler) Reconcile(ctx context.Context, from, to time.Time) (domain.ReconcileSummary, error) {
	start := time.Now()
	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
	}()

	var summary domain.ReconcileSummary

	due, err := r.predictions.FindDue(ctx, time.Now().UTC(), from, to)
	if err != nil {
		return summary, fmt.Errorf("reconciler: failed to query due predictions: %w", err)
	}

	log.Printf("reconciler: scanning %d due predictions, window [%s, %s]",
		len(due), from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	var scores []float64
	for _, p := range due {
		obs, err := r.observations.FindNearest(ctx, p.LocationID, p.TargetTime, r.tolerance)
		if err != nil {
			log.Printf("reconciler: observation lookup failed for prediction %d: %v", p.ID, err)
			summary.SkippedCount++
			reconcileSkipped.Inc()
			continue
		}
		if obs == nil {
			// No ground truth yet; retried on a later run.
			summary.SkippedCount++
			reconcileSkipped.Inc()
			continue
		}

		rec := domain.Reconciliation{
			ActualVehicleCount:    obs.VehicleCount,
			ActualSpeed:           obs.AverageSpeed,
			ActualCongestionLevel: obs.CongestionLevel,
			AccuracyScore:         AccuracyScore(p, *obs),
			ReconciledAt:          time.Now().UTC(),
		}
		if err := r.predictions.FillReconciliation(ctx, p.ID, rec); err != nil {
			log.Printf("reconciler: failed to fill reconciliation for prediction %d: %v", p.ID, err)
			summary.SkippedCount++
			reconcileSkipped.Inc()
			continue
		}

		summary.ReconciledCount++
		reconciledTotal.Inc()
		scores = append(scores, rec.AccuracyScore)
	}

	if len(scores) > 0 {
		summary.MeanAccuracy = utils.RoundTo(stat.Mean(scores, nil), 4)
	}

	log.Printf("reconciler: completed: %d reconciled, %d skipped, mean accuracy %.4f",
		summary.ReconciledCount, summary.SkippedCount, summary.MeanAccuracy)

	return summary, nil
}

// AccuracyScore blends component accuracies into one score in [0, 1].
func AccuracyScore(p domain.PredictionRecord, o domain.Observation) float64 {
	vehicle := relativeAccuracy(float64(p.PredictedVehicleCount), float64(o.VehicleCount))
	speed := relativeAccuracy(p.PredictedSpeed, o.AverageSpeed)

	congestion := 0.0
	if p.PredictedCongestionLevel == o.CongestionLevel {
		congestion = 1.0
	}

	score := vehicleCountWeight*vehicle + speedWeight*speed + congestionWeight*congestion
	return utils.RoundTo(utils.Clamp(score, 0, 1), 4)
}

// relativeAccuracy is 1 - |predicted - actual| / max(predicted, actual),
// clamped to [0, 1]. Both values zero means a perfect prediction.
func relativeAccuracy(predicted, actual float64) float64 {
	if predicted == 0 && actual == 0 {
		return 1.0
	}
	max := math.Max(predicted, actual)
	return utils.Clamp(1.0-math.Abs(predicted-actual)/max, 0, 1)
}
