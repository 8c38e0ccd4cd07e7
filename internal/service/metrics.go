package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "traficast_predictions_generated_total",
		Help: "Total number of per-location predictions accepted from the model.",
	})
	predictionsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "traficast_predictions_stored_total",
		Help: "Total number of prediction records persisted.",
	})
	predictionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "traficast_predictions_failed_total",
		Help: "Total number of per-location persistence failures.",
	})
	predictionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "traficast_predictions_dropped_total",
		Help: "Total number of model response entries dropped as unexpected.",
	})
	reconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "traficast_reconciler_reconciled_total",
		Help: "Total number of predictions reconciled against observations.",
	})
	reconcileSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "traficast_reconciler_skipped_total",
		Help: "Total number of due predictions skipped during reconciliation.",
	})
	forecastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "traficast_forecast_duration_seconds",
		Help:    "Duration of a full forecast orchestration run.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "traficast_reconcile_duration_seconds",
		Help:    "Duration of a full reconciliation run.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
	modelCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "traficast_model_call_duration_seconds",
		Help:    "Duration of forecast calls to the model service.",
		Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
)
