package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxForecastLocations bounds how many locations a single forecast
// request may cover.
const MaxForecastLocations = 100

// PredictionKind is the granularity of a forecast.
type PredictionKind string

const (
	KindHourly   PredictionKind = "HOURLY"
	KindDaily    PredictionKind = "DAILY"
	KindWeekly   PredictionKind = "WEEKLY"
	KindRealTime PredictionKind = "REAL_TIME"
)

// ParsePredictionKind maps a wire value onto a known kind.
func ParsePredictionKind(s string) (PredictionKind, error) {
	switch PredictionKind(strings.ToUpper(s)) {
	case KindHourly:
		return KindHourly, nil
	case KindDaily:
		return KindDaily, nil
	case KindWeekly:
		return KindWeekly, nil
	case KindRealTime:
		return KindRealTime, nil
	default:
		return "", fmt.Errorf("unknown prediction kind %q", s)
	}
}

// ForecastRequest asks for predictions at TargetTime for a batch of
// locations. It is transient and never persisted.
type ForecastRequest struct {
	LocationIDs         []int64        `json:"locationIds" validate:"required,min=1,max=100,dive,gt=0"`
	TargetTime          time.Time      `json:"targetDatetime" validate:"required"`
	Kind                PredictionKind `json:"predictionType" validate:"required,oneof=HOURLY DAILY WEEKLY REAL_TIME"`
	MinimumConfidence   *float64       `json:"minimumConfidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	ExpectedWeather     *string        `json:"expectedWeather,omitempty"`
	ExpectedTemperature *float64       `json:"expectedTemperature,omitempty"`
	IsHoliday           *bool          `json:"isHoliday,omitempty"`
	SpecialEvent        *string        `json:"specialEvent,omitempty"`
}

// Reconciliation records how a prediction compared against the
// observation that eventually occurred. It is filled at most once.
type Reconciliation struct {
	ActualVehicleCount    int             `json:"actual_vehicle_count"`
	ActualSpeed           float64         `json:"actual_speed"`
	ActualCongestionLevel CongestionLevel `json:"actual_congestion_level"`
	AccuracyScore         float64         `json:"accuracy_score"`
	ReconciledAt          time.Time       `json:"reconciled_at"`
}

// PredictionRecord is one persisted per-location forecast. It references
// its location by id only; the full Location is resolved through the
// directory when needed.
type PredictionRecord struct {
	ID                       int64           `json:"id"`
	LocationID               int64           `json:"location_id"`
	PredictionTime           time.Time       `json:"prediction_time"`
	TargetTime               time.Time       `json:"target_time"`
	PredictedVehicleCount    int             `json:"predicted_vehicle_count"`
	PredictedSpeed           float64         `json:"predicted_speed"`
	PredictedCongestionLevel CongestionLevel `json:"predicted_congestion_level"`
	ConfidenceScore          float64         `json:"confidence_score"`
	Kind                     PredictionKind  `json:"prediction_type"`
	ModelVersion             string          `json:"model_version"`
	Reconciliation           *Reconciliation `json:"reconciliation,omitempty"`
}

// ModelPrediction is one per-location entry of a model response.
type ModelPrediction struct {
	LocationID      int64
	VehicleCount    int
	Speed           float64
	CongestionLevel CongestionLevel
	Confidence      float64
}

// ModelResult is the validated outcome of one model forecast call.
type ModelResult struct {
	Predictions  []ModelPrediction
	ModelVersion string
}

// LocationError reports a per-location failure inside a batch.
type LocationError struct {
	LocationID int64  `json:"location_id"`
	Reason     string `json:"reason"`
}

// OutcomeSummary reports what happened to each location of a forecast
// batch. Callers should inspect it rather than rely on record counts:
// a shrinking model response is allowed.
type OutcomeSummary struct {
	Requested           int             `json:"requested"`
	Succeeded           int             `json:"succeeded"`
	Failed              int             `json:"failed"`
	MissingFromResponse []int64         `json:"missing_from_response,omitempty"`
	Errors              []LocationError `json:"errors,omitempty"`
}

// ReconcileSummary reports the outcome of one reconciliation run.
type ReconcileSummary struct {
	ReconciledCount int     `json:"reconciled_count"`
	SkippedCount    int     `json:"skipped_count"`
	MeanAccuracy    float64 `json:"mean_accuracy"`
}
