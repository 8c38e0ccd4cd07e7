package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/traficast/backend/internal/domain"
)

// errModelServer marks a 5xx answer inside the breaker so transport and
// server failures trip it while 4xx answers do not.
var errModelServer = errors.New("model server error")

// ModelClient talks to the external forecasting service. It is a
// stateless transport adapter: it classifies failures but never retries;
// retry policy belongs to the caller.
type ModelClient struct {
	serviceURL      string
	httpClient      *http.Client
	forecastTimeout time.Duration
	probeTimeout    time.Duration
	breaker         *gobreaker.CircuitBreaker
}

// NewModelClient creates a model client with separate timeout budgets
// for forecast calls and the liveness probe.
func NewModelClient(serviceURL string, forecastTimeout, probeTimeout time.Duration) *ModelClient {
	return &ModelClient{
		serviceURL:      serviceURL,
		httpClient:      &http.Client{},
		forecastTimeout: forecastTimeout,
		probeTimeout:    probeTimeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "model-service",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// modelRequest is the wire form of a forecast call.
type modelRequest struct {
	LocationIDs         []int64  `json:"locationIds"`
	TargetDatetime      string   `json:"targetDatetime"`
	PredictionType      string   `json:"predictionType"`
	MinimumConfidence   *float64 `json:"minimumConfidence"`
	ExpectedWeather     *string  `json:"expectedWeather,omitempty"`
	ExpectedTemperature *float64 `json:"expectedTemperature,omitempty"`
	IsHoliday           *bool    `json:"isHoliday,omitempty"`
	SpecialEvent        *string  `json:"specialEvent,omitempty"`
}

type modelResponse struct {
	Predictions  []modelPrediction `json:"predictions"`
	ModelVersion string            `json:"modelVersion"`
}

type modelPrediction struct {
	LocationID               int64   `json:"locationId"`
	PredictedVehicleCount    int     `json:"predictedVehicleCount"`
	PredictedSpeed           float64 `json:"predictedSpeed"`
	PredictedCongestionLevel string  `json:"predictedCongestionLevel"`
	ConfidenceScore          float64 `json:"confidenceScore"`
}

// Forecast posts one batched forecast request and returns the validated
// result. Failures are classified per the error taxonomy in domain.
func (c *ModelClient) Forecast(ctx context.Context, req domain.ForecastRequest) (domain.ModelResult, error) {
	body, err := json.Marshal(modelRequest{
		LocationIDs:         req.LocationIDs,
		TargetDatetime:      req.TargetTime.UTC().Format(time.RFC3339),
		PredictionType:      string(req.Kind),
		MinimumConfidence:   req.MinimumConfidence,
		ExpectedWeather:     req.ExpectedWeather,
		ExpectedTemperature: req.ExpectedTemperature,
		IsHoliday:           req.IsHoliday,
		SpecialEvent:        req.SpecialEvent,
	})
	if err != nil {
		return domain.ModelResult{}, fmt.Errorf("model_client: failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.forecastTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/predict", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.ModelResult{}, fmt.Errorf("model_client: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, execErr := c.httpClient.Do(httpReq)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", errModelServer, resp.StatusCode)
		}
		return resp, nil
	})
	modelCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.ModelResult{}, fmt.Errorf("model_client: circuit open: %w", domain.ErrServiceUnavailable)
		}
		if errors.Is(err, errModelServer) {
			return domain.ModelResult{}, fmt.Errorf("model_client: %v: %w", err, domain.ErrModelService)
		}
		return domain.ModelResult{}, fmt.Errorf("model_client: %v: %w", err, domain.ErrServiceUnavailable)
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ModelResult{}, fmt.Errorf("model_client: status %d: %s: %w",
			resp.StatusCode, bytes.TrimSpace(payload), domain.ErrBadModelRequest)
	}

	// Read before decoding: a failure here is the connection dying
	// mid-body, not a contract violation.
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ModelResult{}, fmt.Errorf("model_client: failed to read response body: %v: %w",
			err, domain.ErrServiceUnavailable)
	}

	var mr modelResponse
	if err := json.Unmarshal(payload, &mr); err != nil {
		return domain.ModelResult{}, fmt.Errorf("model_client: failed to decode response: %v: %w",
			err, domain.ErrMalformedModelResponse)
	}
	if mr.Predictions == nil {
		return domain.ModelResult{}, fmt.Errorf("model_client: response missing predictions field: %w",
			domain.ErrMalformedModelResponse)
	}

	out := domain.ModelResult{
		Predictions:  make([]domain.ModelPrediction, 0, len(mr.Predictions)),
		ModelVersion: mr.ModelVersion,
	}
	if out.ModelVersion == "" {
		out.ModelVersion = "unknown"
	}
	for _, p := range mr.Predictions {
		level, err := domain.ParseCongestionLevel(p.PredictedCongestionLevel)
		if err != nil {
			return domain.ModelResult{}, fmt.Errorf("model_client: location %d: %v: %w",
				p.LocationID, err, domain.ErrMalformedModelResponse)
		}
		if p.PredictedVehicleCount < 0 || p.PredictedSpeed < 0 ||
			p.ConfidenceScore < 0 || p.ConfidenceScore > 1 {
			return domain.ModelResult{}, fmt.Errorf("model_client: location %d: values out of range: %w",
				p.LocationID, domain.ErrMalformedModelResponse)
		}
		out.Predictions = append(out.Predictions, domain.ModelPrediction{
			LocationID:      p.LocationID,
			VehicleCount:    p.PredictedVehicleCount,
			Speed:           p.PredictedSpeed,
			CongestionLevel: level,
			Confidence:      p.ConfidenceScore,
		})
	}

	return out, nil
}

// Health checks model service connectivity. Used by health reporting
// only, never by the forecast path.
func (c *ModelClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/health", c.serviceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("model_client: failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model_client: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("model_client: health check returned status %d", resp.StatusCode)
	}

	return nil
}
