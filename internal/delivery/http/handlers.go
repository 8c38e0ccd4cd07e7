package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/traficast/backend/internal/domain"
	"github.com/traficast/backend/internal/scheduler"
	"github.com/traficast/backend/internal/service"
	"github.com/traficast/backend/pkg/utils"
)

// Handler contains all HTTP handlers
type Handler struct {
	orchestrator *service.Orchestrator
	sched        *scheduler.Scheduler
	model        *service.ModelClient
	predictions  domain.PredictionStore
}

// NewHandler creates a new handler
func NewHandler(orchestrator *service.Orchestrator, sched *scheduler.Scheduler, model *service.ModelClient, predictions domain.PredictionStore) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		sched:        sched,
		model:        model,
		predictions:  predictions,
	}
}

// HealthCheck reports service, database and model-service health.
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	ctx := c.Context()

	dbStatus := "ok"
	if err := h.predictions.Health(ctx); err != nil {
		dbStatus = err.Error()
	}

	modelStatus := "ok"
	if err := h.model.Health(ctx); err != nil {
		modelStatus = err.Error()
	}

	status := fiber.StatusOK
	if dbStatus != "ok" || modelStatus != "ok" {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"service":  "traficast-backend",
		"database": dbStatus,
		"model":    modelStatus,
	})
}

// Forecast runs one forecast orchestration for the posted request.
func (h *Handler) Forecast(c *fiber.Ctx) error {
	ctx := c.Context()

	var req domain.ForecastRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	records, summary, err := h.orchestrator.Forecast(ctx, req)
	if err != nil {
		return forecastError(err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    records,
		"summary": summary,
	})
}

// forecastError maps the orchestration error taxonomy onto HTTP status
// codes.
func forecastError(err error) error {
	var unknown *domain.UnknownLocationError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.As(err, &unknown):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrModelService),
		errors.Is(err, domain.ErrBadModelRequest),
		errors.Is(err, domain.ErrMalformedModelResponse):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "Forecast failed")
	}
}

// LatestPrediction returns the most recent prediction for a location.
func (h *Handler) LatestPrediction(c *fiber.Ctx) error {
	ctx := c.Context()

	locationID, err := c.ParamsInt("locationId")
	if err != nil || locationID <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid location id")
	}

	record, err := h.predictions.LatestForLocation(ctx, int64(locationID))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch latest prediction")
	}
	if record == nil {
		return fiber.NewError(fiber.StatusNotFound, "No prediction for location")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    record,
	})
}

// AccuracyStats aggregates accuracy scores reconciled in the trailing
// window given by the hours query parameter.
func (h *Handler) AccuracyStats(c *fiber.Ctx) error {
	ctx := c.Context()

	hours := c.QueryInt("hours", 24)
	if hours < 1 || hours > 720 { // max 30 days
		hours = 24
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)

	scores, err := h.predictions.ReconciledScores(ctx, from, to)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch accuracy scores")
	}

	var mean, stddev float64
	if len(scores) > 0 {
		mean = utils.RoundTo(stat.Mean(scores, nil), 4)
		stddev = utils.RoundTo(stat.StdDev(scores, nil), 4)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"count":   len(scores),
			"mean":    mean,
			"std_dev": stddev,
			"from":    from,
			"to":      to,
		},
	})
}

// TriggerDaily runs the daily forecast job now.
func (h *Handler) TriggerDaily(c *fiber.Ctx) error {
	summary, err := h.sched.RunDailyNow(c.Context())
	return triggerResponse(c, summary, err)
}

// TriggerHourly runs the hourly forecast job now.
func (h *Handler) TriggerHourly(c *fiber.Ctx) error {
	summary, err := h.sched.RunHourlyNow(c.Context())
	return triggerResponse(c, summary, err)
}

// TriggerReconciliation runs the accuracy reconciliation job now.
func (h *Handler) TriggerReconciliation(c *fiber.Ctx) error {
	summary, err := h.sched.RunReconciliationNow(c.Context())
	return triggerResponse(c, summary, err)
}

func triggerResponse(c *fiber.Ctx, summary interface{}, err error) error {
	if err != nil {
		if errors.Is(err, scheduler.ErrJobAlreadyRunning) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return forecastError(err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"summary": summary,
	})
}
