package http

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, handler *Handler) {
	// Health check
	app.Get("/health", handler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		// Prediction endpoints
		api.Post("/predictions/forecast", handler.Forecast)
		api.Get("/predictions/latest/:locationId", handler.LatestPrediction)
		api.Get("/predictions/accuracy/stats", handler.AccuracyStats)

		// Manual scheduler triggers; same job bodies as the cron cadence
		api.Post("/scheduler/jobs/daily", handler.TriggerDaily)
		api.Post("/scheduler/jobs/hourly", handler.TriggerHourly)
		api.Post("/scheduler/jobs/reconciliation", handler.TriggerReconciliation)
	}
}
