package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/traficast/backend/internal/config"
	httpapi "github.com/traficast/backend/internal/delivery/http"
	"github.com/traficast/backend/internal/domain"
	"github.com/traficast/backend/internal/repository/memory"
	"github.com/traficast/backend/internal/repository/postgres"
	"github.com/traficast/backend/internal/scheduler"
	"github.com/traficast/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stores: PostgreSQL when configured and reachable, in-memory otherwise.
	var (
		predictions  domain.PredictionStore
		observations domain.ObservationStore
		locations    domain.LocationDirectory
	)
	pool := connectPostgres(ctx, cfg.DatabaseURL)
	if pool != nil {
		defer pool.Close()
		predictions = postgres.NewPredictionStore(pool)
		observations = postgres.NewObservationStore(pool)
		locations = postgres.NewLocationDirectory(pool)
	} else {
		log.Println("Running with in-memory stores only")
		predictions = memory.NewPredictionStore()
		observations = memory.NewObservationStore()
		locations = memory.NewLocationDirectory()
	}

	// Publisher: Redis when configured and reachable, no-op otherwise.
	var publisher domain.PredictionPublisher = service.NoopPublisher{}
	if redisClient := connectRedis(ctx, cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		publisher = service.NewRedisPublisher(redisClient)
	}

	// Services
	model := service.NewModelClient(cfg.ModelServiceURL, cfg.ModelForecastTimeout, cfg.ModelProbeTimeout)
	orchestrator := service.NewOrchestrator(locations, predictions, model, publisher)
	reconciler := service.NewReconciler(predictions, observations, cfg.ReconcileTolerance)

	sched := scheduler.New(orchestrator, reconciler, locations, scheduler.Config{
		HourlyLocationLimit: cfg.HourlyLocationLimit,
		DailyMinConfidence:  cfg.DailyMinConfidence,
		HourlyMinConfidence: cfg.HourlyMinConfidence,
		ReconcileLookback:   cfg.ReconcileLookback,
	})
	if cfg.SchedulerEnabled {
		if err := sched.Start(); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	} else {
		log.Println("Scheduler disabled; jobs run on manual triggers only")
	}

	// Prometheus metrics on a dedicated listener.
	go serveMetrics(cfg.MetricsAddr)

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "TrafiCast API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Routes
	handler := httpapi.NewHandler(orchestrator, sched, model, predictions)
	httpapi.SetupRoutes(app, handler)

	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited gracefully")
}

func connectPostgres(ctx context.Context, databaseURL string) *pgxpool.Pool {
	if databaseURL == "" {
		log.Println("DATABASE_URL not set")
		return nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Printf("Warning: Could not connect to database: %v", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		log.Printf("Warning: Database ping failed: %v", err)
		pool.Close()
		return nil
	}

	log.Println("Connected to PostgreSQL")
	return pool
}

func connectRedis(ctx context.Context, redisURL string) *redis.Client {
	if redisURL == "" {
		log.Println("REDIS_URL not set; predictions will not be published")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Warning: Invalid REDIS_URL: %v", err)
		return nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis ping failed: %v", err)
		client.Close()
		return nil
	}

	log.Println("Connected to Redis")
	return client
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("Metrics server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Metrics server failed: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
