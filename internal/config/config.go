package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all runtime configuration.
type AppConfig struct {
	DatabaseURL string
	RedisURL    string

	ModelServiceURL      string
	ModelForecastTimeout time.Duration
	ModelProbeTimeout    time.Duration

	// Scheduler cadences are fixed (daily, hourly, nightly); these knobs
	// tune what the jobs cover.
	SchedulerEnabled    bool
	HourlyLocationLimit int
	DailyMinConfidence  float64
	HourlyMinConfidence float64
	ReconcileLookback   time.Duration
	ReconcileTolerance  time.Duration

	Port        string
	MetricsAddr string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ModelServiceURL:     getenvDefault("MODEL_SERVICE_URL", "http://localhost:8000"),
		SchedulerEnabled:    getenvBool("SCHEDULER_ENABLED", true),
		HourlyLocationLimit: getenvInt("HOURLY_LOCATION_LIMIT", 20),
		DailyMinConfidence:  getenvFloat("DAILY_MIN_CONFIDENCE", 0.7),
		HourlyMinConfidence: getenvFloat("HOURLY_MIN_CONFIDENCE", 0.8),
		Port:                getenvDefault("PORT", "8080"),
		MetricsAddr:         getenvDefault("METRICS_ADDR", ":9100"),
	}

	var err error
	if cfg.ModelForecastTimeout, err = getenvDuration("MODEL_FORECAST_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.ModelProbeTimeout, err = getenvDuration("MODEL_PROBE_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if cfg.ReconcileLookback, err = getenvDuration("RECONCILE_LOOKBACK", "24h"); err != nil {
		return nil, err
	}
	if cfg.ReconcileTolerance, err = getenvDuration("RECONCILE_TOLERANCE", "30m"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}
