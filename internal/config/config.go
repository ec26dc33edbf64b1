package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// Config holds every tunable the server reads at startup. Values come from
// the environment, optionally seeded from a .env file.
type Config struct {
	// HTTP
	ListenAddr string

	// Database
	DatabaseURL string

	// JWT signing secret for the web UI surface
	JWTSecret string

	// Directory for attack resources (wordlists, rules, masks) served
	// through the blob store
	DataDir string

	// Planner
	MinSliceSeconds  int
	MaxSliceSeconds  int
	DefaultHashSpeed float64 // h/s fallback when no benchmarks exist

	// Reconciler
	StaleWindow time.Duration

	// Scheduler
	AcceptTimeout    time.Duration
	AssignRetryLimit int

	// Agent liveness
	HeartbeatMinInterval time.Duration
	OfflineFloor         time.Duration // lower bound for heartbeat timeout
	StatusStaleFloor     time.Duration // lower bound for running-task staleness

	// Timekeeper
	SweepInterval time.Duration

	// Per-operation deadline applied by the surfaces
	OperationTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		debug.Info("Loaded environment from .env file")
	}

	cfg := &Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		DataDir:              getEnv("DATA_DIR", "/var/lib/cipherswarm"),
		MinSliceSeconds:      getEnvInt("MIN_SLICE_SECONDS", 60),
		MaxSliceSeconds:      getEnvInt("MAX_SLICE_SECONDS", 900),
		DefaultHashSpeed:     getEnvFloat("DEFAULT_HASH_SPEED", 1_000_000),
		StaleWindow:          getEnvDuration("STALE_WINDOW", 10*time.Second),
		AcceptTimeout:        getEnvDuration("ACCEPT_TIMEOUT", 120*time.Second),
		AssignRetryLimit:     getEnvInt("ASSIGN_RETRY_LIMIT", 5),
		HeartbeatMinInterval: getEnvDuration("HEARTBEAT_MIN_INTERVAL", 15*time.Second),
		OfflineFloor:         getEnvDuration("OFFLINE_FLOOR", 90*time.Second),
		StatusStaleFloor:     getEnvDuration("STATUS_STALE_FLOOR", 180*time.Second),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		OperationTimeout:     getEnvDuration("OPERATION_TIMEOUT", 5*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MinSliceSeconds <= 0 || cfg.MaxSliceSeconds < cfg.MinSliceSeconds {
		return nil, fmt.Errorf("invalid slice duration bounds: min=%d max=%d", cfg.MinSliceSeconds, cfg.MaxSliceSeconds)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		debug.Warning("Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
		debug.Warning("Invalid float for %s, using default %f", key, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		debug.Warning("Invalid duration for %s, using default %s", key, fallback)
	}
	return fallback
}
