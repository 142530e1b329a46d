// Package config provides configuration loading and management for the
// application.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// SnapshotDir is the directory holding per-epoch chain snapshots.
	SnapshotDir string

	// OutputDir is where the file sink writes stats and manifest files.
	OutputDir string

	// RPCEndpoint is the JSON-RPC endpoint for live queries. Empty disables
	// the live-query fallbacks.
	RPCEndpoint string

	// DatabaseURL enables the Postgres sink when set.
	DatabaseURL string

	// RedisURL enables the inflation-reward cache when set.
	RedisURL string

	// SigningKey is a hex secp256k1 private key; records are signed when set.
	SigningKey string

	// OtelEndpoint enables OTLP trace export when set.
	OtelEndpoint string

	// MetricsAddr serves Prometheus metrics during a run when set.
	MetricsAddr string

	Workers           int
	RequestTimeout    time.Duration
	MaxRetries        int
	RequestsPerSecond float64

	LogLevel  string
	LogFormat string
}

// Load creates a new Config from environment variables.
func Load() Config {
	return Config{
		SnapshotDir:       GetEnvOrDefault("SNAPSHOT_DIR", "snapshots"),
		OutputDir:         GetEnvOrDefault("OUTPUT_DIR", "stats"),
		RPCEndpoint:       GetEnvOrDefault("RPC_ENDPOINT", ""),
		DatabaseURL:       GetEnvOrDefault("DATABASE_URL", ""),
		RedisURL:          GetEnvOrDefault("REDIS_URL", ""),
		SigningKey:        GetEnvOrDefault("SIGNING_KEY", ""),
		OtelEndpoint:      GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsAddr:       GetEnvOrDefault("METRICS_ADDR", ""),
		Workers:           GetEnvAsInt("WORKERS", 8),
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		MaxRetries:        GetEnvAsInt("MAX_RETRIES", 3),
		RequestsPerSecond: GetEnvAsFloat("REQUESTS_PER_SECOND", 10),
		LogLevel:          GetEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         GetEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// GetEnv retrieves an environment variable and whether it exists.
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default
// value if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default
// value.
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default
// value.
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a
// default value.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
