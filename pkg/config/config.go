// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port       string
	LogLevel   string
	PolicyPath string
	AuditDB    string

	ExtensionPaths []string

	JWTSecret string

	// RedisAddr switches the per-requester rate limiter from in-memory
	// to shared Redis buckets when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Workers   int
	QueueSize int

	APIRateRPS   int
	APIRateBurst int

	OTLPEndpoint string
	Telemetry    bool
}

// Load reads configuration from environment variables with defaults
// suitable for local development.
func Load() *Config {
	cfg := &Config{
		Port:          envOr("PORT", "8080"),
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
		PolicyPath:    envOr("POLICY_PATH", "policy.yaml"),
		AuditDB:       envOr("AUDIT_DB", "audit.db"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		Workers:       envInt("WORKERS", 4),
		QueueSize:     envInt("QUEUE_SIZE", 64),
		APIRateRPS:    envInt("API_RATE_RPS", 20),
		APIRateBurst:  envInt("API_RATE_BURST", 40),
		OTLPEndpoint:  envOr("OTLP_ENDPOINT", "localhost:4317"),
		Telemetry:     os.Getenv("TELEMETRY") == "true",
	}

	paths := envOr("EXTENSION_PATHS", "extensions")
	for _, p := range strings.Split(paths, ":") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.ExtensionPaths = append(cfg.ExtensionPaths, p)
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
