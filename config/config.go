package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration (optional; enables the cross-process sweep lock)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Detection sweep configuration
	SweepInterval         time.Duration
	SweepLockTTL          time.Duration
	SweepChunkConcurrency int

	// Storage (empty DSN selects the in-process memory store)
	EngineDSN    string
	EngineDriver string

	// Dependency graph configuration
	DependencyMaxDepth int
	DefaultGracePeriod time.Duration

	// Auto-resolution configuration
	AutoNudgeTolerance  time.Duration
	ResolveFailureLimit int
	ResolveCoolOff      time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Sweep
		SweepInterval:         getEnvAsDuration("SWEEP_INTERVAL", "5m"),
		SweepLockTTL:          getEnvAsDuration("SWEEP_LOCK_TTL", "4m"),
		SweepChunkConcurrency: getEnvAsInt("SWEEP_CHUNK_CONCURRENCY", 4),

		// Storage
		EngineDSN:    getEnv("ENGINE_DSN", ""),
		EngineDriver: getEnv("ENGINE_DRIVER", "postgres"),

		// Dependency graph
		DependencyMaxDepth: getEnvAsInt("DEPENDENCY_MAX_DEPTH", 50),
		DefaultGracePeriod: getEnvAsDuration("DEFAULT_GRACE_PERIOD", "24h"),

		// Auto-resolution
		AutoNudgeTolerance:  getEnvAsDuration("AUTO_NUDGE_TOLERANCE", "30m"),
		ResolveFailureLimit: getEnvAsInt("RESOLVE_FAILURE_LIMIT", 5),
		ResolveCoolOff:      getEnvAsDuration("RESOLVE_COOL_OFF", "10m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
