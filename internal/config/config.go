// Package config loads engine configuration from the environment,
// following the teacher's internal/infrastructure/config and internal/config
// packages (both copies agree on shape: a flat Config struct + Load() +
// getEnv helper), extended with this engine's scheduling/sandbox knobs.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the engine's full runtime configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseDSN string

	WorkerCount        int
	LeaseVisibility    time.Duration
	SchedulerTick      time.Duration
	SchedulerBatch     int
	ScriptCPUTimeoutMS int
	ScriptMemoryLimitMB int
}

// Load reads Config from the environment, matching the teacher's
// Load()/getEnv default-value idiom.
func Load() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseDSN: getEnv("DATABASE_DSN", "postgres://localhost:5432/nodeflow?sslmode=disable"),

		WorkerCount:         getEnvInt("WORKER_COUNT", 0),
		LeaseVisibility:     getEnvDuration("LEASE_VISIBILITY", 30*time.Second),
		SchedulerTick:       getEnvDuration("SCHEDULER_TICK", 250*time.Millisecond),
		SchedulerBatch:      getEnvInt("SCHEDULER_BATCH", 100),
		ScriptCPUTimeoutMS:  getEnvInt("SCRIPT_CPU_TIMEOUT_MS", 5000),
		ScriptMemoryLimitMB: getEnvInt("SCRIPT_MEMORY_LIMIT_MB", 16),
	}
}

// GetPortInt returns Port as an int, matching the teacher's GetPortInt helper.
func (c Config) GetPortInt() int {
	n, err := strconv.Atoi(c.Port)
	if err != nil {
		return 8080
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
