package config

import (
	"os"
	"strconv"
	"time"
)

// PickupConfig controls generation and redemption of hold pickup codes.
type PickupConfig struct {
	CodeLength           int
	CodeTimeout          time.Duration
	MaxGenerationPerUser int
	RateLimitWindow      time.Duration
	CodePrefix           string
}

func LoadPickupConfig() *PickupConfig {
	return &PickupConfig{
		CodeLength:           getEnvAsInt("PICKUP_CODE_LENGTH", 8),
		CodeTimeout:          getEnvAsDuration("PICKUP_CODE_TIMEOUT", 48*time.Hour),
		MaxGenerationPerUser: getEnvAsInt("PICKUP_MAX_GEN_PER_USER", 5),
		RateLimitWindow:      getEnvAsDuration("PICKUP_RATE_LIMIT_WINDOW", 1*time.Hour),
		CodePrefix:           getEnv("PICKUP_CODE_PREFIX", "HOLD"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
