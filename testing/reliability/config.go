package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level            string        // "basic" or "stress"
	Duration         time.Duration // Test duration for stress tests
	MaxGoroutines    int           // Maximum producer goroutines
	FailureThreshold float64       // Tolerated share of unaccounted spans (0.0-1.0)
}

// getReliabilityConfig reads configuration from environment variables.
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:            os.Getenv("REPORTERZ_RELIABILITY_LEVEL"),
		Duration:         parseDuration(getEnv("REPORTERZ_RELIABILITY_DURATION", "30s")),
		MaxGoroutines:    parseInt(getEnv("REPORTERZ_RELIABILITY_MAX_GOROUTINES", "100")),
		FailureThreshold: parseFloat(getEnv("REPORTERZ_RELIABILITY_FAILURE_THRESHOLD", "0.0")),
	}
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string) int {
	if value, err := strconv.Atoi(s); err == nil {
		return value
	}
	return 0
}

func parseFloat(s string) float64 {
	if value, err := strconv.ParseFloat(s, 64); err == nil {
		return value
	}
	return 0.0
}

func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 30 * time.Second
}
