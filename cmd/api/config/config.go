package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DefaultMonthlyQuota    int64
	DefaultReserveEstimate int64
	EventRetentionDays     int
	GeminiModel            string
	WSPingInterval         time.Duration
}

func NewConfig() *Config {
	return &Config{
		DefaultMonthlyQuota:    envInt64("DEFAULT_MONTHLY_TOKEN_QUOTA", 100_000),
		DefaultReserveEstimate: envInt64("DEFAULT_RESERVE_ESTIMATE", 20_000),
		EventRetentionDays:     int(envInt64("USAGE_EVENT_RETENTION_DAYS", 30)),
		GeminiModel:            envString("GEMINI_MODEL", "gemini-1.5-pro"),
		WSPingInterval:         30 * time.Second,
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
