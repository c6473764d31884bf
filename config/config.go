// Package config loads service configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration.
type Config struct {
	Port        int
	DBPath      string
	LogLevel    string
	AccrualCron string
	PenaltyUnit decimal.Decimal
	GraceDays   int
}

// Load reads configuration from the environment. A missing .env file is
// not an error; explicit environment variables win over it either way.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        8080,
		DBPath:      "financing.db",
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AccrualCron: getEnv("ACCRUAL_CRON", "@daily"),
		PenaltyUnit: decimal.NewFromInt(10),
		GraceDays:   3,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PENALTY_UNIT"); v != "" {
		unit, err := decimal.NewFromString(v)
		if err != nil || !unit.IsPositive() {
			return nil, fmt.Errorf("invalid PENALTY_UNIT %q", v)
		}
		cfg.PenaltyUnit = unit
	}
	if v := os.Getenv("GRACE_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return nil, fmt.Errorf("invalid GRACE_DAYS %q", v)
		}
		cfg.GraceDays = days
	}
	return cfg, nil
}

// GracePeriod returns the grace window as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GraceDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
