// Package config loads backtest run configuration from environment
// variables, grounded on a config.Load() env-var-with-defaults idiom: a
// .env file is loaded first via godotenv, then every field falls back
// to a typed default if its env var is unset. An unparsable decimal
// also falls back to its default, and a boolean var set to anything
// other than "true", "1" or "yes" reads as false. An unparsable
// BACKTEST_VOLUME_LIMIT or an unknown BACKTEST_COMMISSION_MODEL makes
// Load fail instead.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds everything needed to wire up one backtest run: the
// broker's starting ledger state, the commission model to install, the
// feed to load, and how noisy logging should be.
type Config struct {
	InitialCash       decimal.Decimal
	AllowNegativeCash bool

	CommissionModel string // "zero" | "per_share" | "percentage" | "tiered"
	CommissionRate  decimal.Decimal

	VolumeLimit *decimal.Decimal

	FeedPath        string
	DateTimeLayout  string
	SkipMalformed   bool
	Intraday        bool

	JournalDSN string
	LogLevel   string
}

// Load reads a .env file if present (silently ignored if absent) then
// builds a Config from environment variables, falling back to sane
// defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		InitialCash:       getEnvDecimal("BACKTEST_INITIAL_CASH", decimal.NewFromInt(10000)),
		AllowNegativeCash: getEnvBool("BACKTEST_ALLOW_NEGATIVE_CASH", false),
		CommissionModel:   getEnv("BACKTEST_COMMISSION_MODEL", "zero"),
		CommissionRate:    getEnvDecimal("BACKTEST_COMMISSION_RATE", decimal.Zero),
		FeedPath:          getEnv("BACKTEST_FEED_PATH", ""),
		DateTimeLayout:    getEnv("BACKTEST_DATETIME_LAYOUT", "2006.01.02 15:04:05"),
		SkipMalformed:     getEnvBool("BACKTEST_SKIP_MALFORMED", false),
		Intraday:          getEnvBool("BACKTEST_INTRADAY", true),
		JournalDSN:        getEnv("BACKTEST_JOURNAL_DSN", ""),
		LogLevel:          getEnv("BACKTEST_LOG_LEVEL", "info"),
	}

	if raw := os.Getenv("BACKTEST_VOLUME_LIMIT"); raw != "" {
		limit, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid BACKTEST_VOLUME_LIMIT %q: %w", raw, err)
		}
		cfg.VolumeLimit = &limit
	}

	switch cfg.CommissionModel {
	case "zero", "per_share", "percentage", "tiered":
	default:
		return nil, fmt.Errorf("config: unknown BACKTEST_COMMISSION_MODEL %q", cfg.CommissionModel)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
