package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port            string
	DBPath          string
	LogLevel        string
	LogFormat       string
	IsProduction    bool
	TDSRatePercent  decimal.Decimal
	ConfirmInterval time.Duration
}

// StrictAnomalies reports whether schedule anomalies should be logged at error level.
// Development builds are strict so defects surface early.
func (c *Config) StrictAnomalies() bool {
	return !c.IsProduction
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "file::memory:?cache=shared")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("IS_PRODUCTION", false)
	v.SetDefault("TDS_RATE_PERCENT", "10")
	v.SetDefault("CONFIRM_INTERVAL", "24h")
	v.AutomaticEnv()

	cfg := &Config{
		Port:         v.GetString("PORT"),
		DBPath:       v.GetString("DB_PATH"),
		LogLevel:     v.GetString("LOG_LEVEL"),
		LogFormat:    v.GetString("LOG_FORMAT"),
		IsProduction: v.GetBool("IS_PRODUCTION"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
		slog.Warn("PORT not set, using default", "port", cfg.Port)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("DB_PATH must not be empty")
	}

	rate, err := decimal.NewFromString(v.GetString("TDS_RATE_PERCENT"))
	if err != nil {
		return nil, fmt.Errorf("invalid TDS_RATE_PERCENT %q: %w", v.GetString("TDS_RATE_PERCENT"), err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("TDS_RATE_PERCENT must be between 0 and 100, got %s", rate)
	}
	cfg.TDSRatePercent = rate

	intervalStr := v.GetString("CONFIRM_INTERVAL")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil || interval <= 0 {
		interval = 24 * time.Hour
		slog.Warn("invalid CONFIRM_INTERVAL, using default", "value", intervalStr, "default", interval.String())
	}
	cfg.ConfirmInterval = interval

	return cfg, nil
}
