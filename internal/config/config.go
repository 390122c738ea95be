// Package config loads projectiond settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL    string        `env:"CQRS_DATABASE_URL,required,notEmpty"`
	ProjectionName string        `env:"CQRS_PROJECTION_NAME" envDefault:"todo_lists"`
	PollInterval   time.Duration `env:"CQRS_POLL_INTERVAL" envDefault:"5s"`
	BatchSize      int           `env:"CQRS_BATCH_SIZE" envDefault:"100"`
	MaxRetries     int           `env:"CQRS_MAX_RETRIES" envDefault:"5"`
	LogLevel       slog.Level    `env:"CQRS_LOG_LEVEL" envDefault:"info"`
}

// Load reads Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("config: CQRS_POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("config: CQRS_BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxRetries <= 0 {
		return Config{}, fmt.Errorf("config: CQRS_MAX_RETRIES must be positive, got %d", cfg.MaxRetries)
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
