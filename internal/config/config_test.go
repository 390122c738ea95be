package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CQRS_DATABASE_URL", "postgres://localhost/cqrs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/cqrs" {
		t.Errorf("database url: got %q", cfg.DatabaseURL)
	}
	if cfg.ProjectionName != "todo_lists" {
		t.Errorf("projection name: got %q", cfg.ProjectionName)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("poll interval: got %s", cfg.PollInterval)
	}
	if cfg.BatchSize != 100 || cfg.MaxRetries != 5 {
		t.Errorf("batch size/max retries: got %d/%d", cfg.BatchSize, cfg.MaxRetries)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level: got %s", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CQRS_DATABASE_URL", "postgres://db/cqrs")
	t.Setenv("CQRS_PROJECTION_NAME", "carts")
	t.Setenv("CQRS_POLL_INTERVAL", "250ms")
	t.Setenv("CQRS_BATCH_SIZE", "10")
	t.Setenv("CQRS_MAX_RETRIES", "2")
	t.Setenv("CQRS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProjectionName != "carts" || cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("got %+v", cfg)
	}
	if cfg.BatchSize != 10 || cfg.MaxRetries != 2 {
		t.Errorf("got %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level: got %s", cfg.LogLevel)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("CQRS_DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoad_RejectsNonPositive(t *testing.T) {
	t.Setenv("CQRS_DATABASE_URL", "postgres://localhost/cqrs")
	t.Setenv("CQRS_BATCH_SIZE", "0")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "CQRS_BATCH_SIZE") {
		t.Fatalf("got %v, want batch size error", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("CQRS_DATABASE_URL", "postgres://localhost/cqrs")
	t.Setenv("CQRS_POLL_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}
