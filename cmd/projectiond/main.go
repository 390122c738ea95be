// Command projectiond maintains the todo list view from the event store and
// keeps it current until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zekenie/cqrs"
	"github.com/zekenie/cqrs/bus"
	"github.com/zekenie/cqrs/internal/config"
	"github.com/zekenie/cqrs/views"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "projectiond:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cqrs.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	view, err := views.NewPostgres[[]string](ctx, store, cfg.ProjectionName)
	if err != nil {
		return fmt.Errorf("open view: %w", err)
	}

	b, err := bus.NewPostgres(ctx, store, cfg.ProjectionName,
		bus.WithPollingInterval(cfg.PollInterval),
		bus.WithBatchSize(cfg.BatchSize),
		bus.WithMaxRetries(cfg.MaxRetries),
		bus.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}

	proj, err := newTodoLists(cfg.ProjectionName, view, logger)
	if err != nil {
		return err
	}
	if err := proj.Subscribe(ctx, b); err != nil {
		return err
	}
	logger.Info("projection ready", "projection", proj.Name(), "position", b.Position())

	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run bus: %w", err)
	}
	logger.Info("shutting down", "projection", proj.Name(), "position", b.Position())
	return nil
}
