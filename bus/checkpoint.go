package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/zekenie/cqrs"
	"github.com/zekenie/cqrs/internal/pg"
	"github.com/zekenie/cqrs/schema"
)

const (
	StatusRunning    = "running"
	StatusDeadLetter = "dead_letter"
	StatusStopped    = "stopped"
)

// CheckpointStore tracks the last delivered global_position for each named
// bus, so live delivery resumes where it left off after a restart.
type CheckpointStore struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// NewCheckpointStore creates a checkpoint store backed by the given backend.
func NewCheckpointStore(b cqrs.Backend) *CheckpointStore {
	return &CheckpointStore{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

func (cs *CheckpointStore) ensure(ctx context.Context) error {
	return cs.schema.EnsureCheckpoints(ctx, cs.exec)
}

// Load returns the last delivered position and status for the named bus.
// It returns cqrs.ErrNotFound when no checkpoint has been saved yet.
func (cs *CheckpointStore) Load(ctx context.Context, name string) (int64, string, error) {
	if err := cs.ensure(ctx); err != nil {
		return 0, "", fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	var position int64
	var status string
	err := cs.exec.QueryRow(ctx,
		`SELECT last_position, status FROM cqrs_bus_checkpoints WHERE bus_name = $1`,
		name,
	).Scan(&position, &status)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", fmt.Errorf("checkpoint %s: %w", name, cqrs.ErrNotFound)
	}
	if err != nil {
		return 0, "", fmt.Errorf("checkpoint %s: load: %w", name, err)
	}
	return position, status, nil
}

// Save upserts the checkpoint position for the named bus.
func (cs *CheckpointStore) Save(ctx context.Context, name string, position int64) error {
	if err := cs.ensure(ctx); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO cqrs_bus_checkpoints (bus_name, last_position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (bus_name) DO UPDATE SET last_position = $2, updated_at = now()`,
		name, position,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", name, err)
	}
	return nil
}

// SetStatus updates the status column for the named bus.
func (cs *CheckpointStore) SetStatus(ctx context.Context, name string, status string) error {
	if err := cs.ensure(ctx); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO cqrs_bus_checkpoints (bus_name, last_position, status, updated_at)
		 VALUES ($1, 0, $2, now())
		 ON CONFLICT (bus_name) DO UPDATE SET status = $2, updated_at = now()`,
		name, status,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: set status: %w", name, err)
	}
	return nil
}

// Reset rewinds the named bus to position and marks it running. A running
// Postgres bus picks the new position up on its next wake and redelivers
// every event after it.
func (cs *CheckpointStore) Reset(ctx context.Context, name string, position int64) error {
	if err := cs.ensure(ctx); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO cqrs_bus_checkpoints (bus_name, last_position, status, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (bus_name) DO UPDATE SET last_position = $2, status = $3, updated_at = now()`,
		name, position, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: reset: %w", name, err)
	}
	return nil
}
