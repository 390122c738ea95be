package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/zekenie/cqrs/internal/pg"
)

const (
	EventsTable      = "cqrs_events"
	ViewStatusTable  = "cqrs_view_status"
	CheckpointsTable = "cqrs_bus_checkpoints"
)

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,54}$`)

// ValidateViewName checks that name is a valid view identifier
// (alphanumeric + underscores, max 55 characters, starts with a letter).
func ValidateViewName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid view name %q: must be alphanumeric with underscores, max 55 chars", name)
	}
	return nil
}

// ViewTable returns the table backing the named view.
func ViewTable(name string) string {
	return "cqrs_" + name
}

func viewDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cqrs_%s (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, name)
}

func eventsDDL() string {
	return `CREATE TABLE IF NOT EXISTS cqrs_events (
	stream_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	type TEXT NOT NULL,
	data JSONB NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	global_position BIGINT GENERATED ALWAYS AS IDENTITY,
	PRIMARY KEY (stream_id, version)
)`
}

func viewStatusDDL() string {
	return `CREATE TABLE IF NOT EXISTS cqrs_view_status (
	view_name TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'not_ready',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

func checkpointsDDL() string {
	return `CREATE TABLE IF NOT EXISTS cqrs_bus_checkpoints (
	bus_name TEXT PRIMARY KEY,
	last_position BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

// Bootstrap manages idempotent creation of tables and indexes.
// It caches which tables and indexes have been created to avoid repeated DDL.
type Bootstrap struct {
	tables  sync.Map
	indexes sync.Map
}

// New returns a Bootstrap with empty caches.
func New() *Bootstrap {
	return &Bootstrap{}
}

// IsCreated reports whether the named table has been created in this process.
func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

// InvalidateTable removes a table from the creation cache so the next
// Ensure call re-runs the DDL.
func (b *Bootstrap) InvalidateTable(table string) {
	b.tables.Delete(table)
}

func (b *Bootstrap) ensureTable(ctx context.Context, exec pg.Executor, table, ddl string) error {
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	// inside a transaction the table is only visible after commit
	if !pg.InTransaction(exec) {
		b.tables.Store(table, true)
	}
	return nil
}

// EnsureView creates the cqrs_{name} table if it doesn't exist.
func (b *Bootstrap) EnsureView(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateViewName(name); err != nil {
		return err
	}
	return b.ensureTable(ctx, exec, ViewTable(name), viewDDL(name))
}

// EnsureEvents creates the cqrs_events table if it doesn't exist.
func (b *Bootstrap) EnsureEvents(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, EventsTable, eventsDDL())
}

// EnsureViewStatus creates the cqrs_view_status table if it doesn't exist.
func (b *Bootstrap) EnsureViewStatus(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, ViewStatusTable, viewStatusDDL())
}

// EnsureCheckpoints creates the cqrs_bus_checkpoints table if it doesn't exist.
func (b *Bootstrap) EnsureCheckpoints(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, CheckpointsTable, checkpointsDDL())
}

// EnsureEventsIndexes creates the global_position and type indexes used by
// ordered and type-filtered reads. Must be called with a pool-level executor,
// not a session transaction: CREATE INDEX CONCURRENTLY cannot run inside a
// transaction block.
func (b *Bootstrap) EnsureEventsIndexes(ctx context.Context, exec pg.Executor) error {
	indexes := []struct {
		name string
		ddl  string
	}{
		{"idx_cqrs_events_global_position", `CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_cqrs_events_global_position ON cqrs_events (global_position)`},
		{"idx_cqrs_events_type", `CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_cqrs_events_type ON cqrs_events (type, global_position)`},
	}
	for _, idx := range indexes {
		if _, ok := b.indexes.Load(idx.name); ok {
			continue
		}
		if _, err := exec.Exec(ctx, idx.ddl); err != nil {
			return fmt.Errorf("schema: create index %s: %w", idx.name, err)
		}
		b.indexes.Store(idx.name, true)
	}
	return nil
}
