package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zekenie/cqrs"
	"github.com/zekenie/cqrs/internal/codecs"
	"github.com/zekenie/cqrs/internal/pg"
	"github.com/zekenie/cqrs/schema"
)

// NotifyChannel is the Postgres channel signalled after every append.
const NotifyChannel = "cqrs_events"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var columns = []string{"stream_id", "version", "type", "data", "metadata", "created_at", "global_position"}

// Event represents a single event in a stream. Events are produced by the
// event store or bus and treated as immutable by consumers.
type Event struct {
	StreamID       string
	Version        int
	Type           string
	Data           []byte
	Metadata       []byte
	CreatedAt      time.Time
	GlobalPosition int64
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := codecs.Default.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("events: decode %s: %w", e.Type, err)
	}
	return nil
}

// Store provides append-only event stream operations backed by a single
// cqrs_events table.
type Store struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// New creates an event store using the given backend's executor and schema.
func New(b cqrs.Backend) *Store {
	return &Store{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

// Append writes events to a stream with optimistic concurrency control.
// Pass expectedVersion 0 to create a new stream. Returns ErrStreamExists
// if the stream already exists with version 0, or ErrConcurrencyConflict
// if the expected version doesn't match.
func (es *Store) Append(ctx context.Context, streamID string, expectedVersion int, evts []Event) error {
	if len(evts) == 0 {
		return fmt.Errorf("events: append %s: at least one event required", streamID)
	}

	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return err
	}

	if expectedVersion > 0 {
		var currentVersion int
		err := es.exec.QueryRow(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM cqrs_events WHERE stream_id = $1",
			streamID,
		).Scan(&currentVersion)
		if err != nil {
			return fmt.Errorf("events: append %s: check version: %w", streamID, err)
		}
		if currentVersion != expectedVersion {
			return fmt.Errorf("events: append %s: expected version %d but got %d: %w",
				streamID, expectedVersion, currentVersion, cqrs.ErrConcurrencyConflict)
		}
	}

	builder := psql.Insert(schema.EventsTable).
		Columns("stream_id", "version", "type", "data", "metadata")

	for i, evt := range evts {
		data := evt.Data
		if data == nil {
			data = []byte("{}")
		}
		version := expectedVersion + i + 1
		builder = builder.Values(streamID, version, evt.Type, data, evt.Metadata)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("events: append %s: build sql: %w", streamID, err)
	}

	_, err = es.exec.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if expectedVersion == 0 {
				return fmt.Errorf("events: append %s: %w", streamID, cqrs.ErrStreamExists)
			}
			return fmt.Errorf("events: append %s: %w", streamID, cqrs.ErrConcurrencyConflict)
		}
		return fmt.Errorf("events: append %s: %w", streamID, err)
	}

	// best-effort wakeup for bus listeners
	_, _ = es.exec.Exec(ctx, "SELECT pg_notify($1, '')", NotifyChannel)

	return nil
}

// ReadStream returns all events for a stream starting from fromVersion.
// Pass 0 to read from the beginning. Returns an empty slice if the stream
// doesn't exist.
func (es *Store) ReadStream(ctx context.Context, streamID string, fromVersion int) ([]Event, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select(columns...).
		From(schema.EventsTable).
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("version ASC")

	if fromVersion > 0 {
		builder = builder.Where(sq.GtOrEq{"version": fromVersion})
	}

	return es.query(ctx, builder, "read "+streamID)
}

// ReadAll returns events across all streams ordered by global_position.
// Pass afterPosition 0 to start from the beginning. Returns up to limit events.
func (es *Store) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Event, error) {
	if err := es.ensureRead(ctx); err != nil {
		return nil, err
	}

	builder := psql.
		Select(columns...).
		From(schema.EventsTable).
		Where(sq.Gt{"global_position": afterPosition}).
		OrderBy("global_position ASC").
		Limit(uint64(limit))

	return es.query(ctx, builder, "read all")
}

// ReadTypes returns the complete history of events whose type is one of
// types, ordered by global_position. An empty types list matches every event.
func (es *Store) ReadTypes(ctx context.Context, types []string) ([]Event, error) {
	if err := es.ensureRead(ctx); err != nil {
		return nil, err
	}

	builder := psql.
		Select(columns...).
		From(schema.EventsTable).
		OrderBy("global_position ASC")

	if len(types) > 0 {
		builder = builder.Where(sq.Eq{"type": types})
	}

	return es.query(ctx, builder, "read types")
}

// Head returns the highest global_position written so far, or 0 when the
// store is empty.
func (es *Store) Head(ctx context.Context) (int64, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return 0, err
	}

	var head int64
	err := es.exec.QueryRow(ctx, "SELECT COALESCE(MAX(global_position), 0) FROM cqrs_events").Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("events: head: %w", err)
	}
	return head, nil
}

func (es *Store) ensureRead(ctx context.Context) error {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return err
	}
	if pg.InTransaction(es.exec) {
		return nil
	}
	return es.schema.EnsureEventsIndexes(ctx, es.exec)
}

func (es *Store) query(ctx context.Context, builder sq.SelectBuilder, op string) ([]Event, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("events: %s: build sql: %w", op, err)
	}

	rows, err := es.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}
	defer rows.Close()

	result, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}
	return result, nil
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var result []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.StreamID, &e.Version, &e.Type, &e.Data, &e.Metadata, &e.CreatedAt, &e.GlobalPosition); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
