package views

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zekenie/cqrs"
	"github.com/zekenie/cqrs/internal/codecs"
	"github.com/zekenie/cqrs/internal/pg"
	"github.com/zekenie/cqrs/schema"
)

const (
	statusReady    = "ready"
	statusNotReady = "not_ready"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres is a View stored as JSONB documents in a cqrs_{name} table. Its
// readiness is persisted in cqrs_view_status, so a restarted process sees
// an already-ready view and skips replay.
type Postgres[T any] struct {
	name    string
	table   string
	backend cqrs.Backend
	exec    pg.Executor
	codec   codecs.Codec
	schema  *schema.Bootstrap
	latch   *Latch
}

var (
	_ View[any] = (*Postgres[any])(nil)
	_ Readiness = (*Postgres[any])(nil)
)

type pgRow[T any] struct {
	id      string
	value   T
	version int
}

// NewPostgres opens the named view, creating its tables on first use and
// loading its persisted readiness.
func NewPostgres[T any](ctx context.Context, b cqrs.Backend, name string) (*Postgres[T], error) {
	if err := schema.ValidateViewName(name); err != nil {
		return nil, err
	}

	v := &Postgres[T]{
		name:    name,
		table:   schema.ViewTable(name),
		backend: b,
		exec:    b.DBExecutor(),
		codec:   b.JSONCodec(),
		schema:  b.SchemaBootstrap(),
		latch:   NewLatch(),
	}

	if err := v.ensure(ctx, v.exec); err != nil {
		return nil, err
	}
	if err := v.schema.EnsureViewStatus(ctx, v.exec); err != nil {
		return nil, fmt.Errorf("view %s: %w", name, err)
	}

	_, err := v.exec.Exec(ctx,
		`INSERT INTO cqrs_view_status (view_name, status) VALUES ($1, $2) ON CONFLICT (view_name) DO NOTHING`,
		name, statusNotReady,
	)
	if err != nil {
		return nil, fmt.Errorf("view %s: register status: %w", name, err)
	}

	var status string
	err = v.exec.QueryRow(ctx,
		`SELECT status FROM cqrs_view_status WHERE view_name = $1`, name,
	).Scan(&status)
	if err != nil {
		return nil, fmt.Errorf("view %s: load status: %w", name, err)
	}
	if status == statusReady {
		v.latch.Signal()
	}
	return v, nil
}

func (v *Postgres[T]) ensure(ctx context.Context, exec pg.Executor) error {
	if err := v.schema.EnsureView(ctx, exec, v.name); err != nil {
		return fmt.Errorf("view %s: %w", v.name, err)
	}
	return nil
}

func (v *Postgres[T]) Ready() bool { return v.latch.Ready() }

func (v *Postgres[T]) WaitReady(ctx context.Context) error { return v.latch.WaitReady(ctx) }

// MarkAsReady persists the ready status before releasing waiters.
func (v *Postgres[T]) MarkAsReady(ctx context.Context) error {
	if v.latch.Ready() {
		return nil
	}
	_, err := v.exec.Exec(ctx,
		`INSERT INTO cqrs_view_status (view_name, status, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (view_name) DO UPDATE SET status = $2, updated_at = now()`,
		v.name, statusReady,
	)
	if err != nil {
		return fmt.Errorf("view %s: mark ready: %w", v.name, err)
	}
	v.latch.Signal()
	return nil
}

// Reset truncates the view table.
func (v *Postgres[T]) Reset(ctx context.Context) error {
	if _, err := v.exec.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, v.table)); err != nil {
		return fmt.Errorf("view %s: reset: %w", v.name, err)
	}
	return nil
}

func (v *Postgres[T]) Create(ctx context.Context, key string, val T) error {
	return v.insert(ctx, v.exec, key, val, "create")
}

func (v *Postgres[T]) insert(ctx context.Context, exec pg.Executor, key string, val T, op string) error {
	data, err := v.codec.Marshal(val)
	if err != nil {
		return fmt.Errorf("view %s: %s %s: marshal: %w", v.name, op, key, err)
	}

	query, args, err := psql.Insert(v.table).Columns("id", "data").Values(key, data).ToSql()
	if err != nil {
		return fmt.Errorf("view %s: %s %s: build sql: %w", v.name, op, key, err)
	}

	if _, err := exec.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("view %s: %s %s: %w", v.name, op, key, cqrs.ErrDuplicateID)
		}
		return fmt.Errorf("view %s: %s %s: %w", v.name, op, key, err)
	}
	return nil
}

func (v *Postgres[T]) load(ctx context.Context, exec pg.Executor, key string) (pgRow[T], error) {
	var r pgRow[T]
	query, args, err := psql.Select("data", "version").From(v.table).Where(sq.Eq{"id": key}).ToSql()
	if err != nil {
		return r, fmt.Errorf("view %s: load %s: build sql: %w", v.name, key, err)
	}

	var data []byte
	if err := exec.QueryRow(ctx, query, args...).Scan(&data, &r.version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, fmt.Errorf("view %s: load %s: %w", v.name, key, cqrs.ErrNotFound)
		}
		return r, fmt.Errorf("view %s: load %s: %w", v.name, key, err)
	}
	if err := v.codec.Unmarshal(data, &r.value); err != nil {
		return r, fmt.Errorf("view %s: load %s: unmarshal: %w", v.name, key, err)
	}
	r.id = key
	return r, nil
}

// write stores next under the row's key if the stored version still matches.
func (v *Postgres[T]) write(ctx context.Context, exec pg.Executor, r pgRow[T], next T) error {
	data, err := v.codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("view %s: update %s: marshal: %w", v.name, r.id, err)
	}

	query, args, err := psql.Update(v.table).
		Set("data", data).
		Set("version", r.version+1).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": r.id, "version": r.version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("view %s: update %s: build sql: %w", v.name, r.id, err)
	}

	tag, err := exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("view %s: update %s: %w", v.name, r.id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("view %s: update %s: %w", v.name, r.id, cqrs.ErrConcurrencyConflict)
	}
	return nil
}

func (v *Postgres[T]) Update(ctx context.Context, key string, fn UpdateFunc[T]) error {
	r, err := v.load(ctx, v.exec, key)
	if err != nil {
		return err
	}
	next, err := fn(r.value)
	if err != nil {
		return fmt.Errorf("view %s: update %s: %w", v.name, key, err)
	}
	return v.write(ctx, v.exec, r, next)
}

func (v *Postgres[T]) UpdateEnforcingNew(ctx context.Context, key string, fn UpdateFunc[T]) error {
	r, err := v.load(ctx, v.exec, key)
	if errors.Is(err, cqrs.ErrNotFound) {
		var zero T
		next, err := fn(zero)
		if err != nil {
			return fmt.Errorf("view %s: upsert %s: %w", v.name, key, err)
		}
		err = v.insert(ctx, v.exec, key, next, "upsert")
		if errors.Is(err, cqrs.ErrDuplicateID) {
			return fmt.Errorf("view %s: upsert %s: %w", v.name, key, cqrs.ErrConcurrencyConflict)
		}
		return err
	}
	if err != nil {
		return err
	}
	next, err := fn(r.value)
	if err != nil {
		return fmt.Errorf("view %s: upsert %s: %w", v.name, key, err)
	}
	return v.write(ctx, v.exec, r, next)
}

func (v *Postgres[T]) UpdateAll(ctx context.Context, filter FilterFunc[T], fn UpdateFunc[T]) (int, error) {
	n := 0
	err := v.inSession(ctx, func(exec pg.Executor) error {
		rows, err := v.scan(ctx, exec, filter)
		if err != nil {
			return err
		}

		failed := make(map[string]error)
		for _, r := range rows {
			next, err := fn(r.value)
			if err == nil {
				err = v.write(ctx, exec, r, next)
			}
			if err != nil {
				failed[r.id] = err
			}
		}
		if len(failed) > 0 {
			return &BatchError{Op: "update", Total: len(rows), Errors: failed}
		}
		n = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (v *Postgres[T]) Delete(ctx context.Context, key string) error {
	query, args, err := psql.Delete(v.table).Where(sq.Eq{"id": key}).ToSql()
	if err != nil {
		return fmt.Errorf("view %s: delete %s: build sql: %w", v.name, key, err)
	}

	tag, err := v.exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("view %s: delete %s: %w", v.name, key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("view %s: delete %s: %w", v.name, key, cqrs.ErrNotFound)
	}
	return nil
}

func (v *Postgres[T]) DeleteAll(ctx context.Context, filter FilterFunc[T]) (int, error) {
	n := 0
	err := v.inSession(ctx, func(exec pg.Executor) error {
		rows, err := v.scan(ctx, exec, filter)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.id)
		}

		query, args, err := psql.Delete(v.table).Where(sq.Eq{"id": ids}).ToSql()
		if err != nil {
			return fmt.Errorf("view %s: delete all: build sql: %w", v.name, err)
		}
		tag, err := exec.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("view %s: delete all: %w", v.name, err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (v *Postgres[T]) Get(ctx context.Context, key string) (T, error) {
	r, err := v.load(ctx, v.exec, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.value, nil
}

func (v *Postgres[T]) GetAll(ctx context.Context, filter FilterFunc[T]) (map[string]T, error) {
	rows, err := v.scan(ctx, v.exec, filter)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(rows))
	for _, r := range rows {
		out[r.id] = r.value
	}
	return out, nil
}

func (v *Postgres[T]) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := v.exec.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, v.table), key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("view %s: has %s: %w", v.name, key, err)
	}
	return exists, nil
}

func (v *Postgres[T]) Size(ctx context.Context) (int, error) {
	var n int
	if err := v.exec.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, v.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("view %s: size: %w", v.name, err)
	}
	return n, nil
}

// Bytes sums the text size of every stored key and document.
func (v *Postgres[T]) Bytes(ctx context.Context) (int64, error) {
	var n int64
	err := v.exec.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(SUM(octet_length(id) + octet_length(data::text)), 0) FROM %s`, v.table),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("view %s: bytes: %w", v.name, err)
	}
	return n, nil
}

func (v *Postgres[T]) scan(ctx context.Context, exec pg.Executor, filter FilterFunc[T]) ([]pgRow[T], error) {
	query, args, err := psql.Select("id", "data", "version").From(v.table).OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("view %s: scan: build sql: %w", v.name, err)
	}

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("view %s: scan: %w", v.name, err)
	}
	defer rows.Close()

	var out []pgRow[T]
	for rows.Next() {
		var r pgRow[T]
		var data []byte
		if err := rows.Scan(&r.id, &data, &r.version); err != nil {
			return nil, fmt.Errorf("view %s: scan: %w", v.name, err)
		}
		if err := v.codec.Unmarshal(data, &r.value); err != nil {
			return nil, fmt.Errorf("view %s: scan %s: unmarshal: %w", v.name, r.id, err)
		}
		if match(filter, r.id, r.value) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("view %s: scan: %w", v.name, err)
	}
	return out, nil
}

// inSession runs fn in a transaction when the view is backed by a Store.
// A view opened on a Session already runs inside that session's transaction.
func (v *Postgres[T]) inSession(ctx context.Context, fn func(exec pg.Executor) error) error {
	store, ok := v.backend.(*cqrs.Store)
	if !ok {
		return fn(v.exec)
	}

	sess, err := store.Session(ctx)
	if err != nil {
		return fmt.Errorf("view %s: %w", v.name, err)
	}
	defer sess.Close(ctx)

	if err := fn(sess.DBExecutor()); err != nil {
		return err
	}
	return sess.Commit(ctx)
}
