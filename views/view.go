// Package views provides the materialized key-value stores that projections
// write into. A view starts not ready and becomes ready exactly once, after
// its projection has replayed the event history.
package views

import "context"

// UpdateFunc computes the next value of a record from its current value.
// UpdateEnforcingNew passes the zero value when the record does not exist.
type UpdateFunc[T any] func(current T) (T, error)

// FilterFunc selects records for bulk reads and mutations. A nil filter
// matches every record.
type FilterFunc[T any] func(key string, v T) bool

// View is a mutable key-value materialized store.
type View[T any] interface {
	// Create stores v under key. Fails with cqrs.ErrDuplicateID if key exists.
	Create(ctx context.Context, key string, v T) error
	// Update replaces the record under key with fn's result. Fails with
	// cqrs.ErrNotFound if key is missing.
	Update(ctx context.Context, key string, fn UpdateFunc[T]) error
	// UpdateEnforcingNew updates the record under key, creating it from the
	// zero value when missing.
	UpdateEnforcingNew(ctx context.Context, key string, fn UpdateFunc[T]) error
	// UpdateAll applies fn to every record matching filter and returns the
	// number of records updated. Either all matching records are updated or
	// none are.
	UpdateAll(ctx context.Context, filter FilterFunc[T], fn UpdateFunc[T]) (int, error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context, filter FilterFunc[T]) (int, error)
	Get(ctx context.Context, key string) (T, error)
	GetAll(ctx context.Context, filter FilterFunc[T]) (map[string]T, error)
	Has(ctx context.Context, key string) (bool, error)
	// Size returns the number of records.
	Size(ctx context.Context) (int, error)
	// Bytes returns the approximate encoded size of all records.
	Bytes(ctx context.Context) (int64, error)
}

// Readiness is implemented by views that gate live updates until their
// history has been replayed. Views without it are treated as always ready.
type Readiness interface {
	Ready() bool
	// WaitReady blocks until the view is ready or ctx is done. It returns
	// immediately when the view is already ready.
	WaitReady(ctx context.Context) error
	// MarkAsReady performs the one-shot not-ready to ready transition.
	// Calling it again is a no-op.
	MarkAsReady(ctx context.Context) error
	// Reset discards every record without changing readiness. Replay calls
	// it so that records left by an interrupted replay are not applied twice.
	Reset(ctx context.Context) error
}

func match[T any](filter FilterFunc[T], key string, v T) bool {
	return filter == nil || filter(key, v)
}
