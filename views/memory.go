package views

import (
	"context"
	"fmt"
	"sync"

	"github.com/zekenie/cqrs"
	"github.com/zekenie/cqrs/internal/codecs"
)

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	ready bool
}

// WithReady creates the view already ready, so subscribing projections skip
// replay.
func WithReady() MemoryOption {
	return func(c *memoryConfig) { c.ready = true }
}

// Memory is an in-process View. It is safe for concurrent use; each
// operation holds the view lock for its duration, including the UpdateFunc.
type Memory[T any] struct {
	mu    sync.RWMutex
	data  map[string]T
	codec codecs.Codec
	latch *Latch
}

var (
	_ View[any] = (*Memory[any])(nil)
	_ Readiness = (*Memory[any])(nil)
)

func NewMemory[T any](opts ...MemoryOption) *Memory[T] {
	var cfg memoryConfig
	for _, o := range opts {
		o(&cfg)
	}
	m := &Memory[T]{
		data:  make(map[string]T),
		codec: codecs.Default,
		latch: NewLatch(),
	}
	if cfg.ready {
		m.latch.Signal()
	}
	return m
}

func (m *Memory[T]) Ready() bool { return m.latch.Ready() }

func (m *Memory[T]) WaitReady(ctx context.Context) error { return m.latch.WaitReady(ctx) }

func (m *Memory[T]) MarkAsReady(_ context.Context) error {
	m.latch.Signal()
	return nil
}

func (m *Memory[T]) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	return nil
}

func (m *Memory[T]) Create(_ context.Context, key string, v T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; ok {
		return fmt.Errorf("memory view: create %s: %w", key, cqrs.ErrDuplicateID)
	}
	m.data[key] = v
	return nil
}

func (m *Memory[T]) Update(_ context.Context, key string, fn UpdateFunc[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.data[key]
	if !ok {
		return fmt.Errorf("memory view: update %s: %w", key, cqrs.ErrNotFound)
	}
	next, err := fn(current)
	if err != nil {
		return fmt.Errorf("memory view: update %s: %w", key, err)
	}
	m.data[key] = next
	return nil
}

func (m *Memory[T]) UpdateEnforcingNew(_ context.Context, key string, fn UpdateFunc[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(m.data[key])
	if err != nil {
		return fmt.Errorf("memory view: upsert %s: %w", key, err)
	}
	m.data[key] = next
	return nil
}

func (m *Memory[T]) UpdateAll(_ context.Context, filter FilterFunc[T], fn UpdateFunc[T]) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updates := make(map[string]T)
	failed := make(map[string]error)
	for key, v := range m.data {
		if !match(filter, key, v) {
			continue
		}
		next, err := fn(v)
		if err != nil {
			failed[key] = err
			continue
		}
		updates[key] = next
	}

	if len(failed) > 0 {
		return 0, &BatchError{Op: "update", Total: len(updates) + len(failed), Errors: failed}
	}
	for key, v := range updates {
		m.data[key] = v
	}
	return len(updates), nil
}

func (m *Memory[T]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		return fmt.Errorf("memory view: delete %s: %w", key, cqrs.ErrNotFound)
	}
	delete(m.data, key)
	return nil
}

func (m *Memory[T]) DeleteAll(_ context.Context, filter FilterFunc[T]) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, v := range m.data {
		if match(filter, key, v) {
			delete(m.data, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("memory view: get %s: %w", key, cqrs.ErrNotFound)
	}
	return v, nil
}

func (m *Memory[T]) GetAll(_ context.Context, filter FilterFunc[T]) (map[string]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]T)
	for key, v := range m.data {
		if match(filter, key, v) {
			out[key] = v
		}
	}
	return out, nil
}

func (m *Memory[T]) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory[T]) Size(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data), nil
}

// Bytes sums the encoded size of every key and value.
func (m *Memory[T]) Bytes(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for key, v := range m.data {
		data, err := m.codec.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("memory view: bytes %s: %w", key, err)
		}
		total += int64(len(key) + len(data))
	}
	return total, nil
}
