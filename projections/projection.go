package projections

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zekenie/cqrs/events"
	"github.com/zekenie/cqrs/views"
)

// HandlerFunc applies one event to the view. Its result is returned by
// Project.
type HandlerFunc[T any] func(ctx context.Context, view views.View[T], evt events.Event) (any, error)

// Handlers maps each declared event type to its handler.
type Handlers[T any] map[string]HandlerFunc[T]

// State is the replay state of a projection.
type State int32

const (
	StateNotReady State = iota
	StateRestoring
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateRestoring:
		return "restoring"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*options)

type options struct {
	view   any
	logger *slog.Logger
}

// WithView sets the view the projection writes into. Without it the
// projection gets a fresh in-memory view.
func WithView[T any](v views.View[T]) Option {
	return func(o *options) { o.view = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Projection maintains a view from the events of its declared types.
type Projection[T any] struct {
	name     string
	handles  []string
	handlers map[string]HandlerFunc[T]
	view     views.View[T]
	ready    views.Readiness
	logger   *slog.Logger

	state      atomic.Int32
	subscribed atomic.Bool
	restoreMu  sync.Mutex

	// live delivery only carries events above liveFloor
	liveFloor atomic.Int64
	replayMu  sync.Mutex
	replayed  map[int64]struct{}
}

// New builds a projection named name that handles exactly the event types in
// handles. Every declared type needs a handler in handlers, and handlers may
// not contain types that are not declared. A nil or empty handles list, or
// any mismatch, fails with a *ConfigurationError.
func New[T any](name string, handles []string, handlers Handlers[T], opts ...Option) (*Projection[T], error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if name == "" {
		return nil, &ConfigurationError{Projection: name, Reason: "name is required"}
	}
	if handles == nil {
		return nil, &ConfigurationError{Projection: name, Reason: "handled event types are not declared"}
	}
	if len(handles) == 0 {
		return nil, &ConfigurationError{Projection: name, Reason: "handled event types list is empty"}
	}

	table := make(map[string]HandlerFunc[T], len(handles))
	for _, t := range handles {
		if t == "" {
			return nil, &ConfigurationError{Projection: name, Reason: "blank event type declared"}
		}
		if _, dup := table[t]; dup {
			return nil, &ConfigurationError{Projection: name, Reason: fmt.Sprintf("event type %q declared twice", t)}
		}
		fn := handlers[t]
		if fn == nil {
			return nil, &ConfigurationError{Projection: name, Reason: fmt.Sprintf("no handler for declared event type %q", t)}
		}
		table[t] = fn
	}
	for t := range handlers {
		if _, ok := table[t]; !ok {
			return nil, &ConfigurationError{Projection: name, Reason: fmt.Sprintf("handler for undeclared event type %q", t)}
		}
	}

	var view views.View[T]
	switch v := o.view.(type) {
	case nil:
		view = views.NewMemory[T]()
	case views.View[T]:
		view = v
	default:
		return nil, &ConfigurationError{Projection: name, Reason: fmt.Sprintf("view %T does not store %T values", o.view, *new(T))}
	}

	p := &Projection[T]{
		name:     name,
		handles:  slices.Clone(handles),
		handlers: table,
		view:     view,
		logger:   o.logger,
		replayed: make(map[int64]struct{}),
	}
	if r, ok := view.(views.Readiness); ok {
		p.ready = r
	}
	return p, nil
}

func (p *Projection[T]) Name() string {
	return p.name
}

// EventTypes returns a copy of the declared event types.
func (p *Projection[T]) EventTypes() []string {
	return slices.Clone(p.handles)
}

// View returns the view the projection writes into.
func (p *Projection[T]) View() views.View[T] {
	return p.view
}

func (p *Projection[T]) State() State {
	return State(p.state.Load())
}

// viewReady treats views without Readiness as always ready.
func (p *Projection[T]) viewReady() bool {
	return p.ready == nil || p.ready.Ready()
}

func (p *Projection[T]) waitReady(ctx context.Context) error {
	if p.ready == nil {
		return nil
	}
	return p.ready.WaitReady(ctx)
}

// markReplayed records a position applied by replay that live delivery may
// still carry.
func (p *Projection[T]) markReplayed(pos int64) {
	if pos <= 0 || pos <= p.liveFloor.Load() {
		return
	}
	p.replayMu.Lock()
	p.replayed[pos] = struct{}{}
	p.replayMu.Unlock()
}

func (p *Projection[T]) wasReplayed(pos int64) bool {
	if pos <= 0 {
		return false
	}
	p.replayMu.Lock()
	defer p.replayMu.Unlock()
	_, ok := p.replayed[pos]
	return ok
}

// resetView discards what an interrupted replay may have left in the view.
func (p *Projection[T]) resetView(ctx context.Context) error {
	if p.ready != nil {
		return p.ready.Reset(ctx)
	}
	_, err := p.view.DeleteAll(ctx, nil)
	return err
}
