package projections

import (
	"context"
	"fmt"

	"github.com/zekenie/cqrs/events"
)

type ProjectOption func(*projectConfig)

type projectConfig struct {
	noWait bool
}

// NoWait applies the event without waiting for the view to become ready.
// Replay uses it to feed history into a view that is not ready yet.
func NoWait() ProjectOption {
	return func(c *projectConfig) { c.noWait = true }
}

// Project applies evt to the view through the handler registered for its
// type and returns the handler's result. Unless NoWait is given, it first
// blocks until the view is ready or ctx is done.
//
// After the wait, an event whose global position was already applied by
// replay is skipped and Project returns nil, nil.
func (p *Projection[T]) Project(ctx context.Context, evt events.Event, opts ...ProjectOption) (any, error) {
	fn, ok := p.handlers[evt.Type]
	if !ok {
		return nil, &UnhandledEventError{Projection: p.name, Type: evt.Type}
	}

	var cfg projectConfig
	for _, o := range opts {
		o(&cfg)
	}

	if !cfg.noWait {
		if err := p.waitReady(ctx); err != nil {
			return nil, fmt.Errorf("projection %s: wait for view: %w", p.name, err)
		}
		if p.wasReplayed(evt.GlobalPosition) {
			p.logger.Debug("skip replayed event", "projection", p.name, "type", evt.Type, "position", evt.GlobalPosition)
			return nil, nil
		}
	}

	return fn(ctx, p.view, evt)
}

// handle adapts Project to the bus handler signature for live delivery.
func (p *Projection[T]) handle(ctx context.Context, evt events.Event) error {
	_, err := p.Project(ctx, evt)
	return err
}
