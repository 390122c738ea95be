package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/zekenie/cqrs/bus"
)

// Subscribe registers the projection for live delivery of its declared event
// types on b. When the view is not ready it then restores the view from b's
// history and returns only once the replay has completed or failed.
//
// A projection subscribes once; a second call fails with
// ErrAlreadySubscribed.
func (p *Projection[T]) Subscribe(ctx context.Context, b bus.Bus) error {
	if b == nil {
		return &PreconditionError{Projection: p.name, Reason: "event bus is required"}
	}
	if !p.viewReady() {
		if _, ok := b.(bus.History); !ok {
			return &PreconditionError{Projection: p.name, Reason: fmt.Sprintf("event bus %T does not provide history", b)}
		}
	}
	if !p.subscribed.CompareAndSwap(false, true) {
		return fmt.Errorf("projection %s: %w", p.name, ErrAlreadySubscribed)
	}

	if c, ok := b.(bus.Cursor); ok {
		p.liveFloor.Store(c.Position())
	}
	b.Subscribe(p.EventTypes(), p.handle)

	if p.viewReady() {
		p.state.CompareAndSwap(int32(StateNotReady), int32(StateReady))
		return nil
	}
	return p.Restore(ctx, b)
}

// Restore rebuilds the view by applying every historical event of the
// declared types, in the order b returns them, one at a time. Records left
// in the not-ready view by an earlier, interrupted replay are discarded
// before the first event is applied. On success the
// view is marked ready. The first failure aborts the replay: it is logged
// with the offending event and returned as a *RestoreError, and the view is
// left not ready with the events before it applied. A projection whose
// restore failed cannot be restored again.
//
// Restore is a no-op when the view is already ready.
func (p *Projection[T]) Restore(ctx context.Context, b bus.Bus) error {
	if b == nil {
		return &PreconditionError{Projection: p.name, Reason: "event bus is required"}
	}
	history, ok := b.(bus.History)
	if !ok {
		return &PreconditionError{Projection: p.name, Reason: fmt.Sprintf("event bus %T does not provide history", b)}
	}

	p.restoreMu.Lock()
	defer p.restoreMu.Unlock()

	switch p.State() {
	case StateReady:
		return nil
	case StateFailed:
		return &PreconditionError{Projection: p.name, Reason: "previous restore failed"}
	}
	if p.ready != nil && p.ready.Ready() {
		p.state.Store(int32(StateReady))
		return nil
	}

	p.state.Store(int32(StateRestoring))
	if err := p.restore(ctx, history); err != nil {
		p.state.Store(int32(StateFailed))
		return err
	}
	p.state.Store(int32(StateReady))
	return nil
}

func (p *Projection[T]) restore(ctx context.Context, history bus.History) error {
	start := time.Now()
	p.logger.Debug("restoring view", "projection", p.name, "types", p.handles)

	evts, err := history.GetAllEvents(ctx, p.EventTypes())
	if err != nil {
		p.logger.Error("restore: fetch history", "projection", p.name, "error", err)
		return &RestoreError{Projection: p.name, Err: err}
	}
	if err := p.resetView(ctx); err != nil {
		p.logger.Error("restore: reset view", "projection", p.name, "error", err)
		return &RestoreError{Projection: p.name, Err: err}
	}

	for i := range evts {
		evt := &evts[i]
		if err := ctx.Err(); err != nil {
			return &RestoreError{Projection: p.name, Event: evt, Err: err}
		}
		if _, err := p.Project(ctx, *evt, NoWait()); err != nil {
			p.logger.Error("restore: project event",
				"projection", p.name,
				"type", evt.Type,
				"stream", evt.StreamID,
				"version", evt.Version,
				"position", evt.GlobalPosition,
				"data", string(evt.Data),
				"error", err,
			)
			return &RestoreError{Projection: p.name, Event: evt, Err: err}
		}
		p.markReplayed(evt.GlobalPosition)
	}

	p.logger.Info("view restored", "projection", p.name, "events", len(evts), "elapsed", time.Since(start))
	p.logViewStats(ctx)

	if p.ready != nil {
		if err := p.ready.MarkAsReady(ctx); err != nil {
			p.logger.Error("restore: mark view ready", "projection", p.name, "error", err)
			return &RestoreError{Projection: p.name, Err: err}
		}
	}
	return nil
}

func (p *Projection[T]) logViewStats(ctx context.Context) {
	size, err := p.view.Size(ctx)
	if err != nil {
		p.logger.Debug("view size", "projection", p.name, "error", err)
		return
	}
	bytes, err := p.view.Bytes(ctx)
	if err != nil {
		p.logger.Debug("view bytes", "projection", p.name, "error", err)
		return
	}
	p.logger.Info("view stats", "projection", p.name, "size", size, "bytes", bytes)
}
