package projections

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/zekenie/cqrs/bus"
	"github.com/zekenie/cqrs/events"
	"github.com/zekenie/cqrs/views"
)

var errBoom = errors.New("boom")

var quiet = WithLogger(slog.New(slog.DiscardHandler))

type itemAdded struct {
	ListID string `json:"listId"`
	Name   string `json:"name"`
}

func itemEvent(listID, name string) events.Event {
	return events.Event{
		StreamID: listID,
		Type:     "itemAdded",
		Data:     []byte(`{"listId":"` + listID + `","name":"` + name + `"}`),
	}
}

// appendName appends the item name to the list keyed by its list id.
func appendName(ctx context.Context, view views.View[[]string], evt events.Event) (any, error) {
	var p itemAdded
	if err := evt.Decode(&p); err != nil {
		return nil, err
	}
	if p.Name == "bad" {
		return nil, errBoom
	}
	return p.Name, view.UpdateEnforcingNew(ctx, p.ListID, func(items []string) ([]string, error) {
		return append(items, p.Name), nil
	})
}

func newListProjection(opts ...Option) (*Projection[[]string], error) {
	opts = append([]Option{quiet}, opts...)
	return New("lists", []string{"itemAdded"}, Handlers[[]string]{"itemAdded": appendName}, opts...)
}

func mustListProjection(t *testing.T, opts ...Option) (*Projection[[]string], *views.Memory[[]string]) {
	t.Helper()
	view := views.NewMemory[[]string]()
	p, err := newListProjection(append(opts, WithView[[]string](view))...)
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}
	return p, view
}

func assertItems(t *testing.T, view views.View[[]string], key string, want ...string) {
	t.Helper()
	got, err := view.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", key, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: got %v, want %v", key, got, want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(time.Millisecond):
		}
	}
}

// liveOnlyBus delivers live events but cannot return history.
type liveOnlyBus struct {
	handlers []bus.Handler
}

func (b *liveOnlyBus) Subscribe(_ []string, h bus.Handler) {
	b.handlers = append(b.handlers, h)
}

// fixedHistory returns a preset history, positions included, and keeps the
// live handler so tests can deliver events by hand.
type fixedHistory struct {
	evts    []events.Event
	handler bus.Handler
}

func (b *fixedHistory) Subscribe(_ []string, h bus.Handler) {
	b.handler = h
}

func (b *fixedHistory) GetAllEvents(context.Context, []string) ([]events.Event, error) {
	return b.evts, nil
}

// plainView hides the Readiness methods of the wrapped view.
type plainView struct {
	views.View[[]string]
}

// historyBus wraps a Memory bus and lets tests intercept history fetches.
// When gate is set, GetAllEvents blocks until it is closed; snapshotFirst
// reads the log before blocking instead of after.
type historyBus struct {
	*bus.Memory

	err           error
	gate          chan struct{}
	snapshotFirst bool
	entered       chan struct{}

	mu      sync.Mutex
	fetches int
}

func newHistoryBus() *historyBus {
	return &historyBus{Memory: bus.NewMemory(), entered: make(chan struct{}, 1)}
}

func (b *historyBus) GetAllEvents(ctx context.Context, types []string) ([]events.Event, error) {
	b.mu.Lock()
	b.fetches++
	b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}

	var evts []events.Event
	if b.snapshotFirst {
		evts, _ = b.Memory.GetAllEvents(ctx, types)
	}
	select {
	case b.entered <- struct{}{}:
	default:
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.snapshotFirst {
		return evts, nil
	}
	return b.Memory.GetAllEvents(ctx, types)
}

func (b *historyBus) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}
