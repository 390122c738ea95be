package bus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zekenie/cqrs/events"
	"go.uber.org/multierr"
)

// Memory is an in-process bus that keeps every published event in memory.
// Publish delivers synchronously to matching subscriptions in registration
// order; concurrent Publish calls deliver concurrently.
type Memory struct {
	mu       sync.RWMutex
	log      []events.Event
	versions map[string]int
	subs     []subscription
}

var (
	_ Bus     = (*Memory)(nil)
	_ History = (*Memory)(nil)
	_ Cursor  = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{versions: make(map[string]int)}
}

func (m *Memory) Subscribe(types []string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, newSubscription(types, h))
}

// Publish records evts, assigning global positions, stream versions and
// creation times, then delivers them. Handler errors do not stop delivery to
// other subscriptions; they are combined in the returned error.
func (m *Memory) Publish(ctx context.Context, evts ...events.Event) error {
	m.mu.Lock()
	published := make([]events.Event, 0, len(evts))
	for _, evt := range evts {
		if evt.Version == 0 {
			m.versions[evt.StreamID]++
			evt.Version = m.versions[evt.StreamID]
		} else if evt.Version > m.versions[evt.StreamID] {
			m.versions[evt.StreamID] = evt.Version
		}
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = time.Now().UTC()
		}
		evt.GlobalPosition = int64(len(m.log) + 1)
		m.log = append(m.log, evt)
		published = append(published, evt)
	}
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	var err error
	for _, evt := range published {
		for _, s := range subs {
			if !s.matches(evt.Type) {
				continue
			}
			if herr := s.handler(ctx, evt); herr != nil {
				err = multierr.Append(err, fmt.Errorf("bus: deliver %s@%d: %w", evt.Type, evt.GlobalPosition, herr))
			}
		}
	}
	return err
}

func (m *Memory) GetAllEvents(_ context.Context, types []string) ([]events.Event, error) {
	filter := newSubscription(types, nil)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []events.Event
	for _, evt := range m.log {
		if filter.matches(evt.Type) {
			out = append(out, evt)
		}
	}
	return out, nil
}

// Position returns the global position of the last published event.
// Publish snapshots subscriptions under the same lock that assigns
// positions, so later subscriptions never see events at or below it.
func (m *Memory) Position() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.log))
}

// Len returns the number of events published so far.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.log)
}
