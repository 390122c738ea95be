// Package bus defines the event bus contract projections consume and
// provides an in-process bus and a Postgres-backed bus.
//
// A bus offers two delivery paths: live delivery of new events to
// subscribed handlers, and a bulk fetch of the complete history used to
// rebuild views.
package bus

import (
	"context"

	"github.com/zekenie/cqrs/events"
)

// Handler receives one delivered event.
type Handler func(ctx context.Context, evt events.Event) error

// Bus delivers live events to subscribed handlers.
type Bus interface {
	// Subscribe registers h for events whose type is in types. An empty
	// types list subscribes to every event.
	Subscribe(types []string, h Handler)
}

// History is implemented by buses that can return past events.
type History interface {
	// GetAllEvents returns the complete history of events whose type is in
	// types, in delivery order.
	GetAllEvents(ctx context.Context, types []string) ([]events.Event, error)
}

// Cursor is implemented by buses whose live delivery only carries events
// after a known global position. A handler subscribed once Position returned
// p is never delivered an event at or below p, unless the bus is rewound.
type Cursor interface {
	Position() int64
}

type subscription struct {
	types   map[string]struct{}
	handler Handler
}

func newSubscription(types []string, h Handler) subscription {
	s := subscription{handler: h}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	return s
}

func (s subscription) matches(eventType string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}
