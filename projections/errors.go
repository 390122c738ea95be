package projections

import (
	"errors"
	"fmt"

	"github.com/zekenie/cqrs/events"
)

// ErrAlreadySubscribed is returned when Subscribe is called more than once
// on the same projection.
var ErrAlreadySubscribed = errors.New("projection already subscribed")

// ConfigurationError reports a projection whose declared event types and
// handlers do not line up. It is returned by New; a misconfigured projection
// is never constructed.
type ConfigurationError struct {
	Projection string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("projection %s: configuration: %s", e.Projection, e.Reason)
}

// UnhandledEventError is returned when an event reaches a projection that
// has no handler for its type.
type UnhandledEventError struct {
	Projection string
	Type       string
}

func (e *UnhandledEventError) Error() string {
	return fmt.Sprintf("projection %s: no handler for event type %q", e.Projection, e.Type)
}

// RestoreError wraps the failure that aborted a replay. Event is the event
// being applied when the failure happened, or nil when the history could not
// be fetched or the view could not be marked ready.
type RestoreError struct {
	Projection string
	Event      *events.Event
	Err        error
}

func (e *RestoreError) Error() string {
	if e.Event == nil {
		return fmt.Sprintf("projection %s: restore: %v", e.Projection, e.Err)
	}
	return fmt.Sprintf("projection %s: restore: %s@%d: %v", e.Projection, e.Event.Type, e.Event.GlobalPosition, e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

// PreconditionError is returned when Restore or Subscribe cannot start, for
// example because the bus is missing or cannot provide history.
type PreconditionError struct {
	Projection string
	Reason     string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("projection %s: %s", e.Projection, e.Reason)
}
