package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zekenie/cqrs/events"
	"github.com/zekenie/cqrs/projections"
	"github.com/zekenie/cqrs/views"
)

const (
	itemAdded   = "itemAdded"
	itemRemoved = "itemRemoved"
)

type itemPayload struct {
	ListID string `json:"listId"`
	Name   string `json:"name"`
}

func decodeItem(evt events.Event) (itemPayload, error) {
	var p itemPayload
	if err := evt.Decode(&p); err != nil {
		return p, err
	}
	if p.ListID == "" {
		return p, fmt.Errorf("%s event %s@%d: missing listId", evt.Type, evt.StreamID, evt.Version)
	}
	return p, nil
}

// newTodoLists keeps the item names of every todo list, keyed by list id.
func newTodoLists(name string, view views.View[[]string], logger *slog.Logger) (*projections.Projection[[]string], error) {
	return projections.New(name, []string{itemAdded, itemRemoved}, projections.Handlers[[]string]{
		itemAdded: func(ctx context.Context, v views.View[[]string], evt events.Event) (any, error) {
			p, err := decodeItem(evt)
			if err != nil {
				return nil, err
			}
			return nil, v.UpdateEnforcingNew(ctx, p.ListID, func(items []string) ([]string, error) {
				return append(items, p.Name), nil
			})
		},
		itemRemoved: func(ctx context.Context, v views.View[[]string], evt events.Event) (any, error) {
			p, err := decodeItem(evt)
			if err != nil {
				return nil, err
			}
			return nil, v.Update(ctx, p.ListID, func(items []string) ([]string, error) {
				return slices.DeleteFunc(items, func(s string) bool { return s == p.Name }), nil
			})
		},
	}, projections.WithView[[]string](view), projections.WithLogger(logger))
}
