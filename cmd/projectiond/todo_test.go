package main

import (
	"context"
	"log/slog"
	"slices"
	"testing"

	"github.com/zekenie/cqrs/bus"
	"github.com/zekenie/cqrs/events"
	"github.com/zekenie/cqrs/views"
)

func todoEvent(typ, list, name string) events.Event {
	return events.Event{StreamID: list, Type: typ, Data: []byte(`{"listId":"` + list + `","name":"` + name + `"}`)}
}

func TestTodoLists_RestoreAndLive(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemory()
	err := b.Publish(ctx,
		todoEvent(itemAdded, "L1", "milk"),
		todoEvent(itemAdded, "L1", "eggs"),
		todoEvent(itemRemoved, "L1", "milk"),
	)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	view := views.NewMemory[[]string]()
	proj, err := newTodoLists("todo_lists", view, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := proj.Subscribe(ctx, b); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, todoEvent(itemAdded, "L1", "bread")); err != nil {
		t.Fatalf("publish live: %v", err)
	}

	got, err := view.Get(ctx, "L1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !slices.Equal(got, []string{"eggs", "bread"}) {
		t.Errorf("got %v", got)
	}
}

func TestTodoLists_RejectsMissingListID(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemory()
	if err := b.Publish(ctx, events.Event{Type: itemAdded, Data: []byte(`{"name":"milk"}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	view := views.NewMemory[[]string]()
	proj, err := newTodoLists("todo_lists", view, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := proj.Subscribe(ctx, b); err == nil {
		t.Fatal("expected restore to fail")
	}
	if view.Ready() {
		t.Error("view must not be ready")
	}
}
