package views

import (
	"errors"
	"testing"

	"github.com/zekenie/cqrs"
)

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{
		Op:    "update",
		Total: 3,
		Errors: map[string]error{
			"L1": cqrs.ErrConcurrencyConflict,
		},
	}
	if got := err.Error(); got != "batch update: 1 of 3 records failed" {
		t.Errorf("got %q", got)
	}
}

func TestBatchError_UnwrapMatchesInner(t *testing.T) {
	var err error = &BatchError{
		Op:    "update",
		Total: 2,
		Errors: map[string]error{
			"L1": cqrs.ErrConcurrencyConflict,
			"L2": cqrs.ErrNotFound,
		},
	}
	if !errors.Is(err, cqrs.ErrConcurrencyConflict) {
		t.Error("expected errors.Is to match ErrConcurrencyConflict")
	}
	if !errors.Is(err, cqrs.ErrNotFound) {
		t.Error("expected errors.Is to match ErrNotFound")
	}
}
