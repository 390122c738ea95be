package views

import (
	"context"
	"sync"
)

// Latch is a single-fire broadcast signal. Any number of goroutines can wait
// on it; once signalled it stays signalled.
type Latch struct {
	once sync.Once
	done chan struct{}
}

func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Ready reports whether the latch has been signalled.
func (l *Latch) Ready() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the latch is signalled or ctx is done.
func (l *Latch) WaitReady(ctx context.Context) error {
	if l.Ready() {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal releases all current and future waiters. Safe to call repeatedly.
func (l *Latch) Signal() {
	l.once.Do(func() { close(l.done) })
}
