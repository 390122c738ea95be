package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zekenie/cqrs"
	"github.com/zekenie/cqrs/events"
	"golang.org/x/sync/errgroup"
)

type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	logger          *slog.Logger
}

func WithPollingInterval(d time.Duration) PostgresOption {
	return func(c *postgresConfig) { c.pollingInterval = d }
}

func WithBatchSize(n int) PostgresOption {
	return func(c *postgresConfig) { c.batchSize = n }
}

// WithMaxRetries sets how many consecutive delivery failures are tolerated
// before the bus parks itself in the dead_letter status.
func WithMaxRetries(n int) PostgresOption {
	return func(c *postgresConfig) { c.maxRetries = n }
}

func WithLogger(l *slog.Logger) PostgresOption {
	return func(c *postgresConfig) { c.logger = l }
}

// Postgres is a bus over the cqrs_events table. History comes straight from
// the event store; live delivery is driven by Run, which polls for events
// after the bus checkpoint and wakes early on NOTIFY.
//
// Delivery is at-least-once: when a handler fails, the event is redelivered
// to every matching subscription on the next wake.
type Postgres struct {
	name       string
	events     *events.Store
	checkpoint *CheckpointStore
	pool       *pgxpool.Pool
	config     postgresConfig

	mu   sync.RWMutex
	subs []subscription

	position            atomic.Int64
	consecutiveFailures int
}

var (
	_ Bus     = (*Postgres)(nil)
	_ History = (*Postgres)(nil)
	_ Cursor  = (*Postgres)(nil)
)

// NewPostgres opens the named bus. The first time a name is used its
// checkpoint is initialised at the current head of the event store, so live
// delivery starts with events appended after the bus was created.
func NewPostgres(ctx context.Context, store *cqrs.Store, name string, opts ...PostgresOption) (*Postgres, error) {
	cfg := postgresConfig{
		pollingInterval: 5 * time.Second,
		batchSize:       100,
		maxRetries:      5,
		logger:          slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	b := &Postgres{
		name:       name,
		events:     events.New(store),
		checkpoint: NewCheckpointStore(store),
		pool:       store.PgxPool(),
		config:     cfg,
	}

	pos, _, err := b.checkpoint.Load(ctx, name)
	if errors.Is(err, cqrs.ErrNotFound) {
		pos, err = b.events.Head(ctx)
		if err != nil {
			return nil, fmt.Errorf("bus %s: %w", name, err)
		}
		err = b.checkpoint.Save(ctx, name, pos)
	}
	if err != nil {
		return nil, fmt.Errorf("bus %s: %w", name, err)
	}
	b.position.Store(pos)
	return b, nil
}

func (b *Postgres) Subscribe(types []string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, newSubscription(types, h))
}

// Publish appends evts to a stream. See events.Store.Append for the
// expectedVersion semantics.
func (b *Postgres) Publish(ctx context.Context, streamID string, expectedVersion int, evts ...events.Event) error {
	if err := b.events.Append(ctx, streamID, expectedVersion, evts); err != nil {
		return fmt.Errorf("bus %s: publish: %w", b.name, err)
	}
	return nil
}

func (b *Postgres) GetAllEvents(ctx context.Context, types []string) ([]events.Event, error) {
	evts, err := b.events.ReadTypes(ctx, types)
	if err != nil {
		return nil, fmt.Errorf("bus %s: history: %w", b.name, err)
	}
	return evts, nil
}

// Position returns the global position of the last delivered event.
func (b *Postgres) Position() int64 {
	return b.position.Load()
}

// Resume clears a dead_letter or stopped status so Run delivers again.
func (b *Postgres) Resume(ctx context.Context) error {
	return b.checkpoint.SetStatus(ctx, b.name, StatusRunning)
}

// Run delivers live events until ctx is cancelled. It drains immediately,
// then again on every polling interval and every NOTIFY on the events
// channel.
func (b *Postgres) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.listen(ctx, wake)
		return nil
	})
	g.Go(func() error {
		b.loop(ctx, wake)
		return nil
	})
	return g.Wait()
}

func (b *Postgres) loop(ctx context.Context, wake <-chan struct{}) {
	b.drain(ctx)

	ticker := time.NewTicker(b.config.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drain(ctx)
		case <-wake:
			b.drain(ctx)
		}
	}
}

func (b *Postgres) listen(ctx context.Context, wake chan<- struct{}) {
	for {
		err := b.waitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.config.logger.Warn("listen", "bus", b.name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.config.pollingInterval):
			}
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// waitForNotification blocks until a NOTIFY arrives on the events channel
// or the context is cancelled.
func (b *Postgres) waitForNotification(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("bus %s: acquire conn: %w", b.name, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+events.NotifyChannel); err != nil {
		return fmt.Errorf("bus %s: listen: %w", b.name, err)
	}
	defer func() {
		// the connection returns to the pool, so stop listening on it
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+events.NotifyChannel)
	}()

	if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
		return fmt.Errorf("bus %s: wait: %w", b.name, err)
	}
	return nil
}

func (b *Postgres) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := b.deliverBatch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.config.logger.Error("deliver batch", "bus", b.name, "error", err)
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// deliverBatch reads events after the checkpoint and hands each one to the
// matching subscriptions, saving the checkpoint after every event. Returns
// the number of events delivered.
func (b *Postgres) deliverBatch(ctx context.Context) (int, error) {
	// the stored checkpoint wins over the cursor so a Reset takes effect
	pos, status, err := b.checkpoint.Load(ctx, b.name)
	if err != nil {
		return 0, err
	}
	b.position.Store(pos)
	if status == StatusDeadLetter || status == StatusStopped {
		return 0, nil
	}
	if b.consecutiveFailures >= b.config.maxRetries {
		// resumed after being parked
		b.consecutiveFailures = 0
	}

	evts, err := b.events.ReadAll(ctx, pos, b.config.batchSize)
	if err != nil {
		return 0, fmt.Errorf("bus %s: poll: %w", b.name, err)
	}

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for i, evt := range evts {
		if err := deliver(ctx, subs, evt); err != nil {
			if ctx.Err() != nil {
				return i, ctx.Err()
			}
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.config.maxRetries {
				b.config.logger.Error("dead letter", "bus", b.name, "type", evt.Type, "position", evt.GlobalPosition, "failures", b.consecutiveFailures)
				if serr := b.checkpoint.SetStatus(ctx, b.name, StatusDeadLetter); serr != nil {
					b.config.logger.Error("set dead letter status", "bus", b.name, "error", serr)
				}
			}
			return i, fmt.Errorf("bus %s: deliver %s@%d: %w", b.name, evt.Type, evt.GlobalPosition, err)
		}
		b.consecutiveFailures = 0

		if err := b.checkpoint.Save(ctx, b.name, evt.GlobalPosition); err != nil {
			return i, err
		}
		b.position.Store(evt.GlobalPosition)
	}
	return len(evts), nil
}

func deliver(ctx context.Context, subs []subscription, evt events.Event) error {
	for _, s := range subs {
		if !s.matches(evt.Type) {
			continue
		}
		if err := s.handler(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
