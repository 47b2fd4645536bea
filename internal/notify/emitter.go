// Package notify delivers notifications after the primary write succeeded.
//
// A notification is a side effect: if storing it fails, the operation that
// triggered it must not fail too. Emit therefore never returns an error.
// Failed notifications are parked in an in-memory outbox and retried by a
// background worker with exponential backoff until they are stored or run
// out of attempts.
//
// The outbox lives in memory only, so entries pending at shutdown are lost.
// That trade-off is logged when Stop finds a non-empty outbox.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/clock"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
)

// Store is the single storage method the emitter needs.
type Store interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Options tunes retrying. Zero values fall back to the defaults.
type Options struct {
	// RetryInterval is both the worker's polling period and the first backoff delay.
	RetryInterval time.Duration
	// MaxAttempts counts every write, including the first one made by Emit.
	MaxAttempts int
	Clock       clock.Clock
}

const (
	defaultRetryInterval = 5 * time.Second
	defaultMaxAttempts   = 8
	maxBackoff           = 5 * time.Minute
)

type entry struct {
	n        model.Notification
	attempts int
	nextAt   time.Time
	backoff  *backoff.ExponentialBackOff
}

// Emitter writes notifications and retries the ones that failed.
type Emitter struct {
	store       Store
	logger      *slog.Logger
	clock       clock.Clock
	interval    time.Duration
	maxAttempts int

	mu     sync.Mutex
	outbox []*entry

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewEmitter(store Store, logger *slog.Logger, opts Options) *Emitter {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Emitter{
		store:       store,
		logger:      logger,
		clock:       opts.Clock,
		interval:    opts.RetryInterval,
		maxAttempts: opts.MaxAttempts,
		done:        make(chan struct{}),
	}
}

// Emit stores each notification once and queues the failures for retry.
//
// The write runs on a context detached from ctx's cancellation: a client
// hanging up right after its request succeeded must not cancel the
// notifications that request produced.
func (e *Emitter) Emit(ctx context.Context, notifications ...model.Notification) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range notifications {
		ent := &entry{n: n}
		if e.attempt(ctx, ent) {
			continue
		}
		e.mu.Lock()
		e.outbox = append(e.outbox, ent)
		e.mu.Unlock()
	}
}

// Start launches the retry worker. Calling it more than once is a no-op.
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		e.logger.Info("starting notification retry worker",
			slog.Duration("interval", e.interval),
			slog.Int("maxAttempts", e.maxAttempts),
		)
		e.wg.Add(1)
		go e.run()
	})
}

// Stop halts the worker and waits for it to exit.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		if n := e.Pending(); n > 0 {
			e.logger.Warn("notification outbox not empty at shutdown", slog.Int("dropped", n))
		}
	})
}

// Pending reports how many notifications are waiting for a retry.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outbox)
}

// Flush retries every queued notification now, ignoring its schedule, and
// returns how many are still pending afterwards.
func (e *Emitter) Flush(ctx context.Context) int {
	return e.retry(ctx, true)
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.clock.After(e.interval):
			e.retry(context.Background(), false)
		}
	}
}

// retry attempts the due entries (all of them when force is set).
// The store is called without holding the lock.
func (e *Emitter) retry(ctx context.Context, force bool) int {
	now := e.clock.Now()

	e.mu.Lock()
	var due, later []*entry
	for _, ent := range e.outbox {
		if force || !ent.nextAt.After(now) {
			due = append(due, ent)
		} else {
			later = append(later, ent)
		}
	}
	e.outbox = later
	e.mu.Unlock()

	var keep []*entry
	for _, ent := range due {
		if e.attempt(ctx, ent) {
			continue
		}
		if ent.attempts >= e.maxAttempts {
			e.logger.Error("dropping notification after max attempts",
				slog.String("recipient", ent.n.RecipientID),
				slog.String("type", string(ent.n.Type)),
				slog.Int("attempts", ent.attempts),
			)
			continue
		}
		keep = append(keep, ent)
	}

	e.mu.Lock()
	e.outbox = append(e.outbox, keep...)
	n := len(e.outbox)
	e.mu.Unlock()
	return n
}

// attempt makes one write and reports whether the notification is done.
// A dedupe conflict means an earlier write already landed, which is success.
// A missing recipient or project is permanent, so the entry is dropped.
func (e *Emitter) attempt(ctx context.Context, ent *entry) bool {
	ent.attempts++
	n := ent.n
	err := e.store.CreateNotification(ctx, &n)
	if err == nil || errors.Is(err, apperror.ErrConflict) {
		return true
	}
	// The recipient or the referenced project is gone; no retry can fix it.
	if errors.Is(err, apperror.ErrNotFound) {
		e.logger.Warn("notification dropped, target no longer exists",
			slog.String("recipient", n.RecipientID),
			slog.String("type", string(n.Type)),
			slog.String("error", err.Error()),
		)
		return true
	}

	if ent.backoff == nil {
		ent.backoff = backoff.NewExponentialBackOff()
		ent.backoff.InitialInterval = e.interval
		ent.backoff.MaxInterval = maxBackoff
		ent.backoff.Reset()
	}
	ent.nextAt = e.clock.Now().Add(ent.backoff.NextBackOff())

	e.logger.Warn("notification write failed, queued for retry",
		slog.String("recipient", n.RecipientID),
		slog.String("type", string(n.Type)),
		slog.Int("attempt", ent.attempts),
		slog.String("error", err.Error()),
	)
	return false
}
