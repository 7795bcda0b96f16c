package pipeline

import (
	"context"
	"errors"
	"sync"
)

// errLinkFailed is returned by Send once a link has been marked Fail'd.
var errLinkFailed = errors.New("pipeline: link failed")

// Link is one upstream-to-downstream subscription edge carrying events of
// type T. The downstream side grants an initial credit of MaxDemand; the
// upstream side blocks once that credit is exhausted. When outstanding
// credit falls to MinDemand the downstream replenishes it back to
// MaxDemand in one shot, the same low/high water mark behavior spec'd for
// GrantDemand(n) (§4.1, §5).
//
// Partition, when non-empty, tags this link as belonging to one
// destination key; a processor writing to a partitioned link only ever
// sends messages whose Publisher matches Partition.
type Link[T any] struct {
	Partition string

	cfg DemandConfig

	events chan T

	mu        sync.Mutex
	available int
	wake      chan struct{}

	failedOnce sync.Once
	failed     chan struct{}
}

// NewLink returns a Link with full initial credit and a buffered channel
// sized to MaxDemand.
func NewLink[T any](cfg DemandConfig, partition string) *Link[T] {
	cfg = cfg.withDefaults()
	return &Link[T]{
		Partition: partition,
		cfg:       cfg,
		events:    make(chan T, cfg.MaxDemand),
		available: cfg.MaxDemand,
		wake:      make(chan struct{}),
		failed:    make(chan struct{}),
	}
}

// Send blocks until credit is available (or ctx is done, or the link has
// been marked Fail'd) and then hands the event to the downstream subscriber.
func (l *Link[T]) Send(ctx context.Context, event T) error {
	for {
		l.mu.Lock()
		if l.available > 0 {
			l.available--
			wake := l.wake
			l.mu.Unlock()
			for {
				select {
				case l.events <- event:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				case <-l.failed:
					return errLinkFailed
				case <-wake:
					// a replenishment raced us; we already hold a credit
					// reserved above, so just retry the send.
					wake = nil
				}
			}
		}
		waitCh := l.wake
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.failed:
			return errLinkFailed
		case <-waitCh:
		}
	}
}

// Receive blocks for the next event, or returns ok=false if ctx is done or
// the link has failed. Every successful receive counts against
// outstanding demand; once available credit has fallen to MinDemand it is
// replenished to MaxDemand.
func (l *Link[T]) Receive(ctx context.Context) (T, bool) {
	var zero T
	select {
	case event := <-l.events:
		l.replenishIfLow()
		return event, true
	case <-ctx.Done():
		return zero, false
	case <-l.failed:
		return zero, false
	}
}

// AvailableCredit returns the credit currently available to the upstream
// side without blocking.
func (l *Link[T]) AvailableCredit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

func (l *Link[T]) replenishIfLow() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available <= l.cfg.MinDemand {
		l.available = l.cfg.MaxDemand
		close(l.wake)
		l.wake = make(chan struct{})
	}
}

// Failed reports whether Fail has been called on this link.
func (l *Link[T]) Failed() bool {
	select {
	case <-l.failed:
		return true
	default:
		return false
	}
}

// Fail marks the link as permanently unusable; blocked and future Send or
// Receive calls return/unblock as failed. Used when an upstream
// subscription drops (§4.4 "failed" bookkeeping) so a batcher's
// resubscribe loop can discard the old link and install a fresh one.
func (l *Link[T]) Fail() {
	l.failedOnce.Do(func() { close(l.failed) })
}
