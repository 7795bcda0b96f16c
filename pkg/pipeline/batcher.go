package pipeline

import (
	"context"
	"time"

	"github.com/flowforge/ingestion/pkg/datastructures/timer/wheel"
	"github.com/flowforge/ingestion/pkg/logger"
	"github.com/flowforge/ingestion/pkg/resilience"
)

// batchEvent is one unit handed from a batcher to its consumer pool: a
// batch plus the BatchInfo describing it.
type batchEvent struct {
	info     BatchInfo
	messages []*Message
}

type batcherEventKind int

const (
	evMessage batcherEventKind = iota
	evRefDown
	evResubscribeTick
	evTimeoutTick
)

type batcherEvent struct {
	kind    batcherEventKind
	msg     *Message
	refName string
}

// resubscribeFunc asks the topology for a fresh link for a named processor
// worker, used after that worker's original link to this batcher failed
// (the worker crashed and the processor pool was restarted).
type resubscribeFunc func(workerName string) (*Link[*Message], bool)

// batcherStage accumulates messages for one destination key into
// size- or time-bounded batches (§4.4). It tracks its upstream processor
// subscriptions (refs) and, on subscription loss, the retry set (failed),
// resubscribing on a single scheduled backoff per round.
type batcherStage struct {
	name         string
	key          string
	batchSize    int
	batchTimeout time.Duration

	resubscribe resubscribeFunc
	outputs     []*Link[batchEvent]

	events chan batcherEvent
	timer  *wheel.Timer
}

func newBatcherStage(name, key string, batchSize int, batchTimeout time.Duration, resubscribe resubscribeFunc, outputs []*Link[batchEvent]) *batcherStage {
	return &batcherStage{
		name:         name,
		key:          key,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		resubscribe:  resubscribe,
		outputs:      outputs,
		events:       make(chan batcherEvent, 64),
		timer:        wheel.New(10*time.Millisecond, 64),
	}
}

// run owns refs, failed, and pending exclusively; every external signal
// (a message, a ref going down, a resubscribe attempt, a timeout flush)
// arrives serialized on b.events, so no locking is needed here.
func (b *batcherStage) run(ctx context.Context, initialRefs map[string]*Link[*Message]) {
	b.timer.Start()
	defer b.timer.Stop()

	refs := make(map[string]*Link[*Message], len(initialRefs))
	failed := make(map[string]bool)
	var pending []*Message

	for name, link := range initialRefs {
		refs[name] = link
		b.watch(ctx, name, link)
	}

	b.armTimeout(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			switch ev.kind {
			case evMessage:
				pending = append(pending, ev.msg)
				for len(pending) >= b.batchSize {
					batch := pending[:b.batchSize]
					pending = pending[b.batchSize:]
					if !b.emit(ctx, batch) {
						return
					}
				}

			case evRefDown:
				if refs[ev.refName] != nil {
					delete(refs, ev.refName)
					wasEmpty := len(failed) == 0
					failed[ev.refName] = true
					if wasEmpty {
						b.scheduleResubscribe(ctx)
					}
				}

			case evResubscribeTick:
				for name := range failed {
					link, ok := b.resubscribe(name)
					if !ok {
						continue
					}
					delete(failed, name)
					refs[name] = link
					b.watch(ctx, name, link)
				}
				if len(failed) > 0 {
					b.scheduleResubscribe(ctx)
				}

			case evTimeoutTick:
				if len(pending) > 0 {
					n := len(pending)
					if n > b.batchSize {
						n = b.batchSize
					}
					batch := pending[:n]
					pending = pending[n:]
					if !b.emit(ctx, batch) {
						return
					}
				}
				b.armTimeout(ctx)
			}
		}
	}
}

// watch spawns a forwarder goroutine for one ref link: every message it
// receives is serialized onto b.events, and link failure (or ctx done) is
// itself reported as an evRefDown so the batcher's state transition stays
// on the single owning goroutine.
func (b *batcherStage) watch(ctx context.Context, name string, link *Link[*Message]) {
	go func() {
		for {
			msg, ok := link.Receive(ctx)
			if !ok {
				select {
				case b.events <- batcherEvent{kind: evRefDown, refName: name}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case b.events <- batcherEvent{kind: evMessage, msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *batcherStage) scheduleResubscribe(ctx context.Context) {
	delay := resilience.ExponentialBackoff(1, 50*time.Millisecond, 5*time.Second, 0.1)
	b.timer.Schedule(delay, func() {
		select {
		case b.events <- batcherEvent{kind: evResubscribeTick}:
		case <-ctx.Done():
		}
	})
}

func (b *batcherStage) armTimeout(ctx context.Context) {
	b.timer.Schedule(b.batchTimeout, func() {
		select {
		case b.events <- batcherEvent{kind: evTimeoutTick}:
		case <-ctx.Done():
		}
	})
}

// emit dispatches one batch to the first consumer link, in pool order, that
// currently has credit, polling briefly when every consumer is saturated.
func (b *batcherStage) emit(ctx context.Context, batch []*Message) bool {
	msgs := append([]*Message(nil), batch...)
	event := batchEvent{
		info:     BatchInfo{PublisherKey: b.key, Batcher: b.name},
		messages: msgs,
	}

	for {
		for _, out := range b.outputs {
			if out.AvailableCredit() > 0 {
				if err := out.Send(ctx, event); err != nil {
					logger.L().ErrorContext(ctx, "batcher failed to dispatch batch", "batcher", b.name, "error", err)
					return false
				}
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}
