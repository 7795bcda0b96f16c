// Package memory is an in-process events.Bus backed by a topic-to-handler map.
package memory

import (
	"context"
	"sync"

	"github.com/flowforge/ingestion/pkg/concurrency"
	"github.com/flowforge/ingestion/pkg/events"
	"github.com/flowforge/ingestion/pkg/logger"
)

// Bus is an in-process events.Bus. Handlers for a topic are
// invoked concurrently (one goroutine each, panic-safe) and Publish returns
// once all of them have been dispatched; it does not wait for completion.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]events.Handler
	closed   bool
}

// New returns a ready Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]events.Handler)}
}

// Subscribe registers handler to be invoked for every event published to topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler events.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Publish dispatches event to every handler subscribed to topic. Each
// handler runs in its own goroutine so a slow or panicking subscriber cannot
// block the publisher or the other subscribers.
func (b *Bus) Publish(ctx context.Context, topic string, event events.Event) error {
	b.mu.RLock()
	handlers := append([]events.Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		concurrency.SafeGo(ctx, func() {
			if err := h(ctx, event); err != nil {
				logger.L().ErrorContext(ctx, "event handler failed", "topic", topic, "type", event.Type, "error", err)
			}
		})
	}
	return nil
}

// Close marks the bus closed. Subsequent Subscribe calls are no-ops;
// in-flight Publish dispatches are unaffected.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
