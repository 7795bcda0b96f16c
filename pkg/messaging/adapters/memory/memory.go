// Package memory provides an in-process messaging.Broker backed by buffered
// channels, for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/ingestion/pkg/logger"
	"github.com/flowforge/ingestion/pkg/messaging"
	"github.com/google/uuid"
)

// Config configures the in-memory broker.
type Config struct {
	// BufferSize is the channel capacity backing each topic.
	BufferSize int `env:"MEMORY_BROKER_BUFFER_SIZE" env-default:"256"`
}

// Broker is an in-process messaging.Broker. Each topic is a fan-out point:
// every Consumer created for a topic receives its own copy of every message
// published after it was created.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type topic struct {
	mu   sync.Mutex
	subs []chan *messaging.Message
}

// New returns a ready Broker.
func New(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Broker{cfg: cfg, topics: make(map[string]*topic)}
}

func (b *Broker) topicFor(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{}
		b.topics[name] = t
	}
	return t
}

// Producer returns a Producer bound to topic.
func (b *Broker) Producer(topicName string) (messaging.Producer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, messaging.ErrClosed(nil)
	}
	return &producer{broker: b, topic: topicName}, nil
}

// Consumer returns a Consumer bound to topic. group is accepted for interface
// parity but has no effect: every consumer sees every message (broadcast).
func (b *Broker) Consumer(topicName string, group string) (messaging.Consumer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, messaging.ErrClosed(nil)
	}

	t := b.topicFor(topicName)
	ch := make(chan *messaging.Message, b.cfg.BufferSize)

	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()

	return &consumer{topic: t, ch: ch}, nil
}

// Close marks the broker closed. In-flight subscriber channels are left to
// be drained by their own Consume loops, which exit when ctx is canceled.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Healthy reports true until the broker has been closed.
func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

type producer struct {
	broker *Broker
	topic  string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Topic == "" {
		msg.Topic = p.topic
	}

	t := p.broker.topicFor(p.topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, sub := range t.subs {
		select {
		case sub <- msg:
		default:
			return messaging.ErrQueueFull(nil)
		}
	}
	return nil
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, msg := range msgs {
		if err := p.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	topic *topic
	ch    chan *messaging.Message
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.ch:
			if err := handler(ctx, msg); err != nil {
				logger.L().ErrorContext(ctx, "memory broker handler failed", "topic", msg.Topic, "error", err)
			}
		}
	}
}

func (c *consumer) Close() error {
	c.topic.mu.Lock()
	defer c.topic.mu.Unlock()
	for i, sub := range c.topic.subs {
		if sub == c.ch {
			c.topic.subs = append(c.topic.subs[:i], c.topic.subs[i+1:]...)
			break
		}
	}
	return nil
}
