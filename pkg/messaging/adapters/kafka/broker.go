// Package kafka adapts github.com/IBM/sarama to the pkg/messaging
// Broker/Producer/Consumer interfaces.
package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"github.com/flowforge/ingestion/pkg/messaging"
)

// Broker is a Kafka-backed messaging.Broker.
type Broker struct {
	cfg    Config
	client sarama.Client

	mu        sync.Mutex
	producers map[string]*producer
	closed    bool
}

// New dials the configured brokers and returns a ready Broker.
func New(cfg Config) (*Broker, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Net.DialTimeout = cfg.DialTimeout
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Return.Successes = true
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}

	return &Broker{
		cfg:       cfg,
		client:    client,
		producers: make(map[string]*producer),
	}, nil
}

// Producer returns a cached sync producer for topic, creating one on first use.
func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, messaging.ErrClosed(nil)
	}

	if p, ok := b.producers[topic]; ok {
		return p, nil
	}

	sp, err := sarama.NewSyncProducerFromClient(b.client)
	if err != nil {
		return nil, messaging.ErrPublishFailed(err)
	}

	p := &producer{broker: b, topic: topic, producer: sp}
	b.producers[topic] = p
	return p, nil
}

// Consumer returns a consumer-group based Consumer for topic.
func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, messaging.ErrClosed(nil)
	}

	sc := sarama.NewConfig()
	sc.ClientID = b.cfg.ClientID
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest

	cg, err := sarama.NewConsumerGroup(b.cfg.Brokers, group, sc)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}

	return &consumer{group: cg, topic: topic, groupID: group}, nil
}

// Close releases all producers, consumer groups, and the underlying client.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for _, p := range b.producers {
		if err := p.producer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Healthy reports whether the broker's seed brokers are reachable.
func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false
	}
	brokers := b.client.Brokers()
	for _, br := range brokers {
		if connected, _ := br.Connected(); connected {
			return true
		}
	}
	return false
}
