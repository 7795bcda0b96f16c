// Package tests holds a broker-agnostic conformance suite shared by every
// pkg/messaging adapter's own tests.
package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/ingestion/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBrokerTests exercises the publish/consume contract any messaging.Broker
// implementation must satisfy, regardless of driver.
func RunBrokerTests(t *testing.T, broker messaging.Broker) {
	t.Run("PublishAndConsume", func(t *testing.T) {
		testPublishAndConsume(t, broker)
	})
	t.Run("PublishBatch", func(t *testing.T) {
		testPublishBatch(t, broker)
	})
	t.Run("Healthy", func(t *testing.T) {
		assert.True(t, broker.Healthy(context.Background()))
	})
}

func testPublishAndConsume(t *testing.T, broker messaging.Broker) {
	topic := "conformance.publish-consume"

	producer, err := broker.Producer(topic)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := broker.Consumer(topic, "conformance-group")
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := make([]*messaging.Message, 0, 1)
	done := make(chan struct{})

	go func() {
		_ = consumer.Consume(ctx, func(_ context.Context, msg *messaging.Message) error {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
			close(done)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond) // let the consumer subscribe before publishing

	require.NoError(t, producer.Publish(ctx, &messaging.Message{
		Topic:   topic,
		Payload: []byte("hello"),
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, []byte("hello"), received[0].Payload)
	assert.NotEmpty(t, received[0].ID)
}

func testPublishBatch(t *testing.T, broker messaging.Broker) {
	topic := "conformance.publish-batch"

	producer, err := broker.Producer(topic)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := broker.Consumer(topic, "conformance-group")
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	count := 0
	const want = 3
	allReceived := make(chan struct{})

	go func() {
		_ = consumer.Consume(ctx, func(_ context.Context, msg *messaging.Message) error {
			mu.Lock()
			count++
			n := count
			mu.Unlock()
			if n == want {
				close(allReceived)
			}
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)

	batch := make([]*messaging.Message, want)
	for i := range batch {
		batch[i] = &messaging.Message{Topic: topic, Payload: []byte("batch")}
	}
	require.NoError(t, producer.PublishBatch(ctx, batch))

	select {
	case <-allReceived:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for batch, got %d/%d", count, want)
	}
}
