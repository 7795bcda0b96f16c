// Package kafka bridges pkg/messaging's Kafka-backed Broker into the
// pipeline's ProducerDriver and Acknowledger contracts: a consumer group
// feeds demand-driven HandleDemand calls through a bounded buffer, and a
// producer republishes failed messages to a dead-letter topic behind a
// circuit breaker.
package kafka

import (
	"context"
	"time"

	"github.com/flowforge/ingestion/pkg/logger"
	"github.com/flowforge/ingestion/pkg/messaging"
	"github.com/flowforge/ingestion/pkg/pipeline"
	"github.com/flowforge/ingestion/pkg/servicemesh/circuitbreaker"
)

// Config configures the driver.
type Config struct {
	// Topic is the source topic consumed for demand.
	Topic string
	// Group is the consumer group id.
	Group string
	// DeadLetterTopic receives messages a batch handler marked failed.
	DeadLetterTopic string
	// BufferSize bounds how many consumed-but-not-yet-demanded messages may
	// queue in memory; default 512.
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 512
	}
	return c
}

// Driver is a pipeline.ProducerDriver backed by a messaging.Consumer. It
// buffers consumed messages internally so HandleDemand, which must not
// block past what demand allows, can always return immediately with
// whatever is already available.
type Driver struct {
	cfg      Config
	consumer messaging.Consumer
	ack      *Acknowledger

	buf    chan *messaging.Message
	cancel context.CancelFunc
}

// NewDriver returns a Driver that will consume cfg.Topic from broker and
// dead-letter failed messages to cfg.DeadLetterTopic. Only the
// dead-letter publish goes through the circuit breaker; consuming does not.
func NewDriver(broker messaging.Broker, cfg Config) (*Driver, error) {
	cfg = cfg.withDefaults()

	consumer, err := broker.Consumer(cfg.Topic, cfg.Group)
	if err != nil {
		return nil, err
	}

	producer, err := broker.Producer(cfg.DeadLetterTopic)
	if err != nil {
		return nil, err
	}

	cb := circuitbreaker.New("pipeline.kafka."+cfg.Topic, circuitbreaker.Options{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	})

	return &Driver{
		cfg:      cfg,
		consumer: consumer,
		ack:      &Acknowledger{producer: producer, cb: cb, deadLetterTopic: cfg.DeadLetterTopic},
		buf:      make(chan *messaging.Message, cfg.BufferSize),
	}, nil
}

// Init starts the background consume loop feeding the internal buffer.
// The returned state is unused; Driver keeps its own state.
func (d *Driver) Init(args interface{}) (interface{}, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	go func() {
		err := d.consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			select {
			case d.buf <- msg:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.L().ErrorContext(ctx, "kafka producer driver consume loop exited", "topic", d.cfg.Topic, "error", err)
		}
	}()

	return nil, nil
}

// HandleDemand drains up to n already-buffered messages without blocking.
func (d *Driver) HandleDemand(n int, state interface{}) ([]*pipeline.Message, interface{}, error) {
	var out []*pipeline.Message
	for i := 0; i < n; i++ {
		select {
		case msg := <-d.buf:
			out = append(out, pipeline.NewMessage(msg.Payload, d.ack, msg))
		default:
			return out, state, nil
		}
	}
	return out, state, nil
}

// Close stops the consume loop and closes the underlying consumer.
func (d *Driver) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	return d.consumer.Close()
}

// Acknowledger republishes every failed message to the dead-letter topic,
// wrapped in a circuit breaker so a dead broker doesn't pile up retries
// behind a batcher/consumer that's otherwise keeping up.
type Acknowledger struct {
	producer        messaging.Producer
	cb              *circuitbreaker.CircuitBreaker
	deadLetterTopic string
}

// ID identifies this acknowledger by its dead-letter destination.
func (a *Acknowledger) ID() string {
	return "kafka.Acknowledger:" + a.deadLetterTopic
}

// Ack republishes failed messages' original payloads to the dead-letter
// topic. Successful messages need no action: the consumer group commits
// offsets as it reads, not on pipeline acknowledgement.
func (a *Acknowledger) Ack(successful, failed []*pipeline.Message) {
	for _, m := range failed {
		orig, ok := m.AckState.(*messaging.Message)
		if !ok {
			continue
		}
		dead := &messaging.Message{
			Topic:   a.deadLetterTopic,
			Key:     orig.Key,
			Payload: orig.Payload,
			Headers: orig.Headers,
		}
		_, err := a.cb.Execute(func() (interface{}, error) {
			return nil, a.producer.Publish(context.Background(), dead)
		})
		if err != nil {
			logger.L().Error("failed to dead-letter message", "topic", a.deadLetterTopic, "error", err)
		}
	}
}
