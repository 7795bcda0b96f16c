package pipeline

import "time"

// DefaultDestination is the destination key used when a message's
// publisher is never set by handle_message.
const DefaultDestination = "default"

// Acknowledger is bound to a message at its origin and invoked once the
// batch containing the message has been handled, split into the messages
// that succeeded and the messages that failed.
type Acknowledger interface {
	// ID identifies this acknowledger so that a maximal run of messages
	// sharing the same acknowledger can be acked in one call.
	ID() string

	// Ack is fire-and-forget from the pipeline's perspective; retry against
	// the external source, if any, is the acknowledger's own responsibility.
	Ack(successful, failed []*Message)
}

// Message is the unit of work flowing through a topology.
type Message struct {
	// Data is the opaque payload, mutated by handle_message.
	Data interface{}

	// Acknowledger identifies the code able to acknowledge this message.
	// Set at origin and immutable afterward.
	Acknowledger Acknowledger

	// AckState is opaque per-message bookkeeping carried alongside the
	// acknowledger (e.g. a broker receipt handle). Immutable after creation.
	AckState interface{}

	// Publisher is the destination key selecting which batcher receives
	// this message. Defaults to DefaultDestination; set by the processor.
	Publisher string

	// ProcessorPID identifies the processor worker that most recently
	// touched this message, set before handle_message is invoked.
	ProcessorPID string

	// CreatedAt records when the producer emitted this message.
	CreatedAt time.Time
}

// NewMessage returns a Message with Publisher defaulted and CreatedAt set.
func NewMessage(data interface{}, ack Acknowledger, ackState interface{}) *Message {
	return &Message{
		Data:         data,
		Acknowledger: ack,
		AckState:     ackState,
		Publisher:    DefaultDestination,
		CreatedAt:    time.Now(),
	}
}

// BatchInfo accompanies a batch delivered to handle_batch. Immutable.
type BatchInfo struct {
	// PublisherKey is the destination key this batch was accumulated for.
	PublisherKey string

	// Batcher identifies the stage that produced this batch.
	Batcher string
}

// Ack is the result of handle_batch: every message from the batch must
// appear in exactly one of Successful or Failed.
type Ack struct {
	Successful []*Message
	Failed     []*Message
}

// HandleMessage transforms a single message. It must return the
// (possibly mutated) message; any error is a user-contract violation and
// crashes the processor worker that invoked it.
type HandleMessage func(msg *Message, userCtx interface{}) (*Message, error)

// HandleBatch processes one accumulated batch for a destination key.
// Any error crashes the consumer that invoked it; the batcher is unaffected.
type HandleBatch func(publisherKey string, messages []*Message, info BatchInfo, userCtx interface{}) (Ack, error)
