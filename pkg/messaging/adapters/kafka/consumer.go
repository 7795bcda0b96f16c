package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/flowforge/ingestion/pkg/logger"
	"github.com/flowforge/ingestion/pkg/messaging"
)

// consumer is a sarama consumer-group backed messaging.Consumer for a single topic.
type consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	groupID string
}

// Consume joins the consumer group and dispatches records to handler until
// ctx is cancelled or the group returns a fatal error.
func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	h := &groupHandler{handler: handler}

	go func() {
		for err := range c.group.Errors() {
			logger.L().ErrorContext(ctx, "kafka consumer group error", "group", c.groupID, "error", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return messaging.ErrConsumeFailed(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *consumer) Close() error {
	return c.group.Close()
}

// groupHandler adapts a messaging.MessageHandler to sarama.ConsumerGroupHandler.
type groupHandler struct {
	handler messaging.MessageHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			headers := make(map[string]string, len(msg.Headers))
			id := ""
			for _, hd := range msg.Headers {
				key := string(hd.Key)
				headers[key] = string(hd.Value)
				if key == "message-id" {
					id = string(hd.Value)
				}
			}

			m := &messaging.Message{
				ID:      id,
				Topic:   msg.Topic,
				Key:     string(msg.Key),
				Payload: msg.Value,
				Headers: headers,
				Metadata: messaging.MessageMetadata{
					Partition:     msg.Partition,
					Offset:        msg.Offset,
					DeliveryCount: 1,
					Raw:           msg,
				},
			}

			if err := h.handler(sess.Context(), m); err != nil {
				logger.L().ErrorContext(sess.Context(), "kafka message handler failed",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				continue
			}

			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
