package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gaborage/go-relay/config"
	"github.com/gaborage/go-relay/logger"
	"github.com/gaborage/go-relay/messaging"
)

// ReplyPublisher is the slice of the messaging client the handler needs to
// emit reply values. Satisfied by messaging.AMQPClient.
type ReplyPublisher interface {
	PublishToExchange(ctx context.Context, options messaging.PublishOptions, data []byte) error
}

// Handler consumes pipeline deliveries, processes them, and publishes the
// reply value to the configured output. It implements
// messaging.MessageHandler; a processing failure nacks the delivery.
type Handler struct {
	processor *Processor
	publisher ReplyPublisher
	output    config.OutputConfig
	log       logger.Logger
}

// NewHandler creates a message handler for the given processor and output.
func NewHandler(p *Processor, publisher ReplyPublisher, output config.OutputConfig, log logger.Logger) *Handler {
	return &Handler{
		processor: p,
		publisher: publisher,
		output:    output,
		log:       log,
	}
}

// EventType returns the event type this handler processes.
func (h *Handler) EventType() string {
	return h.output.EventType
}

// Handle processes one delivery end to end. The returned error causes the
// registry to nack the delivery without requeue.
func (h *Handler) Handle(ctx context.Context, delivery *amqp.Delivery) error {
	msg := NewMessage(delivery.Body, delivery.Headers)

	reply, err := h.processor.Process(ctx, msg)
	if err != nil {
		return fmt.Errorf("process message %s: %w", delivery.MessageId, err)
	}

	data, err := EncodeReply(reply)
	if err != nil {
		return fmt.Errorf("encode reply for message %s: %w", delivery.MessageId, err)
	}

	options := messaging.PublishOptions{
		Exchange:   h.output.Exchange,
		RoutingKey: h.output.RoutingKey,
	}
	if h.output.EventType != "" {
		options.Headers = map[string]any{"event_type": h.output.EventType}
	}

	if err := h.publisher.PublishToExchange(ctx, options, data); err != nil {
		return fmt.Errorf("publish reply for message %s: %w", delivery.MessageId, err)
	}

	h.log.Debug().
		Str("message_id", delivery.MessageId).
		Str("exchange", h.output.Exchange).
		Str("routing_key", h.output.RoutingKey).
		Int("reply_size", len(data)).
		Msg("Reply published")

	return nil
}

// EncodeReply serializes a reply value for publication. Textual and binary
// values pass through; everything else is JSON-marshaled.
func EncodeReply(reply any) ([]byte, error) {
	switch v := reply.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case int:
		return []byte(strconv.Itoa(v)), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal reply %T: %w", reply, err)
		}
		return data, nil
	}
}
