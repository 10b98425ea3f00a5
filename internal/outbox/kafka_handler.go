package outbox

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/circuitbreaker"
	"github.com/vaidashi/marketplace-api/pkg/kafka"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// Publisher sends a record to the broker
type Publisher interface {
	Send(ctx context.Context, msg kafka.Message) error
}

// KafkaHandler publishes outbox messages to the lifecycle topic
type KafkaHandler struct {
	producer Publisher
	breaker  *circuitbreaker.CircuitBreaker
	topic    string
	logger   logger.Logger
}

// NewKafkaHandler creates a new KafkaHandler. Publishing stops for a while
// once the breaker trips; the outbox keeps the messages meanwhile.
func NewKafkaHandler(producer Publisher, breaker *circuitbreaker.CircuitBreaker, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		breaker:  breaker,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage publishes the payload keyed by aggregate id so all events of
// one order land on the same partition in order
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	record := kafka.Message{
		Topic: h.topic,
		Key:   message.AggregateID,
		Value: message.Payload,
		Headers: map[string]string{
			"event_type":     message.EventType,
			"aggregate_type": message.AggregateType,
			"outbox_id":      strconv.FormatInt(message.ID, 10),
		},
	}

	err := h.breaker.Execute(func() error {
		return h.producer.Send(ctx, record)
	})

	if err != nil {
		h.logger.Warn("Failed to publish message to Kafka",
			"error", err,
			"topic", h.topic,
			"messageID", message.ID,
			"aggregateID", message.AggregateID,
			"breaker", h.breaker.GetState().String())
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
