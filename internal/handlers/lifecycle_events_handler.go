package handlers

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// EventHandler consumes a decoded lifecycle event
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.OutboxMessageEvent) error
}

// LifecycleEventsHandler feeds lifecycle events read from Kafka to the
// notification service
type LifecycleEventsHandler struct {
	next   EventHandler
	logger logger.Logger
}

// NewLifecycleEventsHandler creates a new LifecycleEventsHandler
func NewLifecycleEventsHandler(next EventHandler, logger logger.Logger) *LifecycleEventsHandler {
	return &LifecycleEventsHandler{
		next:   next,
		logger: logger,
	}
}

// HandleMessage decodes the record and hands it on. Undecodable records are
// logged and acknowledged since redelivery cannot fix them.
func (h *LifecycleEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, err := models.DecodeEvent(msg.Value)
	if err != nil || event.EventType == "" {
		h.logger.Error("Dropping undecodable lifecycle event",
			"error", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset)
		return nil
	}

	h.logger.Debug("Handling lifecycle event",
		"eventType", event.EventType,
		"eventID", event.EventID,
		"aggregateID", event.AggregateID,
		"occurredAt", event.OccurredAt)

	if err := h.next.HandleEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to handle %s event %s: %w", event.EventType, event.EventID, err)
	}

	return nil
}
