package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// LoggingHandler records events nobody else consumes in-process, such as
// coupon redemptions when Kafka is disabled
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

// HandleMessage logs the event envelope
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, err := models.DecodeEvent(message.Payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal outbox message: %w", err)
	}

	h.logger.Info("Outbox event",
		"messageID", message.ID,
		"eventType", event.EventType,
		"aggregateID", event.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt,
		"data", string(event.Data))

	return nil
}
