package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/internal/repository"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// DeadLetterStore is the persistence the dead letter admin endpoints need
type DeadLetterStore interface {
	List(ctx context.Context, status models.DeadLetterStatus, limit, offset int) ([]*models.DeadLetterMessage, error)
	Count(ctx context.Context, status models.DeadLetterStatus) (int, error)
	Requeue(ctx context.Context, id int64) (*models.OutboxMessage, error)
	MarkAsDiscarded(ctx context.Context, id int64, reason string) error
}

// DeadLetterPage is one page of dead letter messages
type DeadLetterPage struct {
	Items      []*models.DeadLetterMessage `json:"items"`
	TotalCount int                         `json:"total_count"`
	Page       int                         `json:"page"`
	PageSize   int                         `json:"page_size"`
	Status     string                      `json:"status,omitempty"`
}

// DeadLetterService lets admins inspect, requeue and discard failed events
type DeadLetterService struct {
	store  DeadLetterStore
	logger logger.Logger
}

// NewDeadLetterService creates a new DeadLetterService
func NewDeadLetterService(store DeadLetterStore, logger logger.Logger) *DeadLetterService {
	return &DeadLetterService{store: store, logger: logger}
}

func parseDeadLetterStatus(status string) (models.DeadLetterStatus, bool) {
	st := models.DeadLetterStatus(strings.ToLower(strings.TrimSpace(status)))
	switch st {
	case "", models.DeadLetterStatusPending, models.DeadLetterStatusRetrying,
		models.DeadLetterStatusResolved, models.DeadLetterStatusDiscarded:
		return st, true
	}
	return "", false
}

// List returns one page of messages, optionally filtered by status
func (s *DeadLetterService) List(ctx context.Context, status string, page, pageSize int) (*DeadLetterPage, error) {
	st, ok := parseDeadLetterStatus(status)
	if !ok {
		return nil, apperrors.NewInvalidInputError("Unknown dead letter status")
	}

	items, err := s.store.List(ctx, st, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, storeError(err, "Dead letter message not found")
	}

	total, err := s.store.Count(ctx, st)
	if err != nil {
		return nil, storeError(err, "Dead letter message not found")
	}

	return &DeadLetterPage{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		Status:     string(st),
	}, nil
}

// Retry puts a pending or discarded message back on the outbox
func (s *DeadLetterService) Retry(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	msg, err := s.store.Requeue(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, apperrors.NewConflictError("Only pending or discarded messages can be retried")
		}
		return nil, storeError(err, "Dead letter message not found")
	}

	s.logger.Info("Dead letter message requeued", "messageID", id, "outboxID", msg.ID, "eventType", msg.EventType)
	return msg, nil
}

// Discard permanently drops a message
func (s *DeadLetterService) Discard(ctx context.Context, id int64, reason string) error {
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "No reason provided"
	}

	if err := s.store.MarkAsDiscarded(ctx, id, reason); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return apperrors.NewConflictError("Message is already resolved or discarded")
		}
		return storeError(err, "Dead letter message not found")
	}

	s.logger.Info("Dead letter message discarded", "messageID", id, "reason", reason)
	return nil
}
