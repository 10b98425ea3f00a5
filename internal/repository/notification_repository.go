package repository

import (
	"context"
	"fmt"

	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// NotificationRepository stores in-app notifications
type NotificationRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *database.Database, logger logger.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts n unless a row for the same event and user exists. It
// reports whether a row was written.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (id, user_id, event_id, type, title, message, order_id, is_read, created_at)
		VALUES (:id, :user_id, :event_id, :type, :title, :message, :order_id, :is_read, :created_at)
		ON CONFLICT (event_id, user_id) DO NOTHING
	`

	result, err := r.db.DB.NamedExecContext(ctx, query, n)
	if err != nil {
		r.logger.Error("Failed to create notification", "error", err, "userID", n.UserID, "eventID", n.EventID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return rowsAffected > 0, nil
}
