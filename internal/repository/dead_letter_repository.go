package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

const deadLetterColumns = `id, original_message_id, aggregate_type, aggregate_id, event_type, payload,
	error_message, failure_reason, retry_count, last_retry_at, status, created_at, resolved_at`

// DeadLetterRepository handles database operations related to dead letter messages
type DeadLetterRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewDeadLetterRepository creates a new DeadLetterRepository
func NewDeadLetterRepository(db *database.Database, logger logger.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:     db,
		logger: logger,
	}
}

func insertDeadLetter(ctx context.Context, tx *sqlx.Tx, message *models.DeadLetterMessage) error {
	query := `
		INSERT INTO dead_letter_messages (
			original_message_id, aggregate_type, aggregate_id, event_type, payload,
			error_message, failure_reason, retry_count, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		) RETURNING id
	`

	var id int64

	err := tx.QueryRowContext(
		ctx,
		query,
		message.OriginalMessageID,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.ErrorMessage,
		message.FailureReason,
		message.RetryCount,
		message.Status,
		message.CreatedAt,
	).Scan(&id)

	if err != nil {
		return fmt.Errorf("%w: failed to create dead letter message: %v", ErrDatabase, err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages retrieves pending dead letter messages
func (r *DeadLetterRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	return r.List(ctx, models.DeadLetterStatusPending, limit, 0)
}

// List returns messages in status, oldest first. An empty status lists all.
func (r *DeadLetterRepository) List(ctx context.Context, status models.DeadLetterStatus, limit, offset int) ([]*models.DeadLetterMessage, error) {
	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letter_messages
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`

	messages := []*models.DeadLetterMessage{}

	if err := r.db.DB.SelectContext(ctx, &messages, query, string(status), limit, offset); err != nil {
		r.logger.Error("Failed to list dead letter messages", "error", err, "status", status)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// Count returns the number of messages in status. An empty status counts all.
func (r *DeadLetterRepository) Count(ctx context.Context, status models.DeadLetterStatus) (int, error) {
	query := `SELECT COUNT(*) FROM dead_letter_messages WHERE ($1 = '' OR status = $1)`

	var count int
	if err := r.db.DB.GetContext(ctx, &count, query, string(status)); err != nil {
		r.logger.Error("Failed to count dead letter messages", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return count, nil
}

// MarkAsRetrying claims a pending message for a retry. ErrStaleState means
// another worker or an admin got to it first.
func (r *DeadLetterRepository) MarkAsRetrying(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, retry_count = retry_count + 1, last_retry_at = $2
		WHERE id = $3 AND status = $4
	`

	return r.execStatusChange(ctx, id, "retrying", query,
		models.DeadLetterStatusRetrying, time.Now().UTC(), id, models.DeadLetterStatusPending)
}

// MarkAsResolved marks a message as resolved
func (r *DeadLetterRepository) MarkAsResolved(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, resolved_at = $2
		WHERE id = $3
	`

	return r.execStatusChange(ctx, id, "resolved", query, models.DeadLetterStatusResolved, time.Now().UTC(), id)
}

// MarkAsDiscarded marks a message as permanently discarded
func (r *DeadLetterRepository) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1,
			failure_reason = CONCAT(failure_reason, ' | Discarded: ', $2::text),
			resolved_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`

	return r.execStatusChange(ctx, id, "discarded", query,
		models.DeadLetterStatusDiscarded, reason, time.Now().UTC(), id,
		models.DeadLetterStatusPending, models.DeadLetterStatusRetrying)
}

// ResetToPending returns a retrying message to the pending queue
func (r *DeadLetterRepository) ResetToPending(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	return r.execStatusChange(ctx, id, "pending", query,
		models.DeadLetterStatusPending, id, models.DeadLetterStatusRetrying)
}

// Requeue copies a dead letter back into the outbox as a fresh pending
// message and resolves it, in one transaction. Only pending or discarded
// messages can be requeued.
func (r *DeadLetterRepository) Requeue(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	resolve := `
		UPDATE dead_letter_messages
		SET status = $1, resolved_at = $2
		WHERE id = $3 AND status IN ($4, $5)
		RETURNING ` + deadLetterColumns

	var outboxMsg *models.OutboxMessage

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var dlq models.DeadLetterMessage

		err := tx.GetContext(ctx, &dlq, resolve,
			models.DeadLetterStatusResolved, time.Now().UTC(), id,
			models.DeadLetterStatusPending, models.DeadLetterStatusDiscarded)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStaleState
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		outboxMsg = dlq.ToOutboxMessage()
		outboxMsg.CreatedAt = time.Now().UTC()
		return insertOutboxMessage(ctx, tx, outboxMsg)
	})

	if err != nil {
		if errors.Is(err, ErrStaleState) {
			if _, getErr := r.GetMessage(ctx, id); errors.Is(getErr, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, ErrStaleState
		}
		r.logger.Error("Failed to requeue dead letter message", "error", err, "messageID", id)
		return nil, err
	}

	return outboxMsg, nil
}

// GetMessage retrieves a message by ID
func (r *DeadLetterRepository) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages WHERE id = $1`

	var message models.DeadLetterMessage
	err := r.db.DB.GetContext(ctx, &message, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get dead letter message", "error", err, "messageID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &message, nil
}

// execStatusChange runs a guarded status update. Zero rows means the message
// is missing or was not in an allowed state; the two are told apart with a read.
func (r *DeadLetterRepository) execStatusChange(ctx context.Context, id int64, to, query string, args ...interface{}) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update dead letter message", "error", err, "messageID", id, "to", to)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected > 0 {
		return nil
	}

	if _, err := r.GetMessage(ctx, id); err != nil {
		return err
	}

	return ErrStaleState
}
