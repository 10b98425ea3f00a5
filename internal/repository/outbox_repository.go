package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload,
	created_at, processed_at, processing_attempts, last_error, status`

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// insertOutboxMessage writes message inside the caller's transaction
func insertOutboxMessage(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload,
			created_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) RETURNING id
	`

	var id int64

	err := tx.QueryRowContext(
		ctx,
		query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)

	if err != nil {
		return fmt.Errorf("%w: failed to create outbox message in transaction: %v", ErrDatabase, err)
	}

	message.ID = id
	return nil
}

// ClaimPending marks up to limit messages as processing, bumps their attempt
// counter and returns them. Pending rows are claimed, and so are processing
// rows whose claim is older than staleBefore, which a crashed or stopped
// processor left behind. SKIP LOCKED keeps concurrent processors from
// claiming the same rows.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int, staleBefore time.Time) ([]*models.OutboxMessage, error) {
	query := `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1, claimed_at = $2
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = $3
			   OR (status = $1 AND (claimed_at IS NULL OR claimed_at < $4))
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	var messages []*models.OutboxMessage

	err := r.db.DB.SelectContext(
		ctx,
		&messages,
		query,
		models.OutboxStatusProcessing,
		time.Now().UTC(),
		models.OutboxStatusPending,
		staleBefore,
		limit,
	)

	if err != nil {
		r.logger.Error("Failed to claim pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`

	_, err := r.db.DB.ExecContext(
		ctx,
		query,
		models.OutboxStatusCompleted,
		time.Now().UTC(),
		id,
	)

	if err != nil {
		r.logger.Error("Failed to mark outbox message as completed", "error", err, "messageID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// MarkForRetry puts a message back to pending with the last error recorded
func (r *OutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`

	_, err := r.db.DB.ExecContext(
		ctx,
		query,
		models.OutboxStatusPending,
		errorMessage,
		id,
	)

	if err != nil {
		r.logger.Error("Failed to mark outbox message for retry", "error", err, "messageID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// MoveToDeadLetter marks the message failed and copies it into the dead
// letter table in one transaction
func (r *OutboxRepository) MoveToDeadLetter(ctx context.Context, id int64, dlq *models.DeadLetterMessage) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query, models.OutboxStatusFailed, dlq.ErrorMessage, id); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		return insertDeadLetter(ctx, tx, dlq)
	})

	if err != nil {
		r.logger.Error("Failed to move outbox message to dead letter queue", "error", err, "messageID", id)
		return err
	}

	return nil
}
