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

const refundColumns = `id, order_id, order_item_id, vendor_id, customer_id, refund_amount, reason,
	status, admin_notes, reviewed_by, reviewed_at, created_at, updated_at`

const holdColumns = `id, vendor_id, hold_amount, status, refund_request_ids, created_at, updated_at`

// RefundRepository handles refund requests and the vendor payout holds they drive
type RefundRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewRefundRepository creates a new RefundRepository
func NewRefundRepository(db *database.Database, logger logger.Logger) *RefundRepository {
	return &RefundRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a refund request
func (r *RefundRepository) GetByID(ctx context.Context, id string) (*models.RefundRequest, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1`

	var refund models.RefundRequest
	err := r.db.DB.GetContext(ctx, &refund, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get refund request", "error", err, "refundID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &refund, nil
}

// ApplyDecision records an admin override in one transaction: the refund
// status is compare-and-set against decision.FromStatus, the vendor's active
// hold is adjusted with a single upsert or update, and an outbox event is
// written. The returned hold is nil when no hold changed.
func (r *RefundRepository) ApplyDecision(ctx context.Context, decision *models.RefundDecision) (*models.RefundRequest, *models.PayoutHold, error) {
	updateRefund := `
		UPDATE refund_requests
		SET status = $1, admin_notes = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
		RETURNING ` + refundColumns

	var (
		refund models.RefundRequest
		hold   *models.PayoutHold
	)

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &refund, updateRefund,
			decision.ToStatus,
			decision.AdminNotes,
			decision.ReviewedBy,
			decision.ReviewedAt,
			decision.RefundID,
			decision.FromStatus,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStaleState
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		switch {
		case decision.ToStatus == models.RefundStatusApproved:
			hold, err = addToHold(ctx, tx, &refund, decision.ReviewedAt)
		case decision.FromStatus == models.RefundStatusApproved:
			hold, err = releaseFromHold(ctx, tx, &refund, decision.ReviewedAt)
		}
		if err != nil {
			return err
		}

		event, err := models.NewRefundDecisionEvent(&refund, decision.ReviewedAt)
		if err != nil {
			return fmt.Errorf("failed to build refund event: %w", err)
		}

		return insertOutboxMessage(ctx, tx, event)
	})

	if err != nil {
		if !errors.Is(err, ErrStaleState) {
			r.logger.Error("Failed to apply refund decision", "error", err, "refundID", decision.RefundID)
		}
		return nil, nil, err
	}

	return &refund, hold, nil
}

// addToHold upserts the vendor's active hold. The partial unique index on
// (vendor_id) WHERE status = 'ACTIVE' makes this one atomic statement.
func addToHold(ctx context.Context, tx *sqlx.Tx, refund *models.RefundRequest, now time.Time) (*models.PayoutHold, error) {
	query := `
		INSERT INTO payout_holds (id, vendor_id, hold_amount, status, refund_request_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, ARRAY[$5::text], $6, $6)
		ON CONFLICT (vendor_id) WHERE status = 'ACTIVE'
		DO UPDATE SET
			hold_amount = payout_holds.hold_amount + EXCLUDED.hold_amount,
			refund_request_ids = array_append(payout_holds.refund_request_ids, $5::text),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + holdColumns

	var hold models.PayoutHold

	err := tx.GetContext(ctx, &hold, query,
		models.GenerateID("hold"),
		refund.VendorID,
		refund.RefundAmount,
		models.PayoutHoldStatusActive,
		refund.ID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to upsert payout hold: %v", ErrDatabase, err)
	}

	return &hold, nil
}

// releaseFromHold takes a previously approved refund back out of the vendor's
// active hold. A hold that drops to zero is released.
func releaseFromHold(ctx context.Context, tx *sqlx.Tx, refund *models.RefundRequest, now time.Time) (*models.PayoutHold, error) {
	query := `
		UPDATE payout_holds
		SET hold_amount = GREATEST(hold_amount - $1, 0),
			refund_request_ids = array_remove(refund_request_ids, $2::text),
			status = CASE WHEN hold_amount - $1 <= 0 THEN $3 ELSE status END,
			updated_at = $4
		WHERE vendor_id = $5 AND status = $6 AND $2::text = ANY(refund_request_ids)
		RETURNING ` + holdColumns

	var hold models.PayoutHold

	err := tx.GetContext(ctx, &hold, query,
		refund.RefundAmount,
		refund.ID,
		models.PayoutHoldStatusReleased,
		now,
		refund.VendorID,
		models.PayoutHoldStatusActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to release payout hold: %v", ErrDatabase, err)
	}

	return &hold, nil
}

// ListHolds returns payout holds, newest first. An empty vendorID lists every vendor.
func (r *RefundRepository) ListHolds(ctx context.Context, vendorID string) ([]*models.PayoutHold, error) {
	query := `
		SELECT ` + holdColumns + `
		FROM payout_holds
		WHERE ($1 = '' OR vendor_id = $1)
		ORDER BY created_at DESC
	`

	holds := []*models.PayoutHold{}
	if err := r.db.DB.SelectContext(ctx, &holds, query, vendorID); err != nil {
		r.logger.Error("Failed to list payout holds", "error", err, "vendorID", vendorID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return holds, nil
}
