package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

const couponColumns = `id, code, discount_type, discount_value, usage_limit, usage_count,
	min_purchase_amount, expiry_date, is_active, vendor_id, product_id, created_at, updated_at`

// CouponRepository handles database operations for coupons and redemptions
type CouponRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewCouponRepository creates a new CouponRepository
func NewCouponRepository(db *database.Database, logger logger.Logger) *CouponRepository {
	return &CouponRepository{
		db:     db,
		logger: logger,
	}
}

// GetByCode looks a coupon up case-insensitively
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE LOWER(code) = LOWER($1)`

	var coupon models.Coupon
	err := r.db.DB.GetContext(ctx, &coupon, query, code)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get coupon by code", "error", err, "code", code)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &coupon, nil
}

// HasRedeemed reports whether userID has redeemed the coupon on any order
func (r *CouponRepository) HasRedeemed(ctx context.Context, couponID, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.db.DB.GetContext(ctx, &exists, query, couponID, userID); err != nil {
		r.logger.Error("Failed to check coupon redemption", "error", err, "couponID", couponID, "userID", userID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return exists, nil
}

// Redeem increments usage_count with a single conditional update, records
// the redemption and writes a coupon_redeemed outbox event, all in one
// transaction. ErrUsageLimitReached is returned when the increment matches
// no row; ErrDuplicate when the coupon was already used on the order.
func (r *CouponRepository) Redeem(ctx context.Context, couponID string, redemption *models.CouponRedemption) (*models.Coupon, error) {
	increment := `
		UPDATE coupons
		SET usage_count = usage_count + 1, updated_at = $2
		WHERE id = $1 AND is_active AND (usage_limit IS NULL OR usage_count < usage_limit)
		RETURNING ` + couponColumns

	insert := `
		INSERT INTO coupon_redemptions (id, coupon_id, user_id, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	var coupon models.Coupon

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &coupon, increment, couponID, redemption.CreatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUsageLimitReached
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		_, err := tx.ExecContext(ctx, insert,
			redemption.ID,
			couponID,
			redemption.UserID,
			redemption.OrderID,
			redemption.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		event, err := models.NewCouponRedeemedEvent(&coupon, redemption, redemption.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to build coupon event: %w", err)
		}

		return insertOutboxMessage(ctx, tx, event)
	})

	if err != nil {
		if !errors.Is(err, ErrUsageLimitReached) && !errors.Is(err, ErrDuplicate) {
			r.logger.Error("Failed to redeem coupon", "error", err, "couponID", couponID, "orderID", redemption.OrderID)
		}
		return nil, err
	}

	return &coupon, nil
}
