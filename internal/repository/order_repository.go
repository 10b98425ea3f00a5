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

const orderColumns = `id, customer_id, agent_id, status, pickup_status, payment_status, total_amount,
	dropoff_code, pickup_code, actual_pickup_date, created_at, updated_at`

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an order by its ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order models.Order
	err := r.db.DB.GetContext(ctx, &order, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &order, nil
}

// GetItems returns the lines of an order
func (r *OrderRepository) GetItems(ctx context.Context, orderID string) ([]*models.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, vendor_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	var items []*models.OrderItem
	if err := r.db.DB.SelectContext(ctx, &items, query, orderID); err != nil {
		r.logger.Error("Failed to get order items", "error", err, "orderID", orderID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return items, nil
}

// HasVendorItem reports whether vendorID sells at least one item in the order
func (r *OrderRepository) HasVendorItem(ctx context.Context, orderID, vendorID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM order_items WHERE order_id = $1 AND vendor_id = $2)`

	var exists bool
	if err := r.db.DB.GetContext(ctx, &exists, query, orderID, vendorID); err != nil {
		r.logger.Error("Failed to check vendor ownership", "error", err, "orderID", orderID, "vendorID", vendorID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return exists, nil
}

// ApplyChange writes a lifecycle transition and its outbox event in one
// transaction. The update only matches while the row still holds the state
// the caller read; otherwise ErrStaleState is returned and nothing is written.
func (r *OrderRepository) ApplyChange(ctx context.Context, change *models.OrderChange, event *models.OutboxMessage) error {
	query := `
		UPDATE orders
		SET status = $1,
			pickup_status = $2,
			agent_id = COALESCE(agent_id, $3),
			actual_pickup_date = COALESCE($4, actual_pickup_date),
			updated_at = $5
		WHERE id = $6 AND status = $7 AND pickup_status = $8
			AND ($3::varchar IS NULL OR agent_id IS NULL OR agent_id = $3)
	`

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(
			ctx,
			query,
			change.ToStatus,
			change.ToPickupStatus,
			change.AgentID,
			change.ActualPickupDate,
			change.UpdatedAt,
			change.OrderID,
			change.FromStatus,
			change.FromPickupStatus,
		)

		if err != nil {
			r.logger.Error("Failed to update order status", "error", err, "orderID", change.OrderID)
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		if rowsAffected == 0 {
			r.logger.Warn("Order changed concurrently",
				"orderID", change.OrderID,
				"expectedStatus", change.FromStatus,
				"expectedPickupStatus", change.FromPickupStatus)
			return ErrStaleState
		}

		if event == nil {
			return nil
		}

		return insertOutboxMessage(ctx, tx, event)
	})
}
