package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// UserRepository resolves callers and notification recipients
type UserRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.Database, logger logger.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// GetPrincipal loads the user's role and its vendor, agent or customer row
func (r *UserRepository) GetPrincipal(ctx context.Context, userID string) (*models.Principal, error) {
	query := `
		SELECT u.id AS user_id, u.role, v.id AS vendor_id, a.id AS agent_id, c.id AS customer_id
		FROM users u
		LEFT JOIN vendors v ON v.user_id = u.id
		LEFT JOIN agents a ON a.user_id = u.id
		LEFT JOIN customers c ON c.user_id = u.id
		WHERE u.id = $1
	`

	var principal models.Principal
	err := r.db.DB.GetContext(ctx, &principal, query, userID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to load principal", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &principal, nil
}

// CustomerUserID maps a customer to its user account
func (r *UserRepository) CustomerUserID(ctx context.Context, customerID string) (string, error) {
	return r.userIDFor(ctx, `SELECT user_id FROM customers WHERE id = $1`, customerID)
}

// VendorUserID maps a vendor to its user account
func (r *UserRepository) VendorUserID(ctx context.Context, vendorID string) (string, error) {
	return r.userIDFor(ctx, `SELECT user_id FROM vendors WHERE id = $1`, vendorID)
}

// OrderVendorUserIDs returns the user accounts of every vendor with an item in the order
func (r *UserRepository) OrderVendorUserIDs(ctx context.Context, orderID string) ([]string, error) {
	query := `
		SELECT DISTINCT v.user_id
		FROM order_items oi
		JOIN vendors v ON v.id = oi.vendor_id
		WHERE oi.order_id = $1
		ORDER BY v.user_id
	`

	userIDs := []string{}
	if err := r.db.DB.SelectContext(ctx, &userIDs, query, orderID); err != nil {
		r.logger.Error("Failed to load order vendors", "error", err, "orderID", orderID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return userIDs, nil
}

func (r *UserRepository) userIDFor(ctx context.Context, query, id string) (string, error) {
	var userID string
	err := r.db.DB.GetContext(ctx, &userID, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		r.logger.Error("Failed to resolve user", "error", err, "id", id)
		return "", fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return userID, nil
}
