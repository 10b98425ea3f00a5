package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType selects how a coupon's value is applied
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

// Coupon is a discount code, optionally scoped to one vendor or product
type Coupon struct {
	ID                string              `db:"id" json:"id"`
	Code              string              `db:"code" json:"code"`
	DiscountType      DiscountType        `db:"discount_type" json:"discount_type"`
	DiscountValue     decimal.Decimal     `db:"discount_value" json:"discount_value"`
	UsageLimit        *int                `db:"usage_limit" json:"usage_limit,omitempty"`
	UsageCount        int                 `db:"usage_count" json:"usage_count"`
	MinPurchaseAmount decimal.NullDecimal `db:"min_purchase_amount" json:"min_purchase_amount"`
	ExpiryDate        *time.Time          `db:"expiry_date" json:"expiry_date,omitempty"`
	IsActive          bool                `db:"is_active" json:"is_active"`
	VendorID          *string             `db:"vendor_id" json:"vendor_id,omitempty"`
	ProductID         *string             `db:"product_id" json:"product_id,omitempty"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

// Exhausted reports whether the usage limit has been reached
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// CouponRedemption records one use of a coupon on an order
type CouponRedemption struct {
	ID        string    `db:"id" json:"id"`
	CouponID  string    `db:"coupon_id" json:"coupon_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	OrderID   string    `db:"order_id" json:"order_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewCouponRedemption creates a redemption row for coupon on orderID
func NewCouponRedemption(couponID, userID, orderID string, now time.Time) *CouponRedemption {
	return &CouponRedemption{
		ID:        GenerateID("red"),
		CouponID:  couponID,
		UserID:    userID,
		OrderID:   orderID,
		CreatedAt: now,
	}
}
