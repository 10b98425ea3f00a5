// Package pricing evaluates coupons against a cart
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/marketplace-api/internal/models"
)

// Reason explains why a coupon was rejected. The values are part of the API.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonBelowMinPurchase  Reason = "below_min_purchase"
	ReasonAlreadyRedeemed   Reason = "already_redeemed"
	ReasonNotApplicable     Reason = "not_applicable"
)

var hundred = decimal.NewFromInt(100)

// Cart is what a coupon is checked against. A nil Subtotal skips the
// minimum purchase check and the discount. Empty VendorIDs or ProductIDs
// skip the matching scope check.
type Cart struct {
	Subtotal   *decimal.Decimal
	UserID     string
	VendorIDs  []string
	ProductIDs []string
}

// Check applies every rule that needs only the coupon and the cart, in the
// order callers report them.
func Check(c *models.Coupon, cart Cart, now time.Time) Reason {
	if !c.IsActive {
		return ReasonInactive
	}

	if c.ExpiryDate != nil && c.ExpiryDate.Before(now) {
		return ReasonExpired
	}

	if c.Exhausted() {
		return ReasonUsageLimitReached
	}

	if cart.Subtotal != nil && c.MinPurchaseAmount.Valid && cart.Subtotal.LessThan(c.MinPurchaseAmount.Decimal) {
		return ReasonBelowMinPurchase
	}

	if c.VendorID != nil && len(cart.VendorIDs) > 0 && !contains(cart.VendorIDs, *c.VendorID) {
		return ReasonNotApplicable
	}

	if c.ProductID != nil && len(cart.ProductIDs) > 0 && !contains(cart.ProductIDs, *c.ProductID) {
		return ReasonNotApplicable
	}

	return ReasonNone
}

// Discount computes the amount a coupon takes off subtotal. The result is
// rounded to cents and always within [0, subtotal].
func Discount(c *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || !c.DiscountValue.IsPositive() {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch c.DiscountType {
	case models.DiscountTypePercentage:
		d = subtotal.Mul(c.DiscountValue).Div(hundred).Round(2)
	case models.DiscountTypeFixedAmount:
		d = c.DiscountValue
	default:
		return decimal.Zero
	}

	return decimal.Min(d, subtotal)
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
