package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/internal/pricing"
	"github.com/vaidashi/marketplace-api/internal/repository"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
	"github.com/vaidashi/marketplace-api/pkg/logger"
	"github.com/vaidashi/marketplace-api/pkg/metrics"
)

// CouponStore is the persistence coupon checks need
type CouponStore interface {
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	HasRedeemed(ctx context.Context, couponID, userID string) (bool, error)
	Redeem(ctx context.Context, couponID string, redemption *models.CouponRedemption) (*models.Coupon, error)
}

// Validation is the outcome of checking a coupon against a cart
type Validation struct {
	Valid    bool             `json:"valid"`
	Reason   pricing.Reason   `json:"reason,omitempty"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
	Coupon   *models.Coupon   `json:"-"`
}

// Redemption is returned after a coupon is applied to an order
type Redemption struct {
	Coupon   *models.Coupon  `json:"coupon"`
	OrderID  string          `json:"order_id"`
	Discount decimal.Decimal `json:"discount"`
}

// CouponService validates and redeems coupons
type CouponService struct {
	coupons CouponStore
	orders  OrderStore
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCouponService creates a new CouponService
func NewCouponService(coupons CouponStore, orders OrderStore, logger logger.Logger, metrics *metrics.Metrics) *CouponService {
	return &CouponService{
		coupons: coupons,
		orders:  orders,
		logger:  logger,
		metrics: metrics,
		now:     models.GetCurrentTime,
	}
}

// Validate checks code against cart. Rejections are reported in the result,
// not as errors; an error means the check itself failed.
func (s *CouponService) Validate(ctx context.Context, code string, cart pricing.Cart) (*Validation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewInvalidInputError("Coupon code is required")
	}

	v, err := s.validate(ctx, code, cart)
	if err != nil {
		return nil, err
	}

	label := string(v.Reason)
	if v.Valid {
		label = "valid"
	}
	s.metrics.ObserveCoupon(label)

	return v, nil
}

func (s *CouponService) validate(ctx context.Context, code string, cart pricing.Cart) (*Validation, error) {
	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Validation{Reason: pricing.ReasonNotFound}, nil
		}
		return nil, storeError(err, "Coupon not found")
	}

	if reason := pricing.Check(coupon, cart, s.now()); reason != pricing.ReasonNone {
		return &Validation{Reason: reason, Coupon: coupon}, nil
	}

	if cart.UserID != "" {
		redeemed, err := s.coupons.HasRedeemed(ctx, coupon.ID, cart.UserID)
		if err != nil {
			return nil, storeError(err, "Coupon not found")
		}
		if redeemed {
			return &Validation{Reason: pricing.ReasonAlreadyRedeemed, Coupon: coupon}, nil
		}
	}

	v := &Validation{Valid: true, Coupon: coupon}
	if cart.Subtotal != nil {
		d := pricing.Discount(coupon, *cart.Subtotal)
		v.Discount = &d
	}

	return v, nil
}

// Redeem applies code to one of the caller's orders. The usage counter is
// incremented atomically; a lost race on the last use is reported as
// usage_limit_reached.
func (s *CouponService) Redeem(ctx context.Context, actor *models.Principal, code, orderID string) (*Redemption, error) {
	if actor.Role != models.RoleCustomer || actor.CustomerID == nil {
		return nil, apperrors.NewForbiddenError("Only customers can redeem coupons")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "Order not found")
	}
	if order.CustomerID != *actor.CustomerID {
		return nil, apperrors.NewForbiddenError("Order does not belong to you")
	}

	cart, err := s.cartFor(ctx, order, actor.UserID)
	if err != nil {
		return nil, err
	}

	v, err := s.Validate(ctx, code, cart)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, apperrors.NewCouponRejectedError(string(v.Reason))
	}

	redemption := models.NewCouponRedemption(v.Coupon.ID, actor.UserID, order.ID, s.now())

	coupon, err := s.coupons.Redeem(ctx, v.Coupon.ID, redemption)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUsageLimitReached):
			s.metrics.ObserveCoupon(string(pricing.ReasonUsageLimitReached))
			return nil, apperrors.NewCouponRejectedError(string(pricing.ReasonUsageLimitReached))
		case errors.Is(err, repository.ErrDuplicate):
			return nil, apperrors.NewCouponRejectedError(string(pricing.ReasonAlreadyRedeemed))
		default:
			return nil, storeError(err, "Coupon not found")
		}
	}

	s.logger.Info("Coupon redeemed",
		"couponID", coupon.ID,
		"orderID", order.ID,
		"userID", actor.UserID,
		"usageCount", coupon.UsageCount)

	return &Redemption{Coupon: coupon, OrderID: order.ID, Discount: *v.Discount}, nil
}

// cartFor builds the cart of an existing order from its items
func (s *CouponService) cartFor(ctx context.Context, order *models.Order, userID string) (pricing.Cart, error) {
	items, err := s.orders.GetItems(ctx, order.ID)
	if err != nil {
		return pricing.Cart{}, storeError(err, "Order not found")
	}

	subtotal := decimal.Zero
	cart := pricing.Cart{UserID: userID}
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		cart.VendorIDs = append(cart.VendorIDs, item.VendorID)
		cart.ProductIDs = append(cart.ProductIDs, item.ProductID)
	}
	if len(items) == 0 {
		subtotal = order.TotalAmount
	}
	cart.Subtotal = &subtotal

	return cart, nil
}
