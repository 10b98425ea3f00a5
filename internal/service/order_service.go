package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/marketplace-api/internal/lifecycle"
	"github.com/vaidashi/marketplace-api/internal/models"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
	"github.com/vaidashi/marketplace-api/pkg/logger"
	"github.com/vaidashi/marketplace-api/pkg/metrics"
)

// OrderStore is the persistence the pickup workflow needs
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetItems(ctx context.Context, orderID string) ([]*models.OrderItem, error)
	HasVendorItem(ctx context.Context, orderID, vendorID string) (bool, error)
	ApplyChange(ctx context.Context, change *models.OrderChange, event *models.OutboxMessage) error
}

// OrderService runs the pickup handoff: drop-off, mark ready and pickup
type OrderService struct {
	orders  OrderStore
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewOrderService creates a new OrderService
func NewOrderService(orders OrderStore, logger logger.Logger, metrics *metrics.Metrics) *OrderService {
	return &OrderService{
		orders:  orders,
		logger:  logger,
		metrics: metrics,
		now:     models.GetCurrentTime,
	}
}

// GetOrder returns an order the caller is a party to
func (s *OrderService) GetOrder(ctx context.Context, actor *models.Principal, orderID string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "Order not found")
	}

	switch actor.Role {
	case models.RoleAdmin:
		return order, nil
	case models.RoleCustomer:
		if actor.CustomerID != nil && *actor.CustomerID == order.CustomerID {
			return order, nil
		}
	case models.RoleAgent:
		if actor.AgentID != nil && order.AgentID != nil && *actor.AgentID == *order.AgentID {
			return order, nil
		}
	case models.RoleVendor:
		if err := s.checkVendor(ctx, actor, order); err == nil {
			return order, nil
		} else if !errors.Is(err, apperrors.ErrForbidden) {
			return nil, err
		}
	}

	return nil, apperrors.NewForbiddenError("You do not have access to this order")
}

// AcceptDropoff records that goods were handed into agent custody. A repeated
// drop-off on an already dropped off order returns it unchanged.
func (s *OrderService) AcceptDropoff(ctx context.Context, actor *models.Principal, orderID, code string) (*models.Order, error) {
	return s.transition(ctx, lifecycle.ActionAcceptDropoff, actor, orderID, func(order *models.Order) error {
		if !lifecycle.CodesMatch(order.DropoffCode, code) {
			return apperrors.NewInvalidCodeError("Invalid drop-off code")
		}
		return nil
	})
}

// MarkReady makes a dropped off order available for customer pickup
func (s *OrderService) MarkReady(ctx context.Context, actor *models.Principal, orderID string) (*models.Order, error) {
	return s.transition(ctx, lifecycle.ActionMarkReady, actor, orderID, nil)
}

// VerifyPickup checks the customer's pickup code and completes the order
func (s *OrderService) VerifyPickup(ctx context.Context, actor *models.Principal, orderID, code string) (*models.Order, error) {
	if actor.Role != models.RoleAgent {
		return nil, apperrors.NewForbiddenError("Only agents can verify pickups")
	}

	return s.transition(ctx, lifecycle.ActionVerifyPickup, actor, orderID, func(order *models.Order) error {
		if !lifecycle.CodesMatch(order.PickupCode, code) {
			return apperrors.NewInvalidCodeError("Invalid pickup code")
		}
		return nil
	})
}

// transition loads the order, checks ownership and the code, looks the step
// up in the lifecycle table and writes it with its outbox event
func (s *OrderService) transition(
	ctx context.Context,
	action lifecycle.Action,
	actor *models.Principal,
	orderID string,
	checkCode func(order *models.Order) error,
) (order *models.Order, err error) {
	defer func() {
		s.metrics.ObserveTransition(string(action), outcome(err))
	}()

	order, err = s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "Order not found")
	}

	claimAgent, err := s.authorize(ctx, action, actor, order)
	if err != nil {
		return nil, err
	}

	if checkCode != nil {
		if err := checkCode(order); err != nil {
			s.logger.Warn("Handoff code rejected", "orderID", order.ID, "action", action, "userID", actor.UserID)
			return nil, err
		}
	}

	t, err := lifecycle.Next(action, order.Status, order.PickupStatus)
	if err != nil {
		return nil, apperrors.NewNotEligibleError(
			fmt.Sprintf("Order is %s with pickup %s and cannot be changed by %s", order.Status, order.PickupStatus, action))
	}

	if t.NoOp {
		if claimAgent {
			return s.takeCustody(ctx, actor, order)
		}
		s.logger.Info("Lifecycle action already applied", "orderID", order.ID, "action", action)
		return order, nil
	}

	now := s.now()
	change := &models.OrderChange{
		OrderID:          order.ID,
		FromStatus:       t.From.Status,
		FromPickupStatus: t.From.Pickup,
		ToStatus:         t.To.Status,
		ToPickupStatus:   t.To.Pickup,
		UpdatedAt:        now,
	}
	if claimAgent {
		change.AgentID = actor.AgentID
	}
	if t.StampPickup {
		change.ActualPickupDate = &now
	}

	updated := *order
	change.Apply(&updated)

	event, err := models.NewOrderLifecycleEvent(t.Event, &updated, now)
	if err != nil {
		s.logger.Error("Failed to build lifecycle event", "error", err, "orderID", order.ID)
		return nil, apperrors.NewInternalError("Failed to record order event")
	}

	if err := s.orders.ApplyChange(ctx, change, event); err != nil {
		return nil, storeError(err, "Order not found")
	}

	s.logger.Info("Order transitioned",
		"orderID", order.ID,
		"action", action,
		"from", t.From,
		"to", t.To,
		"userID", actor.UserID)

	return &updated, nil
}

// takeCustody records an agent on an order a vendor already dropped off. The
// statuses stay as they are and no event is written.
func (s *OrderService) takeCustody(ctx context.Context, actor *models.Principal, order *models.Order) (*models.Order, error) {
	change := &models.OrderChange{
		OrderID:          order.ID,
		FromStatus:       order.Status,
		FromPickupStatus: order.PickupStatus,
		ToStatus:         order.Status,
		ToPickupStatus:   order.PickupStatus,
		AgentID:          actor.AgentID,
		UpdatedAt:        s.now(),
	}

	if err := s.orders.ApplyChange(ctx, change, nil); err != nil {
		return nil, storeError(err, "Order not found")
	}

	updated := *order
	change.Apply(&updated)

	s.logger.Info("Agent took custody of order", "orderID", order.ID, "agentID", *actor.AgentID)
	return &updated, nil
}

// authorize checks that actor may act on order. It reports whether an agent
// caller should be recorded as the order's agent, which only a drop-off
// confirmation can do.
func (s *OrderService) authorize(ctx context.Context, action lifecycle.Action, actor *models.Principal, order *models.Order) (bool, error) {
	switch actor.Role {
	case models.RoleVendor:
		return false, s.checkVendor(ctx, actor, order)
	case models.RoleAgent:
		if actor.AgentID == nil {
			return false, apperrors.NewForbiddenError("Agent profile not found")
		}
		if order.AgentID == nil {
			if action != lifecycle.ActionAcceptDropoff {
				return false, apperrors.NewForbiddenError("Order has no assigned agent; confirm the drop-off first")
			}
			return true, nil
		}
		if *order.AgentID != *actor.AgentID {
			return false, apperrors.NewForbiddenError("Order is assigned to another agent")
		}
		return false, nil
	default:
		return false, apperrors.NewForbiddenError("Only vendors and agents can hand off orders")
	}
}

func (s *OrderService) checkVendor(ctx context.Context, actor *models.Principal, order *models.Order) error {
	if actor.VendorID == nil {
		return apperrors.NewForbiddenError("Vendor profile not found")
	}

	owns, err := s.orders.HasVendorItem(ctx, order.ID, *actor.VendorID)
	if err != nil {
		return storeError(err, "Order not found")
	}
	if !owns {
		return apperrors.NewForbiddenError("Order does not contain your items")
	}

	return nil
}
