package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/internal/repository"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// NotificationStore persists notifications idempotently per (event, user)
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) (bool, error)
}

// RecipientResolver maps domain parties to user accounts
type RecipientResolver interface {
	CustomerUserID(ctx context.Context, customerID string) (string, error)
	VendorUserID(ctx context.Context, vendorID string) (string, error)
	OrderVendorUserIDs(ctx context.Context, orderID string) ([]string, error)
}

// NotificationService turns lifecycle events into in-app notifications. It
// runs behind the outbox or the Kafka consumer, so it must tolerate
// redelivery of the same event.
type NotificationService struct {
	notifications NotificationStore
	recipients    RecipientResolver
	logger        logger.Logger
	now           func() time.Time
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifications NotificationStore, recipients RecipientResolver, logger logger.Logger) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		recipients:    recipients,
		logger:        logger,
		now:           models.GetCurrentTime,
	}
}

type notice struct {
	userID  string
	title   string
	message string
	orderID *string
}

// HandleMessage delivers an outbox message in-process
func (s *NotificationService) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, err := models.DecodeEvent(message.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode outbox payload: %w", err)
	}
	return s.HandleEvent(ctx, event)
}

// HandleEvent writes one notification per recipient of event. Missing
// recipients are skipped; store failures are returned so the event is retried.
func (s *NotificationService) HandleEvent(ctx context.Context, event *models.OutboxMessageEvent) error {
	notices, err := s.notices(ctx, event)
	if err != nil {
		return err
	}

	created := 0
	for _, n := range notices {
		row := models.NewNotification(n.userID, event.EventID, event.EventType, n.title, n.message, n.orderID, s.now())

		inserted, err := s.notifications.Create(ctx, row)
		if err != nil {
			return fmt.Errorf("failed to store notification for %s: %w", n.userID, err)
		}
		if inserted {
			created++
		}
	}

	s.logger.Info("Notifications delivered",
		"eventID", event.EventID,
		"eventType", event.EventType,
		"aggregateID", event.AggregateID,
		"recipients", len(notices),
		"created", created)

	return nil
}

func (s *NotificationService) notices(ctx context.Context, event *models.OutboxMessageEvent) ([]notice, error) {
	switch event.EventType {
	case models.EventOrderDroppedOff, models.EventOrderReadyForPickup, models.EventOrderPickedUp:
		var data models.OrderEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event.EventType, err)
		}
		return s.orderNotices(ctx, event.EventType, &data)

	case models.EventRefundApproved, models.EventRefundRejected:
		var data models.RefundDecisionData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event.EventType, err)
		}
		return s.refundNotices(ctx, event.EventType, &data)

	case models.EventCouponRedeemed:
		return nil, nil

	default:
		s.logger.Warn("No notifications for event type", "eventType", event.EventType, "eventID", event.EventID)
		return nil, nil
	}
}

func (s *NotificationService) orderNotices(ctx context.Context, eventType string, data *models.OrderEventData) ([]notice, error) {
	orderID := data.OrderID

	customer, err := s.resolve(ctx, "customer", data.CustomerID, s.recipients.CustomerUserID)
	if err != nil {
		return nil, err
	}

	var notices []notice
	add := func(userID, title, message string) {
		if userID != "" {
			notices = append(notices, notice{userID: userID, title: title, message: message, orderID: &orderID})
		}
	}

	switch eventType {
	case models.EventOrderDroppedOff:
		add(customer, "Order dropped off",
			fmt.Sprintf("Your order %s has been dropped off with a pickup agent.", orderID))

	case models.EventOrderReadyForPickup:
		add(customer, "Order ready for pickup",
			fmt.Sprintf("Your order %s is ready for pickup. Bring your pickup code.", orderID))

	case models.EventOrderPickedUp:
		add(customer, "Order picked up",
			fmt.Sprintf("Your order %s has been picked up. Enjoy!", orderID))

		vendors, err := s.recipients.OrderVendorUserIDs(ctx, orderID)
		if err != nil {
			return nil, err
		}
		for _, v := range vendors {
			add(v, "Order delivered",
				fmt.Sprintf("Order %s was picked up by the customer.", orderID))
		}
	}

	return notices, nil
}

func (s *NotificationService) refundNotices(ctx context.Context, eventType string, data *models.RefundDecisionData) ([]notice, error) {
	orderID := data.OrderID
	amount := data.RefundAmount.StringFixed(2)

	customer, err := s.resolve(ctx, "customer", data.CustomerID, s.recipients.CustomerUserID)
	if err != nil {
		return nil, err
	}
	vendor, err := s.resolve(ctx, "vendor", data.VendorID, s.recipients.VendorUserID)
	if err != nil {
		return nil, err
	}

	var notices []notice
	add := func(userID, title, message string) {
		if userID != "" {
			notices = append(notices, notice{userID: userID, title: title, message: message, orderID: &orderID})
		}
	}

	if eventType == models.EventRefundApproved {
		add(customer, "Refund approved", fmt.Sprintf("Your refund of %s for order %s was approved.", amount, orderID))
		add(vendor, "Payout hold placed", fmt.Sprintf("A refund of %s on order %s was approved and is held from your payout.", amount, orderID))
	} else {
		add(customer, "Refund rejected", fmt.Sprintf("Your refund request for order %s was rejected.", orderID))
		add(vendor, "Refund rejected", fmt.Sprintf("The refund request on order %s was rejected.", orderID))
	}

	return notices, nil
}

// resolve looks up a recipient. A missing party yields "" so the rest of
// the event is still delivered.
func (s *NotificationService) resolve(ctx context.Context, kind, id string, lookup func(context.Context, string) (string, error)) (string, error) {
	if id == "" {
		return "", nil
	}

	userID, err := lookup(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Notification recipient not found", "kind", kind, "id", id)
			return "", nil
		}
		return "", err
	}

	return userID, nil
}
