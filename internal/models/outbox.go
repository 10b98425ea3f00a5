package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Aggregate types written to the outbox
const (
	AggregateOrder  = "order"
	AggregateCoupon = "coupon"
	AggregateRefund = "refund"
)

// Event types written to the outbox
const (
	EventOrderDroppedOff     = "order_dropped_off"
	EventOrderReadyForPickup = "order_ready_for_pickup"
	EventOrderPickedUp       = "order_picked_up"
	EventCouponRedeemed      = "coupon_redeemed"
	EventRefundApproved      = "refund_approved"
	EventRefundRejected      = "refund_rejected"
)

// EventTypes lists every event type the service emits
var EventTypes = []string{
	EventOrderDroppedOff,
	EventOrderReadyForPickup,
	EventOrderPickedUp,
	EventCouponRedeemed,
	EventRefundApproved,
	EventRefundRejected,
}

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope stored in the payload column and
// published to Kafka
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// DecodeEvent unmarshals the envelope of an outbox payload
func DecodeEvent(payload []byte) (*OutboxMessageEvent, error) {
	var event OutboxMessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// OrderEventData is carried by the order lifecycle events
type OrderEventData struct {
	OrderID          string       `json:"order_id"`
	CustomerID       string       `json:"customer_id"`
	AgentID          *string      `json:"agent_id,omitempty"`
	Status           OrderStatus  `json:"status"`
	PickupStatus     PickupStatus `json:"pickup_status"`
	ActualPickupDate *time.Time   `json:"actual_pickup_date,omitempty"`
}

// CouponRedeemedData is carried by coupon_redeemed
type CouponRedeemedData struct {
	CouponID   string `json:"coupon_id"`
	Code       string `json:"code"`
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	UsageCount int    `json:"usage_count"`
}

// RefundDecisionData is carried by refund_approved and refund_rejected
type RefundDecisionData struct {
	RefundID     string          `json:"refund_id"`
	OrderID      string          `json:"order_id"`
	VendorID     string          `json:"vendor_id"`
	CustomerID   string          `json:"customer_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Status       RefundStatus    `json:"status"`
}

func newOutboxMessage(aggregateType, aggregateID, eventType string, data interface{}, now time.Time) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: aggregateID,
		OccurredAt:  now.UTC(),
		Data:        raw,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		AggregateType:      aggregateType,
		AggregateID:        aggregateID,
		EventType:          eventType,
		Payload:            payload,
		CreatedAt:          now.UTC(),
		ProcessingAttempts: 0,
		Status:             OutboxStatusPending,
	}, nil
}

// NewOrderLifecycleEvent creates an outbox message for an order transition
func NewOrderLifecycleEvent(eventType string, order *Order, now time.Time) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateOrder, order.ID, eventType, OrderEventData{
		OrderID:          order.ID,
		CustomerID:       order.CustomerID,
		AgentID:          order.AgentID,
		Status:           order.Status,
		PickupStatus:     order.PickupStatus,
		ActualPickupDate: order.ActualPickupDate,
	}, now)
}

// NewCouponRedeemedEvent creates an outbox message for a redemption
func NewCouponRedeemedEvent(coupon *Coupon, redemption *CouponRedemption, now time.Time) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateCoupon, coupon.ID, EventCouponRedeemed, CouponRedeemedData{
		CouponID:   coupon.ID,
		Code:       coupon.Code,
		OrderID:    redemption.OrderID,
		UserID:     redemption.UserID,
		UsageCount: coupon.UsageCount,
	}, now)
}

// NewRefundDecisionEvent creates an outbox message for an admin override
func NewRefundDecisionEvent(refund *RefundRequest, now time.Time) (*OutboxMessage, error) {
	eventType := EventRefundRejected
	if refund.Status == RefundStatusApproved {
		eventType = EventRefundApproved
	}

	return newOutboxMessage(AggregateRefund, refund.ID, eventType, RefundDecisionData{
		RefundID:     refund.ID,
		OrderID:      refund.OrderID,
		VendorID:     refund.VendorID,
		CustomerID:   refund.CustomerID,
		RefundAmount: refund.RefundAmount,
		Status:       refund.Status,
	}, now)
}
