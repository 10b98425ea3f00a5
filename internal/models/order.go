package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the business fulfillment state of an order
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusDroppedOff     OrderStatus = "DROPPED_OFF"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// PickupStatus is the physical handoff state of an order
type PickupStatus string

const (
	PickupStatusPending        PickupStatus = "PENDING"
	PickupStatusReadyForPickup PickupStatus = "READY_FOR_PICKUP"
	PickupStatusPickedUp       PickupStatus = "PICKED_UP"
)

// Order represents a purchase and its pickup handoff state.
// Codes are never serialized back to callers.
type Order struct {
	ID               string          `db:"id" json:"id"`
	CustomerID       string          `db:"customer_id" json:"customer_id"`
	AgentID          *string         `db:"agent_id" json:"agent_id,omitempty"`
	Status           OrderStatus     `db:"status" json:"status"`
	PickupStatus     PickupStatus    `db:"pickup_status" json:"pickup_status"`
	PaymentStatus    string          `db:"payment_status" json:"payment_status"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	DropoffCode      string          `db:"dropoff_code" json:"-"`
	PickupCode       string          `db:"pickup_code" json:"-"`
	ActualPickupDate *time.Time      `db:"actual_pickup_date" json:"actual_pickup_date,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is one line of an order. Vendors are linked to orders through their items.
type OrderItem struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	VendorID  string          `db:"vendor_id" json:"vendor_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// OrderChange is the write produced by a lifecycle transition. The repository
// applies it only if the row still holds FromStatus/FromPickupStatus.
type OrderChange struct {
	OrderID          string
	FromStatus       OrderStatus
	FromPickupStatus PickupStatus
	ToStatus         OrderStatus
	ToPickupStatus   PickupStatus
	AgentID          *string
	ActualPickupDate *time.Time
	UpdatedAt        time.Time
}

// Apply copies the change onto order
func (c *OrderChange) Apply(order *Order) {
	order.Status = c.ToStatus
	order.PickupStatus = c.ToPickupStatus
	if c.AgentID != nil {
		order.AgentID = c.AgentID
	}
	if c.ActualPickupDate != nil {
		order.ActualPickupDate = c.ActualPickupDate
	}
	order.UpdatedAt = c.UpdatedAt
}
