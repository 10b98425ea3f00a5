package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// RefundStatus is the review state of a refund request
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "PENDING"
	RefundStatusApproved RefundStatus = "APPROVED"
	RefundStatusRejected RefundStatus = "REJECTED"
)

// RefundAction is an admin override decision
type RefundAction string

const (
	RefundActionApprove RefundAction = "approve"
	RefundActionReject  RefundAction = "reject"
)

// TargetStatus is the refund status an action moves to
func (a RefundAction) TargetStatus() RefundStatus {
	if a == RefundActionApprove {
		return RefundStatusApproved
	}
	return RefundStatusRejected
}

// RefundRequest is a customer's request to refund an order or a single item
type RefundRequest struct {
	ID           string          `db:"id" json:"id"`
	OrderID      string          `db:"order_id" json:"order_id"`
	OrderItemID  *string         `db:"order_item_id" json:"order_item_id,omitempty"`
	VendorID     string          `db:"vendor_id" json:"vendor_id"`
	CustomerID   string          `db:"customer_id" json:"customer_id"`
	RefundAmount decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	Reason       string          `db:"reason" json:"reason"`
	Status       RefundStatus    `db:"status" json:"status"`
	AdminNotes   *string         `db:"admin_notes" json:"admin_notes,omitempty"`
	ReviewedBy   *string         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// PayoutHoldStatus is the state of a vendor payout hold
type PayoutHoldStatus string

const (
	PayoutHoldStatusActive   PayoutHoldStatus = "ACTIVE"
	PayoutHoldStatusReleased PayoutHoldStatus = "RELEASED"
)

// PayoutHold withholds part of a vendor's payout while approved refunds are
// outstanding. A vendor has at most one ACTIVE hold.
type PayoutHold struct {
	ID               string           `db:"id" json:"id"`
	VendorID         string           `db:"vendor_id" json:"vendor_id"`
	HoldAmount       decimal.Decimal  `db:"hold_amount" json:"hold_amount"`
	Status           PayoutHoldStatus `db:"status" json:"status"`
	RefundRequestIDs pq.StringArray   `db:"refund_request_ids" json:"refund_request_ids"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// RefundDecision is the write produced by an admin override
type RefundDecision struct {
	RefundID   string
	FromStatus RefundStatus
	ToStatus   RefundStatus
	AdminNotes *string
	ReviewedBy string
	ReviewedAt time.Time
}
