package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/internal/repository"
	"github.com/vaidashi/marketplace-api/pkg/logger"
	"github.com/vaidashi/marketplace-api/pkg/metrics"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

type mockOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	items  map[string][]*models.OrderItem
	events []*models.OutboxMessage
	// beforeApply runs inside ApplyChange before the compare-and-set, to
	// simulate a concurrent writer
	beforeApply func(order *models.Order)
}

func newMockOrderStore() *mockOrderStore {
	return &mockOrderStore{
		orders: make(map[string]*models.Order),
		items:  make(map[string][]*models.OrderItem),
	}
}

func (m *mockOrderStore) put(order *models.Order, items ...*models.OrderItem) {
	m.orders[order.ID] = order
	m.items[order.ID] = items
}

func (m *mockOrderStore) GetByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (m *mockOrderStore) GetItems(_ context.Context, orderID string) ([]*models.OrderItem, error) {
	return m.items[orderID], nil
}

func (m *mockOrderStore) HasVendorItem(_ context.Context, orderID, vendorID string) (bool, error) {
	for _, item := range m.items[orderID] {
		if item.VendorID == vendorID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockOrderStore) ApplyChange(_ context.Context, change *models.OrderChange, event *models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[change.OrderID]
	if !ok {
		return repository.ErrNotFound
	}

	if m.beforeApply != nil {
		m.beforeApply(order)
	}

	if order.Status != change.FromStatus || order.PickupStatus != change.FromPickupStatus {
		return repository.ErrStaleState
	}

	if change.AgentID != nil && order.AgentID != nil && *order.AgentID != *change.AgentID {
		return repository.ErrStaleState
	}
	change.Apply(order)

	if event != nil {
		event.ID = int64(len(m.events) + 1)
		m.events = append(m.events, event)
	}
	return nil
}

type mockCouponStore struct {
	coupons     map[string]*models.Coupon
	redemptions []*models.CouponRedemption
	// lostRace makes the next Redeem behave as if another request took the last use
	lostRace bool
}

func newMockCouponStore(coupons ...*models.Coupon) *mockCouponStore {
	m := &mockCouponStore{coupons: make(map[string]*models.Coupon)}
	for _, c := range coupons {
		m.coupons[c.ID] = c
	}
	return m
}

func (m *mockCouponStore) GetByCode(_ context.Context, code string) (*models.Coupon, error) {
	for _, c := range m.coupons {
		if strings.EqualFold(c.Code, code) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockCouponStore) HasRedeemed(_ context.Context, couponID, userID string) (bool, error) {
	for _, r := range m.redemptions {
		if r.CouponID == couponID && r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCouponStore) Redeem(_ context.Context, couponID string, redemption *models.CouponRedemption) (*models.Coupon, error) {
	c := m.coupons[couponID]
	if m.lostRace || c.Exhausted() {
		return nil, repository.ErrUsageLimitReached
	}
	for _, r := range m.redemptions {
		if r.CouponID == couponID && r.OrderID == redemption.OrderID {
			return nil, repository.ErrDuplicate
		}
	}
	c.UsageCount++
	m.redemptions = append(m.redemptions, redemption)
	cp := *c
	return &cp, nil
}

type mockRefundStore struct {
	refunds map[string]*models.RefundRequest
	holds   map[string]*models.PayoutHold
	events  []string
}

func newMockRefundStore(refunds ...*models.RefundRequest) *mockRefundStore {
	m := &mockRefundStore{
		refunds: make(map[string]*models.RefundRequest),
		holds:   make(map[string]*models.PayoutHold),
	}
	for _, r := range refunds {
		m.refunds[r.ID] = r
	}
	return m
}

func (m *mockRefundStore) GetByID(_ context.Context, id string) (*models.RefundRequest, error) {
	r, ok := m.refunds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRefundStore) ApplyDecision(_ context.Context, d *models.RefundDecision) (*models.RefundRequest, *models.PayoutHold, error) {
	r, ok := m.refunds[d.RefundID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	if r.Status != d.FromStatus {
		return nil, nil, repository.ErrStaleState
	}

	r.Status = d.ToStatus
	r.AdminNotes = d.AdminNotes
	r.ReviewedBy = &d.ReviewedBy
	r.ReviewedAt = &d.ReviewedAt

	var hold *models.PayoutHold
	switch {
	case d.ToStatus == models.RefundStatusApproved:
		hold = m.holds[r.VendorID]
		if hold == nil || hold.Status != models.PayoutHoldStatusActive {
			hold = &models.PayoutHold{ID: "hold-" + r.VendorID, VendorID: r.VendorID, Status: models.PayoutHoldStatusActive}
			m.holds[r.VendorID] = hold
		}
		hold.HoldAmount = hold.HoldAmount.Add(r.RefundAmount)
		hold.RefundRequestIDs = append(hold.RefundRequestIDs, r.ID)
	case d.FromStatus == models.RefundStatusApproved:
		hold = m.holds[r.VendorID]
		if hold != nil {
			hold.HoldAmount = decimal.Max(hold.HoldAmount.Sub(r.RefundAmount), decimal.Zero)
			ids := hold.RefundRequestIDs[:0]
			for _, id := range hold.RefundRequestIDs {
				if id != r.ID {
					ids = append(ids, id)
				}
			}
			hold.RefundRequestIDs = ids
			if hold.HoldAmount.IsZero() {
				hold.Status = models.PayoutHoldStatusReleased
			}
		}
	}

	event, _ := models.NewRefundDecisionEvent(r, d.ReviewedAt)
	m.events = append(m.events, event.EventType)

	cp := *r
	return &cp, hold, nil
}

func (m *mockRefundStore) ListHolds(_ context.Context, vendorID string) ([]*models.PayoutHold, error) {
	var holds []*models.PayoutHold
	for _, h := range m.holds {
		if vendorID == "" || h.VendorID == vendorID {
			holds = append(holds, h)
		}
	}
	return holds, nil
}

type mockNotificationStore struct {
	rows []*models.Notification
	seen map[string]bool
	err  error
}

func newMockNotificationStore() *mockNotificationStore {
	return &mockNotificationStore{seen: make(map[string]bool)}
}

func (m *mockNotificationStore) Create(_ context.Context, n *models.Notification) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	key := n.EventID + "|" + n.UserID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	m.rows = append(m.rows, n)
	return true, nil
}

func (m *mockNotificationStore) forUser(userID string) []*models.Notification {
	var out []*models.Notification
	for _, n := range m.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type mockRecipients struct {
	customers    map[string]string
	vendors      map[string]string
	orderVendors map[string][]string
}

func (m *mockRecipients) CustomerUserID(_ context.Context, id string) (string, error) {
	if u, ok := m.customers[id]; ok {
		return u, nil
	}
	return "", repository.ErrNotFound
}

func (m *mockRecipients) VendorUserID(_ context.Context, id string) (string, error) {
	if u, ok := m.vendors[id]; ok {
		return u, nil
	}
	return "", repository.ErrNotFound
}

func (m *mockRecipients) OrderVendorUserIDs(_ context.Context, orderID string) ([]string, error) {
	return m.orderVendors[orderID], nil
}

func newTestOrderService(store *mockOrderStore) *OrderService {
	svc := NewOrderService(store, logger.NewNop(), metrics.New())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// Principals used across the tests
var (
	agentA    = &models.Principal{UserID: "U-A1", Role: models.RoleAgent, AgentID: strPtr("A1")}
	agentB    = &models.Principal{UserID: "U-A2", Role: models.RoleAgent, AgentID: strPtr("A2")}
	vendorV1  = &models.Principal{UserID: "U-V1", Role: models.RoleVendor, VendorID: strPtr("V1")}
	vendorV2  = &models.Principal{UserID: "U-V2", Role: models.RoleVendor, VendorID: strPtr("V2")}
	customerC = &models.Principal{UserID: "U-C1", Role: models.RoleCustomer, CustomerID: strPtr("C1")}
	adminU    = &models.Principal{UserID: "U-ADM", Role: models.RoleAdmin}
)

// assignedOrder is sampleOrder already in agent A1's custody
func assignedOrder(status models.OrderStatus, pickup models.PickupStatus) (*models.Order, *models.OrderItem) {
	order, item := sampleOrder(status, pickup)
	order.AgentID = strPtr("A1")
	return order, item
}

func sampleOrder(status models.OrderStatus, pickup models.PickupStatus) (*models.Order, *models.OrderItem) {
	order := &models.Order{
		ID:           "O1",
		CustomerID:   "C1",
		Status:       status,
		PickupStatus: pickup,
		TotalAmount:  decimal.RequireFromString("120.00"),
		DropoffCode:  "D123",
		PickupCode:   "P456",
	}
	item := &models.OrderItem{
		ID:        "I1",
		OrderID:   "O1",
		ProductID: "P1",
		VendorID:  "V1",
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("60.00"),
	}
	return order, item
}
