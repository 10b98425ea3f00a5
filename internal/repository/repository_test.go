package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

func newTestDB(t *testing.T) (*database.Database, sqlmock.Sqlmock) {
	t.Helper()

	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		raw.Close()
	})

	return database.NewFromDB(sqlx.NewDb(raw, "postgres"), logger.NewNop()), mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

var orderCols = []string{"id", "customer_id", "agent_id", "status", "pickup_status", "payment_status",
	"total_amount", "dropoff_code", "pickup_code", "actual_pickup_date", "created_at", "updated_at"}

func TestOrderGetByID(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOrderRepository(db, logger.NewNop())
	now := time.Now().UTC()

	mock.ExpectQuery(q("FROM orders WHERE id = $1")).
		WithArgs("O1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("O1", "C1", nil, "PROCESSING", "PENDING", "PAID", "120.50", "D123", "P456", nil, now, now))

	order, err := repo.GetByID(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.True(t, decimal.RequireFromString("120.50").Equal(order.TotalAmount))
	assert.Nil(t, order.AgentID)
	assert.Equal(t, "D123", order.DropoffCode)
}

func TestOrderGetByIDNotFound(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOrderRepository(db, logger.NewNop())

	mock.ExpectQuery(q("FROM orders WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderApplyChangeWritesOutboxInSameTx(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOrderRepository(db, logger.NewNop())
	now := time.Now().UTC()

	change := &models.OrderChange{
		OrderID:          "O1",
		FromStatus:       models.OrderStatusDroppedOff,
		FromPickupStatus: models.PickupStatusPending,
		ToStatus:         models.OrderStatusReadyForPickup,
		ToPickupStatus:   models.PickupStatusReadyForPickup,
		UpdatedAt:        now,
	}
	order := &models.Order{ID: "O1", CustomerID: "C1"}
	change.Apply(order)
	event, err := models.NewOrderLifecycleEvent(models.EventOrderReadyForPickup, order, now)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE orders")).
		WithArgs("READY_FOR_PICKUP", "READY_FOR_PICKUP", nil, nil, now, "O1", "DROPPED_OFF", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO outbox_messages")).
		WithArgs("order", "O1", models.EventOrderReadyForPickup, event.Payload, sqlmock.AnyArg(), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	require.NoError(t, repo.ApplyChange(context.Background(), change, event))
	assert.Equal(t, int64(7), event.ID)
}

func TestOrderApplyChangeStaleState(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOrderRepository(db, logger.NewNop())

	change := &models.OrderChange{
		OrderID:          "O1",
		FromStatus:       models.OrderStatusDroppedOff,
		FromPickupStatus: models.PickupStatusPending,
		ToStatus:         models.OrderStatusReadyForPickup,
		ToPickupStatus:   models.PickupStatusReadyForPickup,
		UpdatedAt:        time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyChange(context.Background(), change, &models.OutboxMessage{})
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestOrderApplyChangeKeepsAnotherAgentsCustody(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOrderRepository(db, logger.NewNop())
	now := time.Now().UTC()
	agent := "A1"

	change := &models.OrderChange{
		OrderID:          "O1",
		FromStatus:       models.OrderStatusDroppedOff,
		FromPickupStatus: models.PickupStatusPending,
		ToStatus:         models.OrderStatusDroppedOff,
		ToPickupStatus:   models.PickupStatusPending,
		AgentID:          &agent,
		UpdatedAt:        now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("AND ($3::varchar IS NULL OR agent_id IS NULL OR agent_id = $3)")).
		WithArgs("DROPPED_OFF", "PENDING", "A1", nil, now, "O1", "DROPPED_OFF", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyChange(context.Background(), change, nil)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestOrderHasVendorItem(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOrderRepository(db, logger.NewNop())

	mock.ExpectQuery(q("SELECT EXISTS")).
		WithArgs("O1", "V1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasVendorItem(context.Background(), "O1", "V1")
	require.NoError(t, err)
	assert.True(t, ok)
}

var couponCols = []string{"id", "code", "discount_type", "discount_value", "usage_limit", "usage_count",
	"min_purchase_amount", "expiry_date", "is_active", "vendor_id", "product_id", "created_at", "updated_at"}

func TestCouponGetByCodeIsCaseInsensitive(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewCouponRepository(db, logger.NewNop())
	now := time.Now().UTC()

	mock.ExpectQuery(q("WHERE LOWER(code) = LOWER($1)")).
		WithArgs("save10").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow("CP1", "SAVE10", "PERCENTAGE", "10", int64(5), int64(2), nil, nil, true, nil, nil, now, now))

	c, err := repo.GetByCode(context.Background(), "save10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
	require.NotNil(t, c.UsageLimit)
	assert.Equal(t, 5, *c.UsageLimit)
	assert.False(t, c.MinPurchaseAmount.Valid)
}

func TestCouponRedeem(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewCouponRepository(db, logger.NewNop())
	now := time.Now().UTC()
	redemption := models.NewCouponRedemption("CP1", "U1", "O1", now)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SET usage_count = usage_count + 1")).
		WithArgs("CP1", now).
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow("CP1", "SAVE10", "PERCENTAGE", "10", int64(5), int64(3), nil, nil, true, nil, nil, now, now))
	mock.ExpectExec(q("INSERT INTO coupon_redemptions")).
		WithArgs(redemption.ID, "CP1", "U1", "O1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO outbox_messages")).
		WithArgs("coupon", "CP1", models.EventCouponRedeemed, sqlmock.AnyArg(), sqlmock.AnyArg(), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	c, err := repo.Redeem(context.Background(), "CP1", redemption)
	require.NoError(t, err)
	assert.Equal(t, 3, c.UsageCount)
}

func TestCouponRedeemUsageLimitReached(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewCouponRepository(db, logger.NewNop())
	redemption := models.NewCouponRedemption("CP1", "U1", "O1", time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery(q("SET usage_count = usage_count + 1")).
		WillReturnRows(sqlmock.NewRows(couponCols))
	mock.ExpectRollback()

	_, err := repo.Redeem(context.Background(), "CP1", redemption)
	assert.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestCouponRedeemDuplicateOrder(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewCouponRepository(db, logger.NewNop())
	now := time.Now().UTC()
	redemption := models.NewCouponRedemption("CP1", "U1", "O1", now)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SET usage_count = usage_count + 1")).
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow("CP1", "SAVE10", "PERCENTAGE", "10", nil, int64(3), nil, nil, true, nil, nil, now, now))
	mock.ExpectExec(q("INSERT INTO coupon_redemptions")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.Redeem(context.Background(), "CP1", redemption)
	assert.ErrorIs(t, err, ErrDuplicate)
}

var refundCols = []string{"id", "order_id", "order_item_id", "vendor_id", "customer_id", "refund_amount", "reason",
	"status", "admin_notes", "reviewed_by", "reviewed_at", "created_at", "updated_at"}

var holdCols = []string{"id", "vendor_id", "hold_amount", "status", "refund_request_ids", "created_at", "updated_at"}

func TestRefundApproveUpsertsHold(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewRefundRepository(db, logger.NewNop())
	now := time.Now().UTC()

	decision := &models.RefundDecision{
		RefundID:   "R1",
		FromStatus: models.RefundStatusPending,
		ToStatus:   models.RefundStatusApproved,
		ReviewedBy: "admin-1",
		ReviewedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE refund_requests")).
		WithArgs("APPROVED", nil, "admin-1", now, "R1", "PENDING").
		WillReturnRows(sqlmock.NewRows(refundCols).
			AddRow("R1", "O1", nil, "V1", "C1", "25.00", "damaged", "APPROVED", nil, "admin-1", now, now, now))
	mock.ExpectQuery(q("ON CONFLICT (vendor_id) WHERE status = 'ACTIVE'")).
		WithArgs(sqlmock.AnyArg(), "V1", sqlmock.AnyArg(), "ACTIVE", "R1", now).
		WillReturnRows(sqlmock.NewRows(holdCols).
			AddRow("hold-1", "V1", "75.00", "ACTIVE", []byte("{R0,R1}"), now, now))
	mock.ExpectQuery(q("INSERT INTO outbox_messages")).
		WithArgs("refund", "R1", models.EventRefundApproved, sqlmock.AnyArg(), sqlmock.AnyArg(), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCommit()

	refund, hold, err := repo.ApplyDecision(context.Background(), decision)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusApproved, refund.Status)
	require.NotNil(t, hold)
	assert.True(t, decimal.RequireFromString("75").Equal(hold.HoldAmount))
	assert.Equal(t, pq.StringArray{"R0", "R1"}, hold.RefundRequestIDs)
}

func TestRefundRejectAfterApproveReleasesHold(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewRefundRepository(db, logger.NewNop())
	now := time.Now().UTC()

	decision := &models.RefundDecision{
		RefundID:   "R1",
		FromStatus: models.RefundStatusApproved,
		ToStatus:   models.RefundStatusRejected,
		ReviewedBy: "admin-1",
		ReviewedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE refund_requests")).
		WithArgs("REJECTED", nil, "admin-1", now, "R1", "APPROVED").
		WillReturnRows(sqlmock.NewRows(refundCols).
			AddRow("R1", "O1", nil, "V1", "C1", "25.00", "", "REJECTED", nil, "admin-1", now, now, now))
	mock.ExpectQuery(q("UPDATE payout_holds")).
		WithArgs(sqlmock.AnyArg(), "R1", "RELEASED", now, "V1", "ACTIVE").
		WillReturnRows(sqlmock.NewRows(holdCols).
			AddRow("hold-1", "V1", "0", "RELEASED", []byte("{}"), now, now))
	mock.ExpectQuery(q("INSERT INTO outbox_messages")).
		WithArgs("refund", "R1", models.EventRefundRejected, sqlmock.AnyArg(), sqlmock.AnyArg(), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCommit()

	_, hold, err := repo.ApplyDecision(context.Background(), decision)
	require.NoError(t, err)
	require.NotNil(t, hold)
	assert.Equal(t, models.PayoutHoldStatusReleased, hold.Status)
	assert.True(t, hold.HoldAmount.IsZero())
}

func TestRefundDecisionStale(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewRefundRepository(db, logger.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE refund_requests")).WillReturnRows(sqlmock.NewRows(refundCols))
	mock.ExpectRollback()

	_, _, err := repo.ApplyDecision(context.Background(), &models.RefundDecision{
		RefundID:   "R1",
		FromStatus: models.RefundStatusPending,
		ToStatus:   models.RefundStatusRejected,
		ReviewedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestNotificationCreateIsIdempotent(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewNotificationRepository(db, logger.NewNop())
	n := models.NewNotification("U1", "evt-1", models.EventOrderPickedUp, "Picked up", "Order O1 was picked up", nil, time.Now())

	mock.ExpectExec(q("ON CONFLICT (event_id, user_id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("ON CONFLICT (event_id, user_id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Create(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Create(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestOutboxClaimPending(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOutboxRepository(db, logger.NewNop())
	now := time.Now().UTC()

	staleBefore := now.Add(-5 * time.Minute)

	mock.ExpectQuery(q("OR (status = $1 AND (claimed_at IS NULL OR claimed_at < $4))")).
		WithArgs("processing", sqlmock.AnyArg(), "pending", staleBefore, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload",
			"created_at", "processed_at", "processing_attempts", "last_error", "status"}).
			AddRow(int64(1), "order", "O1", models.EventOrderPickedUp, []byte(`{}`), now, nil, int64(1), nil, "processing"))

	msgs, err := repo.ClaimPending(context.Background(), 10, staleBefore)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].ProcessingAttempts)
}

func TestOutboxMoveToDeadLetter(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewOutboxRepository(db, logger.NewNop())

	msg := &models.OutboxMessage{ID: 9, AggregateType: "order", AggregateID: "O1", EventType: models.EventOrderPickedUp, Payload: []byte(`{}`)}
	dlq := models.NewDeadLetterMessage(msg, "broker down", "max retries reached")

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE outbox_messages")).
		WithArgs("failed", "broker down", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO dead_letter_messages")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	require.NoError(t, repo.MoveToDeadLetter(context.Background(), 9, dlq))
	assert.Equal(t, int64(2), dlq.ID)
}

var dlqCols = []string{"id", "original_message_id", "aggregate_type", "aggregate_id", "event_type", "payload",
	"error_message", "failure_reason", "retry_count", "last_retry_at", "status", "created_at", "resolved_at"}

func TestDeadLetterDiscardMissing(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewDeadLetterRepository(db, logger.NewNop())

	mock.ExpectExec(q("UPDATE dead_letter_messages")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM dead_letter_messages WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	err := repo.MarkAsDiscarded(context.Background(), 42, "obsolete")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeadLetterRequeue(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewDeadLetterRepository(db, logger.NewNop())
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE dead_letter_messages")).
		WillReturnRows(sqlmock.NewRows(dlqCols).
			AddRow(int64(5), int64(9), "order", "O1", models.EventOrderPickedUp, []byte(`{}`),
				"boom", "max retries", int64(0), nil, "resolved", now, now))
	mock.ExpectQuery(q("INSERT INTO outbox_messages")).
		WithArgs("order", "O1", models.EventOrderPickedUp, []byte(`{}`), sqlmock.AnyArg(), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	msg, err := repo.Requeue(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(11), msg.ID)
}

func TestUserGetPrincipal(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewUserRepository(db, logger.NewNop())

	mock.ExpectQuery(q("FROM users u")).
		WithArgs("U1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role", "vendor_id", "agent_id", "customer_id"}).
			AddRow("U1", "AGENT", nil, "A1", nil))

	p, err := repo.GetPrincipal(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, p.Role)
	require.NotNil(t, p.AgentID)
	assert.Equal(t, "A1", *p.AgentID)
	assert.Nil(t, p.VendorID)
}
