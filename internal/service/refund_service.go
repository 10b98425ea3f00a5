package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vaidashi/marketplace-api/internal/models"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// RefundStore is the persistence refund overrides need
type RefundStore interface {
	GetByID(ctx context.Context, id string) (*models.RefundRequest, error)
	ApplyDecision(ctx context.Context, decision *models.RefundDecision) (*models.RefundRequest, *models.PayoutHold, error)
	ListHolds(ctx context.Context, vendorID string) ([]*models.PayoutHold, error)
}

// OverrideResult is the refund after an admin decision and the hold it touched
type OverrideResult struct {
	Refund *models.RefundRequest `json:"refund"`
	Hold   *models.PayoutHold    `json:"hold,omitempty"`
}

// RefundService applies admin refund decisions to vendor payout holds
type RefundService struct {
	refunds RefundStore
	logger  logger.Logger
	now     func() time.Time
}

// NewRefundService creates a new RefundService
func NewRefundService(refunds RefundStore, logger logger.Logger) *RefundService {
	return &RefundService{
		refunds: refunds,
		logger:  logger,
		now:     models.GetCurrentTime,
	}
}

// Override approves or rejects a refund. Approval adds the refund amount to
// the vendor's active payout hold; rejecting an approved refund takes it out.
func (s *RefundService) Override(ctx context.Context, admin *models.Principal, refundID string, action models.RefundAction, notes string) (*OverrideResult, error) {
	if admin.Role != models.RoleAdmin {
		return nil, apperrors.NewForbiddenError("Only admins can override refunds")
	}

	if action != models.RefundActionApprove && action != models.RefundActionReject {
		return nil, apperrors.NewInvalidInputError("Action must be approve or reject")
	}

	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, storeError(err, "Refund request not found")
	}

	target := action.TargetStatus()
	if refund.Status == target {
		return nil, apperrors.NewConflictError(fmt.Sprintf("Refund is already %s", strings.ToLower(string(target))))
	}

	decision := &models.RefundDecision{
		RefundID:   refund.ID,
		FromStatus: refund.Status,
		ToStatus:   target,
		ReviewedBy: admin.UserID,
		ReviewedAt: s.now(),
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		decision.AdminNotes = &notes
	}

	updated, hold, err := s.refunds.ApplyDecision(ctx, decision)
	if err != nil {
		return nil, storeError(err, "Refund request not found")
	}

	keyvals := []interface{}{
		"refundID", updated.ID,
		"vendorID", updated.VendorID,
		"from", decision.FromStatus,
		"to", decision.ToStatus,
		"adminID", admin.UserID,
	}
	if hold != nil {
		keyvals = append(keyvals, "holdID", hold.ID, "holdAmount", hold.HoldAmount.StringFixed(2), "holdStatus", hold.Status)
	}
	s.logger.Info("Refund overridden", keyvals...)

	return &OverrideResult{Refund: updated, Hold: hold}, nil
}

// ListHolds returns payout holds, optionally for one vendor
func (s *RefundService) ListHolds(ctx context.Context, vendorID string) ([]*models.PayoutHold, error) {
	holds, err := s.refunds.ListHolds(ctx, strings.TrimSpace(vendorID))
	if err != nil {
		return nil, storeError(err, "Payout hold not found")
	}
	return holds, nil
}
