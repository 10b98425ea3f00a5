package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/marketplace-api/internal/pricing"
)

type couponPreviewBody struct {
	Code         string           `json:"code"`
	CartSubtotal *decimal.Decimal `json:"cartSubtotal"`
	VendorIDs    []string         `json:"vendorIds"`
	ProductIDs   []string         `json:"productIds"`
}

type couponRedeemBody struct {
	Code    string `json:"code"`
	OrderID string `json:"orderId"`
}

// couponPreviewHandler answers {valid, reason?, discount?}. Signed in
// callers also get the already_redeemed check.
func (s *Server) couponPreviewHandler(w http.ResponseWriter, r *http.Request) {
	var req couponPreviewBody
	if err := decodeBody(r, couponPreviewRequest, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	cart := pricing.Cart{
		Subtotal:   req.CartSubtotal,
		VendorIDs:  req.VendorIDs,
		ProductIDs: req.ProductIDs,
	}
	if p := principal(r); p != nil {
		cart.UserID = p.UserID
	}

	result, err := s.coupons.Validate(r.Context(), req.Code, cart)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, result)
}

func (s *Server) couponRedeemHandler(w http.ResponseWriter, r *http.Request) {
	var req couponRedeemBody
	if err := decodeBody(r, couponRedeemRequest, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	redemption, err := s.coupons.Redeem(r.Context(), principal(r), req.Code, req.OrderID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: redemption})
}
