package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaidashi/marketplace-api/internal/models"
)

type refundOverrideBody struct {
	Action     models.RefundAction `json:"action"`
	AdminNotes *string             `json:"admin_notes"`
}

// refundOverrideHandler answers {refund, hold?}
func (s *Server) refundOverrideHandler(w http.ResponseWriter, r *http.Request) {
	var req refundOverrideBody
	if err := decodeBody(r, refundOverrideRequest, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	notes := ""
	if req.AdminNotes != nil {
		notes = *req.AdminNotes
	}

	result, err := s.refunds.Override(r.Context(), principal(r), mux.Vars(r)["id"], req.Action, notes)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, result)
}

func (s *Server) listPayoutHoldsHandler(w http.ResponseWriter, r *http.Request) {
	holds, err := s.refunds.ListHolds(r.Context(), r.URL.Query().Get("vendorId"))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	if holds == nil {
		holds = []*models.PayoutHold{}
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: holds})
}
