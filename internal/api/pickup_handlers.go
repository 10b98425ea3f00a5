package api

import (
	"net/http"
)

type orderCodeBody struct {
	OrderID string `json:"orderId"`
	Code    string `json:"code"`
}

type orderBody struct {
	OrderID string `json:"orderId"`
}

// acceptDropoffHandler serves both the agent and the vendor route; the
// service applies the role specific ownership rule
func (s *Server) acceptDropoffHandler(w http.ResponseWriter, r *http.Request) {
	var req orderCodeBody
	if err := decodeBody(r, orderCodeRequest, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	order, err := s.orders.AcceptDropoff(r.Context(), principal(r), req.OrderID, req.Code)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) markReadyHandler(w http.ResponseWriter, r *http.Request) {
	var req orderBody
	if err := decodeBody(r, orderRequest, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	order, err := s.orders.MarkReady(r.Context(), principal(r), req.OrderID)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) verifyPickupHandler(w http.ResponseWriter, r *http.Request) {
	var req orderCodeBody
	if err := decodeBody(r, orderCodeRequest, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	order, err := s.orders.VerifyPickup(r.Context(), principal(r), req.OrderID, req.Code)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}
