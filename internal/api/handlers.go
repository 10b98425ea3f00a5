package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/marketplace-api/internal/auth"
	"github.com/vaidashi/marketplace-api/internal/models"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
}

const version = "1.0.0"

// healthCheckHandler reports liveness and whether the database answers
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  "unknown",
	}

	code := http.StatusOK
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("Health check database ping failed", "error", err)
			health.Status = "degraded"
			health.Database = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			health.Database = "ok"
		}
	}

	s.respondWithJSON(w, code, ApiResponse{Success: code == http.StatusOK, Data: health})
}

// getOrderHandler returns an order to a party of the order or an admin
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor := principal(r)
	id := mux.Vars(r)["id"]

	order, err := s.orders.GetOrder(r.Context(), actor, id)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// principal returns the caller set by the auth middleware
func principal(r *http.Request) *models.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// respondWithAppError maps err to its status. Unexpected errors are logged and
// answered with a generic message.
func (s *Server) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.StatusCode(err)
	message := err.Error()

	if code >= http.StatusInternalServerError {
		keyvals := []interface{}{"error", err, "method", r.Method, "path", r.URL.Path}

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			for k, v := range appErr.Context {
				keyvals = append(keyvals, k, v)
			}
		} else {
			message = "An unexpected error occurred"
		}
		s.logger.Error("Request failed", keyvals...)
	}

	s.respondWithError(w, code, message)
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
