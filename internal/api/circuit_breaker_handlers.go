package api

import (
	"net/http"
)

// getCircuitBreakerStatusHandler returns the state of the Kafka publish breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	metrics := s.breaker.GetMetrics()
	metrics["kafka_enabled"] = s.config != nil && s.config.Kafka.Enabled

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: metrics})
}

// resetCircuitBreakerHandler resets the circuit breaker to closed state
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	s.breaker.Reset()
	s.logger.Info("Circuit breaker reset", "adminID", principal(r).UserID)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Circuit breaker reset successfully",
		},
	})
}
