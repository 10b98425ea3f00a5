package api

import (
	"net/http"
)

// getRateLimitsHandler returns the code attempt limit and how many callers
// are currently tracked
func (s *Server) getRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"tracked_callers": s.codeLimiter.Len(),
	}
	if s.config != nil {
		response["per_minute"] = s.config.CodeLimit.PerMinute
		response["burst"] = s.config.CodeLimit.Burst
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response})
}
