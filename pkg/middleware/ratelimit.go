package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vaidashi/marketplace-api/pkg/logger"
	"github.com/vaidashi/marketplace-api/pkg/ratelimit"
)

// KeyFunc derives the rate limit key for a request
type KeyFunc func(r *http.Request) string

// RateLimiter rejects requests whose key has run out of tokens
type RateLimiter struct {
	limiter    *ratelimit.KeyedLimiter
	keyFunc    KeyFunc
	retryAfter int
	logger     logger.Logger
}

// NewRateLimiter wraps limiter. When keyFunc is nil the client IP is used.
func NewRateLimiter(limiter *ratelimit.KeyedLimiter, keyFunc KeyFunc, retryAfterSeconds int, logger logger.Logger) *RateLimiter {
	if keyFunc == nil {
		keyFunc = ClientIP
	}

	return &RateLimiter{
		limiter:    limiter,
		keyFunc:    keyFunc,
		retryAfter: retryAfterSeconds,
		logger:     logger,
	}
}

// Middleware returns the http middleware
func (m *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "|" + m.keyFunc(r)

		if !m.limiter.Allow(key) {
			m.logger.Warn("Rate limit exceeded", "method", r.Method, "path", r.URL.Path, "key", key)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(m.retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"Too many attempts, please try again later"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the caller address, preferring the first X-Forwarded-For hop
func ClientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		return strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	}

	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i != -1 {
		ip = ip[:i]
	}
	return ip
}
