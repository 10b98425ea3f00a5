package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCounters(t *testing.T) {
	m := New()

	m.ObserveTransition("mark_ready", "ok")
	m.ObserveTransition("mark_ready", "ok")
	m.ObserveDelivery("order_picked_up", "failed")
	m.ObserveRequest("/api/agent/mark-ready", http.MethodPost, http.StatusOK, 12*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrderTransitions.WithLabelValues("mark_ready", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeliveries.WithLabelValues("order_picked_up", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/agent/mark-ready", "POST", "200")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveCoupon("expired")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `marketplace_coupon_validations_total{reason="expired"} 1`)
}
