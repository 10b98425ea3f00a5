package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. Each instance owns its registry so
// tests can build as many as they like.
type Metrics struct {
	registry          *prometheus.Registry
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	OrderTransitions  *prometheus.CounterVec
	OutboxDeliveries  *prometheus.CounterVec
	CouponValidations *prometheus.CounterVec
}

// New registers the collectors under the marketplace namespace
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "order_transitions_total",
			Help:      "Order lifecycle transitions by action and outcome.",
		}, []string{"action", "outcome"}),
		OutboxDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "outbox_deliveries_total",
			Help:      "Outbox message delivery attempts by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		CouponValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "coupon_validations_total",
			Help:      "Coupon validations by result reason.",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.OrderTransitions,
		m.OutboxDeliveries,
		m.CouponValidations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.Requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}

// ObserveTransition records a lifecycle action outcome ("ok" or an error kind)
func (m *Metrics) ObserveTransition(action, outcome string) {
	m.OrderTransitions.WithLabelValues(action, outcome).Inc()
}

// ObserveDelivery records an outbox delivery attempt
func (m *Metrics) ObserveDelivery(eventType, outcome string) {
	m.OutboxDeliveries.WithLabelValues(eventType, outcome).Inc()
}

// ObserveCoupon records a coupon validation reason ("valid" on success)
func (m *Metrics) ObserveCoupon(reason string) {
	m.CouponValidations.WithLabelValues(reason).Inc()
}
