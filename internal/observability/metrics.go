// Package observability wires Prometheus metrics for the HTTP surface
// and the document engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	movementsTotal   *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	allocatedCents   *prometheus.CounterVec
	overdueInvoices  prometheus.Gauge
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_inventory_movements_total",
		Help: "Inventory ledger movements by direction.",
	}, []string{"type"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_document_transitions_total",
		Help: "Document state machine transitions by document and action.",
	}, []string{"doc", "action"})
	allocated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_payment_allocated_cents_total",
		Help: "Cents allocated from payments to documents by ledger side.",
	}, []string{"side"})
	overdue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_overdue_invoices",
		Help: "Invoices past due date observed by the last sweep.",
	})
	registry.MustRegister(requests, duration, movements, transitions, allocated, overdue)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		movementsTotal:   movements,
		transitionsTotal: transitions,
		allocatedCents:   allocated,
		overdueInvoices:  overdue,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// MovementRecorded counts one inventory ledger movement.
func (m *Metrics) MovementRecorded(movementType string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(movementType).Inc()
}

// TransitionApplied counts one document state machine transition.
func (m *Metrics) TransitionApplied(doc, action string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(doc, action).Inc()
}

// AllocationApplied accumulates cents allocated from a payment.
func (m *Metrics) AllocationApplied(side string, cents int64) {
	if m == nil {
		return
	}
	m.allocatedCents.WithLabelValues(side).Add(float64(cents))
}

// OverdueObserved records the overdue invoice count seen by a sweep.
func (m *Metrics) OverdueObserved(count int) {
	if m == nil {
		return
	}
	m.overdueInvoices.Set(float64(count))
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
