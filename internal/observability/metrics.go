package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the HTTP and domain Prometheus series of the service.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	closingsTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	receivablesOpen   *prometheus.GaugeVec
	receivablesAmount *prometheus.GaugeVec
}

// NewMetrics builds a private registry with the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fechamento_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fechamento_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	closings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fechamento_closings_total",
		Help: "Closing writes by store and operation.",
	}, []string{"store", "op"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fechamento_receivable_transitions_total",
		Help: "Receivable status transitions by store and target status.",
	}, []string{"store", "to"})
	open := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fechamento_receivables_open",
		Help: "Receivables per store and settlement stage at the last digest.",
	}, []string{"store", "status"})
	amount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fechamento_receivables_open_amount",
		Help: "Receivable amount per store and settlement stage at the last digest.",
	}, []string{"store", "status"})
	registry.MustRegister(requests, duration, closings, transitions, open, amount)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		closingsTotal:     closings,
		transitionsTotal:  transitions,
		receivablesOpen:   open,
		receivablesAmount: amount,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
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

// ClosingWritten counts a created or updated closing.
func (m *Metrics) ClosingWritten(storeID, op string) {
	if m == nil {
		return
	}
	m.closingsTotal.WithLabelValues(storeID, op).Inc()
}

// ReceivableTransition counts receivables moving to status.
func (m *Metrics) ReceivableTransition(storeID, status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transitionsTotal.WithLabelValues(storeID, status).Add(float64(n))
}

// SetReceivablesOpen publishes a digest bucket for a store.
func (m *Metrics) SetReceivablesOpen(storeID, status string, count int, amount float64) {
	if m == nil {
		return
	}
	m.receivablesOpen.WithLabelValues(storeID, status).Set(float64(count))
	m.receivablesAmount.WithLabelValues(storeID, status).Set(amount)
}

// Registerer exposes the registry for extra collectors.
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
