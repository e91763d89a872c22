package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec

	// Inference service calls
	InferenceRequestsTotal   *prometheus.CounterVec
	InferenceRequestDuration *prometheus.HistogramVec

	// History entries
	HistoryTransitionsTotal *prometheus.CounterVec
	HistorySweptTotal       prometheus.Counter

	// Database pool
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookout_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookout_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookout_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),
		InferenceRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookout_inference_requests_total",
				Help: "Calls to the inference service by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		InferenceRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookout_inference_request_duration_seconds",
				Help:    "Inference service call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
		HistoryTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookout_history_transitions_total",
				Help: "History entry status changes by entry type and new status",
			},
			[]string{"type", "status"},
		),
		HistorySweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lookout_history_swept_total",
				Help: "Stale history entries moved to failure by the sweeper",
			},
		),
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lookout_db_connections_open",
				Help: "Open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lookout_db_connections_in_use",
				Help: "Database connections in use",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.InferenceRequestsTotal,
		m.InferenceRequestDuration,
		m.HistoryTransitionsTotal,
		m.HistorySweptTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
	)

	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// ObserveInference records one inference service call
func (m *Metrics) ObserveInference(endpoint, outcome string, elapsed time.Duration) {
	m.InferenceRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.InferenceRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveHistoryStatus records a history entry reaching status
func (m *Metrics) ObserveHistoryStatus(entryType, status string) {
	m.HistoryTransitionsTotal.WithLabelValues(entryType, status).Inc()
}

// ObserveSwept records entries failed by the sweeper
func (m *Metrics) ObserveSwept(n int64) {
	if n > 0 {
		m.HistorySweptTotal.Add(float64(n))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// routeLabel uses the mux route template so ids do not explode cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Use it with router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			route := routeLabel(r)

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, route).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
