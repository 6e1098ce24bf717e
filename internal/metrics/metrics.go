// Package metrics provides Prometheus metrics for showledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Domain operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	VotesTotal        *prometheus.CounterVec
	ShowsCreated      prometheus.Counter
	SchemaVersion     prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Event metrics
	EventsPublished *prometheus.CounterVec

	// Ops HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showledger_operations_total",
			Help: "Total number of core operations by outcome",
		},
		[]string{"operation", "result"},
	)

	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "showledger_operation_duration_seconds",
			Help:    "Core operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showledger_votes_total",
			Help: "Total number of votes cast by value",
		},
		[]string{"value"},
	)

	m.ShowsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "showledger_shows_created_total",
			Help: "Total number of shows added to the catalog",
		},
	)

	m.SchemaVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "showledger_schema_version",
			Help: "Schema version of the connected store",
		},
	)

	m.CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showledger_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	m.CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showledger_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	m.EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showledger_events_published_total",
			Help: "Total number of domain events published by outcome",
		},
		[]string{"type", "result"},
	)

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showledger_http_requests_total",
			Help: "Total number of ops HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "showledger_http_request_duration_seconds",
			Help:    "Ops HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "showledger_http_requests_in_flight",
			Help: "Number of ops HTTP requests currently being processed",
		},
	)

	m.registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.VotesTotal,
		m.ShowsCreated,
		m.SchemaVersion,
		m.CacheHits,
		m.CacheMisses,
		m.EventsPublished,
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
	)

	// Also register the default collectors (go runtime, process info)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics. Paths are
// labelled with the matched chi route pattern to bound cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		path := routePattern(r)
		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordOperation records the outcome and latency of a core operation.
func (m *Metrics) RecordOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordVote records a cast vote.
func (m *Metrics) RecordVote(value int) {
	if m == nil {
		return
	}
	label := "up"
	if value < 0 {
		label = "down"
	}
	m.VotesTotal.WithLabelValues(label).Inc()
}

// RecordShowCreated records a show added to the catalog.
func (m *Metrics) RecordShowCreated() {
	if m == nil {
		return
	}
	m.ShowsCreated.Inc()
}

// SetSchemaVersion publishes the store's schema version.
func (m *Metrics) SetSchemaVersion(version int) {
	if m == nil {
		return
	}
	m.SchemaVersion.Set(float64(version))
}

// RecordCacheAccess records a cache access.
func (m *Metrics) RecordCacheAccess(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(cache).Inc()
	} else {
		m.CacheMisses.WithLabelValues(cache).Inc()
	}
}

// RecordEventPublished records a publish attempt for a domain event.
func (m *Metrics) RecordEventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}
