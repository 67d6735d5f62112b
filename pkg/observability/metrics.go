package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the back-office services
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerAppendsTotal   *prometheus.CounterVec
	LedgerAppendFailures prometheus.Counter
	LedgerQueriesTotal   *prometheus.CounterVec

	// Undo metrics
	UndoAttemptsTotal *prometheus.CounterVec

	// Integrity metrics
	IntegrityRunsTotal     prometheus.Counter
	IntegrityCheckDuration *prometheus.HistogramVec
	IntegrityFindings      *prometheus.GaugeVec

	// Catalog cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registry
// (a fresh registry when nil)
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LedgerAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_ledger_appends_total",
				Help: "Ledger records appended, by action and entity type",
			},
			[]string{"action_type", "entity_type"},
		),
		LedgerAppendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backoffice_ledger_append_failures_total",
				Help: "Ledger appends that were dropped (best-effort policy)",
			},
		),
		LedgerQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_ledger_queries_total",
				Help: "Ledger read operations, by kind",
			},
			[]string{"kind"},
		),

		UndoAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_undo_attempts_total",
				Help: "Undo attempts, by outcome (success, conflict, not_found, error)",
			},
			[]string{"outcome"},
		),

		IntegrityRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backoffice_integrity_runs_total",
				Help: "Completed integrity validation runs",
			},
		),
		IntegrityCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_integrity_check_duration_seconds",
				Help:    "Duration of individual integrity checks",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"check"},
		),
		IntegrityFindings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backoffice_integrity_findings",
				Help: "Findings reported by the most recent integrity run, by check and severity",
			},
			[]string{"check", "severity"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_cache_hits_total",
				Help: "Catalog cache hits, by tier (local, redis)",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_cache_misses_total",
				Help: "Catalog cache misses, by tier",
			},
			[]string{"tier"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LedgerAppendsTotal,
		m.LedgerAppendFailures,
		m.LedgerQueriesTotal,
		m.UndoAttemptsTotal,
		m.IntegrityRunsTotal,
		m.IntegrityCheckDuration,
		m.IntegrityFindings,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware instruments a handler with request count and duration
// metrics. The path label uses the route template, not the raw URL, so
// cardinality stays bounded.
func (m *Metrics) HTTPMiddleware(routePath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, routePath, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, routePath).Observe(time.Since(start).Seconds())
	})
}

// RecordIntegrityReport updates the finding gauges after a validation run
func (m *Metrics) RecordIntegrityReport(counts map[string]map[string]int) {
	m.IntegrityRunsTotal.Inc()
	for check, bySeverity := range counts {
		for severity, n := range bySeverity {
			m.IntegrityFindings.WithLabelValues(check, severity).Set(float64(n))
		}
	}
}
