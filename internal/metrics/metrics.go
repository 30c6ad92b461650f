package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the transaction registry.
type Metrics struct {
	// Registry operation metrics
	OperationsTotal       *prometheus.CounterVec
	OperationsFailedTotal *prometheus.CounterVec
	OperationDuration     *prometheus.HistogramVec
	QuerySwallowedTotal   prometheus.Counter

	// Store gateway metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBRetriesTotal      prometheus.Counter
	DBFailuresTotal     *prometheus.CounterVec
	DBConnectionsActive prometheus.Gauge

	// Audit metrics
	AuditEmittedTotal *prometheus.CounterVec
	AuditFailedTotal  *prometheus.CounterVec

	// Error reporter metrics
	ReportsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Registry operation metrics
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_operations_total",
				Help: "Total number of registry operations",
			},
			[]string{"operation"},
		),
		OperationsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_operations_failed_total",
				Help: "Total number of failed registry operations",
			},
			[]string{"operation", "code"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registry_operation_duration_seconds",
				Help:    "Registry operation duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		QuerySwallowedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_query_swallowed_total",
				Help: "Total number of list queries that failed and returned an empty page",
			},
		),

		// Store gateway metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registry_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation"},
		),
		DBRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_db_retries_total",
				Help: "Total number of retried store statements",
			},
		),
		DBFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_db_failures_total",
				Help: "Total number of failed store statements by error class",
			},
			[]string{"code"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "registry_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		// Audit metrics
		AuditEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_audit_emitted_total",
				Help: "Total number of audit events delivered",
			},
			[]string{"sink"},
		),
		AuditFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_audit_failed_total",
				Help: "Total number of audit events that failed delivery",
			},
			[]string{"sink"},
		),

		// Error reporter metrics
		ReportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_error_reports_total",
				Help: "Total number of captured error reports",
			},
			[]string{"source"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type"},
		),
	}
}

// ObserveOperation records a registry operation and its outcome. The code
// label is empty on success.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, errCode string) {
	m.OperationsTotal.WithLabelValues(operation).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errCode != "" {
		m.OperationsFailedTotal.WithLabelValues(operation, errCode).Inc()
	}
}

// ObserveQuerySwallowed records a list query whose failure was converted to
// an empty result page.
func (m *Metrics) ObserveQuerySwallowed() {
	m.QuerySwallowedTotal.Inc()
}

// ObserveDBQuery records a store statement duration.
func (m *Metrics) ObserveDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveDBRetry records one retried store statement.
func (m *Metrics) ObserveDBRetry() {
	m.DBRetriesTotal.Inc()
}

// ObserveDBFailure records a failed store statement by error class.
func (m *Metrics) ObserveDBFailure(code string) {
	m.DBFailuresTotal.WithLabelValues(code).Inc()
}

// ObserveAudit records one audit delivery outcome.
func (m *Metrics) ObserveAudit(sink string, err error) {
	if err != nil {
		m.AuditFailedTotal.WithLabelValues(sink).Inc()
		return
	}
	m.AuditEmittedTotal.WithLabelValues(sink).Inc()
}

// ObserveReport records one captured error report.
func (m *Metrics) ObserveReport(source string) {
	m.ReportsTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}
