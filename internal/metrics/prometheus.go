package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the balance reconciler
type PrometheusMetrics struct {
	// Reconciliation metrics
	RunsTotal             *prometheus.CounterVec
	RunDuration           prometheus.Histogram
	RunInProgress         prometheus.Gauge
	OutcomesTotal         *prometheus.CounterVec
	DiscrepancyMagnitude  *prometheus.HistogramVec
	AppBalanceCorrections prometheus.Counter
	LastRunTimestamp      prometheus.Gauge

	// Ledger metrics
	LedgerLookupsTotal    *prometheus.CounterVec
	LedgerLookupDuration  prometheus.Histogram
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec
	BreakerState          prometheus.Gauge

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Reconciliation metrics
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_runs_total",
				Help: "Total number of reconciliation runs",
			},
			[]string{"trigger", "result"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconciler_run_duration_seconds",
				Help:    "Duration of complete reconciliation runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		RunInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_run_in_progress",
				Help: "1 while a reconciliation run holds the run lock",
			},
		),

		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_account_outcomes_total",
				Help: "Total number of account outcomes by status",
			},
			[]string{"status"},
		),

		DiscrepancyMagnitude: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_discrepancy_magnitude",
				Help:    "Absolute discrepancy between chain and recorded balance, in native units",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 10, 100},
			},
			[]string{"status"},
		),

		AppBalanceCorrections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconciler_app_balance_corrections_total",
				Help: "Total number of user balance rows rewritten by synchronization",
			},
		),

		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_last_run_timestamp_seconds",
				Help: "Unix time the last reconciliation run finished",
			},
		),

		// Ledger metrics
		LedgerLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_ledger_lookups_total",
				Help: "Total number of ledger balance lookups by result",
			},
			[]string{"result"},
		),

		LedgerLookupDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconciler_ledger_lookup_duration_seconds",
				Help:    "Duration of ledger balance lookups",
				Buckets: prometheus.DefBuckets,
			},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsk_connection_errors_total",
				Help: "Total number of connection errors to RSK nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsk_rpc_requests_total",
				Help: "Total number of RPC requests made to RSK nodes",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rsk_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to RSK nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_ledger_breaker_state",
				Help: "Ledger circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),

		// Storage metrics
		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		// Notification metrics
		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_notifications_sent_total",
				Help: "Total number of alerts delivered",
			},
			[]string{"channel"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_notification_failures_total",
				Help: "Total number of alerts that could not be delivered",
			},
			[]string{"channel"},
		),

		// API metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reconciler_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciler_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordRun records a finished reconciliation run
func (m *PrometheusMetrics) RecordRun(trigger, result string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(trigger, result).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
}

// SetRunInProgress toggles the run-in-progress gauge
func (m *PrometheusMetrics) SetRunInProgress(running bool) {
	if running {
		m.RunInProgress.Set(1)
		return
	}
	m.RunInProgress.Set(0)
}

// RecordOutcome records one account outcome and its discrepancy size
func (m *PrometheusMetrics) RecordOutcome(status string, absoluteDiscrepancy float64) {
	m.OutcomesTotal.WithLabelValues(status).Inc()
	m.DiscrepancyMagnitude.WithLabelValues(status).Observe(absoluteDiscrepancy)
}

// RecordAppBalanceCorrection records one synchronized user balance
func (m *PrometheusMetrics) RecordAppBalanceCorrection() {
	m.AppBalanceCorrections.Inc()
}

// RecordLedgerLookup records a ledger balance lookup
func (m *PrometheusMetrics) RecordLedgerLookup(result string, duration time.Duration) {
	m.LedgerLookupsTotal.WithLabelValues(result).Inc()
	m.LedgerLookupDuration.Observe(duration.Seconds())
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// UpdateBreakerState records the ledger circuit breaker state
func (m *PrometheusMetrics) UpdateBreakerState(state int) {
	m.BreakerState.Set(float64(state))
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a delivered alert
func (m *PrometheusMetrics) RecordNotificationSent(channel string) {
	m.NotificationsSentTotal.WithLabelValues(channel).Inc()
}

// RecordNotificationFailure records an alert that could not be delivered
func (m *PrometheusMetrics) RecordNotificationFailure(channel string) {
	m.NotificationFailuresTotal.WithLabelValues(channel).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
