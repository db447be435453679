package compassone

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exposes Prometheus metrics for the invocation lifecycle
// and reliability layers. Attempt outcomes carry no credential material,
// only classification and counts. Safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	attemptsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec

	credentialRefreshes *prometheus.CounterVec
	credentialRotations *prometheus.CounterVec

	rateLimiterTokens   prometheus.Gauge
	circuitBreakerState prometheus.Gauge
	retryBudgetExceeded *prometheus.CounterVec

	bulkItemsTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, for isolated registries in tests or multi-client processes.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_requests_total",
				Help: "Total number of API invocations",
			},
			[]string{"operation", "status_code"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compassone_request_duration_seconds",
				Help:    "Duration of API invocations in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "status_code"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "compassone_requests_in_flight",
				Help: "Number of API invocations currently in flight",
			},
			[]string{"operation"},
		),
		attemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_attempts_total",
				Help: "Attempt outcomes (success, retry, auth_retry, exhausted, failure)",
			},
			[]string{"operation", "outcome"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"operation", "attempt"},
		),
		credentialRefreshes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_credential_refreshes_total",
				Help: "Credential fetches from the secret store by outcome",
			},
			[]string{"outcome"},
		),
		credentialRotations: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_credential_rotations_total",
				Help: "Credential rotations by outcome",
			},
			[]string{"outcome"},
		),
		rateLimiterTokens: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "compassone_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
		),
		circuitBreakerState: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "compassone_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		retryBudgetExceeded: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_retry_budget_exceeded_total",
				Help: "Times the retry budget denied a retry",
			},
			[]string{"operation"},
		),
		bulkItemsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_bulk_items_total",
				Help: "Bulk invocation items by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "compassone_errors_total",
				Help: "Errors by classification",
			},
			[]string{"type", "operation"},
		),
	}
}

// RecordRequest records invocation count and duration.
func (mc *MetricsCollector) RecordRequest(operation string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(operation, code).Inc()
	mc.requestDuration.WithLabelValues(operation, code).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(operation string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(operation).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(operation string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(operation).Dec()
}

// RecordAttempt records one attempt outcome.
func (mc *MetricsCollector) RecordAttempt(operation, outcome string) {
	if mc == nil {
		return
	}
	mc.attemptsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRetry records a scheduled retry.
func (mc *MetricsCollector) RecordRetry(operation string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// RecordCredentialRefresh records a secret-store fetch outcome.
func (mc *MetricsCollector) RecordCredentialRefresh(outcome string) {
	if mc == nil {
		return
	}
	mc.credentialRefreshes.WithLabelValues(outcome).Inc()
}

// RecordCredentialRotation records a rotation outcome.
func (mc *MetricsCollector) RecordCredentialRotation(outcome string) {
	if mc == nil {
		return
	}
	mc.credentialRotations.WithLabelValues(outcome).Inc()
}

// RecordRateLimiterTokens records the current token count.
func (mc *MetricsCollector) RecordRateLimiterTokens(tokens int) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.Set(float64(tokens))
}

// RecordCircuitBreakerState records the current breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.Set(float64(state))
}

// RecordRetryBudgetExceeded records a budget denial.
func (mc *MetricsCollector) RecordRetryBudgetExceeded(operation string) {
	if mc == nil {
		return
	}
	mc.retryBudgetExceeded.WithLabelValues(operation).Inc()
}

// RecordBulkItem records one bulk item outcome.
func (mc *MetricsCollector) RecordBulkItem(outcome string) {
	if mc == nil {
		return
	}
	mc.bulkItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordError records a classified error.
func (mc *MetricsCollector) RecordError(errType, operation string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errType, operation).Inc()
}
