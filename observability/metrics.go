package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type vaultMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	volume     *prometheus.CounterVec
	partials   *prometheus.CounterVec

	// OTLP counterparts, exported when telemetry metrics are enabled.
	opCounter    metric.Int64Counter
	opDuration   metric.Float64Histogram
	partialsOTel metric.Int64Counter
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *vaultMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Vault returns the lazily-initialised registry for engine operations.
func Vault() *vaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &vaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "amount_total",
				Help:      "Sum of successfully processed amounts per operation, in base units.",
			}, []string{"operation"}),
			partials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "partial_settlements_total",
				Help:      "Settlements left partially applied and awaiting reconciliation.",
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.volume,
			vaultRegistry.partials,
		)
		vaultRegistry.initMeter()
	})
	return vaultRegistry
}

func (m *vaultMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("vaultledger/vault")
	fallback := noop.NewMeterProvider().Meter("vaultledger/vault")

	counter, err := meter.Int64Counter("vault.operations")
	if err != nil {
		counter, _ = fallback.Int64Counter("vault.operations")
	}
	duration, err := meter.Float64Histogram("vault.operation.duration", metric.WithUnit("s"))
	if err != nil {
		duration, _ = fallback.Float64Histogram("vault.operation.duration")
	}
	partials, err := meter.Int64Counter("vault.partial_settlements")
	if err != nil {
		partials, _ = fallback.Int64Counter("vault.partial_settlements")
	}
	m.opCounter = counter
	m.opDuration = duration
	m.partialsOTel = partials
}

// Observe records one engine call. A zero amount skips the volume counter.
func (m *vaultMetrics) Observe(operation string, amount uint64, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
	if err == nil && amount > 0 {
		m.volume.WithLabelValues(operation).Add(float64(amount))
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.opCounter.Add(context.Background(), 1, attrs)
	m.opDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordPartial counts a settlement that needs manual reconciliation.
func (m *vaultMetrics) RecordPartial(operation string) {
	if m == nil {
		return
	}
	m.partials.WithLabelValues(operation).Inc()
	m.partialsOTel.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// HTTP returns the registry used by the vaultd middleware.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "HTTP errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vault",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
