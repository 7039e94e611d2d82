package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Config holds metrics configuration.
type Config struct {
	// EnableRuleLabel controls whether rule names appear as a metric
	// label. Disable it if the rule set is large or dynamically
	// generated, since an unbounded rule-name label is a cardinality risk.
	EnableRuleLabel bool
}

// Metrics holds all application metrics: the diagnostic HTTP surface's
// own request metrics, plus one family per pipeline stage (review,
// codec, router, response processor), grounded on the teacher's
// HTTP/S3/encryption/KMS families in internal/metrics/metrics.go,
// repurposed to the memo pipeline's stages.
type Metrics struct {
	config Config

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestBytes    *prometheus.CounterVec

	memosReviewedTotal   *prometheus.CounterVec
	memoReviewDuration   *prometheus.HistogramVec
	decodeErrorsTotal    *prometheus.CounterVec

	codecOperationsTotal *prometheus.CounterVec
	codecDuration        *prometheus.HistogramVec
	codecErrorsTotal     *prometheus.CounterVec
	codecBytesTotal      *prometheus.CounterVec

	responseSubmissionsTotal *prometheus.CounterVec
	rereviewRetriesTotal     *prometheus.CounterVec
	rotatedKeyVersionReads   *prometheus.CounterVec

	routerPendingResponses prometheus.Gauge
	routerPendingRereviews prometheus.Gauge
	groupTableSize         prometheus.Gauge

	activeConnections prometheus.Gauge
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
	memorySysBytes    prometheus.Gauge
}

// NewMetrics creates a new metrics instance with default configuration.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableRuleLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom registry.
// This is useful for testing to avoid metric registration conflicts.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableRuleLabel: true})
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of diagnostic HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Diagnostic HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_bytes_total",
				Help: "Total bytes transferred in diagnostic HTTP requests",
			},
			[]string{"method", "path"},
		),
		memosReviewedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memos_reviewed_total",
				Help: "Total number of transactions run through the reviewer",
			},
			[]string{"rule", "processed"},
		),
		memoReviewDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memo_review_duration_seconds",
				Help:    "Reviewer verdict latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rule"},
		),
		decodeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memo_decode_errors_total",
				Help: "Total number of group decode failures, by error kind",
			},
			[]string{"kind"},
		),
		codecOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codec_operations_total",
				Help: "Total number of memo codec operations",
			},
			[]string{"operation"}, // "encode" or "decode"
		),
		codecDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codec_operation_duration_seconds",
				Help:    "Memo codec operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),
		codecErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codec_operation_errors_total",
				Help: "Total number of memo codec errors",
			},
			[]string{"operation", "error_type"},
		),
		codecBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codec_bytes_total",
				Help: "Total plaintext bytes encoded/decoded",
			},
			[]string{"operation"},
		),
		responseSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "response_submissions_total",
				Help: "Total number of response submissions, by response pattern and outcome",
			},
			[]string{"pattern", "outcome"},
		),
		rereviewRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rereview_retries_total",
				Help: "Total number of re-review poll outcomes",
			},
			[]string{"outcome"}, // "found", "retried", "abandoned"
		),
		rotatedKeyVersionReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystore_rotated_unwraps_total",
				Help: "Total number of channel-key unwraps using a non-active key version",
			},
			[]string{"key_version", "active_version"},
		),
		routerPendingResponses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "router_pending_responses",
				Help: "Number of requests awaiting a generated response",
			},
		),
		routerPendingRereviews: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "router_pending_rereviews",
				Help: "Number of confirmed responses awaiting persistence confirmation",
			},
		),
		groupTableSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "group_assembler_pending_groups",
				Help: "Number of fragment groups currently pending completion",
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of active HTTP connections",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// RecordHTTPRequest records a diagnostic HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, bytes int64) {
	label := sanitizePathLabel(path)
	labels := prometheus.Labels{"method": method, "path": label, "status": http.StatusText(status)}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.httpRequestsTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.httpRequestsTotal.With(labels).Inc()
		}

		if observer, ok := m.httpRequestDuration.With(labels).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.httpRequestDuration.With(labels).Observe(duration.Seconds())
		}
	} else {
		m.httpRequestsTotal.With(labels).Inc()
		m.httpRequestDuration.With(labels).Observe(duration.Seconds())
	}

	m.httpRequestBytes.WithLabelValues(method, label).Add(float64(bytes))
}

// sanitizePathLabel reduces high-cardinality paths to stable labels.
// Examples:
// "/metrics" => "/metrics"
// "/review/hash123" => "/review/*"
func sanitizePathLabel(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) <= 1 {
		return "/" + segs[0]
	}
	return "/" + segs[0] + "/*"
}

// RecordReview records one reviewer verdict.
func (m *Metrics) RecordReview(ctx context.Context, rule string, processed bool, duration time.Duration) {
	ruleLabel := rule
	if !m.config.EnableRuleLabel {
		ruleLabel = "*"
	}
	labels := prometheus.Labels{"rule": ruleLabel, "processed": strconv.FormatBool(processed)}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.memosReviewedTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.memosReviewedTotal.With(labels).Inc()
		}
	} else {
		m.memosReviewedTotal.With(labels).Inc()
	}
	m.memoReviewDuration.WithLabelValues(ruleLabel).Observe(duration.Seconds())
}

// RecordDecodeError records a group decode failure, by error kind
// ("group_assembly", "compression", "fatal").
func (m *Metrics) RecordDecodeError(kind string) {
	m.decodeErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordCodecOperation records an encode/decode pipeline operation.
func (m *Metrics) RecordCodecOperation(ctx context.Context, operation string, duration time.Duration, bytes int) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.codecOperationsTotal.WithLabelValues(operation).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.codecOperationsTotal.WithLabelValues(operation).Inc()
		}

		if observer, ok := m.codecDuration.WithLabelValues(operation).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.codecDuration.WithLabelValues(operation).Observe(duration.Seconds())
		}
	} else {
		m.codecOperationsTotal.WithLabelValues(operation).Inc()
		m.codecDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	m.codecBytesTotal.WithLabelValues(operation).Add(float64(bytes))
}

// RecordCodecError records a codec operation error.
func (m *Metrics) RecordCodecError(operation, errorType string) {
	m.codecErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordResponseSubmission records a response processor's submission
// outcome for a response pattern's queue.
func (m *Metrics) RecordResponseSubmission(pattern string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.responseSubmissionsTotal.WithLabelValues(pattern, outcome).Inc()
}

// RecordRereviewOutcome records one re-review poll's outcome:
// "found" (response persisted), "retried" (rescheduled), or "abandoned"
// (MaxRetryCount exceeded).
func (m *Metrics) RecordRereviewOutcome(outcome string) {
	m.rereviewRetriesTotal.WithLabelValues(outcome).Inc()
}

// RecordRotatedKeyVersionUnwrap records a channel-key unwrap using a
// non-active KeyManager key version.
func (m *Metrics) RecordRotatedKeyVersionUnwrap(keyVersion, activeVersion int) {
	m.rotatedKeyVersionReads.WithLabelValues(strconv.Itoa(keyVersion), strconv.Itoa(activeVersion)).Inc()
}

// SetRouterPendingResponses sets the router's current pending-response count.
func (m *Metrics) SetRouterPendingResponses(n int) {
	m.routerPendingResponses.Set(float64(n))
}

// SetRouterPendingRereviews sets the router's current pending-rereview count.
func (m *Metrics) SetRouterPendingRereviews(n int) {
	m.routerPendingRereviews.Set(float64(n))
}

// SetGroupTableSize sets the group assembler's current pending-group count.
func (m *Metrics) SetGroupTableSize(n int) {
	m.groupTableSize.Set(float64(n))
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// IncrementActiveConnections increments the active connections counter.
func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Inc()
}

// DecrementActiveConnections decrements the active connections counter.
func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Dec()
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts trace ID from context and returns prometheus Labels for exemplar.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
