package observability

import (
	"context"
	"multimodal/internal/apperrors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all gateway metrics implementing the golden 4 signals:
// - Latency: How long requests, jobs and provider calls take
// - Traffic: Request/job/provider call throughput
// - Errors: Rate of failures
// - Saturation: Queued and running jobs, dispatcher queue size
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics (Latency, Traffic, Errors, Saturation)
	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsQueued     metric.Int64UpDownCounter
	JobsActive     metric.Int64UpDownCounter

	// Adapter metrics (Latency, Traffic, Errors)
	AdapterDuration      metric.Float64Histogram
	AdapterCallsTotal    metric.Int64Counter
	AdapterFailuresTotal metric.Int64Counter

	// Dispatcher metrics (Errors, Saturation)
	DispatcherDropped   metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge

	// Callback metrics (Traffic, Errors)
	CallbacksTotal metric.Int64Counter
}

// NewMetrics creates all metrics on a Prometheus exporter backed by its own
// registry. The returned handler serves only that registry.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("multimodal")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Job metrics
	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Pipeline execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of jobs created"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Total number of failed jobs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsQueued, err = meter.Int64UpDownCounter(
		"jobs_queued",
		metric.WithDescription("Number of jobs waiting for a worker (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of currently running jobs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Adapter metrics
	m.AdapterDuration, err = meter.Float64Histogram(
		"adapter_call_duration_seconds",
		metric.WithDescription("Provider call latency per adapter in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AdapterCallsTotal, err = meter.Int64Counter(
		"adapter_calls_total",
		metric.WithDescription("Total number of adapter invocations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AdapterFailuresTotal, err = meter.Int64Counter(
		"adapter_failures_total",
		metric.WithDescription("Total number of failed adapter invocations by failure kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatcher metrics
	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total jobs refused because the dispatch buffer was full"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of jobs in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Callback metrics
	m.CallbacksTotal, err = meter.Int64Counter(
		"callbacks_total",
		metric.WithDescription("Total completion callbacks by event type and outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobCreated records a new job being accepted.
func (m *Metrics) RecordJobCreated(ctx context.Context, pipeline string) {
	attrs := metric.WithAttributes(pipelineAttr(pipeline))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsQueued.Add(ctx, 1, attrs)
}

// RecordDispatchRejected records a created job that never reached a worker.
func (m *Metrics) RecordDispatchRejected(ctx context.Context, pipeline string) {
	m.JobsQueued.Add(ctx, -1, metric.WithAttributes(pipelineAttr(pipeline)))
	m.JobErrorsTotal.Add(ctx, 1, metric.WithAttributes(pipelineAttr(pipeline), successAttr(false)))
}

// RecordJobStarted records a queued job moving to running.
func (m *Metrics) RecordJobStarted(ctx context.Context, pipeline string) {
	attrs := metric.WithAttributes(pipelineAttr(pipeline))
	m.JobsQueued.Add(ctx, -1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordJobCompleted records a job completing (success or failure).
func (m *Metrics) RecordJobCompleted(ctx context.Context, pipeline string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(pipelineAttr(pipeline), successAttr(success))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(pipelineAttr(pipeline)))

	if !success {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordAdapterCall records one adapter invocation. Failures are labeled with
// their failure kind.
func (m *Metrics) RecordAdapterCall(ctx context.Context, adapter string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(adapterAttr(adapter), successAttr(err == nil))
	m.AdapterDuration.Record(ctx, duration.Seconds(), attrs)
	m.AdapterCallsTotal.Add(ctx, 1, attrs)

	if err != nil {
		m.AdapterFailuresTotal.Add(ctx, 1, metric.WithAttributes(adapterAttr(adapter), kindAttr(apperrors.Kind(err))))
	}
}

// RecordDispatcherDropped records a job refused by a full dispatcher.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}

// RecordCallback records a completion callback outcome.
func (m *Metrics) RecordCallback(ctx context.Context, eventType string, success bool) {
	m.CallbacksTotal.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType), successAttr(success)))
}
