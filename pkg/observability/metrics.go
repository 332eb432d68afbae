package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

func (c *MetricsConfig) SetDefaults() {}

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics is what the pipeline records. A zero *PrometheusMetrics is a safe
// no-op, so callers never nil-check.
type Metrics interface {
	RecordIngest(ctx context.Context, source string, indexed, skipped int, err error)
	RecordRetrieval(ctx context.Context, duration time.Duration, sources int, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordJob(ctx context.Context, kind string, duration time.Duration, err error)
	AddQueueDepth(ctx context.Context, delta int64)
}

type PrometheusMetrics struct {
	documentsIndexed  metric.Int64Counter
	documentsSkipped  metric.Int64Counter
	ingestFailures    metric.Int64Counter
	retrievalDuration metric.Float64Histogram
	retrievalErrors   metric.Int64Counter
	llmDuration       metric.Float64Histogram
	llmInputTokens    metric.Int64Counter
	llmOutputTokens   metric.Int64Counter
	llmErrors         metric.Int64Counter
	toolDuration      metric.Float64Histogram
	toolCalls         metric.Int64Counter
	toolErrors        metric.Int64Counter
	jobDuration       metric.Float64Histogram
	jobsProcessed     metric.Int64Counter
	jobFailures       metric.Int64Counter
	queueDepth        metric.Int64UpDownCounter
}

// InitMetrics builds the OpenTelemetry meter backed by the Prometheus
// exporter. The exporter registers with the default Prometheus registry,
// which pkg/server exposes on /metrics.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	).Meter("lore")

	m := &PrometheusMetrics{}

	if m.documentsIndexed, err = meter.Int64Counter(
		"lore_documents_indexed_total",
		metric.WithDescription("Documents ingested or updated"),
	); err != nil {
		return nil, err
	}
	if m.documentsSkipped, err = meter.Int64Counter(
		"lore_documents_skipped_total",
		metric.WithDescription("Documents skipped as duplicates"),
	); err != nil {
		return nil, err
	}
	if m.ingestFailures, err = meter.Int64Counter(
		"lore_ingest_failures_total",
		metric.WithDescription("Per-item ingestion failures"),
	); err != nil {
		return nil, err
	}
	if m.retrievalDuration, err = meter.Float64Histogram(
		"lore_retrieval_duration_seconds",
		metric.WithDescription("Hybrid retrieval fan-out duration"),
	); err != nil {
		return nil, err
	}
	if m.retrievalErrors, err = meter.Int64Counter(
		"lore_retrieval_errors_total",
		metric.WithDescription("Failed retrieval calls"),
	); err != nil {
		return nil, err
	}
	if m.llmDuration, err = meter.Float64Histogram(
		"lore_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration"),
	); err != nil {
		return nil, err
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"lore_llm_tokens_input_total",
		metric.WithDescription("Input tokens sent to LLM providers"),
	); err != nil {
		return nil, err
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"lore_llm_tokens_output_total",
		metric.WithDescription("Output tokens from LLM providers"),
	); err != nil {
		return nil, err
	}
	if m.llmErrors, err = meter.Int64Counter(
		"lore_llm_errors_total",
		metric.WithDescription("Failed LLM requests"),
	); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"lore_tool_execution_duration_seconds",
		metric.WithDescription("Agent tool execution duration"),
	); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter(
		"lore_tool_calls_total",
		metric.WithDescription("Agent tool calls"),
	); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter(
		"lore_tool_errors_total",
		metric.WithDescription("Failed agent tool calls"),
	); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram(
		"lore_job_duration_seconds",
		metric.WithDescription("Background job duration"),
	); err != nil {
		return nil, err
	}
	if m.jobsProcessed, err = meter.Int64Counter(
		"lore_jobs_processed_total",
		metric.WithDescription("Background jobs processed"),
	); err != nil {
		return nil, err
	}
	if m.jobFailures, err = meter.Int64Counter(
		"lore_job_failures_total",
		metric.WithDescription("Background jobs that failed"),
	); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64UpDownCounter(
		"lore_job_queue_depth",
		metric.WithDescription("Jobs waiting or running"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordIngest(ctx context.Context, source string, indexed, skipped int, err error) {
	if m == nil || m.documentsIndexed == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	if indexed > 0 {
		m.documentsIndexed.Add(ctx, int64(indexed), attrs)
	}
	if skipped > 0 {
		m.documentsSkipped.Add(ctx, int64(skipped), attrs)
	}
	if err != nil {
		m.ingestFailures.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, duration time.Duration, sources int, err error) {
	if m == nil || m.retrievalDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("sources", sources))
	m.retrievalDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.retrievalErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordJob(ctx context.Context, kind string, duration time.Duration, err error) {
	if m == nil || m.jobDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.jobDuration.Record(ctx, duration.Seconds(), attrs)
	m.jobsProcessed.Add(ctx, 1, attrs)
	if err != nil {
		m.jobFailures.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) AddQueueDepth(ctx context.Context, delta int64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Add(ctx, delta)
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process recorder, or a no-op when metrics
// were never initialized.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return &PrometheusMetrics{}
	}
	return globalMetrics
}
