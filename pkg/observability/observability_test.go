package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopManagerIsSafe(t *testing.T) {
	m := NoopManager()
	tracer := m.GetTracer("test")
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
}

func TestZeroMetricsAreSafe(t *testing.T) {
	var m *PrometheusMetrics
	ctx := context.Background()

	m.RecordIngest(ctx, "SLACK_CONNECTOR", 1, 0, nil)
	m.RecordRetrieval(ctx, time.Second, 2, nil)
	m.RecordLLMCall(ctx, "gpt-4o", time.Second, 10, 20, nil)
	m.RecordToolExecution(ctx, "search_knowledge_base", time.Second, nil)
	m.RecordJob(ctx, "podcast", time.Second, nil)
	m.AddQueueDepth(ctx, 1)

	empty := &PrometheusMetrics{}
	empty.RecordIngest(ctx, "SLACK_CONNECTOR", 1, 1, nil)
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := InitGlobalTracer(context.Background(), TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitGlobalTracer: %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "span")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracer produced a recording span")
	}
	span.End()
}

func TestDisabledMetrics(t *testing.T) {
	m, err := InitMetrics(context.Background(), MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	// Zero-value recorder must accept records without panicking.
	m.RecordIngest(context.Background(), "NOTION_CONNECTOR", 3, 1, nil)
}

func TestTracerConfigValidate(t *testing.T) {
	cfg := TracerConfig{Enabled: true, ExporterType: "jaeger"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported exporter")
	}

	cfg = TracerConfig{Enabled: true, ExporterType: "stdout", SamplingRate: 0.5}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	cfg.SetDefaults()
	if cfg.ServiceName != "lore" {
		t.Errorf("ServiceName default = %q, want lore", cfg.ServiceName)
	}
}
