package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/goclaw/clusterctl/config"
)

type failingExporter struct {
	exportCalls int
}

func (f *failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	f.exportCalls++
	return errors.New("collector unavailable")
}

func (f *failingExporter) Shutdown(context.Context) error { return nil }

type blockingShutdownExporter struct{}

func (blockingShutdownExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

func (blockingShutdownExporter) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

var testService = Service{Name: "clusterctl", Version: "test", Environment: "staging", InstanceID: "ctl-1", Partitions: 8}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:    true,
		Exporter:   "otlp",
		Endpoint:   "localhost:4317",
		Timeout:    time.Second,
		Sampler:    "always_on",
		SampleRate: 1,
	}
}

// useExporter swaps the OTLP exporter factory for the test and restores the
// global tracer provider afterwards.
func useExporter(t *testing.T, exp sdktrace.SpanExporter) {
	t.Helper()
	origFactory := newOTLPExporter
	origProvider := otel.GetTracerProvider()
	t.Cleanup(func() {
		newOTLPExporter = origFactory
		otel.SetTracerProvider(origProvider)
	})
	newOTLPExporter = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		if exp == nil {
			t.Fatal("exporter factory should not be called")
		}
		return exp, nil
	}
}

func TestInit_DisabledInstallsNoop(t *testing.T) {
	useExporter(t, nil)

	shutdown, err := Init(context.Background(), config.TracingConfig{}, testService)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("disabled tracing should not record spans")
	}
}

func TestInit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.TracingConfig)
		want   string
	}{
		{"missing exporter", func(c *config.TracingConfig) { c.Exporter = " " }, "exporter"},
		{"missing endpoint", func(c *config.TracingConfig) { c.Endpoint = "" }, "endpoint"},
		{"zero timeout", func(c *config.TracingConfig) { c.Timeout = 0 }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			tt.mutate(&cfg)
			_, err := Init(context.Background(), cfg, testService)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Init() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestInit_ResourceDescribesController(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	useExporter(t, exp)

	shutdown, err := Init(context.Background(), enabledConfig(), testService)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "trim")
	span.End()

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("provider is %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"service.name":                "clusterctl",
		"service.version":             "test",
		"service.instance.id":         "ctl-1",
		"deployment.environment.name": "staging",
		"clusterctl.partitions":       "8",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("resource %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestInit_ExporterFailureIsContained(t *testing.T) {
	exp := &failingExporter{}
	useExporter(t, exp)

	origReporter := reportExporterFailure
	t.Cleanup(func() { reportExporterFailure = origReporter })
	var reported uint64
	reportExporterFailure = func(err error, endpoint string, spans int, failures uint64) {
		if err == nil || endpoint != "localhost:4317" || spans <= 0 {
			t.Errorf("unexpected report: %v %q %d", err, endpoint, spans)
		}
		reported = failures
	}

	shutdown, err := Init(context.Background(), enabledConfig(), testService)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "heartbeat")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() should not fail when the collector is down: %v", err)
	}
	if exp.exportCalls == 0 || reported == 0 {
		t.Fatalf("exportCalls = %d, reported failures = %d", exp.exportCalls, reported)
	}
}

func TestShutdown_TimeoutIsBounded(t *testing.T) {
	useExporter(t, blockingShutdownExporter{})

	shutdown, err := Init(context.Background(), enabledConfig(), testService)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := shutdown(ctx); err == nil {
		t.Fatal("expected shutdown to report the timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown took %v", elapsed)
	}
}

func TestSelectSampler(t *testing.T) {
	tests := map[string]string{
		"always_on":  "AlwaysOnSampler",
		"always_off": "AlwaysOffSampler",
		"ratio":      "ParentBased",
		"":           "ParentBased",
	}
	for sampler, want := range tests {
		got := selectSampler(config.TracingConfig{Sampler: sampler, SampleRate: 0.25}).Description()
		if !strings.Contains(got, want) {
			t.Errorf("selectSampler(%q) = %s, want %s", sampler, got, want)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"localhost:4317":                  "localhost:4317",
		" collector:4317 ":                "collector:4317",
		"http://localhost:4317/v1/traces": "localhost:4317",
		"https://otel.internal:443":       "otel.internal:443",
		"":                                "",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
