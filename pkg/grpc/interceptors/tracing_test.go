package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prevProvider, prevPropagator := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return recorder
}

func TestTracingUnaryInterceptor_SpanStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want otelcodes.Code
	}{
		{"ok", nil, otelcodes.Ok},
		{"unsafe trim", status.Error(codes.FailedPrecondition, "beyond safe point"), otelcodes.Unset},
		{"engine down", status.Error(codes.Unavailable, "trim failed"), otelcodes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := recordSpans(t)
			_, _ = TracingUnaryInterceptor()(context.Background(), nil, unaryInfo(trimMethod), reply(tt.err))

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, trimMethod, spans[0].Name())
			assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
			assert.Equal(t, tt.want, spans[0].Status().Code)
			assert.Contains(t, spans[0].Attributes(), attribute.String("rpc.method", "TrimLog"))
		})
	}
}

func TestTracingUnaryInterceptor_ContinuesIncomingTrace(t *testing.T) {
	recorder := recordSpans(t)

	parentCtx, parent := otel.Tracer("test").Start(context.Background(), "caller")
	md := metadata.MD{}
	otel.GetTextMapPropagator().Inject(parentCtx, metadataCarrier(md))
	parent.End()

	var outgoing metadata.MD
	ctx := metadata.NewIncomingContext(context.Background(), md)
	_, err := TracingUnaryInterceptor()(ctx, nil, unaryInfo(stateMethod), func(ctx context.Context, _ interface{}) (interface{}, error) {
		outgoing, _ = metadata.FromOutgoingContext(ctx)
		return nil, nil
	})
	require.NoError(t, err)

	var server trace.SpanContext
	for _, s := range recorder.Ended() {
		if s.Name() == stateMethod {
			server = s.SpanContext()
			assert.Equal(t, parent.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
	require.True(t, server.IsValid())
	assert.Equal(t, parent.SpanContext().TraceID(), server.TraceID())
	assert.NotEmpty(t, outgoing.Get("traceparent"), "handler calls stay in the trace")
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/clusterctl.v1.ClusterCtrl/Heartbeat", "clusterctl.v1.ClusterCtrl", "Heartbeat"},
		{"/grpc.health.v1.Health/Check", "grpc.health.v1.Health", "Check"},
		{"bogus", "bogus", "unknown"},
		{"", "unknown", "unknown"},
	}
	for _, tt := range tests {
		service, method := splitMethod(tt.in)
		assert.Equal(t, tt.service, service, tt.in)
		assert.Equal(t, tt.method, method, tt.in)
	}
}
