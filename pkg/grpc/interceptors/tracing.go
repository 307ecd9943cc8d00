package interceptors

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const tracerName = "clusterctl.grpc"

// TracingUnaryInterceptor starts a server span per call, continuing the
// trace found in the incoming metadata. The span context is also placed in
// the outgoing metadata so calls made by the handler stay in the trace.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span := startSpan(ctx, info.FullMethod, trace.SpanKindServer)
		defer span.End()

		resp, err := handler(propagateTrace(ctx), req)
		endSpan(span, err)
		return resp, err
	}
}

// TracingStreamInterceptor is TracingUnaryInterceptor for streams. The span
// covers the stream's whole lifetime.
func TracingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := startSpan(ss.Context(), info.FullMethod, trace.SpanKindServer)
		defer span.End()

		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: propagateTrace(ctx)})
		endSpan(span, err)
		return err
	}
}

// TracingClientUnaryInterceptor starts a client span and sends it along in
// the outgoing metadata.
func TracingClientUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, span := otel.Tracer(tracerName).Start(ctx, method, trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(rpcAttributes(method)...)

		err := invoker(propagateTrace(ctx), method, req, reply, cc, opts...)
		endSpan(span, err)
		return err
	}
}

// TracingClientStreamInterceptor sends the caller's trace context when a
// stream is opened.
func TracingClientStreamInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(propagateTrace(ctx), desc, cc, method, opts...)
	}
}

func startSpan(ctx context.Context, method string, kind trace.SpanKind) (context.Context, trace.Span) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
	ctx, span := otel.Tracer(tracerName).Start(ctx, method, trace.WithSpanKind(kind))
	span.SetAttributes(rpcAttributes(method)...)
	return ctx, span
}

// propagateTrace writes the span context of ctx into its outgoing metadata,
// keeping whatever outgoing metadata is already there.
func propagateTrace(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier(md))
	return metadata.NewOutgoingContext(ctx, md)
}

// endSpan records the call's status code. Only faults on the server side
// mark the span as failed; an unsafe trim or a stale report is a normal
// answer.
func endSpan(span trace.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(attribute.Int("rpc.grpc.status_code", int(code)))
	switch code {
	case codes.OK:
		span.SetStatus(otelcodes.Ok, "")
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable, codes.DeadlineExceeded:
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, code.String())
	default:
		span.AddEvent("rpc rejected", trace.WithAttributes(attribute.String("rpc.grpc.status", code.String())))
	}
}

func rpcAttributes(fullMethod string) []attribute.KeyValue {
	service, method := splitMethod(fullMethod)
	return []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
}

func splitMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		if service == "" {
			service = "unknown"
		}
		return service, "unknown"
	}
	return service, method
}

// metadataCarrier adapts gRPC metadata to the otel propagator.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}
