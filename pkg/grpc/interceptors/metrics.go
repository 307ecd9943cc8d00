package interceptors

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Metrics holds the Prometheus collectors of the gRPC surface.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	inflight       *prometheus.GaugeVec
	rejections     *prometheus.CounterVec
	streamMessages *prometheus.CounterVec
}

// NewMetrics creates gRPC metrics on registerer. A nil registerer keeps the
// collectors on a private registry. Collectors already present on the
// registerer are reused so that several servers can share one registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	return &Metrics{
		requests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterctl_grpc_requests_total",
			Help: "gRPC calls handled, by method and status code.",
		}, []string{"method", "status"})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clusterctl_grpc_request_duration_seconds",
			Help:    "gRPC call latency. Streams are observed when they end.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"})),
		inflight: register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clusterctl_grpc_in_flight",
			Help: "gRPC calls and streams currently being served.",
		}, []string{"method"})),
		rejections: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterctl_grpc_rejections_total",
			Help: "Calls refused by a cluster safety check, such as an unsafe trim or an ambiguous leader.",
		}, []string{"method", "reason"})),
		streamMessages: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterctl_grpc_stream_messages_total",
			Help: "Messages exchanged on gRPC streams, by direction.",
		}, []string{"method", "direction"})),
	}
}

// MetricsUnaryInterceptor collects metrics for unary RPCs.
func MetricsUnaryInterceptor(metrics *Metrics) grpc.UnaryServerInterceptor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		done := metrics.begin(info.FullMethod)
		resp, err := handler(ctx, req)
		done(err)
		return resp, err
	}
}

// MetricsStreamInterceptor collects metrics for streaming RPCs.
func MetricsStreamInterceptor(metrics *Metrics) grpc.StreamServerInterceptor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		done := metrics.begin(info.FullMethod)
		wrapped := &metricsServerStream{ServerStream: ss}
		err := handler(srv, wrapped)
		metrics.streamMessages.WithLabelValues(info.FullMethod, "recv").Add(float64(wrapped.recv))
		metrics.streamMessages.WithLabelValues(info.FullMethod, "sent").Add(float64(wrapped.sent))
		done(err)
		return err
	}
}

// begin marks a call in flight and returns the func that records its end.
func (m *Metrics) begin(method string) func(error) {
	start := time.Now()
	inflight := m.inflight.WithLabelValues(method)
	inflight.Inc()

	return func(err error) {
		inflight.Dec()
		code := status.Code(err)
		m.requests.WithLabelValues(method, code.String()).Inc()
		m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if reason := rejectionReason(code); reason != "" {
			m.rejections.WithLabelValues(method, reason).Inc()
		}
	}
}

func rejectionReason(code codes.Code) string {
	switch code {
	case codes.FailedPrecondition:
		return "unsafe_trim"
	case codes.Aborted:
		return "leadership_ambiguous"
	case codes.PermissionDenied:
		return "forbidden"
	case codes.ResourceExhausted:
		return "rate_limited"
	}
	return ""
}

type metricsServerStream struct {
	grpc.ServerStream
	recv, sent int64
}

func (s *metricsServerStream) RecvMsg(m interface{}) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.recv++
	}
	return err
}

func (s *metricsServerStream) SendMsg(m interface{}) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.sent++
	}
	return err
}

// register registers c, or returns the equivalent collector already known
// to r.
func register[C prometheus.Collector](r prometheus.Registerer, c C) C {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
