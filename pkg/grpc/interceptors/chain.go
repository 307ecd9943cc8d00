package interceptors

import (
	"google.golang.org/grpc"

	"github.com/goclaw/clusterctl/pkg/logger"
)

// ChainBuilder assembles unary and stream interceptors in call order. Each
// With method adds the unary and stream variant of one concern, so the two
// chains always match.
type ChainBuilder struct {
	logger logger.Logger
	unary  []grpc.UnaryServerInterceptor
	stream []grpc.StreamServerInterceptor
}

// NewChainBuilder creates an empty chain. A nil logger falls back to the
// global logger.
func NewChainBuilder(log logger.Logger) *ChainBuilder {
	if log == nil {
		log = logger.Global()
	}
	return &ChainBuilder{logger: log}
}

func (b *ChainBuilder) add(u grpc.UnaryServerInterceptor, s grpc.StreamServerInterceptor) *ChainBuilder {
	b.unary = append(b.unary, u)
	b.stream = append(b.stream, s)
	return b
}

// WithRecovery adds panic recovery. It belongs first in the chain.
func (b *ChainBuilder) WithRecovery() *ChainBuilder {
	return b.add(RecoveryUnaryInterceptor(b.logger), RecoveryStreamInterceptor(b.logger))
}

// WithRequestID adds request id propagation.
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	return b.add(RequestIDUnaryInterceptor(), RequestIDStreamInterceptor())
}

// WithAuthentication adds bearer token authentication.
func (b *ChainBuilder) WithAuthentication(auth *TokenAuthenticator) *ChainBuilder {
	return b.add(AuthenticationUnaryInterceptor(auth), AuthenticationStreamInterceptor(auth))
}

// WithAuthorization adds per-method role checks. It must follow
// WithAuthentication.
func (b *ChainBuilder) WithAuthorization(roles MethodRoles) *ChainBuilder {
	return b.add(AuthorizationUnaryInterceptor(roles), AuthorizationStreamInterceptor(roles))
}

// WithRateLimit adds a token bucket per caller.
func (b *ChainBuilder) WithRateLimit(requestsPerSecond float64, burst int) *ChainBuilder {
	rl := NewRateLimiter(requestsPerSecond, burst)
	return b.add(RateLimitUnaryInterceptor(rl), RateLimitStreamInterceptor(rl))
}

// WithValidation adds request validation.
func (b *ChainBuilder) WithValidation() *ChainBuilder {
	return b.add(ValidationUnaryInterceptor(), ValidationStreamInterceptor())
}

// WithLogging adds one log line per call.
func (b *ChainBuilder) WithLogging() *ChainBuilder {
	return b.add(LoggingUnaryInterceptor(b.logger), LoggingStreamInterceptor(b.logger))
}

// WithMetrics adds Prometheus instrumentation.
func (b *ChainBuilder) WithMetrics(m *Metrics) *ChainBuilder {
	if m == nil {
		m = NewMetrics(nil)
	}
	return b.add(MetricsUnaryInterceptor(m), MetricsStreamInterceptor(m))
}

// WithTracing adds server spans.
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	return b.add(TracingUnaryInterceptor(), TracingStreamInterceptor())
}

// Len returns the number of concerns in the chain.
func (b *ChainBuilder) Len() int {
	return len(b.unary)
}

// Build returns the chain as server options.
func (b *ChainBuilder) Build() []grpc.ServerOption {
	if len(b.unary) == 0 {
		return nil
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(b.unary...),
		grpc.ChainStreamInterceptor(b.stream...),
	}
}
