package interceptors

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// idleCallerTTL is how long a caller's bucket is kept after its last call.
const idleCallerTTL = 10 * time.Minute

// RateLimiter keeps a token bucket per caller. Buckets of callers that have
// been idle for idleCallerTTL are dropped, so node churn does not grow it.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	callers   map[string]*callerBucket
	lastSweep time.Time
}

type callerBucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows each caller perSecond calls with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		callers: make(map[string]*callerBucket),
	}
}

// allow takes a token for caller. When none is left it returns how long
// until one will be.
func (rl *RateLimiter) allow(caller string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= idleCallerTTL {
		for id, b := range rl.callers {
			if now.Sub(b.lastSeen) >= idleCallerTTL {
				delete(rl.callers, id)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.callers[caller]
	if !ok {
		b = &callerBucket{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.callers[caller] = b
	}
	b.lastSeen = now

	if b.AllowN(now, 1) {
		return true, 0
	}
	r := b.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// tracked returns the number of caller buckets.
func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.callers)
}

func rateLimited(wait time.Duration) (metadata.MD, error) {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return metadata.Pairs("retry-after", strconv.Itoa(secs)),
		status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %s", wait.Round(time.Millisecond))
}

// RateLimitUnaryInterceptor rejects calls over the caller's budget with
// ResourceExhausted and a retry-after header in seconds.
func RateLimitUnaryInterceptor(rl *RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		if ok, wait := rl.allow(callerKey(ctx)); !ok {
			md, err := rateLimited(wait)
			_ = grpc.SetHeader(ctx, md)
			return nil, err
		}
		return handler(ctx, req)
	}
}

// RateLimitStreamInterceptor charges one token when a stream opens.
func RateLimitStreamInterceptor(rl *RateLimiter) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isHealthMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		if ok, wait := rl.allow(callerKey(ss.Context())); !ok {
			md, err := rateLimited(wait)
			_ = ss.SetHeader(md)
			return err
		}
		return handler(srv, ss)
	}
}

// callerKey identifies the caller by principal when authenticated and by
// peer host otherwise.
func callerKey(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return "principal:" + p.Name
	}
	pr, ok := peer.FromContext(ctx)
	if !ok || pr.Addr == nil {
		return "anonymous"
	}
	addr := pr.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return "peer:" + addr
}
