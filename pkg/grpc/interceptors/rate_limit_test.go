package interceptors

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// frozenLimiter returns a limiter whose clock only moves when advanced.
func frozenLimiter(perSecond float64, burst int) (*RateLimiter, func(time.Duration)) {
	rl := NewRateLimiter(perSecond, burst)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, func(d time.Duration) { now = now.Add(d) }
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, advance := frozenLimiter(2, 3)

	for i := 0; i < 3; i++ {
		ok, _ := rl.allow("node-1")
		require.True(t, ok, "call %d within burst", i)
	}
	ok, wait := rl.allow("node-1")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	advance(500 * time.Millisecond)
	ok, _ = rl.allow("node-1")
	assert.True(t, ok, "one token refilled")
}

func TestRateLimiter_CallersAreIndependent(t *testing.T) {
	rl, _ := frozenLimiter(1, 1)

	ok, _ := rl.allow("node-1")
	require.True(t, ok)
	ok, _ = rl.allow("node-1")
	require.False(t, ok)

	ok, _ = rl.allow("node-2")
	assert.True(t, ok)
}

func TestRateLimiter_RejectionDoesNotSpendTokens(t *testing.T) {
	rl, advance := frozenLimiter(1, 1)

	ok, _ := rl.allow("node-1")
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, _ = rl.allow("node-1")
		require.False(t, ok)
	}

	advance(time.Second)
	ok, _ = rl.allow("node-1")
	assert.True(t, ok, "rejected calls must not push the next token back")
}

func TestRateLimiter_EvictsIdleCallers(t *testing.T) {
	rl, advance := frozenLimiter(10, 10)

	rl.allow("node-1")
	rl.allow("node-2")
	require.Equal(t, 2, rl.tracked())

	advance(idleCallerTTL / 2)
	rl.allow("node-2")
	advance(idleCallerTTL / 2)
	rl.allow("node-3")
	assert.Equal(t, 2, rl.tracked(), "node-1 idle for the full ttl")
}

func TestRateLimitStreamInterceptor_SetsRetryAfter(t *testing.T) {
	rl, _ := frozenLimiter(0.25, 1)
	intercept := RateLimitStreamInterceptor(rl)
	ctx := withPrincipal(context.Background(), Principal{Name: "reader", Role: RoleReader})
	open := func(interface{}, grpc.ServerStream) error { return nil }

	require.NoError(t, intercept(nil, newFakeStream(ctx), streamInfo(watchMethod), open))

	ss := newFakeStream(ctx)
	err := intercept(nil, ss, streamInfo(watchMethod), open)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, []string{"4"}, ss.header.Get("retry-after"))
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	rl, _ := frozenLimiter(1, 1)
	intercept := RateLimitUnaryInterceptor(rl)
	ctx := withPrincipal(context.Background(), Principal{Name: "node", Role: RoleNode})

	_, err := intercept(ctx, nil, unaryInfo(heartbeatMethod), reply(nil))
	require.NoError(t, err)
	_, err = intercept(ctx, nil, unaryInfo(heartbeatMethod), reply(nil))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	_, err = intercept(ctx, nil, unaryInfo(healthMethod), reply(nil))
	assert.NoError(t, err, "health checks are never limited")
}

func TestRateLimited_RoundsUpToOneSecond(t *testing.T) {
	md, err := rateLimited(120 * time.Millisecond)
	assert.Equal(t, []string{"1"}, md.Get("retry-after"))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	md, _ = rateLimited(2600 * time.Millisecond)
	assert.Equal(t, []string{"3"}, md.Get("retry-after"))
}

func TestCallerKey(t *testing.T) {
	assert.Equal(t, "anonymous", callerKey(context.Background()))

	fromPeer := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 51234},
	})
	assert.Equal(t, "peer:10.0.0.7", callerKey(fromPeer))

	authed := withPrincipal(fromPeer, Principal{Name: "admin", Role: RoleAdmin})
	assert.Equal(t, "principal:admin", callerKey(authed))
}
