package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// withRetry runs fn until it succeeds, fails with a code the policy does
// not retry, or the attempts run out. Only idempotent reads go through it:
// a retried AttachNode would burn a generation and a retried trim could
// race a newer safe point.
func withRetry[T any](c *Client, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	p := c.retryPolicy
	if p == nil || p.MaxAttempts <= 1 {
		return fn(ctx)
	}

	var zero T
	var err error
	for attempt := 1; ; attempt++ {
		var resp T
		resp, err = fn(ctx)
		if err == nil {
			return resp, nil
		}
		if !p.retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			return zero, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff returns the wait after the given failed attempt, counted from 1.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiplier)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// retryable reports whether err carries one of the policy's codes, matched
// by name without regard to case.
func (p *RetryPolicy) retryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	name := st.Code().String()
	for _, c := range p.RetryableErrors {
		if strings.EqualFold(name, c) {
			return true
		}
	}
	return false
}

// IsUnsafeTrim reports whether a trim was refused because the requested
// point lies beyond the safe trim point.
func IsUnsafeTrim(err error) bool {
	return status.Code(err) == codes.FailedPrecondition
}

// IsLeadershipAmbiguous reports whether a leader lookup found conflicting
// claims of equal rank.
func IsLeadershipAmbiguous(err error) bool {
	return status.Code(err) == codes.Aborted
}

// IsUnknownLog reports whether the addressed log is not part of the cluster.
func IsUnknownLog(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsUnavailable reports whether the controller or its log engine could not
// serve the call. Trim failures surface this way.
func IsUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// IsRateLimited reports whether the caller exceeded its request budget.
func IsRateLimited(err error) bool {
	return status.Code(err) == codes.ResourceExhausted
}

// IsPermissionDenied reports whether the caller's role may not make the call.
func IsPermissionDenied(err error) bool {
	return status.Code(err) == codes.PermissionDenied
}

// IsUnauthenticated reports whether the call carried no valid token.
func IsUnauthenticated(err error) bool {
	return status.Code(err) == codes.Unauthenticated
}
