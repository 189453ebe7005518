package opmw

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrRateLimited is set on an Operation rejected by RateLimit.
var ErrRateLimited = errors.New("levelrpc: rate limit exceeded")

// RateLimit throttles operations with a token bucket, grounded on the
// teacher's RateLimitMiddleware. The limiter is created once, in the outer
// closure, and shared across every operation it wraps.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op *Operation) *Operation {
			if !limiter.Allow() {
				op.Err = ErrRateLimited
				return op
			}
			return next(ctx, op)
		}
	}
}
