package opmw

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Retryable marks an error as transient so Retry will retry the operation
// rather than returning immediately. Without this marker an error is
// treated as permanent, mirroring the teacher's RetryMiddleware (which
// string-matched "timeout"/"connection refused" — here the handler marks
// its own transient errors instead of the middleware pattern-matching
// error text).
type Retryable struct {
	Err error
}

func (r *Retryable) Error() string { return r.Err.Error() }
func (r *Retryable) Unwrap() error { return r.Err }

// IsRetryable reports whether err was wrapped with Retryable.
func IsRetryable(err error) bool {
	var r *Retryable
	return errors.As(err, &r)
}

// Retry re-runs the operation up to maxRetries times with exponential
// backoff while the error remains Retryable, grounded on the teacher's
// RetryMiddleware.
func Retry(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op *Operation) *Operation {
			result := next(ctx, op)
			for i := 0; i < maxRetries; i++ {
				if result.Err == nil {
					return result
				}
				if !IsRetryable(result.Err) {
					return result
				}
				time.Sleep(baseDelay * time.Duration(uint(1)<<uint(i)))
				result = next(ctx, op)
			}
			return result
		}
	}
}
