package opmw

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is set on an Operation whose handler didn't complete within
// the configured timeout.
var ErrTimeout = errors.New("levelrpc: operation timed out")

// Timeout enforces a maximum duration per operation, grounded on the
// teacher's TimeOutMiddleware. As in the teacher, the inner handler
// goroutine is not cancelled when the timeout fires — it keeps running in
// the background against the store, and only the caller stops waiting on
// it.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op *Operation) *Operation {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan *Operation, 1)
			go func() {
				done <- next(ctx, op)
			}()

			select {
			case result := <-done:
				return result
			case <-ctx.Done():
				op.Err = ErrTimeout
				return op
			}
		}
	}
}
