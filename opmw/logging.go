package opmw

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logging records the operation name, duration, and any error, grounded on
// the teacher's LoggingMiddleware but writing through zap instead of the
// standard log package.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op *Operation) *Operation {
			start := time.Now()
			result := next(ctx, op)
			fields := []zap.Field{
				zap.String("op", op.Name),
				zap.Duration("duration", time.Since(start)),
			}
			if result.Err != nil {
				logger.Warn("operation failed", append(fields, zap.Error(result.Err))...)
			} else {
				logger.Debug("operation completed", fields...)
			}
			return result
		}
	}
}
