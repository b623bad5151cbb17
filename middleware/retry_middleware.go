package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-bridge/message"
	"mini-bridge/rpcerr"
)

// RetryMiddleware re-runs requests rejected as rate limited, backing off
// exponentially from baseDelay. Other failures are returned as they are since
// a handler may not be safe to run twice.
func RetryMiddleware(logger *zap.Logger, maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.Kind != rpcerr.KindRateLimited {
					return resp
				}
				logger.Debug("retrying command",
					zap.String("command", req.Command),
					zap.Int("attempt", i+1),
					zap.Stringer("kind", resp.Kind))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return resp
				case <-timer.C:
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
