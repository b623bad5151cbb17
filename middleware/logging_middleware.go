package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-bridge/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("command", req.Command),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				logger.Warn("command failed", append(fields, zap.Stringer("kind", resp.Kind), zap.Error(resp.Err()))...)
			} else {
				logger.Debug("command served", fields...)
			}
			return resp
		}
	}
}
