package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"mini-bridge/message"
	"mini-bridge/rpcerr"
)

// RateLimitMiddleware rejects requests beyond a token bucket of r per second
// with the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return message.Failure(req.Command, rpcerr.New(rpcerr.KindRateLimited, req.Command,
					fmt.Errorf("more than %g requests per second", r)))
			}
			return next(ctx, req)
		}
	}
}
