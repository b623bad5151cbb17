package middleware

import (
	"context"
	"fmt"
	"time"

	"mini-bridge/message"
	"mini-bridge/rpcerr"
)

// TimeOutMiddleware answers with a timeout response once the handler has run
// for longer than timeout. The handler keeps its cancelled context and its
// late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Failure(req.Command, rpcerr.New(rpcerr.KindTimeout, req.Command,
					fmt.Errorf("handler exceeded %s", timeout)))
			}
		}
	}
}
