package middleware

import (
	"context"
	"time"

	"mini-wsrpc/message"
)

// TimeoutMiddleware bounds each call by d. Pending requests have no timeout of
// their own, so this is how a caller stops waiting for a silent peer.
func TimeoutMiddleware(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Message, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
