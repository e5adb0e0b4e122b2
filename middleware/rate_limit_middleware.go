package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"mini-wsrpc/message"
)

// RateLimitMiddleware paces outgoing calls with a token bucket of r calls per
// second and the given burst. Calls wait for a token rather than fail, unless
// their context ends first.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Message, error) {
			if err := limiter.Wait(ctx); err != nil {
				return message.Message{}, fmt.Errorf("rate limit %s: %w", req.Method, err)
			}
			return next(ctx, req)
		}
	}
}
