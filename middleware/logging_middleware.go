package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-wsrpc/message"
)

// LoggingMiddleware logs every call with its duration, and its error if any.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Message, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.ByteString("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
				return reply, err
			}
			logger.Debug("rpc call", fields...)
			return reply, nil
		}
	}
}
