// Package middleware wraps client calls in an onion of cross-cutting handlers.
//
//	Chain(A, B, C)(invoke) → A(B(C(invoke)))
//	Execution order: A.before → B.before → C.before → invoke → C.after → B.after → A.after
package middleware

import (
	"context"

	"mini-wsrpc/message"
)

// HandlerFunc performs one call and returns the raw reply.
type HandlerFunc func(ctx context.Context, req *message.Request) (message.Message, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one; the first one given runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
