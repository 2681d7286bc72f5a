// Package middleware provides the dispatch middleware chain for the worker
// loop. Each middleware wraps the handler that executes an Invoke envelope,
// onion-style: the first middleware in the chain sees the call first and the
// response last.
package middleware

import (
	"context"

	"procproxy/envelope"
)

// HandlerFunc executes one Invoke envelope and produces its response.
type HandlerFunc func(ctx context.Context, call *envelope.Call) *envelope.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Chain(A, B, C)(handler) wraps as
// A(B(C(handler))): A runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
