package middleware

import (
	"context"

	"procproxy/envelope"
)

// Recover converts a panic inside a dispatched method into an invocation
// error response. Without it a panicking method would take down the whole
// worker process and every pending call with it.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *envelope.Call) (resp *envelope.Response) {
			defer func() {
				if r := recover(); r != nil {
					resp = &envelope.Response{
						ID:     call.ID,
						Status: envelope.StatusError,
						Err:    envelope.Errorf(envelope.CodeInvocation, "panic in %s: %v", call.Method, r),
					}
				}
			}()
			return next(ctx, call)
		}
	}
}
