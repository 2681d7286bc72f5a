package middleware

import (
	"context"
	"time"

	"procproxy/envelope"
)

// Timeout bounds the wall time of a single dispatch. The method keeps
// running in its goroutine after expiry — there is no way to cancel code
// that does not watch its context — but the caller gets a timely error
// instead of a stalled worker hiding behind one slow call.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *envelope.Call) *envelope.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *envelope.Response, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &envelope.Response{
					ID:     call.ID,
					Status: envelope.StatusError,
					Err:    envelope.Errorf(envelope.CodeInvocation, "%s timed out after %s", call.Method, timeout),
				}
			}
		}
	}
}
