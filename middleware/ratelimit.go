package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"procproxy/envelope"
)

// RateLimit rejects dispatches beyond a token-bucket budget. Useful when the
// hosted object fronts a resource that must not be hammered by a burst of
// fire-and-forget calls.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *envelope.Call) *envelope.Response {
			if !limiter.Allow() {
				return &envelope.Response{
					ID:     call.ID,
					Status: envelope.StatusError,
					Err:    envelope.Errorf(envelope.CodeInvocation, "rate limit exceeded"),
				}
			}
			return next(ctx, call)
		}
	}
}
