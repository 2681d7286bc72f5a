package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"procproxy/envelope"
)

// Logging logs every dispatched call with its duration and outcome.
func Logging(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *envelope.Call) *envelope.Response {
			start := time.Now()
			resp := next(ctx, call)
			fields := []zap.Field{
				zap.Uint64("call_id", call.ID),
				zap.String("method", call.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Err != nil {
				fields = append(fields,
					zap.String("error_code", string(resp.Err.Code)),
					zap.String("error", resp.Err.Message))
				log.Warn("dispatch failed", fields...)
				return resp
			}
			log.Debug("dispatched", fields...)
			return resp
		}
	}
}
