package transport

import (
	"context"

	"github.com/google/uuid"
)

// RequestID assigns a request id unless the HTTP adapter already copied
// one from the X-Request-ID header.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Result, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, NewRequestID())
			}
			return next.Handle(ctx, req)
		})
	}
}

// NewRequestID returns a random request id.
func NewRequestID() string {
	return uuid.NewString()
}
