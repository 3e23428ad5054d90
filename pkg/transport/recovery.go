package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/parley/pkg/api"
)

// Recovery turns a handler panic into a server error.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (res *Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("handler panic", "request_id", RequestIDFromContext(ctx), "panic", r, "stack", string(debug.Stack()))
					res, err = nil, api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.Handle(ctx, req)
		})
	}
}
