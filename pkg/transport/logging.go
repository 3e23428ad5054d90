package transport

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs one entry per request.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Result, error) {
			start := time.Now()
			res, err := next.Handle(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("kind", string(req.Kind)),
				slog.Duration("duration", time.Since(start)),
			}
			if req.Chat != nil {
				attrs = append(attrs,
					slog.String("model", req.Chat.Model),
					slog.Bool("stream", req.Chat.HasStream()),
				)
			}
			if len(req.Agents) > 0 {
				attrs = append(attrs, slog.Any("agents", req.Agents))
			}
			if res != nil && req.Kind == KindAssistant {
				attrs = append(attrs, slog.Int("success", res.Success), slog.Int("failed", res.Failed))
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}
			return res, err
		})
	}
}
