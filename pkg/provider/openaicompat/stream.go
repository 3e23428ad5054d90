package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/provider"
)

// maxLineSize bounds a single SSE line. Data-source chunks can carry whole
// retrieved documents, well beyond bufio's 64KiB default.
const maxLineSize = 1 << 20

// ParseSSEStream reads Chat Completions SSE chunks from body and sends
// them on ch in arrival order. The channel is NOT closed by this function.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//
// Malformed chunks are logged and skipped. When ctx ends first, the stream
// ends with an error event: a timeout for an expired deadline, otherwise
// the cancellation cause.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.StreamEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			endWith(ch, contextError(ctx))
			return
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", debug.Truncate(payload, 200),
			)
			continue
		}
		debug.Trace("completion", "chunk", "data", payload)

		select {
		case ch <- provider.StreamEvent{Chunk: TranslateChunk(&chunk)}:
		case <-ctx.Done():
			endWith(ch, contextError(ctx))
			return
		}
	}

	err := scanner.Err()
	switch {
	case ctx.Err() != nil:
		endWith(ch, contextError(ctx))
	case err != nil:
		endWith(ch, api.NewTransportError("stream_read", "SSE stream read error: "+err.Error()))
	}
}

// endWith delivers the error that ends a stream. A consumer that already
// stopped reading leaves the channel full, and the error is dropped.
func endWith(ch chan<- provider.StreamEvent, err error) {
	select {
	case ch <- provider.StreamEvent{Err: err}:
	default:
		debug.Log("completion", "stream error dropped", "error", err)
	}
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return api.NewTimeoutError("completion stream did not finish in time")
	}
	return fmt.Errorf("completion stream: %w", context.Cause(ctx))
}
