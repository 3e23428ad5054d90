// Package notify delivers stream messages to clients following a turn.
//
// A Hub groups websocket subscribers by stream id and fans published
// messages out to them. Publishing is fire-and-forget: a message for a
// stream without subscribers, or for a subscriber whose buffer is full,
// is dropped and logged.
package notify

import (
	"context"

	"github.com/rhuss/parley/pkg/api"
)

// Notifier publishes stream messages.
type Notifier interface {
	Publish(ctx context.Context, streamID string, msg api.StreamMessage)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, string, api.StreamMessage) {}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, streamID string, msg api.StreamMessage)

func (f Func) Publish(ctx context.Context, streamID string, msg api.StreamMessage) {
	f(ctx, streamID, msg)
}
