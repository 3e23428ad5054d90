package api

import (
	"encoding/json"
	"maps"
)

// StreamMessageType classifies messages pushed to a live output channel.
type StreamMessageType string

const (
	StreamInterim  StreamMessageType = "interim"
	StreamProgress StreamMessageType = "progress"
	StreamError    StreamMessageType = "error"
	StreamInfo     StreamMessageType = "info"
)

// StreamMessage is a notification for clients following a turn. The
// payload is either a plain Message or a set of Fields that are merged
// into the top-level JSON object.
type StreamMessage struct {
	Type      StreamMessageType
	Timestamp int64
	Message   string
	Fields    map[string]any
}

// NewStreamMessage creates a text stream message stamped with the current time.
func NewStreamMessage(t StreamMessageType, message string) StreamMessage {
	return StreamMessage{Type: t, Timestamp: NowMillis(), Message: message}
}

// NewProgress reports what the orchestrator is doing.
func NewProgress(message string) StreamMessage {
	return NewStreamMessage(StreamProgress, message)
}

// NewInterimDelta carries newly produced response text.
func NewInterimDelta(delta string) StreamMessage {
	return StreamMessage{
		Type:      StreamInterim,
		Timestamp: NowMillis(),
		Fields:    map[string]any{"delta": delta},
	}
}

// MarshalJSON produces {"message": ..., "timestamp": ..., "type": ...} or
// the Fields merged with timestamp and type.
func (m StreamMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+3)
	if m.Fields != nil {
		maps.Copy(out, m.Fields)
	} else {
		out["message"] = m.Message
	}
	out["timestamp"] = m.Timestamp
	out["type"] = m.Type
	return json.Marshal(out)
}
