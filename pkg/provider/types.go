package provider

import (
	"encoding/json"
	"time"

	"github.com/rhuss/parley/pkg/api"
)

// Tool choice values understood by the backend.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// Finish reasons reported on the last chunk of a streamed choice or on a
// complete choice.
const (
	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
	FinishLength        = "length"
	FinishFunctionCall  = "function_call"
)

// Request is the backend-facing request for one step of a turn.
type Request struct {
	Model       string
	Messages    []api.Message
	Tools       []ToolDefinition
	ToolChoice  string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stream      bool

	// DataSources switches the backend into retrieval mode. The entries
	// are passed through verbatim as the "dataSources" extra body field.
	DataSources []map[string]any

	// Timeout bounds the whole call when positive.
	Timeout time.Duration
}

// ToolDefinition advertises a callable function to the model.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef holds a function definition for tool use.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Choice is one complete, non-streamed answer.
type Choice struct {
	Index        int
	Message      api.Message
	FinishReason string
}

// DataSourceMessage is one element of a data-source batch. Complete
// responses fill Role and Content; streamed chunks fill Delta.
type DataSourceMessage struct {
	Role    string           `json:"role,omitempty"`
	Content *string          `json:"content,omitempty"`
	EndTurn bool             `json:"end_turn,omitempty"`
	Intent  string           `json:"intent,omitempty"`
	Delta   *DataSourceDelta `json:"delta,omitempty"`
}

// DataSourceDelta is the partial content of a streamed data-source message.
type DataSourceDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// StreamEvent is one element of a streamed completion: a chunk or an error.
type StreamEvent struct {
	Chunk *Chunk
	Err   error
}

// Chunk is a single streamed fragment with one or more choices.
type Chunk struct {
	Choices []ChunkChoice
	Usage   *Usage
}

// ChunkChoice is the per-choice part of a chunk. A choice carries either
// an ordinary Delta or, for data-source streams, a Messages batch.
type ChunkChoice struct {
	Index        int
	Delta        *Delta
	Messages     []DataSourceMessage
	FinishReason string
}

// Delta is a partial assistant message.
type Delta struct {
	Role      string
	Content   *string
	ToolCalls []ToolCallDelta
}

// ToolCallDelta is a fragment of one tool call, identified by Index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Type      string
	Name      string
	Arguments string
}

// Usage holds token counts reported by the backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
