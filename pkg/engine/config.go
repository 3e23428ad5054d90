package engine

import (
	"time"

	"github.com/rhuss/parley/pkg/tools"
)

// DefaultSystemPrompt seeds new sessions when no prompt is configured.
const DefaultSystemPrompt = "You are a smart assistant who is here to answer user questions as best you can."

// Config holds configuration for the engine.
type Config struct {
	// DefaultModel is used when the turn omits the model.
	DefaultModel string

	// SystemPrompt seeds new sessions. Empty means DefaultSystemPrompt.
	SystemPrompt string

	// MaxSteps bounds the model calls of one turn. Zero or negative means
	// use the default of 10.
	MaxSteps int

	// MaxHistory is the history length that triggers compaction. Zero or
	// negative means use the default of 20.
	MaxHistory int

	// PublishInterval is the minimum spacing of interim stream updates.
	PublishInterval time.Duration

	// ToolWorkers bounds concurrent tool calls within one step.
	ToolWorkers int
}

func (c Config) maxSteps() int {
	if c.MaxSteps <= 0 {
		return 10
	}
	return c.MaxSteps
}

func (c Config) maxHistory() int {
	if c.MaxHistory <= 0 {
		return 20
	}
	return c.MaxHistory
}

func (c Config) toolWorkers() int {
	if c.ToolWorkers <= 0 {
		return 10
	}
	return c.ToolWorkers
}

// Limits bounds one turn. Zero values fall back to the engine Config.
type Limits struct {
	MaxSteps    int
	MaxHistory  int
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// Timeout bounds each model call.
	Timeout time.Duration
}

// Turn is one user prompt to process.
type Turn struct {
	// SessionID names the session to continue. Empty starts a new one.
	SessionID string
	Prompt    string
	Model     string

	// SystemPrompt overrides Config.SystemPrompt for new or compacted
	// sessions.
	SystemPrompt string

	// StreamID receives progress and interim updates when set. It also
	// switches the backend to streaming.
	StreamID string

	Limits Limits

	// Bindings expose configured functions under conversation-specific
	// names.
	Bindings []tools.Binding

	// DataSources switches the backend to retrieval mode. Tools are not
	// offered in this mode.
	DataSources []map[string]any
}

// resolve returns a copy of t with engine defaults applied.
func (c Config) resolve(t *Turn) *Turn {
	out := *t
	if out.Model == "" {
		out.Model = c.DefaultModel
	}
	if out.SystemPrompt == "" {
		out.SystemPrompt = c.SystemPrompt
	}
	if out.SystemPrompt == "" {
		out.SystemPrompt = DefaultSystemPrompt
	}
	if out.Limits.MaxSteps <= 0 {
		out.Limits.MaxSteps = c.maxSteps()
	}
	if out.Limits.MaxHistory <= 0 {
		out.Limits.MaxHistory = c.maxHistory()
	}
	return &out
}
