package api

import (
	"encoding/json"
	"maps"
	"time"
)

// ---------------------------------------------------------------------------
// Conversation history
// ---------------------------------------------------------------------------

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolTypeFunction is the only tool-call type the remote service may send.
const ToolTypeFunction = "function"

// FunctionCall names a function and carries its JSON-encoded arguments.
// Arguments are opaque text; while streaming they are assembled piecewise.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallRequest is a model-issued request to run a tool.
type ToolCallRequest struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one entry of a session history. Content is nil for assistant
// messages that only carry tool calls.
type Message struct {
	Role       Role              `json:"role"`
	Content    *string           `json:"content,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`

	// Bookkeeping, never sent to the model.
	Citations []Citation `json:"citations,omitempty"`
	Timestamp int64      `json:"ts,omitempty"`
}

// Text returns the message content or "" when the message has none.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Wire returns a copy of the message without the bookkeeping fields.
func (m Message) Wire() Message {
	m.Citations = nil
	m.Timestamp = 0
	return m
}

// NewTextMessage builds a timestamped message with text content.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: &text, Timestamp: NowMillis()}
}

// NowMillis returns the current time in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Session is a server-side conversation: ordered messages plus free-form
// metadata. Messages[0] is the system prompt once the session is
// initialized.
type Session struct {
	ID       string         `json:"id"`
	Messages []Message      `json:"messages"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Append adds a message, stamping it when it carries no timestamp.
func (s *Session) Append(m Message) {
	if m.Timestamp == 0 {
		m.Timestamp = NowMillis()
	}
	s.Messages = append(s.Messages, m)
}

// WireMessages returns the history as it is sent to the model.
func (s *Session) WireMessages() []Message {
	out := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.Wire()
	}
	return out
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Citation references a source that backs part of a response.
type Citation struct {
	ID          string `json:"id,omitempty"`
	Content     string `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Start       *int   `json:"start,omitempty"`
	End         *int   `json:"end,omitempty"`
	ReplacePart string `json:"replace_part,omitempty"`
}

// CitationFromDataSource converts a citation object produced by the
// data-source extension. A "filepath" stands in for a missing "url".
func CitationFromDataSource(raw map[string]any) Citation {
	var c Citation
	c.ID, _ = raw["id"].(string)
	c.Content, _ = raw["content"].(string)
	c.Title, _ = raw["title"].(string)
	c.URL, _ = raw["url"].(string)
	if c.URL == "" {
		c.URL, _ = raw["filepath"].(string)
	}
	c.Start = intField(raw, "start")
	c.End = intField(raw, "end")
	return c
}

func intField(raw map[string]any, key string) *int {
	switch v := raw[key].(type) {
	case float64:
		i := int(v)
		return &i
	case int:
		return &v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil
		}
		i := int(n)
		return &i
	}
	return nil
}

// ChatResponse is the outward result of a turn, or one agent message in
// multi-agent mode.
type ChatResponse struct {
	ID        string
	ThreadID  string
	AgentID   string
	Message   string
	Citations []Citation
	Intent    string
	Metadata  map[string]any
}

// AppendMessage joins text onto the response message with a newline.
func (r *ChatResponse) AppendMessage(text string) {
	if r.Message == "" {
		r.Message = text
		return
	}
	r.Message += "\n" + text
}

// AppendIntent joins an intent onto the response with a newline.
func (r *ChatResponse) AppendIntent(intent string) {
	if r.Intent == "" {
		r.Intent = intent
		return
	}
	r.Intent += "\n" + intent
}

// MarshalJSON flattens metadata into the top-level object.
func (r ChatResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Metadata)+5)
	maps.Copy(out, r.Metadata)
	if r.ID != "" {
		out["id"] = r.ID
	}
	if r.AgentID != "" {
		out["assistant-id"] = r.AgentID
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Citations != nil {
		out["citations"] = r.Citations
	}
	if r.Intent != "" {
		out["intent"] = r.Intent
	}
	return json.Marshal(out)
}

// AgentOutcome is the result of running one agent against its session.
type AgentOutcome struct {
	AgentID  string
	Success  bool
	Messages []ChatResponse
	// Raw carries the agent messages before conversion, in the order they
	// were listed. Used to build synthesis prompts.
	Raw []AgentMessage
}

// AgentMessage is a message authored by an agent, with its content parts.
type AgentMessage struct {
	ID        string
	AgentID   string
	SessionID string
	RunID     string
	Role      Role
	CreatedAt int64
	Parts     []ContentPart
}

// ContentPart is one piece of agent message content.
type ContentPart struct {
	Type        string // "text" or "image_file"
	Text        string
	FileID      string
	Annotations []TextAnnotation
}

// TextAnnotation marks a span of text that references a file.
type TextAnnotation struct {
	Type       string // "file_citation" or "file_path"
	Text       string
	FileID     string
	Quote      string
	StartIndex int
	EndIndex   int
}

// MultiAgentResult is the merged output of a multi-agent prompt.
type MultiAgentResult struct {
	Responses    []ChatResponse `json:"response"`
	SuccessCount int            `json:"success"`
	FailureCount int            `json:"failed"`

	// SessionID is the conversation's main session, used by the
	// interpreter or the single agent.
	SessionID string `json:"-"`
	// ThreadIDs maps each worker agent id to its own session.
	ThreadIDs map[string]string `json:"-"`
}
