package transport

import (
	"context"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/chatctx"
)

// Kind selects the processing path of a request.
type Kind string

const (
	KindCompletion Kind = "completion"
	KindAssistant  Kind = "assistant"
)

// Request is a resolved chat request.
type Request struct {
	Kind   Kind
	Chat   *chatctx.ChatContext
	Prompt string

	// Agents and Timeout apply to assistant requests only.
	Agents  []string
	Timeout time.Duration
}

// Result is the outcome of a request. Completion requests set Response;
// assistant requests set Responses and the counts.
type Result struct {
	Response  *api.ChatResponse
	Responses []api.ChatResponse
	Success   int
	Failed    int

	// Context is the token for the follow-up request.
	Context string
}

// Handler processes chat requests.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Result, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}
