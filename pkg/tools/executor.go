package tools

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/parley/pkg/api"
)

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	// ID is the unique call identifier (from the model, e.g., "call_abc123").
	ID string

	// Name is the tool function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Name echoes the called function.
	Name string

	// Output is the normalized tool output.
	Output string
}

// CallFromRequest converts a model-issued tool call.
func CallFromRequest(tc api.ToolCallRequest) ToolCall {
	return ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
}

// Message builds the tool-role history entry for this result.
func (r ToolResult) Message() api.Message {
	m := api.NewTextMessage(api.RoleTool, r.Output)
	m.ToolCallID = r.CallID
	m.Name = r.Name
	return m
}

// Execute runs a single call through the dispatcher.
func (d *Dispatcher) Execute(ctx context.Context, call ToolCall) (ToolResult, error) {
	out, err := d.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Output: out}, nil
}

// ExecuteAll runs calls concurrently on at most workers goroutines and
// returns the results in call order. The first dispatch error cancels
// the remaining calls.
func (d *Dispatcher) ExecuteAll(ctx context.Context, calls []ToolCall, workers int) ([]ToolResult, error) {
	results := make([]ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, call := range calls {
		g.Go(func() error {
			res, err := d.Execute(gctx, call)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
