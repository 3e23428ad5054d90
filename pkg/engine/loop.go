package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/stream"
	"github.com/rhuss/parley/pkg/tools"
)

// turnRun holds the state of one turn's step loop.
type turnRun struct {
	engine     *Engine
	turn       *Turn
	session    *api.Session
	response   *api.ChatResponse
	dispatcher *tools.Dispatcher
	tools      []provider.ToolDefinition
}

// run executes steps until the model answers or the step limit is
// reached. It returns the number of steps taken.
func (r *turnRun) run(ctx context.Context) (int, error) {
	maxSteps := r.turn.Limits.MaxSteps
	more := true
	step := 0
	for more && step < maxSteps {
		step++
		if err := ctx.Err(); err != nil {
			return step - 1, err
		}

		if step == 1 {
			r.engine.progress(ctx, r.turn, progressThinking)
		} else {
			r.engine.progress(ctx, r.turn, progressAnalysing)
		}

		var err error
		more, err = r.step(ctx, step)
		if err != nil {
			return step, err
		}
	}

	if more {
		slog.Info("turn reached step limit without an answer",
			"session_id", r.session.ID, "max_steps", maxSteps)
	}
	return step, nil
}

// step performs one model call and reports whether more steps are needed.
func (r *turnRun) step(ctx context.Context, step int) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := r.engine.request(r.turn, r.session.WireMessages())
	req.Stream = r.turn.StreamID != ""
	if len(r.turn.DataSources) > 0 {
		req.DataSources = r.turn.DataSources
	} else {
		req.Tools = r.tools
		if step < r.turn.Limits.MaxSteps-1 {
			req.ToolChoice = provider.ToolChoiceAuto
		} else {
			req.ToolChoice = provider.ToolChoiceNone
		}
	}
	debug.Log("completion", "step", "session_id", r.session.ID, "step", step,
		"messages", len(req.Messages), "tool_choice", req.ToolChoice, "stream", req.Stream)

	comp, err := r.engine.complete(ctx, r.turn, req)
	if err != nil {
		return false, err
	}

	switch comp.Kind {
	case provider.KindMessage:
		return r.handleChoices(ctx, comp.Choices)
	case provider.KindDataSourceBatch:
		return r.handleBatch(comp.Batch), nil
	case provider.KindStream:
		return r.handleStream(ctx, comp.Events)
	}
	return false, api.NewServerError(fmt.Sprintf("unknown completion kind %d", comp.Kind))
}

// handleChoices processes complete choices in index order. A choice with
// tool calls dispatches them; a plain message is the answer.
func (r *turnRun) handleChoices(ctx context.Context, choices []provider.Choice) (bool, error) {
	choices = slices.Clone(choices)
	sort.SliceStable(choices, func(i, j int) bool { return choices[i].Index < choices[j].Index })

	more := true
	for _, c := range choices {
		msg := c.Message
		role := msg.Role
		if role == "" {
			role = api.RoleAssistant
		}

		switch {
		case len(msg.ToolCalls) > 0:
			if err := r.runToolCalls(ctx, role, msg.ToolCalls); err != nil {
				return false, err
			}
		case msg.Content == nil:
			slog.Warn("choice carries no message", "choice", c.Index, "finish_reason", c.FinishReason)
		default:
			r.answer(role, *msg.Content, nil)
			more = false
		}
	}
	return more, nil
}

// handleBatch processes a data-source batch. Assistant content is the
// answer; tool content carries its citations.
func (r *turnRun) handleBatch(batch []provider.DataSourceMessage) bool {
	more := true
	var content *string
	var citations []api.Citation
	for _, m := range batch {
		switch m.Role {
		case string(api.RoleAssistant):
			text := ""
			if m.Content != nil {
				text = *m.Content
			}
			content = &text
		case string(api.RoleTool):
			if m.Content != nil && strings.HasPrefix(*m.Content, "{") {
				if gjson.Get(*m.Content, "citations").Exists() {
					citations = append(citations, stream.ParseCitations(*m.Content)...)
				} else {
					slog.Warn("data-source tool content without citations", "content", *m.Content)
				}
			}
		}

		if m.EndTurn {
			more = false
		}
		if m.Intent != "" {
			r.response.AppendIntent(m.Intent)
		}
	}

	if content != nil {
		r.response.Citations = append(r.response.Citations, citations...)
		r.answer(api.RoleAssistant, *content, r.response.Citations)
	}
	return more
}

// answer records final text in the history and the response.
func (r *turnRun) answer(role api.Role, text string, citations []api.Citation) {
	msg := api.NewTextMessage(role, text)
	msg.Citations = slices.Clone(citations)
	r.session.Append(msg)
	r.response.AppendMessage(text)
}

// runToolCalls appends the tool-call message, dispatches every call and
// appends one tool result per call in call order.
func (r *turnRun) runToolCalls(ctx context.Context, role api.Role, requested []api.ToolCallRequest) error {
	calls := make([]api.ToolCallRequest, 0, len(requested))
	for _, tc := range requested {
		if tc.Type == "" {
			tc.Type = api.ToolTypeFunction
		}
		if tc.Type != api.ToolTypeFunction {
			return api.NewDispatchError("unsupported_tool_type",
				fmt.Sprintf("tool call %s has unsupported type %q", tc.ID, tc.Type))
		}
		if tc.ID == "" {
			tc.ID = api.NewCallID()
		}
		calls = append(calls, tc)
	}
	r.session.Append(api.Message{Role: role, ToolCalls: calls})

	pending := make([]tools.ToolCall, len(calls))
	for i, tc := range calls {
		pending[i] = tools.CallFromRequest(tc)
	}
	results, err := r.dispatcher.ExecuteAll(ctx, pending, r.engine.cfg.toolWorkers())
	if err != nil {
		return err
	}
	for _, res := range results {
		r.session.Append(res.Message())
	}
	debug.Log("tools", "tool calls completed", "session_id", r.session.ID, "calls", len(results))
	return nil
}
