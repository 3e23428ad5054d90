package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/provider"
)

const (
	summaryRequest = "Summarize the key points from this whole conversation, keeping track of important " +
		"information that may be needed to continue the conversation at a later point. Be as concise as " +
		"possible, but don't skimp on the details either."
	summaryPrefix = "Here is a summary of the conversation up to this point: "
)

// compact replaces the history with the system prompt, a model-written
// summary of everything but the last two messages, and those two messages.
// The tools are offered so the model understands earlier tool calls, but
// it may not call them.
func (e *Engine) compact(ctx context.Context, t *Turn, sess *api.Session, defs []provider.ToolDefinition) error {
	n := len(sess.Messages)
	if n < 3 {
		return nil
	}
	e.progress(ctx, t, progressSummarising)

	last, secondLast := sess.Messages[n-1], sess.Messages[n-2]
	history := slices.Clone(sess.Messages[:n-2])
	history = append(history, api.NewTextMessage(api.RoleUser, summaryRequest))

	req := e.request(t, wireMessages(history))
	req.Tools = defs
	req.ToolChoice = provider.ToolChoiceNone

	comp, err := e.complete(ctx, t, req)
	if err != nil {
		return fmt.Errorf("summarising session %s: %w", sess.ID, err)
	}
	if comp.Kind != provider.KindMessage {
		return api.NewServerError(fmt.Sprintf("unexpected %s completion while summarising", comp.Kind))
	}

	choices := slices.Clone(comp.Choices)
	sort.SliceStable(choices, func(i, j int) bool { return choices[i].Index < choices[j].Index })

	rebuilt := []api.Message{api.NewTextMessage(api.RoleSystem, t.SystemPrompt)}
	for _, c := range choices {
		role := c.Message.Role
		if role == "" {
			role = api.RoleAssistant
		}
		rebuilt = append(rebuilt, api.NewTextMessage(role, summaryPrefix+c.Message.Text()))
	}
	rebuilt = append(rebuilt, secondLast, last)

	debug.Log("completion", "session compacted", "session_id", sess.ID, "before", n, "after", len(rebuilt))
	sess.Messages = rebuilt
	observability.CompactionsTotal.Inc()
	return nil
}
