// Package multiagent fans a prompt out to several agents and merges their
// answers.
//
// With two or more agents the last one is the interpreter and the others
// are workers. Workers run concurrently, each in its own session linked to
// the conversation. Their answers are folded into a synthesis prompt that
// the interpreter answers in the conversation's main session. A worker
// that fails or times out is counted and left out of the synthesis; it
// never fails the request.
package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/parley/pkg/agents"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/runs"
)

// SessionLinks maps agent ids to the sessions linked to a conversation.
type SessionLinks interface {
	Get(agentID string) (string, bool)
	Set(agentID, sessionID string)
}

// Options tunes the orchestrator.
type Options struct {
	// Workers bounds concurrently running worker agents.
	Workers int
	// InterpreterFloor is the minimum time the interpreter gets, however
	// long the workers took.
	InterpreterFloor time.Duration
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{Workers: 5, InterpreterFloor: 20 * time.Second}
}

// Request is one prompt for a set of agents.
type Request struct {
	Prompt string
	// Agents lists agent names or ids. The last one interprets when there
	// are several.
	Agents  []string
	Timeout time.Duration

	// SessionID is the conversation's main session. Empty creates one.
	SessionID string
	Links     SessionLinks
}

// Orchestrator runs prompts against agents.
type Orchestrator struct {
	supervisor *runs.Supervisor
	directory  *agents.Directory
	opts       Options
}

// New creates an orchestrator.
func New(supervisor *runs.Supervisor, directory *agents.Directory, opts Options) *Orchestrator {
	d := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = d.Workers
	}
	if opts.InterpreterFloor <= 0 {
		opts.InterpreterFloor = d.InterpreterFloor
	}
	return &Orchestrator{supervisor: supervisor, directory: directory, opts: opts}
}

// Run processes the request. Unknown agents and session errors fail the
// request; agent failures are only counted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*api.MultiAgentResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, api.NewInvalidRequestError("prompt", "prompt is required")
	}
	if len(req.Agents) == 0 {
		return nil, api.NewInvalidRequestError("assistants", "at least one assistant is required")
	}

	start := time.Now()
	if len(req.Agents) == 1 {
		return o.runSingle(ctx, req)
	}

	workerRefs := req.Agents[:len(req.Agents)-1]
	interpreter, err := o.directory.Lookup(ctx, req.Agents[len(req.Agents)-1])
	if err != nil {
		return nil, err
	}
	workers := make([]agents.Agent, len(workerRefs))
	for i, ref := range workerRefs {
		if workers[i], err = o.directory.Lookup(ctx, ref); err != nil {
			return nil, err
		}
	}

	threads := make(map[string]string, len(workers))
	for _, w := range workers {
		sessionID, err := o.linkedSession(ctx, req.Links, w.ID)
		if err != nil {
			return nil, err
		}
		threads[w.ID] = sessionID
	}

	outcomes := make([]api.AgentOutcome, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, w := range workers {
		budget := req.Timeout - time.Since(start)
		g.Go(func() error {
			outcomes[i] = o.invoke(gctx, "worker", w.ID, threads[w.ID], req.Prompt, budget)
			return nil
		})
	}
	_ = g.Wait()

	result := &api.MultiAgentResult{ThreadIDs: threads}
	for _, out := range outcomes {
		if out.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}

	synthesis := o.synthesisPrompt(ctx, req.Prompt, outcomes)
	debug.Log("agents", "synthesis prompt built", "length", len(synthesis),
		"success", result.SuccessCount, "failed", result.FailureCount)

	result.SessionID, err = o.mainSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	budget := max(o.opts.InterpreterFloor, req.Timeout-time.Since(start))
	final := o.invoke(ctx, "interpreter", interpreter.ID, result.SessionID, synthesis, budget)
	if final.Success {
		result.SuccessCount++
	} else {
		result.FailureCount++
	}
	result.Responses = final.Messages
	return result, nil
}

func (o *Orchestrator) runSingle(ctx context.Context, req Request) (*api.MultiAgentResult, error) {
	agent, err := o.directory.Lookup(ctx, req.Agents[0])
	if err != nil {
		return nil, err
	}
	sessionID, err := o.mainSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	out := o.invoke(ctx, "single", agent.ID, sessionID, req.Prompt, req.Timeout)
	result := &api.MultiAgentResult{SessionID: sessionID, Responses: out.Messages}
	if out.Success {
		result.SuccessCount = 1
	} else {
		result.FailureCount = 1
	}
	return result, nil
}

func (o *Orchestrator) mainSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	id, err := o.supervisor.Service().CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

func (o *Orchestrator) linkedSession(ctx context.Context, links SessionLinks, agentID string) (string, error) {
	if links != nil {
		if id, ok := links.Get(agentID); ok && id != "" {
			return id, nil
		}
	}
	id, err := o.supervisor.Service().CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("creating session for %s: %w", agentID, err)
	}
	if links != nil {
		links.Set(agentID, id)
	}
	return id, nil
}

// invoke sends prompt to one agent and collects its answer. Every failure
// is logged and reported as an unsuccessful outcome.
func (o *Orchestrator) invoke(ctx context.Context, role, agentID, sessionID, prompt string, budget time.Duration) (out api.AgentOutcome) {
	out.AgentID = agentID
	defer func() {
		status := "success"
		if !out.Success {
			status = "failure"
		}
		observability.AgentInvocationsTotal.WithLabelValues(role, status).Inc()
	}()

	if budget <= 0 {
		slog.Warn("no time left for agent", "agent_id", agentID, "session_id", sessionID)
		return out
	}
	deadline := time.Now().Add(budget)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	runID, since, err := o.supervisor.Send(runCtx, sessionID, agentID, prompt, budget)
	if err != nil {
		slog.Warn("sending prompt to agent failed", "agent_id", agentID, "session_id", sessionID, "error", err)
		return out
	}

	// Send may have used up the budget; the wait then fails at once.
	status, err := o.supervisor.AwaitCompletion(runCtx, sessionID, runID, time.Until(deadline))
	if err != nil {
		slog.Warn("waiting for agent run failed", "agent_id", agentID, "session_id", sessionID, "run_id", runID, "error", err)
		return out
	}
	if status != api.RunStatusCompleted {
		slog.Warn("agent run did not complete", "agent_id", agentID, "session_id", sessionID, "run_id", runID, "status", status)
		return out
	}

	msgs, err := o.supervisor.Collect(ctx, sessionID, runID, since)
	if err != nil {
		slog.Warn("collecting agent messages failed", "agent_id", agentID, "session_id", sessionID, "error", err)
		return out
	}
	out.Success = true
	out.Raw = msgs
	out.Messages = agents.ToChatResponses(msgs)
	return out
}

// synthesisPrompt folds the workers' answers into the interpreter prompt.
func (o *Orchestrator) synthesisPrompt(ctx context.Context, prompt string, outcomes []api.AgentOutcome) string {
	var b strings.Builder
	b.WriteString("The following question has been posed:\n")
	b.WriteString(prompt)
	b.WriteString("\n\n")
	b.WriteString("The following responses have been provided by the other assistants:\n")

	for _, out := range outcomes {
		if !out.Success || len(out.Raw) == 0 {
			continue
		}
		agentID := out.Raw[0].AgentID
		if agentID == "" {
			agentID = out.AgentID
		}
		fmt.Fprintf(&b, ">> Assistant: %s:\n", o.directory.Name(ctx, agentID))
		for _, msg := range out.Raw {
			for _, part := range msg.Parts {
				if part.Type == agents.PartText {
					fmt.Fprintf(&b, "%s\n\t", part.Text)
				} else {
					fmt.Fprintf(&b, "Image Response at path: %s\n\t", part.FileID)
				}
			}
		}
		b.WriteString("\n\n")
	}

	b.WriteString("Please consider the responses from these assistants in relation to your understanding " +
		"of the question and provide a suitable response to the question.")
	b.WriteString("\nSome assistants may not have the data or context needed to provide a suitable answer, " +
		"or may not have understood the question. Please consider this in your response.")
	return b.String()
}
