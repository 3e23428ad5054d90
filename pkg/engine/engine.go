package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/notify"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/storage"
	"github.com/rhuss/parley/pkg/tools"
)

// Progress messages published while a turn runs.
const (
	progressRecalling   = "Recalling our conversation so far"
	progressSummarising = "I'm just summarising the conversation so far"
	progressThinking    = "Thinking about what you said"
	progressAnalysing   = "Analysing the data I've collected so far"
	progressDocumenting = "Documenting our conversation"
)

// Engine processes conversation turns.
type Engine struct {
	completion provider.CompletionService
	sessions   storage.SessionStore
	dispatcher *tools.Dispatcher
	notifier   notify.Notifier
	cfg        Config
}

// New creates an Engine. The completion service must not be nil. A nil
// session store makes every turn start from an empty session and skips
// persistence; a nil dispatcher offers no tools; a nil notifier drops
// stream updates.
func New(completion provider.CompletionService, sessions storage.SessionStore, dispatcher *tools.Dispatcher, notifier notify.Notifier, cfg Config) (*Engine, error) {
	if completion == nil {
		return nil, errors.New("engine: completion service must not be nil")
	}
	if dispatcher == nil {
		dispatcher = tools.NewDispatcher(nil, nil)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		completion: completion,
		sessions:   sessions,
		dispatcher: dispatcher,
		notifier:   notifier,
		cfg:        cfg,
	}, nil
}

// ProcessTurn runs one turn and returns the response. Reaching the step
// limit without a final answer is not an error: the partial response is
// returned.
func (e *Engine) ProcessTurn(ctx context.Context, turn *Turn) (resp *api.ChatResponse, err error) {
	if turn == nil || strings.TrimSpace(turn.Prompt) == "" {
		return nil, api.NewInvalidRequestError("prompt", "prompt is required")
	}
	t := e.cfg.resolve(turn)
	if t.Model == "" {
		return nil, api.NewConfigurationError("model", "no model configured")
	}

	defer func() {
		observability.TurnsTotal.WithLabelValues(observability.Status(err)).Inc()
		if err != nil {
			e.publish(ctx, t, api.NewStreamMessage(api.StreamError, err.Error()))
		}
	}()

	e.progress(ctx, t, progressRecalling)
	sess, err := e.loadSession(ctx, t)
	if err != nil {
		return nil, err
	}
	sess.Append(api.NewTextMessage(api.RoleUser, t.Prompt))

	d := e.dispatcher
	if len(t.Bindings) > 0 {
		d = d.WithBindings(t.Bindings)
	}
	var defs []provider.ToolDefinition
	if len(t.DataSources) == 0 {
		defs, err = d.Definitions()
		if err != nil {
			return nil, fmt.Errorf("building tool definitions: %w", err)
		}
	}

	if len(sess.Messages) >= t.Limits.MaxHistory {
		if err := e.compact(ctx, t, sess, defs); err != nil {
			return nil, err
		}
	}

	resp = &api.ChatResponse{ThreadID: sess.ID}
	tr := &turnRun{engine: e, turn: t, session: sess, response: resp, dispatcher: d, tools: defs}
	steps, err := tr.run(ctx)
	observability.TurnSteps.Observe(float64(steps))
	if err != nil {
		return nil, err
	}

	e.progress(ctx, t, progressDocumenting)
	if e.sessions != nil {
		if err := e.sessions.Put(ctx, sess); err != nil {
			return nil, fmt.Errorf("saving session %s: %w", sess.ID, err)
		}
	}
	return resp, nil
}

// loadSession returns the stored session or a new one seeded with the
// system prompt.
func (e *Engine) loadSession(ctx context.Context, t *Turn) (*api.Session, error) {
	if t.SessionID != "" && e.sessions != nil {
		sess, err := e.sessions.Get(ctx, t.SessionID)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			if sess.Metadata == nil {
				sess.Metadata = map[string]any{}
			}
			debug.Log("completion", "session loaded", "session_id", sess.ID, "messages", len(sess.Messages))
			return sess, nil
		}
	}

	id := t.SessionID
	if id == "" {
		id = api.NewSessionID()
	}
	sess := &api.Session{ID: id, Metadata: map[string]any{}}
	sess.Append(api.NewTextMessage(api.RoleSystem, t.SystemPrompt))
	debug.Log("completion", "session initialized", "session_id", id)
	return sess, nil
}

// complete calls the backend and records provider metrics.
func (e *Engine) complete(ctx context.Context, t *Turn, req *provider.Request) (*provider.Completion, error) {
	name := e.completion.Name()
	start := time.Now()
	comp, err := e.completion.Complete(ctx, req)
	observability.ProviderLatency.WithLabelValues(name, t.Model).Observe(time.Since(start).Seconds())
	observability.ProviderRequestsTotal.WithLabelValues(name, t.Model, observability.Status(err)).Inc()
	if err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, api.NewServerError("completion service returned no result")
	}
	recordUsage(name, t.Model, comp.Usage)
	debug.Log("completion", "completion received", "kind", comp.Kind, "duration", time.Since(start))
	return comp, nil
}

func recordUsage(name, model string, u provider.Usage) {
	if u.InputTokens > 0 {
		observability.ProviderTokensTotal.WithLabelValues(name, model, "input").Add(float64(u.InputTokens))
	}
	if u.OutputTokens > 0 {
		observability.ProviderTokensTotal.WithLabelValues(name, model, "output").Add(float64(u.OutputTokens))
	}
}

// request builds the backend request for the given history.
func (e *Engine) request(t *Turn, messages []api.Message) *provider.Request {
	return &provider.Request{
		Model:       t.Model,
		Messages:    messages,
		Temperature: t.Limits.Temperature,
		TopP:        t.Limits.TopP,
		MaxTokens:   t.Limits.MaxTokens,
		Timeout:     t.Limits.Timeout,
	}
}

func (e *Engine) progress(ctx context.Context, t *Turn, message string) {
	e.publish(ctx, t, api.NewProgress(message))
}

func (e *Engine) publish(ctx context.Context, t *Turn, msg api.StreamMessage) {
	if t.StreamID == "" {
		return
	}
	e.notifier.Publish(ctx, t.StreamID, msg)
}

func wireMessages(msgs []api.Message) []api.Message {
	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Wire()
	}
	return out
}

func logUnhandledFinish(reason string, index int) {
	slog.Warn("ignoring finish reason", "finish_reason", reason, "choice", index)
}
