// Package runs drives remote agent runs to completion.
//
// A Supervisor polls a run until it reaches a terminal status. When the run
// pauses for tool outputs it starts one background episode per run: the
// pending calls are dispatched on a bounded worker pool and the outputs are
// submitted together. A Guard ensures at most one episode per run is in
// flight; a second requires_action observation during an episode is
// skipped and re-examined on a later poll.
package runs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rhuss/parley/pkg/agents"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/tools"
)

const (
	// RunListLimit is the number of runs inspected by the idle check.
	RunListLimit = 50
	// MessageListLimit is the number of messages inspected by Collect.
	MessageListLimit = 30
)

// Options tunes the supervisor.
type Options struct {
	// PollInterval is the delay between run status polls.
	PollInterval time.Duration
	// IdleInterval is the delay between idle checks before sending.
	IdleInterval time.Duration
	// Workers bounds the concurrent tool calls of one episode.
	Workers int
	// EpisodeTimeout bounds a tool episode. Episodes outlive the caller
	// that started them, so they need their own limit.
	EpisodeTimeout time.Duration
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		PollInterval:   time.Second,
		IdleInterval:   200 * time.Millisecond,
		Workers:        10,
		EpisodeTimeout: 5 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = d.IdleInterval
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.EpisodeTimeout <= 0 {
		o.EpisodeTimeout = d.EpisodeTimeout
	}
	return o
}

// Supervisor drives runs of one agent service.
type Supervisor struct {
	svc        agents.Service
	dispatcher *tools.Dispatcher
	opts       Options
	guard      *Guard
	episodes   *episodes
}

// episodes tracks background tool episodes. It is shared by supervisors
// derived with WithService.
type episodes struct {
	mu    sync.Mutex
	tasks map[*Task]struct{}
	wg    sync.WaitGroup
}

// New creates a supervisor. Tool calls requested by runs are resolved
// through dispatcher.
func New(svc agents.Service, dispatcher *tools.Dispatcher, opts Options) *Supervisor {
	return &Supervisor{
		svc:        svc,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		guard:      NewGuard(),
		episodes:   &episodes{tasks: make(map[*Task]struct{})},
	}
}

// WithService returns a supervisor for another agent service, used when a
// request carries its own credentials. It shares the run guard and the
// episode tracking of s.
func (s *Supervisor) WithService(svc agents.Service) *Supervisor {
	c := *s
	c.svc = svc
	return &c
}

// Service returns the agent service the supervisor drives.
func (s *Supervisor) Service() agents.Service { return s.svc }

// AwaitCompletion polls the run until it reaches a terminal status and
// returns that status. Runs that require action get a tool episode. When
// timeout elapses first a timeout error is returned; the run itself is
// left alone.
func (s *Supervisor) AwaitCompletion(ctx context.Context, sessionID, runID string, timeout time.Duration) (api.RunStatus, error) {
	if timeout <= 0 {
		return "", timeoutError("no time left to wait for run %s", runID)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var last api.RunStatus
	for {
		run, err := s.svc.GetRun(ctx, sessionID, runID)
		if err != nil {
			if ctx.Err() != nil {
				return "", timeoutError("run %s did not complete within %s", runID, timeout)
			}
			return "", fmt.Errorf("polling run %s: %w", runID, err)
		}

		observability.RunPollsTotal.WithLabelValues(string(run.Status)).Inc()
		if last != run.Status {
			if verr := api.ValidateRunTransition(last, run.Status); verr != nil {
				slog.Warn("unexpected run status transition", "run_id", runID, "error", verr)
			}
			debug.Log("runs", "run status", "session_id", sessionID, "run_id", runID, "status", run.Status)
			last = run.Status
		}

		switch {
		case run.Status.IsTerminal():
			if run.Status != api.RunStatusCompleted && run.LastError != "" {
				slog.Warn("run ended without completing", "run_id", runID, "status", run.Status, "error", run.LastError)
			}
			return run.Status, nil
		case run.Status.NeedsAction():
			s.handleRequiredAction(ctx, sessionID, run)
		}

		select {
		case <-ctx.Done():
			return "", timeoutError("run %s did not complete within %s", runID, timeout)
		case <-ticker.C:
		}
	}
}

// handleRequiredAction starts a tool episode unless one is already in
// flight for the run.
func (s *Supervisor) handleRequiredAction(ctx context.Context, sessionID string, run *agents.Run) *Task {
	if !s.guard.TryAcquire(run.ID) {
		observability.ToolEpisodesTotal.WithLabelValues("skipped").Inc()
		debug.Log("runs", "tool episode already active", "run_id", run.ID)
		return nil
	}

	task := newTask(run.ID)
	s.episodes.mu.Lock()
	s.episodes.tasks[task] = struct{}{}
	s.episodes.mu.Unlock()
	s.episodes.wg.Add(1)

	// A batch with an unsupported call type fails as a whole. Submitting
	// the remaining outputs would leave the run waiting on the missing id.
	var rejected error
	calls := make([]tools.ToolCall, 0, len(run.ToolCalls))
	for _, tc := range run.ToolCalls {
		if tc.Type != "" && tc.Type != api.ToolTypeFunction {
			rejected = api.NewDispatchError("unsupported_tool_type",
				fmt.Sprintf("tool call %s has unsupported type %q", tc.ID, tc.Type))
			break
		}
		calls = append(calls, tools.CallFromRequest(tc))
	}

	epCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.EpisodeTimeout)
	go func() {
		defer s.episodes.wg.Done()
		defer cancel()
		defer func() {
			s.episodes.mu.Lock()
			delete(s.episodes.tasks, task)
			s.episodes.mu.Unlock()
		}()
		defer s.guard.Release(run.ID)

		err := rejected
		if err == nil {
			err = s.runEpisode(epCtx, sessionID, run.ID, calls)
		}
		if err != nil {
			observability.ToolEpisodesTotal.WithLabelValues("failed").Inc()
			slog.Error("tool episode failed", "session_id", sessionID, "run_id", run.ID, "error", err)
		} else {
			observability.ToolEpisodesTotal.WithLabelValues("submitted").Inc()
		}
		task.finish(err)
	}()
	return task
}

func (s *Supervisor) runEpisode(ctx context.Context, sessionID, runID string, calls []tools.ToolCall) error {
	results, err := s.dispatcher.ExecuteAll(ctx, calls, s.opts.Workers)
	if err != nil {
		return fmt.Errorf("dispatching tool calls: %w", err)
	}

	outputs := make([]agents.ToolOutput, 0, len(results))
	for _, r := range results {
		outputs = append(outputs, agents.ToolOutput{CallID: r.CallID, Output: r.Output})
	}
	if err := s.svc.SubmitToolOutputs(ctx, sessionID, runID, outputs); err != nil {
		return fmt.Errorf("submitting tool outputs: %w", err)
	}
	return nil
}

// WaitUntilIdle blocks until no recent run of the session is busy.
func (s *Supervisor) WaitUntilIdle(ctx context.Context, sessionID string, timeout time.Duration) error {
	if timeout <= 0 {
		return timeoutError("no time left to wait for %s to become idle", sessionID)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.IdleInterval)
	defer ticker.Stop()

	for {
		runs, err := s.svc.ListRuns(ctx, sessionID, RunListLimit)
		if err != nil {
			if ctx.Err() != nil {
				return timeoutError("session %s still busy after %s", sessionID, timeout)
			}
			return fmt.Errorf("listing runs of %s: %w", sessionID, err)
		}
		if !anyBusy(runs) {
			return nil
		}

		select {
		case <-ctx.Done():
			return timeoutError("timeout waiting for all active runs on %s to complete or fail before sending a message", sessionID)
		case <-ticker.C:
		}
	}
}

func anyBusy(runs []agents.Run) bool {
	for _, r := range runs {
		if r.Status.IsBusy() {
			return true
		}
	}
	return false
}

// Send waits for the session to be idle, posts the prompt and starts a run
// of agentID. It returns the run id and the time the prompt was sent.
func (s *Supervisor) Send(ctx context.Context, sessionID, agentID, prompt string, timeout time.Duration) (string, time.Time, error) {
	if err := s.WaitUntilIdle(ctx, sessionID, timeout); err != nil {
		return "", time.Time{}, err
	}

	started := time.Now()
	if _, err := s.svc.SendMessage(ctx, sessionID, prompt); err != nil {
		return "", time.Time{}, fmt.Errorf("sending message: %w", err)
	}
	run, err := s.svc.StartRun(ctx, agentID, sessionID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("starting run: %w", err)
	}
	return run.ID, started, nil
}

// Collect returns the assistant messages produced by runID since the
// prompt was sent, newest first. Messages without a creation time or run
// id are kept. Creation times have whole-second resolution, so the cutoff
// is the start of the second the prompt was sent in; a reply written in
// that same second is kept, and earlier runs are excluded by run id.
func (s *Supervisor) Collect(ctx context.Context, sessionID, runID string, since time.Time) ([]api.AgentMessage, error) {
	msgs, err := s.svc.ListMessages(ctx, sessionID, agents.MessageFilter{
		Role:       api.RoleAssistant,
		Limit:      MessageListLimit,
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	cutoff := since.Truncate(time.Second)
	out := make([]api.AgentMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.CreatedAt > 0 && time.Unix(m.CreatedAt, 0).Before(cutoff) {
			continue
		}
		if m.RunID != "" && m.RunID != runID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Active returns the number of tool episodes in flight.
func (s *Supervisor) Active() int {
	s.episodes.mu.Lock()
	defer s.episodes.mu.Unlock()
	return len(s.episodes.tasks)
}

// Wait blocks until every tool episode has finished.
func (s *Supervisor) Wait() {
	s.episodes.wg.Wait()
}

func timeoutError(format string, args ...any) error {
	return api.NewTimeoutError(fmt.Sprintf(format, args...))
}
