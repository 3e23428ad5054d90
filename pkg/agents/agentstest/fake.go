// Package agentstest provides an in-memory agents.Service for tests.
package agentstest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/parley/pkg/agents"
	"github.com/rhuss/parley/pkg/api"
)

// Fake is an in-memory agents.Service. Runs advance when polled: Step is
// called with the run and the number of times it has been fetched. A run
// that reaches completed leaves the text returned by Reply in its session.
type Fake struct {
	// Step moves a run forward. Nil completes runs on the first poll.
	Step func(run *agents.Run, polls int)
	// Reply returns the assistant text for a completed run. Nil replies
	// "reply from <agent id>".
	Reply func(run *agents.Run) string

	mu        sync.Mutex
	agents    []agents.Agent
	seq       int
	sessions  map[string][]api.AgentMessage
	runs      map[string]*agents.Run
	polls     map[string]int
	submitted map[string][][]agents.ToolOutput
	calls     map[string]int
}

var _ agents.Service = (*Fake)(nil)

// New creates a fake that knows the given agents.
func New(known ...agents.Agent) *Fake {
	return &Fake{
		agents:    known,
		sessions:  make(map[string][]api.AgentMessage),
		runs:      make(map[string]*agents.Run),
		polls:     make(map[string]int),
		submitted: make(map[string][][]agents.ToolOutput),
		calls:     make(map[string]int),
	}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Fake) count(method string) {
	f.calls[method]++
}

// Calls returns how often method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Submitted returns the tool outputs submitted for runID, one slice per
// submission.
func (f *Fake) Submitted(runID string) [][]agents.ToolOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.submitted[runID])
}

// Messages returns the messages of a session in creation order.
func (f *Fake) Messages(sessionID string) []api.AgentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sessions[sessionID])
}

// AddRun registers a run in the given state, for tests that start from an
// existing session.
func (f *Fake) AddRun(run agents.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[run.SessionID]; !ok {
		f.sessions[run.SessionID] = nil
	}
	r := run
	f.runs[r.ID] = &r
}

// SetStatus overrides the status of a run.
func (f *Fake) SetStatus(runID string, status api.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		r.Status = status
	}
}

// AddMessage appends a message to a session.
func (f *Fake) AddMessage(msg api.AgentMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[msg.SessionID] = append(f.sessions[msg.SessionID], msg)
}

func (f *Fake) CreateSession(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateSession")
	id := f.nextID("thread")
	f.sessions[id] = nil
	return id, nil
}

func (f *Fake) SendMessage(_ context.Context, sessionID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("SendMessage")
	if _, ok := f.sessions[sessionID]; !ok {
		return "", api.NewNotFoundError("session " + sessionID + " not found")
	}
	id := f.nextID("msg")
	f.sessions[sessionID] = append(f.sessions[sessionID], api.AgentMessage{
		ID:        id,
		SessionID: sessionID,
		Role:      api.RoleUser,
		CreatedAt: time.Now().Unix(),
		Parts:     []api.ContentPart{{Type: agents.PartText, Text: text}},
	})
	return id, nil
}

func (f *Fake) StartRun(_ context.Context, agentID, sessionID string) (*agents.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("StartRun")
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, api.NewNotFoundError("session " + sessionID + " not found")
	}
	run := &agents.Run{
		ID:        f.nextID("run"),
		SessionID: sessionID,
		AgentID:   agentID,
		Status:    api.RunStatusQueued,
		CreatedAt: time.Now().Unix(),
	}
	f.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (f *Fake) GetRun(_ context.Context, sessionID, runID string) (*agents.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetRun")
	run, ok := f.runs[runID]
	if !ok || run.SessionID != sessionID {
		return nil, api.NewNotFoundError("run " + runID + " not found")
	}

	f.polls[runID]++
	before := run.Status
	if !run.Status.IsTerminal() && !run.Status.NeedsAction() {
		if f.Step != nil {
			f.Step(run, f.polls[runID])
		} else {
			run.Status = api.RunStatusCompleted
		}
	}
	if before != api.RunStatusCompleted && run.Status == api.RunStatusCompleted {
		f.reply(run)
	}

	cp := *run
	cp.ToolCalls = slices.Clone(run.ToolCalls)
	return &cp, nil
}

func (f *Fake) reply(run *agents.Run) {
	text := "reply from " + run.AgentID
	if f.Reply != nil {
		text = f.Reply(run)
	}
	f.sessions[run.SessionID] = append(f.sessions[run.SessionID], api.AgentMessage{
		ID:        f.nextID("msg"),
		AgentID:   run.AgentID,
		SessionID: run.SessionID,
		RunID:     run.ID,
		Role:      api.RoleAssistant,
		CreatedAt: time.Now().Unix(),
		Parts:     []api.ContentPart{{Type: agents.PartText, Text: text}},
	})
}

func (f *Fake) ListRuns(_ context.Context, sessionID string, limit int) ([]agents.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListRuns")
	var out []agents.Run
	for _, r := range f.runs {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b agents.Run) int { return compareDesc(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compareDesc(a, b string) int {
	switch {
	case len(a) != len(b):
		return len(b) - len(a)
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

func (f *Fake) ListMessages(_ context.Context, sessionID string, filter agents.MessageFilter) ([]api.AgentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListMessages")
	msgs, ok := f.sessions[sessionID]
	if !ok {
		return nil, api.NewNotFoundError("session " + sessionID + " not found")
	}
	var out []api.AgentMessage
	for _, m := range msgs {
		if filter.Role != "" && m.Role != filter.Role {
			continue
		}
		if filter.RunID != "" && m.RunID != filter.RunID {
			continue
		}
		out = append(out, m)
	}
	if filter.Descending {
		slices.Reverse(out)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *Fake) SubmitToolOutputs(_ context.Context, sessionID, runID string, outputs []agents.ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("SubmitToolOutputs")
	run, ok := f.runs[runID]
	if !ok || run.SessionID != sessionID {
		return api.NewNotFoundError("run " + runID + " not found")
	}
	if !run.Status.NeedsAction() {
		return api.NewInvalidRequestError("run_id", "run "+runID+" does not require action")
	}
	f.submitted[runID] = append(f.submitted[runID], slices.Clone(outputs))
	run.Status = api.RunStatusInProgress
	run.ToolCalls = nil
	return nil
}

func (f *Fake) ListAgents(_ context.Context) ([]agents.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListAgents")
	return slices.Clone(f.agents), nil
}
