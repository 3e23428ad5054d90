package agents

import (
	"context"

	"github.com/rhuss/parley/pkg/api"
)

// Run is a snapshot of one agent run.
type Run struct {
	ID        string
	SessionID string
	AgentID   string
	Status    api.RunStatus
	CreatedAt int64

	// ToolCalls holds the pending calls while Status is requires_action.
	ToolCalls []api.ToolCallRequest

	LastError string
}

// ToolOutput answers one pending tool call.
type ToolOutput struct {
	CallID string
	Output string
}

// Agent identifies a configured agent.
type Agent struct {
	ID   string
	Name string
}

// MessageFilter narrows ListMessages.
type MessageFilter struct {
	Role  api.Role
	Limit int
	// Descending lists the newest messages first.
	Descending bool
	RunID      string
}

// Service is the remote agent service.
//
// Implementations must be safe for concurrent use.
type Service interface {
	// CreateSession creates an empty conversation session and returns its id.
	CreateSession(ctx context.Context) (string, error)

	// SendMessage appends a user message to a session and returns its id.
	SendMessage(ctx context.Context, sessionID, text string) (string, error)

	// StartRun starts an agent run against a session.
	StartRun(ctx context.Context, agentID, sessionID string) (*Run, error)

	// GetRun returns the current state of a run.
	GetRun(ctx context.Context, sessionID, runID string) (*Run, error)

	// ListRuns returns up to limit runs of a session, newest first.
	ListRuns(ctx context.Context, sessionID string, limit int) ([]Run, error)

	// ListMessages returns the messages of a session that match the filter.
	ListMessages(ctx context.Context, sessionID string, filter MessageFilter) ([]api.AgentMessage, error)

	// SubmitToolOutputs resumes a run that requires action.
	SubmitToolOutputs(ctx context.Context, sessionID, runID string, outputs []ToolOutput) error

	// ListAgents returns every configured agent.
	ListAgents(ctx context.Context) ([]Agent, error)
}
