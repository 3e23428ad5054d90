package api

import "fmt"

// RunStatus is the lifecycle state of a remote agent run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// IsTerminal reports whether the run has stopped for good.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	}
	return false
}

// IsBusy reports whether the run still occupies its session. A session
// with a busy run must not receive new messages.
func (s RunStatus) IsBusy() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return true
	}
	return false
}

// NeedsAction reports whether the run is paused waiting for tool outputs.
func (s RunStatus) NeedsAction() bool {
	return s == RunStatusRequiresAction
}

// ValidateRunTransition checks whether an observed status change is one
// the remote service can produce. An empty "from" status represents a run
// that has not been observed yet.
func ValidateRunTransition(from, to RunStatus) *APIError {
	if from == to {
		return nil
	}
	valid := map[RunStatus][]RunStatus{
		"":                      {RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction, RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete, RunStatusCancelling},
		RunStatusQueued:         {RunStatusInProgress, RunStatusCancelling, RunStatusCancelled, RunStatusFailed, RunStatusExpired, RunStatusCompleted, RunStatusRequiresAction},
		RunStatusInProgress:     {RunStatusRequiresAction, RunStatusCancelling, RunStatusCompleted, RunStatusFailed, RunStatusIncomplete, RunStatusExpired, RunStatusCancelled},
		RunStatusRequiresAction: {RunStatusInProgress, RunStatusQueued, RunStatusCancelling, RunStatusCancelled, RunStatusFailed, RunStatusExpired, RunStatusCompleted},
		RunStatusCancelling:     {RunStatusCancelled, RunStatusFailed, RunStatusCompleted, RunStatusExpired},
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("status",
			fmt.Sprintf("invalid transition from terminal status %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}
