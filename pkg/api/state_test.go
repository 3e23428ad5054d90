package api

import (
	"strings"
	"testing"
)

func TestRunStatusClassification(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
		busy     bool
		action   bool
	}{
		{RunStatusQueued, false, true, false},
		{RunStatusInProgress, false, true, false},
		{RunStatusCancelling, false, true, false},
		{RunStatusRequiresAction, false, false, true},
		{RunStatusCompleted, true, false, false},
		{RunStatusFailed, true, false, false},
		{RunStatusCancelled, true, false, false},
		{RunStatusExpired, true, false, false},
		{RunStatusIncomplete, true, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsBusy(); got != tt.busy {
				t.Errorf("IsBusy() = %v, want %v", got, tt.busy)
			}
			if got := tt.status.NeedsAction(); got != tt.action {
				t.Errorf("NeedsAction() = %v, want %v", got, tt.action)
			}
		})
	}
}

func TestValidateRunTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RunStatus
		to      RunStatus
		wantErr bool
	}{
		{name: "first observation", from: "", to: RunStatusQueued},
		{name: "queued to in_progress", from: RunStatusQueued, to: RunStatusInProgress},
		{name: "in_progress to requires_action", from: RunStatusInProgress, to: RunStatusRequiresAction},
		{name: "requires_action back to in_progress", from: RunStatusRequiresAction, to: RunStatusInProgress},
		{name: "in_progress to completed", from: RunStatusInProgress, to: RunStatusCompleted},
		{name: "same status", from: RunStatusInProgress, to: RunStatusInProgress},
		{name: "cancelling to cancelled", from: RunStatusCancelling, to: RunStatusCancelled},

		{name: "completed to in_progress", from: RunStatusCompleted, to: RunStatusInProgress, wantErr: true},
		{name: "failed to completed", from: RunStatusFailed, to: RunStatusCompleted, wantErr: true},
		{name: "expired to queued", from: RunStatusExpired, to: RunStatusQueued, wantErr: true},
		{name: "in_progress back to queued", from: RunStatusInProgress, to: RunStatusQueued, wantErr: true},
		{name: "cancelling to in_progress", from: RunStatusCancelling, to: RunStatusInProgress, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunTransition(tt.from, tt.to)
			if tt.wantErr && err == nil {
				t.Fatalf("ValidateRunTransition(%q, %q) = nil, want error", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ValidateRunTransition(%q, %q) = %v, want nil", tt.from, tt.to, err)
			}
			if err != nil {
				if err.Type != ErrorTypeInvalidRequest {
					t.Errorf("error type = %q, want %q", err.Type, ErrorTypeInvalidRequest)
				}
				if !strings.Contains(err.Message, string(tt.to)) {
					t.Errorf("error message %q does not mention target status %q", err.Message, tt.to)
				}
			}
		})
	}
}
