package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestAPIErrorInterface(t *testing.T) {
	var _ error = &APIError{}
}

func TestAPIErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			"with param",
			&APIError{Type: ErrorTypeConfiguration, Param: "openai-key", Message: "is required"},
			"configuration_error: is required (param: openai-key)",
		},
		{
			"without param",
			&APIError{Type: ErrorTypeTimeout, Message: "run did not finish"},
			"timeout_error: run did not finish",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("APIError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *APIError
		wantType  ErrorType
		wantParam string
		wantCode  string
	}{
		{"invalid request", NewInvalidRequestError("prompt", "is required"), ErrorTypeInvalidRequest, "prompt", ""},
		{"not found", NewNotFoundError("assistant not found"), ErrorTypeNotFound, "", ""},
		{"server error", NewServerError("internal failure"), ErrorTypeServerError, "", ""},
		{"configuration", NewConfigurationError("thread", "no usable session"), ErrorTypeConfiguration, "thread", ""},
		{"timeout", NewTimeoutError("deadline"), ErrorTypeTimeout, "", ""},
		{"dispatch", NewDispatchError("unknown_tool", "no such tool"), ErrorTypeDispatch, "", "unknown_tool"},
		{"transport", NewTransportError("status_502", "bad gateway"), ErrorTypeTransport, "", "status_502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if tt.err.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", tt.err.Param, tt.wantParam)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestErrorHelpersUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("worker alpha: %w", NewTimeoutError("run r1 still in_progress"))

	if !IsTimeout(wrapped) {
		t.Error("IsTimeout() = false for wrapped timeout error")
	}
	if IsDispatch(wrapped) {
		t.Error("IsDispatch() = true for timeout error")
	}
	if IsConfiguration(errors.New("plain")) {
		t.Error("IsConfiguration() = true for plain error")
	}
	if !IsDispatch(NewDispatchError("unknown_tool", "x")) {
		t.Error("IsDispatch() = false for dispatch error")
	}
}

func TestErrorResponseJSON(t *testing.T) {
	resp := ErrorResponse{Error: NewInvalidRequestError("prompt", "is required")}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"error":{"type":"invalid_request","param":"prompt","message":"is required"}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
