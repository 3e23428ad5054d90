package api

import (
	"strings"
	"testing"
)

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()
	if !ValidateMessageID(id) {
		t.Errorf("NewMessageID() = %q, want valid message ID", id)
	}
}

func TestNewCallID(t *testing.T) {
	id := NewCallID()
	if !strings.HasPrefix(id, "call_") || len(id) != len("call_")+24 {
		t.Errorf("NewCallID() = %q, want call_ + 24 chars", id)
	}
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if !ValidateStreamID(id) {
			t.Fatalf("NewSessionID() = %q, want 32 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestValidateMessageID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "msg_abcdefghijklmnopqrstuvwx", true},
		{"valid digits", "msg_123456789012345678901234", true},
		{"wrong prefix", "run_abcdefghijklmnopqrstuvwx", false},
		{"too short", "msg_abc", false},
		{"special chars", "msg_abcdefghijklmnopqrstuv!@", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMessageID(tt.id); got != tt.want {
				t.Errorf("ValidateMessageID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestValidateStreamID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0123456789abcdef0123456789abcdef", true},
		{"0123456789ABCDEF0123456789abcdef", false},
		{"0123-4567", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidateStreamID(tt.id); got != tt.want {
			t.Errorf("ValidateStreamID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
