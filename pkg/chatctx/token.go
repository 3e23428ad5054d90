package chatctx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/parley/pkg/api"
)

// Links maps agent ids to the sessions linked to a conversation.
type Links map[string]string

// Get returns the session linked to agentID.
func (l Links) Get(agentID string) (string, bool) {
	id, ok := l[agentID]
	return id, ok
}

// Set links sessionID to agentID. Set on a nil Links is a no-op; use
// ChatContext.Links, which is always allocated.
func (l Links) Set(agentID, sessionID string) {
	if l == nil {
		return
	}
	l[agentID] = sessionID
}

// token is the conversation state a client hands back on the next request.
type token struct {
	SessionID string `json:"t,omitempty"`
	Region    string `json:"r,omitempty"`
	Links     Links  `json:"lt,omitempty"`
	Model     string `json:"m,omitempty"`
}

func encodeToken(t token) string {
	data, err := json.Marshal(t)
	if err != nil {
		// Only strings are marshalled.
		panic(err)
	}
	return base64.URLEncoding.EncodeToString(data)
}

// decodeToken accepts tokens with or without padding.
func decodeToken(s string) (token, error) {
	var t token
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return t, api.NewInvalidRequestError("context", fmt.Sprintf("invalid context token: %v", err))
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, api.NewInvalidRequestError("context", fmt.Sprintf("invalid context token: %v", err))
	}
	return t, nil
}
