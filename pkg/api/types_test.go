package api

import (
	"encoding/json"
	"testing"
)

func TestMessageWireStripsBookkeeping(t *testing.T) {
	m := NewTextMessage(RoleAssistant, "hello")
	m.Citations = []Citation{{ID: "c1"}}

	w := m.Wire()
	if w.Timestamp != 0 || w.Citations != nil {
		t.Fatalf("Wire() kept bookkeeping: %+v", w)
	}
	if m.Timestamp == 0 || len(m.Citations) != 1 {
		t.Fatal("Wire() modified the original message")
	}

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(data), `{"role":"assistant","content":"hello"}`; got != want {
		t.Errorf("wire JSON = %s, want %s", got, want)
	}
}

func TestMessageToolCallsOmitContent(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCallRequest{{
			ID: "call_1", Type: ToolTypeFunction,
			Function: FunctionCall{Name: "search", Arguments: `{"query":"x"}`},
		}},
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":\"x\"}"}}]}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
	if m.Text() != "" {
		t.Errorf("Text() = %q, want empty", m.Text())
	}
}

func TestSessionAppendStampsTimestamp(t *testing.T) {
	s := &Session{ID: "s1"}
	s.Append(Message{Role: RoleUser})
	if s.Messages[0].Timestamp == 0 {
		t.Error("Append() did not stamp the message")
	}
	s.Append(Message{Role: RoleUser, Timestamp: 42})
	if s.Messages[1].Timestamp != 42 {
		t.Errorf("Append() overwrote timestamp: %d", s.Messages[1].Timestamp)
	}
	for _, m := range s.WireMessages() {
		if m.Timestamp != 0 {
			t.Error("WireMessages() kept timestamps")
		}
	}
}

func TestCitationFromDataSource(t *testing.T) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(`{"id":"d1","content":"text","title":"Doc","filepath":"docs/a.md","start":3,"end":9}`), &raw); err != nil {
		t.Fatal(err)
	}
	c := CitationFromDataSource(raw)
	if c.ID != "d1" || c.Content != "text" || c.Title != "Doc" {
		t.Errorf("unexpected citation %+v", c)
	}
	if c.URL != "docs/a.md" {
		t.Errorf("URL = %q, want filepath fallback", c.URL)
	}
	if c.Start == nil || *c.Start != 3 || c.End == nil || *c.End != 9 {
		t.Errorf("Start/End = %v/%v", c.Start, c.End)
	}

	c = CitationFromDataSource(map[string]any{"url": "https://x", "filepath": "ignored"})
	if c.URL != "https://x" {
		t.Errorf("URL = %q, want explicit url", c.URL)
	}
}

func TestChatResponseJSONFlattensMetadata(t *testing.T) {
	r := ChatResponse{
		ID:       "msg_1",
		AgentID:  "asst_1",
		Message:  "answer",
		Metadata: map[string]any{"image": []string{"file_1"}},
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["assistant-id"] != "asst_1" || got["message"] != "answer" || got["id"] != "msg_1" {
		t.Errorf("unexpected JSON %s", data)
	}
	if _, ok := got["image"]; !ok {
		t.Errorf("metadata not flattened: %s", data)
	}
	if _, ok := got["intent"]; ok {
		t.Errorf("empty intent should be omitted: %s", data)
	}
}

func TestChatResponseAppend(t *testing.T) {
	var r ChatResponse
	r.AppendMessage("one")
	r.AppendMessage("two")
	r.AppendIntent("a")
	r.AppendIntent("b")
	if r.Message != "one\ntwo" {
		t.Errorf("Message = %q", r.Message)
	}
	if r.Intent != "a\nb" {
		t.Errorf("Intent = %q", r.Intent)
	}
}
