package api

import (
	"encoding/json"
	"testing"
)

func TestStreamMessageJSON(t *testing.T) {
	tests := []struct {
		name string
		msg  StreamMessage
		want map[string]any
	}{
		{
			name: "text payload",
			msg:  StreamMessage{Type: StreamProgress, Timestamp: 1700000000000, Message: "Thinking about what you said"},
			want: map[string]any{"type": "progress", "timestamp": float64(1700000000000), "message": "Thinking about what you said"},
		},
		{
			name: "fields payload",
			msg:  StreamMessage{Type: StreamInterim, Timestamp: 5, Fields: map[string]any{"delta": "Hel"}},
			want: map[string]any{"type": "interim", "timestamp": float64(5), "delta": "Hel"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestNewInterimDelta(t *testing.T) {
	m := NewInterimDelta("abc")
	if m.Type != StreamInterim || m.Fields["delta"] != "abc" || m.Timestamp == 0 {
		t.Errorf("unexpected message %+v", m)
	}
}
