// Package stream reassembles streamed completion fragments into complete
// assistant messages.
package stream

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/provider"
)

// ToolCallAccumulator collects the fragments of one tool call. Index is
// the merge key: fragments with the same index belong to the same call.
type ToolCallAccumulator struct {
	Index     int
	ID        string
	Type      string
	Name      string
	Arguments strings.Builder
}

// Accumulator holds the in-flight state of one streaming step. It is not
// safe for concurrent use; fragments must be applied in arrival order.
type Accumulator struct {
	role      api.Role
	content   strings.Builder
	pending   strings.Builder
	hasText   bool
	toolCalls map[int]*ToolCallAccumulator

	// toolContent is the raw tool channel of data-source streams.
	toolContent strings.Builder
}

// New returns an empty accumulator. The role defaults to assistant until a
// fragment declares one.
func New() *Accumulator {
	return &Accumulator{
		role:      api.RoleAssistant,
		toolCalls: make(map[int]*ToolCallAccumulator),
	}
}

// ApplyDelta merges one ordinary fragment. It reports whether visible
// content changed.
func (a *Accumulator) ApplyDelta(d *provider.Delta) (bool, error) {
	if d == nil {
		return false, nil
	}
	if d.Role != "" {
		a.role = api.Role(d.Role)
	}

	changed := false
	if d.Content != nil {
		a.content.WriteString(*d.Content)
		a.pending.WriteString(*d.Content)
		a.hasText = true
		changed = *d.Content != ""
	}

	for _, frag := range d.ToolCalls {
		tc, ok := a.toolCalls[frag.Index]
		if !ok {
			tc = &ToolCallAccumulator{Index: frag.Index}
			a.toolCalls[frag.Index] = tc
		}
		if frag.ID != "" {
			tc.ID = frag.ID
		}
		if frag.Type != "" {
			tc.Type = frag.Type
		}
		if tc.Type != "" && tc.Type != api.ToolTypeFunction {
			return changed, unsupportedType(tc)
		}
		if frag.Name != "" {
			if tc.Type != api.ToolTypeFunction {
				return changed, unsupportedType(tc)
			}
			tc.Name = frag.Name
		}
		tc.Arguments.WriteString(frag.Arguments)
	}

	return changed, nil
}

func unsupportedType(tc *ToolCallAccumulator) error {
	return api.NewDispatchError("unsupported_tool_type",
		fmt.Sprintf("unknown tool call type %q at index %d", tc.Type, tc.Index))
}

// ApplyDataSourceBatch merges one batch of data-source messages. It
// returns the end-of-turn flag of the batch and whether visible content
// changed.
func (a *Accumulator) ApplyDataSourceBatch(msgs []provider.DataSourceMessage) (endTurn, changed bool, err error) {
	for _, msg := range msgs {
		if msg.Delta == nil {
			continue
		}
		switch msg.Delta.Role {
		case "":
			if msg.Delta.Content == nil {
				continue
			}
			a.content.WriteString(*msg.Delta.Content)
			a.pending.WriteString(*msg.Delta.Content)
			a.hasText = true
			changed = true
		case string(api.RoleTool):
			if msg.Delta.Content == nil {
				continue
			}
			a.toolContent.WriteString(*msg.Delta.Content)
		case string(api.RoleAssistant):
			debug.Log("stream", "assistant delta in data-source batch", "content", msg.Delta.Content)
		default:
			return endTurn, changed, api.NewDispatchError("unexpected_role",
				fmt.Sprintf("data-source delta with unexpected role %q", msg.Delta.Role))
		}
		endTurn = msg.EndTurn
	}
	return endTurn, changed, nil
}

// Role returns the active role.
func (a *Accumulator) Role() api.Role { return a.role }

// Content returns all text accumulated so far.
func (a *Accumulator) Content() string { return a.content.String() }

// HasContent reports whether any text fragment was applied, even an
// empty one.
func (a *Accumulator) HasContent() bool { return a.hasText }

// Pending returns the text accumulated since the last TakePending.
func (a *Accumulator) Pending() string { return a.pending.String() }

// TakePending returns the text accumulated since the last call and resets
// the buffer.
func (a *Accumulator) TakePending() string {
	s := a.pending.String()
	a.pending.Reset()
	return s
}

// ToolCalls returns the assembled tool calls ordered by index.
func (a *Accumulator) ToolCalls() []api.ToolCallRequest {
	if len(a.toolCalls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.toolCalls))
	for i := range a.toolCalls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]api.ToolCallRequest, 0, len(idx))
	for _, i := range idx {
		tc := a.toolCalls[i]
		out = append(out, api.ToolCallRequest{
			ID:   tc.ID,
			Type: tc.Type,
			Function: api.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments.String(),
			},
		})
	}
	return out
}

// Message returns the assembled message with the active role.
func (a *Accumulator) Message() api.Message {
	m := api.Message{Role: a.role, ToolCalls: a.ToolCalls()}
	if a.hasText || len(m.ToolCalls) == 0 {
		text := a.content.String()
		m.Content = &text
	}
	return m
}

// HasCitations reports whether the raw tool channel holds a JSON object
// with a "citations" member.
func (a *Accumulator) HasCitations() bool {
	raw := a.toolContent.String()
	return raw != "" && gjson.Valid(raw) && gjson.Get(raw, "citations").Exists()
}

// Citations parses the raw tool channel and returns its citations, or nil
// when there are none.
func (a *Accumulator) Citations() []api.Citation {
	if !a.HasCitations() {
		return nil
	}
	return ParseCitations(a.toolContent.String())
}

// ParseCitations extracts the "citations" array of a tool-channel JSON
// document.
func ParseCitations(raw string) []api.Citation {
	var out []api.Citation
	gjson.Get(raw, "citations").ForEach(func(_, value gjson.Result) bool {
		if m, ok := value.Value().(map[string]any); ok {
			out = append(out, api.CitationFromDataSource(m))
		}
		return true
	})
	return out
}

// Throttle limits how often interim results are published.
type Throttle struct {
	Interval time.Duration
	last     time.Time
}

// DefaultPublishInterval is the minimum spacing between interim publishes.
const DefaultPublishInterval = 400 * time.Millisecond

// NewThrottle returns a throttle with the given interval, or the default
// when interval is zero.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Throttle{Interval: interval}
}

// Ready reports whether a publish with the given pending text may go out
// now. It records the publish time when it returns true.
func (t *Throttle) Ready(pending string, force bool, now time.Time) bool {
	if pending == "" {
		return false
	}
	if !force && now.Sub(t.last) <= t.Interval {
		return false
	}
	t.last = now
	return true
}
