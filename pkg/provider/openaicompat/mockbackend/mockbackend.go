// Package mockbackend serves a deterministic Chat Completions API for
// local runs and integration tests. It answers both the plain /v1 layout
// and Azure deployments, streams or returns whole responses, and emits
// data-source batches when the request carries data sources.
//
// Replies are derived from the request:
//   - after a tool result, the reply quotes the tool output
//   - when tools are offered and the last user message names one, the
//     reply calls it with the JSON object that follows the name, or {};
//     tool_choice "none" suppresses the call
//   - a user message containing "backend error" fails with status 500
//   - anything else is echoed back as "You said: <prompt>"
package mockbackend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/provider/openaicompat"
)

// Options configures the backend.
type Options struct {
	// APIKey, when set, is required as a Bearer token or an api-key header.
	APIKey string
	// Model is reported when the request names none.
	Model string
}

// Backend is an http.Handler speaking the Chat Completions protocol.
type Backend struct {
	opts     Options
	mux      *http.ServeMux
	requests atomic.Int64
}

// New creates a backend.
func New(opts Options) *Backend {
	if opts.Model == "" {
		opts.Model = "mock-model"
	}
	b := &Backend{opts: opts, mux: http.NewServeMux()}
	b.mux.HandleFunc("POST /v1/chat/completions", b.handleCompletion)
	b.mux.HandleFunc("POST /openai/deployments/{model}/chat/completions", b.handleCompletion)
	b.mux.HandleFunc("POST /openai/deployments/{model}/extensions/chat/completions", b.handleCompletion)
	b.mux.HandleFunc("GET /v1/models", b.handleModels)
	b.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return b
}

// ServeHTTP implements http.Handler.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// Requests returns the number of completion requests received.
func (b *Backend) Requests() int64 { return b.requests.Load() }

func (b *Backend) authorized(r *http.Request) bool {
	if b.opts.APIKey == "" {
		return true
	}
	if r.Header.Get("api-key") == b.opts.APIKey {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+b.opts.APIKey
}

func (b *Backend) handleCompletion(w http.ResponseWriter, r *http.Request) {
	b.requests.Add(1)
	if !b.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid_api_key", "Incorrect API key provided")
		return
	}

	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request")
		return
	}
	if req.Model == "" {
		req.Model = r.PathValue("model")
	}
	if req.Model == "" {
		req.Model = b.opts.Model
	}

	prompt := lastUserMessage(req.Messages)
	if strings.Contains(strings.ToLower(prompt), "backend error") {
		writeError(w, http.StatusInternalServerError, "server_error", "the mock backend failed on purpose")
		return
	}

	slog.Debug("mock completion", "model", req.Model, "messages", len(req.Messages),
		"tools", len(req.Tools), "stream", req.Stream, "data_sources", len(req.DataSources))

	if len(req.DataSources) > 0 {
		b.respondDataSources(w, &req, prompt)
		return
	}
	reply := b.reply(&req, prompt)
	if req.Stream {
		streamReply(w, req.Model, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply.response(req.Model))
}

func (b *Backend) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": b.opts.Model, "object": "model", "owned_by": "parley-mock"},
		},
	})
}

// reply is what the backend answers: text or one tool call.
type reply struct {
	text     string
	toolCall *openaicompat.ChatToolCall
}

func (b *Backend) reply(req *openaicompat.ChatCompletionRequest, prompt string) reply {
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "tool" {
		out := ""
		if c := req.Messages[n-1].Content; c != nil {
			out = *c
		}
		return reply{text: "Tool result: " + out}
	}
	tools := req.Tools
	if req.ToolChoice == "none" {
		tools = nil
	}
	for _, t := range tools {
		name := t.Function.Name
		i := strings.Index(prompt, name)
		if i < 0 {
			continue
		}
		return reply{toolCall: &openaicompat.ChatToolCall{
			ID:   fmt.Sprintf("call_mock_%d", len(req.Messages)),
			Type: "function",
			Function: openaicompat.ChatFunctionCall{
				Name:      name,
				Arguments: argumentsAfter(prompt[i+len(name):]),
			},
		}}
	}
	return reply{text: "You said: " + prompt}
}

func (r reply) response(model string) openaicompat.ChatCompletionResponse {
	msg := &openaicompat.ChatMessage{Role: "assistant"}
	finish := "stop"
	if r.toolCall != nil {
		msg.ToolCalls = []openaicompat.ChatToolCall{*r.toolCall}
		finish = "tool_calls"
	} else {
		text := r.text
		msg.Content = &text
	}
	return openaicompat.ChatCompletionResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Model:   model,
		Choices: []openaicompat.ChatChoice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage:   &openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// streamReply splits text on spaces and tool-call arguments in halves, so
// clients see the same fragmentation a real backend produces.
func streamReply(w http.ResponseWriter, model string, r reply) {
	sse, ok := newSSE(w, model)
	if !ok {
		return
	}
	sse.delta(&openaicompat.ChatChunkDelta{Role: "assistant"}, nil)

	finish := "stop"
	if tc := r.toolCall; tc != nil {
		finish = "tool_calls"
		half := len(tc.Function.Arguments) / 2
		sse.delta(&openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
			Index: 0, ID: tc.ID, Type: tc.Type,
			Function: openaicompat.ChatChunkFunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments[:half]},
		}}}, nil)
		sse.delta(&openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
			Index:    0,
			Function: openaicompat.ChatChunkFunctionCall{Arguments: tc.Function.Arguments[half:]},
		}}}, nil)
	} else {
		for _, tok := range tokens(r.text) {
			sse.delta(&openaicompat.ChatChunkDelta{Content: &tok}, nil)
		}
	}
	sse.delta(&openaicompat.ChatChunkDelta{}, &finish)
	sse.done()
}

// respondDataSources answers in the data-source extension format: a tool
// message carrying citations, then the answer, then an end-of-turn marker.
func (b *Backend) respondDataSources(w http.ResponseWriter, req *openaicompat.ChatCompletionRequest, prompt string) {
	citations, _ := json.Marshal(map[string]any{
		"citations": []map[string]any{{
			"id":       "doc-1",
			"title":    "Mock document",
			"content":  "Reference material for " + prompt,
			"filepath": "mock/doc-1.md",
		}},
		"intent": prompt,
	})
	tool := string(citations)
	answer := "Grounded answer: " + prompt

	if !req.Stream {
		writeJSON(w, http.StatusOK, openaicompat.ChatCompletionResponse{
			ID:     "chatcmpl-mock-ds",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openaicompat.ChatChoice{{
				Index: 0,
				Messages: []provider.DataSourceMessage{
					{Role: "tool", Content: &tool},
					{Role: "assistant", Content: &answer, EndTurn: true, Intent: prompt},
				},
				FinishReason: "stop",
			}},
		})
		return
	}

	sse, ok := newSSE(w, req.Model)
	if !ok {
		return
	}
	sse.messages(provider.DataSourceMessage{Delta: &provider.DataSourceDelta{Role: "tool", Content: &tool}})
	for _, tok := range tokens(answer) {
		sse.messages(provider.DataSourceMessage{Delta: &provider.DataSourceDelta{Content: &tok}})
	}
	sse.messages(provider.DataSourceMessage{Delta: &provider.DataSourceDelta{}, EndTurn: true})
	sse.done()
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	model   string
}

func newSSE(w http.ResponseWriter, model string) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher, model: model}, true
}

func (s *sseWriter) delta(d *openaicompat.ChatChunkDelta, finish *string) {
	s.chunk(openaicompat.ChatChunkChoice{Index: 0, Delta: d, FinishReason: finish})
}

func (s *sseWriter) messages(msgs ...provider.DataSourceMessage) {
	s.chunk(openaicompat.ChatChunkChoice{Index: 0, Messages: msgs})
}

func (s *sseWriter) chunk(choice openaicompat.ChatChunkChoice) {
	data, _ := json.Marshal(openaicompat.ChatCompletionChunk{
		ID:      "chatcmpl-mock-stream",
		Object:  "chat.completion.chunk",
		Model:   s.model,
		Choices: []openaicompat.ChatChunkChoice{choice},
	})
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}

func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func lastUserMessage(msgs []openaicompat.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && msgs[i].Content != nil {
			return *msgs[i].Content
		}
	}
	return ""
}

// argumentsAfter returns the JSON object starting at the first "{" of s,
// or "{}" when there is none or it does not parse.
func argumentsAfter(s string) string {
	i := strings.Index(s, "{")
	if i < 0 {
		return "{}"
	}
	dec := json.NewDecoder(strings.NewReader(s[i:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return "{}"
	}
	return string(raw)
}

// tokens splits text into words that keep their leading space.
func tokens(text string) []string {
	var out []string
	for i, w := range strings.Split(text, " ") {
		if i > 0 {
			w = " " + w
		}
		out = append(out, w)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	var resp openaicompat.ChatErrorResponse
	resp.Error.Message = msg
	resp.Error.Type = typ
	writeJSON(w, status, resp)
}
