// Package http serves the chat API over HTTP.
//
// Chat endpoints accept GET with query parameters or POST with a JSON
// body; headers may carry any setting too. Every response is JSON, and
// failures use the api.ErrorResponse shape.
package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/chatctx"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/transport"
)

// Adapter routes chat requests to a transport.Handler.
type Adapter struct {
	handler  transport.Handler
	resolver *chatctx.Resolver
	mux      *http.ServeMux
	config   Config
}

// Config tunes the adapter.
type Config struct {
	MaxBodySize int64
	// PublicURL is the externally visible base URL used for stream URLs.
	// Empty derives it from the request.
	PublicURL string
	// AssistantTimeout applies when an assistant request names none.
	AssistantTimeout time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:      10 << 20,
		AssistantTimeout: 90 * time.Second,
	}
}

// NewAdapter creates an adapter. streams serves websocket subscriptions
// and may be nil. Middleware wraps handler in the given order.
func NewAdapter(handler transport.Handler, resolver *chatctx.Resolver, streams http.Handler, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		handler = transport.Chain(middlewares...)(handler)
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	if cfg.AssistantTimeout <= 0 {
		cfg.AssistantTimeout = DefaultConfig().AssistantTimeout
	}

	a := &Adapter{
		handler:  handler,
		resolver: resolver,
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		a.mux.HandleFunc(method+" /v1/completion", a.handleCompletion)
		a.mux.HandleFunc(method+" /v1/completion/{context}", a.handleCompletion)
		a.mux.HandleFunc(method+" /v1/assistant", a.handleAssistant)
		a.mux.HandleFunc(method+" /v1/assistant/{context}", a.handleAssistant)
		a.mux.HandleFunc(method+" /v1/create-stream", a.handleCreateStream)
	}
	if streams != nil {
		a.mux.Handle("GET /v1/stream/{id}", streams)
	}
	a.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})
	return a
}

// Handle registers an additional route, such as /metrics or the tool
// function routes.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the adapter's http.Handler with X-Request-ID
// propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(&hijackWriter{ResponseWriter: w}, r)
	})
}

// hijackWriter keeps websocket upgrades working behind the middleware.
type hijackWriter struct {
	http.ResponseWriter
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (w *hijackWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

type completionResponse struct {
	Response *api.ChatResponse `json:"response"`
	Context  string            `json:"context"`
}

type assistantResponse struct {
	Response []api.ChatResponse `json:"response"`
	Context  string             `json:"context"`
	Success  int                `json:"success"`
	Failed   int                `json:"failed"`
}

type createStreamResponse struct {
	StreamID  string `json:"stream-id"`
	StreamURL string `json:"stream-url"`
}

func (a *Adapter) handleCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r, transport.KindCompletion)
	if !ok {
		return
	}
	res, err := a.handler.Handle(r.Context(), req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{Response: res.Response, Context: res.Context})
}

func (a *Adapter) handleAssistant(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r, transport.KindAssistant)
	if !ok {
		return
	}
	res, err := a.handler.Handle(r.Context(), req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assistantResponse{
		Response: res.Responses,
		Context:  res.Context,
		Success:  res.Success,
		Failed:   res.Failed,
	})
}

// handleCreateStream allocates a stream id. The client subscribes to the
// returned URL and passes the id with its chat requests.
func (a *Adapter) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	id := api.NewStreamID()
	writeJSON(w, http.StatusOK, createStreamResponse{
		StreamID:  id,
		StreamURL: a.streamURL(r, id),
	})
}

func (a *Adapter) streamURL(r *http.Request, id string) string {
	base := strings.TrimRight(a.config.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/stream/" + id
}

// decode builds the transport request. It writes the error response and
// returns false on failure.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, kind transport.Kind) (*transport.Request, bool) {
	if ct := r.Header.Get("Content-Type"); r.Method == http.MethodPost && ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType)
		return nil, false
	}

	raw, err := chatctx.FromHTTP(r, a.config.MaxBodySize)
	if err != nil {
		transport.WriteError(w, err)
		return nil, false
	}
	req := &transport.Request{Kind: kind, Prompt: strings.TrimSpace(raw.String("prompt", ""))}
	if req.Prompt == "" {
		transport.WriteError(w, api.NewInvalidRequestError("prompt", "prompt is required"))
		return nil, false
	}

	if kind == transport.KindAssistant {
		if req.Agents, err = agentList(raw); err != nil {
			transport.WriteError(w, err)
			return nil, false
		}
		if req.Timeout, err = a.timeout(raw); err != nil {
			transport.WriteError(w, err)
			return nil, false
		}
	}

	if req.Chat, err = a.resolver.Resolve(r.Context(), raw); err != nil {
		transport.WriteError(w, err)
		return nil, false
	}
	debug.Log("http", "chat request decoded", "kind", kind, "agents", req.Agents, "stream", req.Chat.HasStream())
	return req, true
}

// agentList reads "assistants" or "assistant": a JSON list, or a string
// holding a JSON list or comma separated names.
func agentList(raw *chatctx.Request) ([]string, error) {
	v := raw.Value("assistants")
	if v == nil {
		v = raw.Value("assistant")
	}

	var names []string
	switch x := v.(type) {
	case []any:
		for _, e := range x {
			names = append(names, fmt.Sprint(e))
		}
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "[") {
			if err := json.Unmarshal([]byte(s), &names); err != nil {
				return nil, api.NewInvalidRequestError("assistants", fmt.Sprintf("invalid assistant list: %v", err))
			}
		} else {
			names = strings.Split(s, ",")
		}
	}

	out := names[:0]
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, api.NewInvalidRequestError("assistants", "at least one assistant is required")
	}
	return out, nil
}

func (a *Adapter) timeout(raw *chatctx.Request) (time.Duration, error) {
	v := raw.Value("timeout")
	if v == nil {
		v = raw.Value("timeout_secs")
	}
	var secs float64
	switch x := v.(type) {
	case nil:
		return a.config.AssistantTimeout, nil
	case float64:
		secs = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, api.NewInvalidRequestError("timeout", fmt.Sprintf("invalid timeout %q", x))
		}
		secs = f
	default:
		return 0, api.NewInvalidRequestError("timeout", fmt.Sprintf("invalid timeout %v", x))
	}
	if secs <= 0 {
		return a.config.AssistantTimeout, nil
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
