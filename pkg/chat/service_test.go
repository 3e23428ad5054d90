package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/parley/pkg/agents"
	"github.com/rhuss/parley/pkg/agents/agentstest"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/chatconfig"
	"github.com/rhuss/parley/pkg/chatctx"
	"github.com/rhuss/parley/pkg/engine"
	"github.com/rhuss/parley/pkg/multiagent"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/runs"
	"github.com/rhuss/parley/pkg/storage"
	"github.com/rhuss/parley/pkg/storage/memory"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
	"github.com/rhuss/parley/pkg/transport"
)

// echoCompletion answers every call with the last user message.
type echoCompletion struct {
	mu       sync.Mutex
	requests []*provider.Request
	closed   int
}

func (e *echoCompletion) Name() string { return "echo" }

func (e *echoCompletion) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *echoCompletion) Complete(_ context.Context, req *provider.Request) (*provider.Completion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	last := req.Messages[len(req.Messages)-1].Text()
	return provider.NewMessageCompletion([]provider.Choice{{
		Message:      api.NewTextMessage(api.RoleAssistant, "echo: "+last),
		FinishReason: provider.FinishStop,
	}}), nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []api.StreamMessage
}

func (n *recordingNotifier) Publish(_ context.Context, _ string, msg api.StreamMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs {
		if m.Type == api.StreamError {
			out = append(out, m.Message)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	comp     *echoCompletion
	sessions storage.SessionStore
	notes    *recordingNotifier
	agents   *agentstest.Fake
}

func newFixture(t *testing.T, env map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		comp:     &echoCompletion{},
		sessions: storage.NewSessionStore(memory.New(0)),
		notes:    &recordingNotifier{},
		agents: agentstest.New(
			agents.Agent{ID: "asst_a", Name: "Alpha"},
			agents.Agent{ID: "asst_b", Name: "Interpreter"},
		),
	}
	loader := &chatconfig.Loader{LookupEnv: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}
	sup := runs.New(f.agents, tools.NewDispatcher(nil, nil), runs.Options{
		PollInterval: 5 * time.Millisecond,
		IdleInterval: 5 * time.Millisecond,
	})
	orch := multiagent.New(sup, agents.NewDirectory(f.agents), multiagent.Options{InterpreterFloor: time.Second})

	svc, err := New(Options{
		Sessions:   f.sessions,
		Dispatcher: tools.NewDispatcher(nil, nil),
		Notifier:   f.notes,
		Configs:    loader,
		Engine:     engine.Config{PublishInterval: time.Hour},
		Completion: func(*chatctx.ChatContext) (provider.CompletionService, error) { return f.comp, nil },
		Agents:     SharedAgents(orch),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

func newChat() *chatctx.ChatContext {
	return &chatctx.ChatContext{
		Key:        "sk-test",
		Region:     "westeurope",
		Model:      "gpt-4",
		Timeout:    30 * time.Second,
		MaxSteps:   5,
		MaxHistory: 20,
		Links:      chatctx.Links{},
	}
}

func TestNew_RequiresCompletion(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New without completion factory succeeded")
	}
}

func TestHandle_Completion(t *testing.T) {
	f := newFixture(t, nil)
	chat := newChat()

	res, err := f.svc.Handle(context.Background(), &transport.Request{
		Kind: transport.KindCompletion, Chat: chat, Prompt: "What is 2+2?",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Response == nil || res.Response.Message != "echo: What is 2+2?" {
		t.Fatalf("response = %+v", res.Response)
	}
	if chat.SessionID == "" || chat.SessionID != res.Response.ThreadID {
		t.Errorf("session = %q, thread = %q", chat.SessionID, res.Response.ThreadID)
	}
	if res.Context != chat.Token() {
		t.Error("result context is not the chat token")
	}
	if f.comp.closed != 1 {
		t.Errorf("client closed %d times, want 1", f.comp.closed)
	}

	sess, err := f.sessions.Get(context.Background(), chat.SessionID)
	if err != nil || sess == nil {
		t.Fatalf("stored session: %v, %v", sess, err)
	}

	req := f.comp.requests[0]
	if req.Model != "gpt-4" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", req.Temperature)
	}
}

func TestHandle_CompletionContinuesSession(t *testing.T) {
	f := newFixture(t, nil)
	chat := newChat()
	ctx := context.Background()

	if _, err := f.svc.Handle(ctx, &transport.Request{Kind: transport.KindCompletion, Chat: chat, Prompt: "first"}); err != nil {
		t.Fatal(err)
	}
	first := chat.SessionID
	if _, err := f.svc.Handle(ctx, &transport.Request{Kind: transport.KindCompletion, Chat: chat, Prompt: "second"}); err != nil {
		t.Fatal(err)
	}
	if chat.SessionID != first {
		t.Errorf("session changed from %q to %q", first, chat.SessionID)
	}
	// system, user, assistant, user
	if n := len(f.comp.requests[1].Messages); n != 4 {
		t.Errorf("second request carried %d messages, want 4", n)
	}
}

func TestHandle_DataSources(t *testing.T) {
	f := newFixture(t, map[string]string{
		"CONFIG_DOCS": `{"data-sources": [{"type": "azure_search", "parameters": {"index_name": "kb"}}]}`,
	})
	chat := newChat()
	chat.DataSourceConfig = "docs"

	if _, err := f.svc.Handle(context.Background(), &transport.Request{
		Kind: transport.KindCompletion, Chat: chat, Prompt: "find it",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	ds := f.comp.requests[0].DataSources
	if len(ds) != 1 || ds[0]["type"] != "azure_search" {
		t.Errorf("data sources = %v", ds)
	}
}

func TestHandle_MissingDataSourcePublishesError(t *testing.T) {
	f := newFixture(t, nil)
	chat := newChat()
	chat.DataSourceConfig = "missing"
	chat.StreamID = api.NewStreamID()

	_, err := f.svc.Handle(context.Background(), &transport.Request{
		Kind: transport.KindCompletion, Chat: chat, Prompt: "find it",
	})
	if !api.IsConfiguration(err) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if got := f.notes.errors(); len(got) != 1 {
		t.Errorf("error messages = %v, want one", got)
	}
	if len(f.comp.requests) != 0 {
		t.Error("backend called despite configuration error")
	}
}

func TestHandle_Bindings(t *testing.T) {
	f := newFixture(t, nil)
	reg := registry.New()
	reg.RegisterFunctions("test", tools.NewFunction(tools.FunctionSpec{Name: "get_item", Description: "Reads an item"},
		func(context.Context, map[string]any) (any, error) { return "{}", nil }))
	f.svc.opts.Dispatcher = tools.NewDispatcher(reg, nil)

	chat := newChat()
	chat.Config = &chatconfig.ChatConfig{
		Name:      "sales",
		Functions: []tools.Binding{{Name: "lookup_customer", Function: "get_item"}},
	}
	if _, err := f.svc.Handle(context.Background(), &transport.Request{
		Kind: transport.KindCompletion, Chat: chat, Prompt: "hi",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	defs := f.comp.requests[0].Tools
	if len(defs) != 1 || defs[0].Function.Name != "lookup_customer" {
		t.Errorf("tools = %+v, want only lookup_customer", defs)
	}
}

func TestHandle_Assistant(t *testing.T) {
	f := newFixture(t, nil)
	chat := newChat()

	res, err := f.svc.Handle(context.Background(), &transport.Request{
		Kind:    transport.KindAssistant,
		Chat:    chat,
		Prompt:  "summarise the quarter",
		Agents:  []string{"Alpha", "Interpreter"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Success != 2 || res.Failed != 0 {
		t.Errorf("success/failed = %d/%d, want 2/0", res.Success, res.Failed)
	}
	if len(res.Responses) == 0 || !strings.Contains(res.Responses[0].Message, "asst_b") {
		t.Errorf("responses = %+v", res.Responses)
	}
	if chat.SessionID == "" {
		t.Error("main session not recorded")
	}
	if id, ok := chat.Links.Get("asst_a"); !ok || id == "" {
		t.Errorf("worker session not linked: %v", chat.Links)
	}
	if res.Context != chat.Token() {
		t.Error("result context is not the chat token")
	}
}

func TestHandle_AssistantUnknownAgent(t *testing.T) {
	f := newFixture(t, nil)
	chat := newChat()
	chat.StreamID = api.NewStreamID()

	_, err := f.svc.Handle(context.Background(), &transport.Request{
		Kind: transport.KindAssistant, Chat: chat, Prompt: "hi", Agents: []string{"Nobody"},
		Timeout: time.Second,
	})
	if !api.IsType(err, api.ErrorTypeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if got := f.notes.errors(); len(got) != 1 {
		t.Errorf("error messages = %v, want one", got)
	}
}

func TestHandle_AssistantDisabled(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.opts.Agents = nil
	_, err := f.svc.Handle(context.Background(), &transport.Request{
		Kind: transport.KindAssistant, Chat: newChat(), Prompt: "hi", Agents: []string{"Alpha"},
	})
	if !api.IsConfiguration(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestHandle_UnsupportedKind(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Handle(context.Background(), &transport.Request{Kind: "poem", Chat: newChat()})
	if !api.IsType(err, api.ErrorTypeInvalidRequest) {
		t.Errorf("err = %v, want invalid request", err)
	}
}

func TestOpenAICompletion(t *testing.T) {
	chat := newChat()
	chat.Endpoint = ""
	chat.Version = "2024-02-15-preview"
	chat.Config = &chatconfig.ChatConfig{DataSourceAPIVersion: "2024-05-01-preview"}

	client, err := OpenAICompletion("azure", "", nil)(chat)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if client.Name() != "azure-openai" {
		t.Errorf("Name = %q", client.Name())
	}

	chat.Version = ""
	if _, err := OpenAICompletion("azure", "", nil)(chat); !api.IsConfiguration(err) {
		t.Errorf("missing version: err = %v, want configuration error", err)
	}
}

func TestPerRequestAgents_Caches(t *testing.T) {
	sup := runs.New(agentstest.New(), tools.NewDispatcher(nil, nil), runs.Options{})
	factory := PerRequestAgents(sup, multiagent.Options{}, true, nil)

	a := newChat()
	a.Version = "2024-02-15-preview"
	b := *a
	b.Key = "sk-other"

	oa1, err := factory(a)
	if err != nil {
		t.Fatal(err)
	}
	oa2, _ := factory(a)
	ob, _ := factory(&b)
	if oa1 != oa2 {
		t.Error("same credentials built a second orchestrator")
	}
	if oa1 == ob {
		t.Error("different keys share an orchestrator")
	}
}
