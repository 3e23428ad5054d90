// Package chat serves transport requests with the turn engine and the
// multi-agent orchestrator.
//
// Backend clients are built per request from the resolved chat context,
// so a request may bring its own key, region, or endpoint. Sessions,
// tools, and stream notifications are shared.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rhuss/parley/pkg/agents"
	agentsopenai "github.com/rhuss/parley/pkg/agents/openai"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/chatconfig"
	"github.com/rhuss/parley/pkg/chatctx"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/engine"
	"github.com/rhuss/parley/pkg/multiagent"
	"github.com/rhuss/parley/pkg/notify"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/provider/openaicompat"
	"github.com/rhuss/parley/pkg/runs"
	"github.com/rhuss/parley/pkg/storage"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/transport"
)

// CompletionFactory builds the completion client for a request.
type CompletionFactory func(chat *chatctx.ChatContext) (provider.CompletionService, error)

// AgentsFactory returns the orchestrator serving a request's agents.
type AgentsFactory func(chat *chatctx.ChatContext) (*multiagent.Orchestrator, error)

// Options wires the service.
type Options struct {
	Sessions   storage.SessionStore
	Dispatcher *tools.Dispatcher
	Notifier   notify.Notifier
	Configs    *chatconfig.Loader
	Engine     engine.Config

	Completion CompletionFactory
	// Agents is nil when assistant requests are not served.
	Agents AgentsFactory
}

// Service implements transport.Handler.
type Service struct {
	opts Options
}

var _ transport.Handler = (*Service)(nil)

// New creates the service.
func New(opts Options) (*Service, error) {
	if opts.Completion == nil {
		return nil, errors.New("chat: completion factory must not be nil")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Service{opts: opts}, nil
}

// Handle dispatches on the request kind. On success the chat context
// carries the conversation's sessions and the result its token.
func (s *Service) Handle(ctx context.Context, req *transport.Request) (*transport.Result, error) {
	if req.Chat == nil {
		return nil, api.NewServerError("request has no chat context")
	}
	switch req.Kind {
	case transport.KindCompletion:
		return s.complete(ctx, req)
	case transport.KindAssistant:
		res, err := s.assist(ctx, req)
		if err != nil {
			s.publishError(ctx, req.Chat, err)
		}
		return res, err
	}
	return nil, api.NewInvalidRequestError("", fmt.Sprintf("unsupported request kind %q", req.Kind))
}

func (s *Service) complete(ctx context.Context, req *transport.Request) (*transport.Result, error) {
	chat := req.Chat
	turn, err := s.turn(ctx, req)
	if err != nil {
		s.publishError(ctx, chat, err)
		return nil, err
	}

	client, err := s.opts.Completion(chat)
	if err != nil {
		s.publishError(ctx, chat, err)
		return nil, err
	}
	defer client.Close()

	eng, err := engine.New(client, s.opts.Sessions, s.opts.Dispatcher, s.opts.Notifier, s.opts.Engine)
	if err != nil {
		return nil, err
	}
	// The engine publishes its own failures to the stream.
	resp, err := eng.ProcessTurn(ctx, turn)
	if err != nil {
		return nil, err
	}

	chat.SessionID = resp.ThreadID
	return &transport.Result{Response: resp, Context: chat.Token()}, nil
}

func (s *Service) turn(ctx context.Context, req *transport.Request) (*engine.Turn, error) {
	chat := req.Chat
	temperature := chat.Temperature
	t := &engine.Turn{
		SessionID:    chat.SessionID,
		Prompt:       req.Prompt,
		Model:        chat.Model,
		SystemPrompt: chat.SystemPrompt,
		StreamID:     chat.StreamID,
		Limits: engine.Limits{
			MaxSteps:    chat.MaxSteps,
			MaxHistory:  chat.MaxHistory,
			Temperature: &temperature,
			TopP:        chat.TopP,
			MaxTokens:   chat.MaxTokens,
			Timeout:     chat.Timeout,
		},
	}
	if chat.Config != nil {
		t.Bindings = chat.Config.Functions
	}
	if chat.DataSourceConfig != "" {
		if s.opts.Configs == nil {
			return nil, api.NewConfigurationError("data-source-config", "no configuration loader available")
		}
		ds, err := s.opts.Configs.DataSources(ctx, chat.DataSourceConfig)
		if err != nil {
			return nil, err
		}
		t.DataSources = ds
		debug.Log("completion", "data sources attached", "config", chat.DataSourceConfig, "count", len(ds))
	}
	return t, nil
}

func (s *Service) assist(ctx context.Context, req *transport.Request) (*transport.Result, error) {
	if s.opts.Agents == nil {
		return nil, api.NewConfigurationError("assistants", "assistant requests are not enabled")
	}
	chat := req.Chat
	orch, err := s.opts.Agents(chat)
	if err != nil {
		return nil, err
	}
	if chat.Links == nil {
		chat.Links = chatctx.Links{}
	}

	out, err := orch.Run(ctx, multiagent.Request{
		Prompt:    req.Prompt,
		Agents:    req.Agents,
		Timeout:   req.Timeout,
		SessionID: chat.SessionID,
		Links:     chat.Links,
	})
	if err != nil {
		return nil, err
	}

	chat.SessionID = out.SessionID
	for agentID, sessionID := range out.ThreadIDs {
		chat.Links.Set(agentID, sessionID)
	}
	responses := out.Responses
	if responses == nil {
		responses = []api.ChatResponse{}
	}
	return &transport.Result{
		Responses: responses,
		Success:   out.SuccessCount,
		Failed:    out.FailureCount,
		Context:   chat.Token(),
	}, nil
}

func (s *Service) publishError(ctx context.Context, chat *chatctx.ChatContext, err error) {
	if !chat.HasStream() {
		return
	}
	s.opts.Notifier.Publish(ctx, chat.StreamID, api.NewStreamMessage(api.StreamError, err.Error()))
}

// OpenAICompletion returns a factory for OpenAI-compatible backends. Every
// client shares hc.
func OpenAICompletion(flavor openaicompat.Flavor, dataSourceAPIVersion string, hc *http.Client) CompletionFactory {
	return func(chat *chatctx.ChatContext) (provider.CompletionService, error) {
		dsVersion := dataSourceAPIVersion
		if chat.Config != nil && chat.Config.DataSourceAPIVersion != "" {
			dsVersion = chat.Config.DataSourceAPIVersion
		}
		return openaicompat.NewClient(openaicompat.Options{
			BaseURL:              chat.BaseURL(),
			APIKey:               chat.Key,
			Flavor:               flavor,
			APIVersion:           chat.Version,
			DataSourceAPIVersion: dsVersion,
			HTTPClient:           hc,
		})
	}
}

// SharedAgents serves every request with one orchestrator.
func SharedAgents(o *multiagent.Orchestrator) AgentsFactory {
	return func(*chatctx.ChatContext) (*multiagent.Orchestrator, error) {
		return o, nil
	}
}

// PerRequestAgents connects to the agent service named by each request's
// endpoint and key. Orchestrators are cached per endpoint and key, and
// all of them share supervisor's run guard.
func PerRequestAgents(supervisor *runs.Supervisor, opts multiagent.Options, azure bool, hc *http.Client) AgentsFactory {
	var (
		mu    sync.Mutex
		cache = make(map[string]*multiagent.Orchestrator)
	)
	return func(chat *chatctx.ChatContext) (*multiagent.Orchestrator, error) {
		key := chat.BaseURL() + "\x00" + chat.Version + "\x00" + chat.Key
		mu.Lock()
		defer mu.Unlock()
		if o, ok := cache[key]; ok {
			return o, nil
		}
		svc, err := agentsopenai.New(agentsopenai.Options{
			BaseURL:    chat.BaseURL(),
			APIKey:     chat.Key,
			Azure:      azure,
			APIVersion: chat.Version,
			HTTPClient: hc,
		})
		if err != nil {
			return nil, err
		}
		o := multiagent.New(supervisor.WithService(svc), agents.NewDirectory(svc), opts)
		cache[key] = o
		slog.Debug("agent service connected", "endpoint", chat.BaseURL())
		return o, nil
	}
}
