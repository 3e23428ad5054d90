// Package openai implements agents.Service on the OpenAI Assistants API
// (threads, messages, runs and assistants) using the official SDK. Azure
// OpenAI deployments are supported through the api-key header and the
// api-version query parameter.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rhuss/parley/pkg/agents"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
)

// Options configures the service.
type Options struct {
	// BaseURL is the API root. For Azure this is the resource endpoint,
	// e.g. https://example.openai.azure.com.
	BaseURL string
	APIKey  string

	// Azure switches to the Azure OpenAI URL layout and authentication.
	Azure      bool
	APIVersion string

	HTTPClient *http.Client

	// MaxRetries is the SDK retry count. Zero disables retries.
	MaxRetries int
}

// Service talks to an Assistants-compatible backend.
type Service struct {
	client openai.Client
}

var _ agents.Service = (*Service)(nil)

// New creates the service.
func New(opts Options) (*Service, error) {
	if opts.BaseURL == "" {
		return nil, api.NewConfigurationError("agents.base_url", "agent service URL is required")
	}

	var reqOpts []option.RequestOption
	if opts.Azure {
		if opts.APIVersion == "" {
			return nil, api.NewConfigurationError("agents.api_version", "api version is required for azure backends")
		}
		reqOpts = append(reqOpts,
			option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/openai/"),
			option.WithQuery("api-version", opts.APIVersion),
			option.WithHeader("api-key", opts.APIKey),
		)
	} else {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		if opts.APIKey != "" {
			reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
		}
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	reqOpts = append(reqOpts, option.WithMaxRetries(opts.MaxRetries))

	return &Service{client: openai.NewClient(reqOpts...)}, nil
}

// CreateSession creates a thread.
func (s *Service) CreateSession(ctx context.Context) (string, error) {
	t, err := s.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", mapError("create thread", err)
	}
	debug.Log("agents", "thread created", "thread_id", t.ID)
	return t.ID, nil
}

// SendMessage posts a user message to a thread.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	m, err := s.client.Beta.Threads.Messages.New(ctx, sessionID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return "", mapError("send message", err)
	}
	return m.ID, nil
}

// StartRun starts an assistant run on a thread.
func (s *Service) StartRun(ctx context.Context, agentID, sessionID string) (*agents.Run, error) {
	r, err := s.client.Beta.Threads.Runs.New(ctx, sessionID, openai.BetaThreadRunNewParams{
		AssistantID: agentID,
	})
	if err != nil {
		return nil, mapError("start run", err)
	}
	run := toRun(r)
	debug.Log("agents", "run started", "thread_id", sessionID, "run_id", run.ID, "assistant_id", agentID)
	return &run, nil
}

// GetRun fetches a run.
func (s *Service) GetRun(ctx context.Context, sessionID, runID string) (*agents.Run, error) {
	r, err := s.client.Beta.Threads.Runs.Get(ctx, sessionID, runID)
	if err != nil {
		return nil, mapError("get run", err)
	}
	run := toRun(r)
	return &run, nil
}

// ListRuns lists the newest runs of a thread.
func (s *Service) ListRuns(ctx context.Context, sessionID string, limit int) ([]agents.Run, error) {
	page, err := s.client.Beta.Threads.Runs.List(ctx, sessionID, openai.BetaThreadRunListParams{
		Limit: openai.Int(int64(limit)),
		Order: openai.BetaThreadRunListParamsOrderDesc,
	})
	if err != nil {
		return nil, mapError("list runs", err)
	}
	runs := make([]agents.Run, 0, len(page.Data))
	for i := range page.Data {
		runs = append(runs, toRun(&page.Data[i]))
	}
	return runs, nil
}

// ListMessages lists thread messages. The role filter is applied locally;
// the API has no such parameter.
func (s *Service) ListMessages(ctx context.Context, sessionID string, f agents.MessageFilter) ([]api.AgentMessage, error) {
	params := openai.BetaThreadMessageListParams{Order: openai.BetaThreadMessageListParamsOrderAsc}
	if f.Descending {
		params.Order = openai.BetaThreadMessageListParamsOrderDesc
	}
	if f.Limit > 0 {
		params.Limit = openai.Int(int64(f.Limit))
	}
	if f.RunID != "" {
		params.RunID = openai.String(f.RunID)
	}

	page, err := s.client.Beta.Threads.Messages.List(ctx, sessionID, params)
	if err != nil {
		return nil, mapError("list messages", err)
	}

	out := make([]api.AgentMessage, 0, len(page.Data))
	for i := range page.Data {
		m := toMessage(&page.Data[i])
		if f.Role != "" && m.Role != f.Role {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SubmitToolOutputs resumes a run.
func (s *Service) SubmitToolOutputs(ctx context.Context, sessionID, runID string, outputs []agents.ToolOutput) error {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, o := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(o.CallID),
			Output:     openai.String(o.Output),
		})
	}
	if _, err := s.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, sessionID, runID, params); err != nil {
		return mapError("submit tool outputs", err)
	}
	debug.Log("agents", "tool outputs submitted", "thread_id", sessionID, "run_id", runID, "outputs", len(outputs))
	return nil
}

// ListAgents lists every assistant, following pagination.
func (s *Service) ListAgents(ctx context.Context) ([]agents.Agent, error) {
	iter := s.client.Beta.Assistants.ListAutoPaging(ctx, openai.BetaAssistantListParams{
		Limit: openai.Int(100),
	})
	var out []agents.Agent
	for iter.Next() {
		a := iter.Current()
		out = append(out, agents.Agent{ID: a.ID, Name: a.Name})
	}
	if err := iter.Err(); err != nil {
		return nil, mapError("list assistants", err)
	}
	return out, nil
}

func toRun(r *openai.Run) agents.Run {
	run := agents.Run{
		ID:        r.ID,
		SessionID: r.ThreadID,
		AgentID:   r.AssistantID,
		Status:    api.RunStatus(r.Status),
		CreatedAt: r.CreatedAt,
		LastError: r.LastError.Message,
	}
	for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
		typ := string(tc.Type)
		if typ == "" {
			typ = api.ToolTypeFunction
		}
		run.ToolCalls = append(run.ToolCalls, api.ToolCallRequest{
			ID:   tc.ID,
			Type: typ,
			Function: api.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return run
}

func toMessage(m *openai.Message) api.AgentMessage {
	msg := api.AgentMessage{
		ID:        m.ID,
		AgentID:   m.AssistantID,
		SessionID: m.ThreadID,
		RunID:     m.RunID,
		Role:      api.Role(m.Role),
		CreatedAt: m.CreatedAt,
	}
	for _, c := range m.Content {
		switch c.Type {
		case agents.PartText:
			part := api.ContentPart{Type: agents.PartText, Text: c.Text.Value}
			for _, a := range c.Text.Annotations {
				ann := api.TextAnnotation{
					Type:       a.Type,
					Text:       a.Text,
					StartIndex: int(a.StartIndex),
					EndIndex:   int(a.EndIndex),
				}
				switch a.Type {
				case agents.AnnotationFileCitation:
					ann.FileID = a.FileCitation.FileID
				case agents.AnnotationFilePath:
					ann.FileID = a.FilePath.FileID
				}
				part.Annotations = append(part.Annotations, ann)
			}
			msg.Parts = append(msg.Parts, part)
		case agents.PartImageFile:
			msg.Parts = append(msg.Parts, api.ContentPart{Type: agents.PartImageFile, FileID: c.ImageFile.FileID})
		default:
			debug.Log("agents", "skipping message content", "type", c.Type, "message_id", m.ID)
		}
	}
	return msg
}

// mapError converts SDK errors into transport errors that keep the remote
// status code.
func mapError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound {
			return api.NewNotFoundError(fmt.Sprintf("%s: %s", op, apiErr.Message))
		}
		return api.NewTransportError(fmt.Sprintf("http_%d", apiErr.StatusCode), fmt.Sprintf("%s: %s", op, apiErr.Message))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewTimeoutError(fmt.Sprintf("%s: %s", op, err.Error()))
	}
	return api.NewTransportError("network", fmt.Sprintf("%s: %s", op, err.Error()))
}
