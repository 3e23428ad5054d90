package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/provider"
)

// Flavor selects the URL layout and authentication header of the backend.
type Flavor string

const (
	// FlavorOpenAI talks to {base}/v1/chat/completions with a Bearer token.
	FlavorOpenAI Flavor = "openai"
	// FlavorAzure talks to {base}/openai/deployments/{model}/chat/completions
	// with an api-key header and an api-version query parameter.
	FlavorAzure Flavor = "azure"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Flavor     Flavor
	APIVersion string

	// DataSourceAPIVersion is used for requests carrying data sources.
	// Falls back to APIVersion.
	DataSourceAPIVersion string

	// HTTPClient is shared across clients built for different requests.
	// A default client is created when nil.
	HTTPClient *http.Client
}

// Client performs HTTP requests against an OpenAI-compatible Chat
// Completions backend.
type Client struct {
	httpClient *http.Client
	// ownsHTTP is set when the client built its own transport, which Close
	// then releases. An injected http.Client is shared and left alone.
	ownsHTTP bool
	opts     Options
}

// Compile-time check that Client implements provider.CompletionService.
var _ provider.CompletionService = (*Client)(nil)

// NewClient creates a new Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, api.NewConfigurationError("openai-endpoint", "completion backend URL is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Flavor == "" {
		opts.Flavor = FlavorOpenAI
	}
	if opts.Flavor == FlavorAzure && opts.APIVersion == "" {
		return nil, api.NewConfigurationError("openai-version", "api version is required for azure backends")
	}
	if opts.DataSourceAPIVersion == "" {
		opts.DataSourceAPIVersion = opts.APIVersion
	}
	if opts.HTTPClient != nil {
		return &Client{httpClient: opts.HTTPClient, opts: opts}, nil
	}
	hc := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	return &Client{httpClient: hc, ownsHTTP: true, opts: opts}, nil
}

// Name returns the backend identifier.
func (c *Client) Name() string {
	if c.opts.Flavor == FlavorAzure {
		return "azure-openai"
	}
	return "openai"
}

// Complete sends one chat completion request. Streaming requests return
// immediately after the response headers arrive; the body is parsed by a
// goroutine that feeds the returned Completion's Events channel.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error) {
	chatReq := TranslateToChat(req)

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(req), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	c.authorize(httpReq)

	debug.Log("completion", "sending request",
		"backend", c.Name(), "model", req.Model, "messages", len(req.Messages),
		"tools", len(req.Tools), "stream", req.Stream, "data_sources", len(req.DataSources))

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, MapNetworkError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer cancel()
		defer httpResp.Body.Close()
		return nil, MapHTTPError(httpResp)
	}

	if req.Stream {
		ch := make(chan provider.StreamEvent, 16)
		go func() {
			defer cancel()
			defer close(ch)
			defer httpResp.Body.Close()
			ParseSSEStream(ctx, httpResp.Body, ch)
			debug.Log("completion", "stream finished", "duration", time.Since(start))
		}()
		return provider.NewStreamCompletion(ch), nil
	}

	defer cancel()
	defer httpResp.Body.Close()

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}
	debug.Log("completion", "response received", "choices", len(chatResp.Choices), "duration", time.Since(start))

	return TranslateResponse(&chatResp), nil
}

// Close releases the idle connections of a client-owned transport.
func (c *Client) Close() error {
	if c.ownsHTTP {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

func (c *Client) endpoint(req *provider.Request) string {
	if c.opts.Flavor != FlavorAzure {
		return c.opts.BaseURL + "/v1/chat/completions"
	}
	path := "/chat/completions"
	version := c.opts.APIVersion
	if len(req.DataSources) > 0 {
		path = "/extensions/chat/completions"
		version = c.opts.DataSourceAPIVersion
	}
	return fmt.Sprintf("%s/openai/deployments/%s%s?api-version=%s",
		c.opts.BaseURL, url.PathEscape(req.Model), path, url.QueryEscape(version))
}

func (c *Client) authorize(r *http.Request) {
	if c.opts.APIKey == "" {
		return
	}
	if c.opts.Flavor == FlavorAzure {
		r.Header.Set("api-key", c.opts.APIKey)
		return
	}
	r.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
}
