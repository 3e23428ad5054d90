package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/tools"
)

// Client is a connection to one MCP server.
type Client struct {
	cfg     ServerConfig
	session *mcp.ClientSession

	mu    sync.Mutex
	funcs []tools.Function
}

// NewClient creates a client for the given server. Call Connect before
// use.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// Connect performs the protocol handshake. A nil transport is built from
// the server configuration.
func (c *Client) Connect(ctx context.Context, transport mcp.Transport) error {
	client := mcp.NewClient(
		&mcp.Implementation{Name: "parley", Version: "1.0.0"},
		&mcp.ClientOptions{Capabilities: &mcp.ClientCapabilities{}},
	)

	if transport == nil {
		t, err := c.transport()
		if err != nil {
			return fmt.Errorf("creating transport for %q: %w", c.cfg.Name, err)
		}
		transport = t
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.Name, err)
	}
	c.session = session
	return nil
}

func (c *Client) transport() (mcp.Transport, error) {
	httpClient := c.httpClient()

	switch c.cfg.Transport {
	case "sse":
		return &mcp.SSEClientTransport{Endpoint: c.cfg.URL, HTTPClient: httpClient}, nil
	case "streamable-http", "":
		return &mcp.StreamableClientTransport{Endpoint: c.cfg.URL, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", c.cfg.Transport)
	}
}

func (c *Client) httpClient() *http.Client {
	var dynamic HeaderSource
	if c.cfg.Auth.Type == "oauth_client_credentials" {
		dynamic = NewClientCredentials(c.cfg.Auth)
	}
	if len(c.cfg.Headers) == 0 && dynamic == nil {
		return nil
	}
	return &http.Client{Transport: &headerTransport{
		base:    http.DefaultTransport,
		static:  c.cfg.Headers,
		dynamic: dynamic,
	}}
}

// Functions lists the server's tools as functions. The list is fetched
// once and cached.
func (c *Client) Functions(ctx context.Context) ([]tools.Function, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.funcs != nil {
		return c.funcs, nil
	}
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	funcs := []tools.Function{}
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		var params json.RawMessage
		if tool.InputSchema != nil {
			data, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("encoding schema of %q: %w", tool.Name, err)
			}
			params = data
		}
		spec := tools.FunctionSpec{Name: tool.Name, Description: tool.Description, Parameters: params}
		funcs = append(funcs, &remoteFunction{spec: spec, client: c})
	}

	c.funcs = funcs
	return funcs, nil
}

// Call invokes a tool and returns its text content.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	debug.Log("tools", "mcp call", "server", c.cfg.Name, "tool", name)
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("MCP tool call %q on %q: %w", name, c.cfg.Name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// Close closes the MCP session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

type remoteFunction struct {
	spec   tools.FunctionSpec
	client *Client
}

func (f *remoteFunction) Spec() tools.FunctionSpec { return f.spec }

func (f *remoteFunction) Call(ctx context.Context, args map[string]any) (any, error) {
	return f.client.Call(ctx, f.spec.Name, args)
}
