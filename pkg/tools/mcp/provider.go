package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
)

// DiscoveryTimeout bounds tool discovery per server.
const DiscoveryTimeout = 30 * time.Second

// Provider exposes the tools of several MCP servers to the registry.
type Provider struct {
	clients []*Client
}

var _ registry.FunctionProvider = (*Provider)(nil)

// NewProvider wraps already-connected clients.
func NewProvider(clients ...*Client) *Provider {
	return &Provider{clients: clients}
}

// Dial connects to every configured server. Servers that fail to connect
// are logged and skipped.
func Dial(ctx context.Context, servers []ServerConfig) *Provider {
	p := &Provider{}
	for _, cfg := range servers {
		c := NewClient(cfg)
		if err := c.Connect(ctx, nil); err != nil {
			slog.Error("failed to connect MCP server", "server", cfg.Name, "error", err)
			continue
		}
		p.clients = append(p.clients, c)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "mcp" }

// Functions discovers and returns the tools of every connected server.
// A server whose discovery fails contributes nothing.
func (p *Provider) Functions() []tools.Function {
	var out []tools.Function
	for _, c := range p.clients {
		ctx, cancel := context.WithTimeout(context.Background(), DiscoveryTimeout)
		fns, err := c.Functions(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to discover tools from MCP server", "server", c.Name(), "error", err)
			continue
		}
		slog.Info("discovered MCP tools", "server", c.Name(), "count", len(fns))
		out = append(out, fns...)
	}
	return out
}

// Routes returns nil; MCP servers expose no local routes.
func (p *Provider) Routes() []registry.Route { return nil }

// Collectors returns nil.
func (p *Provider) Collectors() []prometheus.Collector { return nil }

// Close closes all client sessions, returning the last error.
func (p *Provider) Close() error {
	var lastErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close MCP client", "server", c.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}
