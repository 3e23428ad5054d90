// Command server runs the parley conversation gateway.
//
// Configuration is read from a YAML file and PARLEY_ environment
// variables, see pkg/config. The file is located with --config, then
// PARLEY_CONFIG, then ./config.yaml and /etc/parley/config.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/parley/pkg/agents"
	agentsopenai "github.com/rhuss/parley/pkg/agents/openai"
	"github.com/rhuss/parley/pkg/auth"
	"github.com/rhuss/parley/pkg/auth/apikey"
	"github.com/rhuss/parley/pkg/auth/jwt"
	"github.com/rhuss/parley/pkg/chat"
	"github.com/rhuss/parley/pkg/chatconfig"
	"github.com/rhuss/parley/pkg/chatctx"
	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/engine"
	"github.com/rhuss/parley/pkg/multiagent"
	"github.com/rhuss/parley/pkg/notify"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/provider/openaicompat"
	"github.com/rhuss/parley/pkg/runs"
	"github.com/rhuss/parley/pkg/storage"
	"github.com/rhuss/parley/pkg/storage/memory"
	"github.com/rhuss/parley/pkg/storage/postgres"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/builtins/documents"
	"github.com/rhuss/parley/pkg/tools/builtins/items"
	"github.com/rhuss/parley/pkg/tools/mcp"
	"github.com/rhuss/parley/pkg/tools/registry"
	transporthttp "github.com/rhuss/parley/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	configs := chatconfig.NewLoader(store, cfg.Completion.ConfigDirs...)

	reg := registry.New()
	defer reg.Close()
	reg.Register(items.New(store))
	if cfg.Search.Enabled {
		reg.Register(documents.New(cfg.Search.Default, configs.SourceLoader()))
		slog.Info("document search enabled", "url", cfg.Search.Default.URL, "collection", cfg.Search.Default.Collection)
	}
	if len(cfg.MCP.Servers) > 0 {
		reg.Register(mcp.Dial(ctx, cfg.MCP.Servers))
	}
	dispatcher := tools.NewDispatcher(reg, nil)

	hub := notify.NewHub()
	go hub.Run(ctx)
	streams := notify.NewServer(hub, notify.Options{
		PingInterval:   cfg.Notify.PingInterval,
		WriteTimeout:   cfg.Notify.WriteTimeout,
		MaxMessageSize: cfg.Notify.MaxMessageSize,
	})

	hc := &http.Client{Timeout: cfg.Completion.Timeout + 10*time.Second}
	azure := cfg.Completion.Flavor == string(openaicompat.FlavorAzure)

	agentFactory, supervisor, err := newAgents(cfg, dispatcher, azure, hc)
	if err != nil {
		return err
	}
	defer supervisor.Wait()

	svc, err := chat.New(chat.Options{
		Sessions:   storage.NewSessionStore(store),
		Dispatcher: dispatcher,
		Notifier:   hub,
		Configs:    configs,
		Engine: engine.Config{
			DefaultModel:    cfg.Completion.Model,
			SystemPrompt:    cfg.Completion.SystemPrompt,
			MaxSteps:        cfg.Completion.MaxSteps,
			MaxHistory:      cfg.Completion.MaxHistory,
			PublishInterval: cfg.Completion.PublishInterval,
			ToolWorkers:     cfg.Completion.ToolWorkers,
		},
		Completion: chat.OpenAICompletion(openaicompat.Flavor(cfg.Completion.Flavor), cfg.Completion.DataSourceAPIVersion, hc),
		Agents:     agentFactory,
	})
	if err != nil {
		return fmt.Errorf("creating chat service: %w", err)
	}

	resolver := chatctx.NewResolver(configs, chatctx.Defaults{
		Key:              cfg.Completion.APIKey,
		Region:           cfg.Completion.Region,
		Version:          cfg.Completion.APIVersion,
		Endpoint:         cfg.Completion.BackendURL,
		Model:            cfg.Completion.Model,
		Temperature:      cfg.Completion.Temperature,
		Timeout:          cfg.Completion.Timeout,
		MaxSteps:         cfg.Completion.MaxSteps,
		MaxHistory:       cfg.Completion.MaxHistory,
		MaxTokens:        cfg.Completion.MaxTokens,
		TopP:             cfg.Completion.TopP,
		SystemPrompt:     cfg.Completion.SystemPrompt,
		DataSourceConfig: cfg.Completion.DataSourcesConfig,
	})

	var httpMiddleware []func(http.Handler) http.Handler
	if cfg.Observability.Metrics.Enabled {
		httpMiddleware = append(httpMiddleware, observability.MetricsMiddleware)
	}
	authMiddleware, err := newAuth(cfg.Auth, cfg.Observability.Metrics.Path)
	if err != nil {
		return err
	}
	httpMiddleware = append(httpMiddleware, authMiddleware)

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.MaxBodySize = cfg.Server.MaxBodySize
	adapterCfg.PublicURL = cfg.Server.PublicURL
	adapterCfg.AssistantTimeout = cfg.Agents.Timeout

	srv := transporthttp.NewServer(svc, resolver, streams, httpMiddleware,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithAdapterConfig(adapterCfg),
	)
	if cfg.Observability.Metrics.Enabled {
		srv.Adapter().Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}
	if reg.HasRoutes() {
		srv.Adapter().Handle("/v1/items/", reg.HTTPHandler())
	}

	slog.Info("server starting",
		"port", cfg.Server.Port,
		"flavor", cfg.Completion.Flavor,
		"model", cfg.Completion.Model,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
	)
	return srv.Run(ctx)
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.ItemStore, error) {
	switch cfg.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MigrateOnStart:  cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	}
}

// newAgents builds the multi-agent side. With a configured agent endpoint
// one orchestrator serves every request; otherwise each request's
// endpoint and key select the agent service.
func newAgents(cfg *config.Config, dispatcher *tools.Dispatcher, azure bool, hc *http.Client) (chat.AgentsFactory, *runs.Supervisor, error) {
	runOpts := runs.Options{
		PollInterval:   cfg.Agents.PollInterval,
		IdleInterval:   cfg.Agents.IdleInterval,
		Workers:        cfg.Agents.ToolWorkers,
		EpisodeTimeout: cfg.Agents.EpisodeTimeout,
	}
	orchOpts := multiagent.Options{
		Workers:          cfg.Agents.AgentWorkers,
		InterpreterFloor: cfg.Agents.InterpreterFloor,
	}

	if cfg.Agents.BaseURL == "" {
		supervisor := runs.New(nil, dispatcher, runOpts)
		return chat.PerRequestAgents(supervisor, orchOpts, azure, hc), supervisor, nil
	}

	apiVersion := cfg.Agents.APIVersion
	if apiVersion == "" {
		apiVersion = cfg.Completion.APIVersion
	}
	svc, err := agentsopenai.New(agentsopenai.Options{
		BaseURL:    cfg.Agents.BaseURL,
		APIKey:     cfg.Agents.APIKey,
		Azure:      azure,
		APIVersion: apiVersion,
		HTTPClient: hc,
		MaxRetries: 2,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating agent service: %w", err)
	}
	supervisor := runs.New(svc, dispatcher, runOpts)
	orch := multiagent.New(supervisor, agents.NewDirectory(svc), orchOpts)
	slog.Info("agent service configured", "endpoint", cfg.Agents.BaseURL)
	return chat.SharedAgents(orch), supervisor, nil
}

func newAuth(cfg config.AuthConfig, metricsPath string) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{}
	switch cfg.Type {
	case "none", "":
		chain.AllowAnonymous = true
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{
				Secret: k.Key,
				Identity: auth.Identity{
					Subject: k.Subject,
					Tenant:  k.TenantID,
					Tier:    k.ServiceTier,
				},
			})
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(keys))
	case "jwt":
		chain.Authenticators = append(chain.Authenticators, jwt.New(jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			JWKSURL:     cfg.JWT.JWKSURL,
			UserClaim:   cfg.JWT.UserClaim,
			TenantClaim: cfg.JWT.TenantClaim,
			ScopesClaim: cfg.JWT.ScopesClaim,
			TierClaim:   cfg.JWT.TierClaim,
			CacheTTL:    cfg.JWT.CacheTTL,
		}))
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	bypass := append([]string{}, auth.DefaultBypass...)
	if metricsPath != "" {
		bypass = append(bypass, metricsPath)
	}
	limiter := auth.NewTierLimiter(cfg.RateLimit.Tiers, cfg.RateLimit.RequestsPerMinute)
	return auth.Middleware(chain, limiter, bypass), nil
}
