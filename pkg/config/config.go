// Package config provides the server configuration for parley.
//
// Configuration is loaded in layers:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (PARLEY_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
//
// Per-conversation settings live in named chat configurations, see
// pkg/chatconfig.
package config

import (
	"time"

	"github.com/rhuss/parley/pkg/stream"
	"github.com/rhuss/parley/pkg/tools/builtins/documents"
	"github.com/rhuss/parley/pkg/tools/mcp"
)

// Config holds all configuration for the parley server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Completion    CompletionConfig    `yaml:"completion"`
	Agents        AgentsConfig        `yaml:"agents"`
	Storage       StorageConfig       `yaml:"storage"`
	Search        SearchConfig        `yaml:"search"`
	Notify        NotifyConfig        `yaml:"notify"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 300s
	MaxBodySize  int64         `yaml:"max_body_size"` // default: 10 MiB
	// PublicURL is used to build stream URLs. Empty derives it from the
	// request.
	PublicURL string `yaml:"public_url"`
}

// CompletionConfig holds the chat completion backend and the turn
// defaults. Requests and chat configurations may override most of them.
type CompletionConfig struct {
	// Flavor is "azure" (default) or "openai".
	Flavor               string        `yaml:"flavor"`
	BackendURL           string        `yaml:"backend_url"` // empty derives it from the region
	APIKey               string        `yaml:"api_key"`
	APIKeyFile           string        `yaml:"api_key_file"`
	APIVersion           string        `yaml:"api_version"`             // default: 2024-02-15-preview
	DataSourceAPIVersion string        `yaml:"data_source_api_version"` // default: api_version
	Region               string        `yaml:"region"`                  // default: australiaeast-01
	Model                string        `yaml:"model"`                   // default: gpt-4
	Timeout              time.Duration `yaml:"timeout"`                 // default: 90s
	MaxSteps             int           `yaml:"max_steps"`               // default: 10
	MaxHistory           int           `yaml:"max_history"`             // default: 20
	Temperature          float64       `yaml:"temperature"`
	TopP                 *float64      `yaml:"top_p"`
	MaxTokens            *int          `yaml:"max_tokens"`
	SystemPrompt         string        `yaml:"system_prompt"`
	// DataSourcesConfig names the default data-source configuration.
	DataSourcesConfig string `yaml:"data_sources_config"`
	// PublishInterval throttles interim stream messages.
	PublishInterval time.Duration `yaml:"publish_interval"` // default: 400ms
	ToolWorkers     int           `yaml:"tool_workers"`     // default: 10
	// ConfigDirs are searched for named chat configurations.
	ConfigDirs []string `yaml:"config_dirs"` // default: [configs, data-configs]
}

// AgentsConfig holds the hosted agent service settings.
type AgentsConfig struct {
	// BaseURL empty uses the completion backend.
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	APIKeyFile       string        `yaml:"api_key_file"`
	APIVersion       string        `yaml:"api_version"`
	PollInterval     time.Duration `yaml:"poll_interval"`     // default: 1s
	IdleInterval     time.Duration `yaml:"idle_interval"`     // default: 200ms
	EpisodeTimeout   time.Duration `yaml:"episode_timeout"`   // default: 5m
	ToolWorkers      int           `yaml:"tool_workers"`      // default: 10
	AgentWorkers     int           `yaml:"agent_workers"`     // default: 5
	InterpreterFloor time.Duration `yaml:"interpreter_floor"` // default: 20s
	Timeout          time.Duration `yaml:"timeout"`           // default: 90s
}

// StorageConfig holds session and item storage settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNFile         string        `yaml:"dsn_file"`
	MaxConns        int32         `yaml:"max_conns"` // default: 25
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// SearchConfig configures the default document source. Named sources are
// loaded from chat configurations.
type SearchConfig struct {
	Enabled bool             `yaml:"enabled"`
	Default documents.Source `yaml:"default"`
}

// NotifyConfig holds live output stream settings.
type NotifyConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`    // default: 30s
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // default: 10s
	MaxMessageSize int64         `yaml:"max_message_size"` // default: 4096
}

// AuthConfig holds inbound authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"` // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"`
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`
	TenantClaim string        `yaml:"tenant_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
	TierClaim   string        `yaml:"tier_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds per-tier request limits. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"`
	Tiers             map[string]int `yaml:"tiers"`
}

// MCPConfig lists remote MCP servers whose tools become functions.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error; default: info
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
			MaxBodySize:  10 << 20,
		},
		Completion: CompletionConfig{
			Flavor:          "azure",
			APIVersion:      "2024-02-15-preview",
			Region:          "australiaeast-01",
			Model:           "gpt-4",
			Timeout:         90 * time.Second,
			MaxSteps:        10,
			MaxHistory:      20,
			PublishInterval: stream.DefaultPublishInterval,
			ToolWorkers:     10,
			ConfigDirs:      []string{"configs", "data-configs"},
		},
		Agents: AgentsConfig{
			PollInterval:     time.Second,
			IdleInterval:     200 * time.Millisecond,
			EpisodeTimeout:   5 * time.Minute,
			ToolWorkers:      10,
			AgentWorkers:     5,
			InterpreterFloor: 20 * time.Second,
			Timeout:          90 * time.Second,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Notify: NotifyConfig{
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 4096,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
