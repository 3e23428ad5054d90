// Package chatctx resolves the settings of one chat request.
//
// Each setting is taken from the first source that has it: request
// headers, the JSON body, the query string, the named chat configuration,
// and finally the server defaults, which already carry environment
// overrides. A context token returned by a previous response restores the
// conversation's session, its linked agent sessions, region and model.
package chatctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/chatconfig"
	"github.com/rhuss/parley/pkg/debug"
)

// Defaults are the server-wide settings used when neither the request nor
// its chat configuration names a value.
type Defaults struct {
	Key         string
	Region      string
	Version     string
	Endpoint    string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxSteps    int
	MaxHistory  int
	MaxTokens   *int
	TopP        *float64

	SystemPrompt string
	// DataSourceConfig names the data-source configuration used when the
	// request and its chat configuration do not.
	DataSourceConfig string
}

// DefaultDefaults returns the built-in fallbacks.
func DefaultDefaults() Defaults {
	return Defaults{
		Region:     "australiaeast-01",
		Version:    "2024-02-15-preview",
		Model:      "gpt-4",
		Timeout:    90 * time.Second,
		MaxSteps:   10,
		MaxHistory: 20,
	}
}

// ChatContext is the resolved settings of one request.
type ChatContext struct {
	// SessionID is the conversation's main session, empty for a new one.
	SessionID string
	// Links holds the sessions linked to the conversation per agent.
	Links Links

	Key          string
	Region       string
	Version      string
	Endpoint     string
	Model        string
	SystemPrompt string
	Temperature  float64
	Timeout      time.Duration
	MaxSteps     int
	MaxHistory   int
	MaxTokens    *int
	TopP         *float64

	StreamID string

	// Config is the named chat configuration, or nil.
	Config *chatconfig.ChatConfig
	// DataSourceConfig names the data-source configuration, empty when
	// data-source mode is off.
	DataSourceConfig string
}

// Resolver builds ChatContexts.
type Resolver struct {
	Configs  *chatconfig.Loader
	Defaults Defaults
}

// NewResolver creates a resolver. Zero fields of defaults take the
// built-in fallbacks.
func NewResolver(configs *chatconfig.Loader, defaults Defaults) *Resolver {
	d := DefaultDefaults()
	if defaults.Region == "" {
		defaults.Region = d.Region
	}
	if defaults.Version == "" {
		defaults.Version = d.Version
	}
	if defaults.Model == "" {
		defaults.Model = d.Model
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = d.Timeout
	}
	if defaults.MaxSteps <= 0 {
		defaults.MaxSteps = d.MaxSteps
	}
	if defaults.MaxHistory <= 0 {
		defaults.MaxHistory = d.MaxHistory
	}
	return &Resolver{Configs: configs, Defaults: defaults}
}

// Resolve computes the settings of req. It fails with a configuration
// error when no API key is available or the named chat configuration is
// missing, and with an invalid request error for malformed values.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*ChatContext, error) {
	cc := &ChatContext{Links: Links{}}
	d := r.Defaults

	if name := pick(2, req.header("config"), req.query("config"), req.body("config")); name != "" {
		if r.Configs == nil {
			return nil, api.NewConfigurationError("config", "named configurations are not available")
		}
		cfg, err := r.Configs.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		cc.Config = cfg
	}
	cfg := cc.Config
	if cfg == nil {
		cfg = &chatconfig.ChatConfig{}
	}

	cc.Key = pick(3, req.header("openai-key"), req.body("openai-key"), nonEmpty(cfg.Key), nonEmpty(d.Key))
	if cc.Key == "" {
		return nil, api.NewConfigurationError("openai-key", "no API key available")
	}
	cc.Region = pick(2, req.header("openai-region"), req.body("openai-region"), nonEmpty(cfg.Region))
	if cc.Region == "" {
		cc.Region = d.Region
	}
	cc.Version = pick(2, req.header("openai-version"), req.body("openai-version"), nonEmpty(cfg.Version))
	if cc.Version == "" {
		cc.Version = d.Version
	}
	cc.Endpoint = pick(2, req.header("openai-endpoint"), req.body("openai-endpoint"), nonEmpty(cfg.Endpoint), nonEmpty(d.Endpoint))
	cc.Model = pick(2, req.header("openai-model-deployment"), req.body("openai-model-deployment"), req.query("model"), nonEmpty(cfg.Model))
	if cc.Model == "" {
		cc.Model = d.Model
	}
	cc.SystemPrompt = cfg.SystemPrompt
	if cc.SystemPrompt == "" {
		cc.SystemPrompt = d.SystemPrompt
	}

	var err error
	cc.Temperature, err = floatSetting("openai-model-temperature", d.Temperature,
		req.header("openai-model-temperature"), req.body("openai-model-temperature"), floatPtr(cfg.Temperature))
	if err != nil {
		return nil, err
	}
	secs, err := intSetting("openai-model-timeout", int(d.Timeout/time.Second),
		req.header("openai-model-timeout"), req.body("openai-model-timeout"), req.query("openai-model-timeout"), intPtr(cfg.TimeoutSecs))
	if err != nil {
		return nil, err
	}
	cc.Timeout = time.Duration(secs) * time.Second

	if cc.MaxSteps, err = intSetting("max-steps", d.MaxSteps,
		req.header("max-steps"), req.body("max-steps"), req.query("max-steps"), intPtr(cfg.MaxSteps)); err != nil {
		return nil, err
	}
	if cc.MaxHistory, err = intSetting("max-history", d.MaxHistory,
		req.header("max-history"), req.body("max-history"), req.query("max-history"), intPtr(cfg.MaxHistory)); err != nil {
		return nil, err
	}
	if v := first(req.header("max-tokens"), req.body("max-tokens"), req.query("max-tokens"), intPtr(cfg.MaxTokens)); v != nil {
		n, convErr := toInt(v)
		if convErr != nil {
			return nil, api.NewInvalidRequestError("max-tokens", convErr.Error())
		}
		cc.MaxTokens = &n
	} else {
		cc.MaxTokens = d.MaxTokens
	}
	if v := first(req.header("top-p"), req.body("top-p"), req.query("top-p"), floatPtr(cfg.TopP)); v != nil {
		f, convErr := toFloat(v)
		if convErr != nil {
			return nil, api.NewInvalidRequestError("top-p", convErr.Error())
		}
		cc.TopP = &f
	} else {
		cc.TopP = d.TopP
	}

	if v := first(req.header("stream-id"), req.body("stream-id"), req.query("stream-id")); v != nil {
		id := strings.TrimSpace(text(v))
		if !api.ValidateStreamID(id) {
			return nil, api.NewInvalidRequestError("stream-id", fmt.Sprintf("invalid stream id %q", id))
		}
		cc.StreamID = id
	}

	cc.DataSourceConfig = r.dataSourceConfig(req, cc.Config)

	if tok := pick(3, nonEmpty(req.Route["context"]), req.header("context"), req.body("context"), req.query("context")); tok != "" {
		t, err := decodeToken(tok)
		if err != nil {
			return nil, err
		}
		cc.SessionID = t.SessionID
		if t.Links != nil {
			cc.Links = t.Links
		}
		if t.Region != "" {
			cc.Region = t.Region
		}
		if t.Model != "" {
			cc.Model = t.Model
		}
	}

	debug.Log("config", "chat context resolved",
		"model", cc.Model, "region", cc.Region, "session_id", cc.SessionID,
		"stream", cc.StreamID != "", "data_source_config", cc.DataSourceConfig)
	return cc, nil
}

func (r *Resolver) dataSourceConfig(req *Request, cfg *chatconfig.ChatConfig) string {
	if cfg != nil && cfg.UseDataSourceConfig != nil && !*cfg.UseDataSourceConfig {
		return ""
	}
	if name := pick(0, req.Value("data-source-config"), req.Value("data-source")); name != "" {
		return name
	}
	if cfg != nil && cfg.UseDataSourceConfig != nil && *cfg.UseDataSourceConfig && cfg.DataSourceConfig != "" {
		return cfg.DataSourceConfig
	}
	return r.Defaults.DataSourceConfig
}

// Token returns the context token for the next request of the
// conversation.
func (c *ChatContext) Token() string {
	t := token{SessionID: c.SessionID, Region: c.Region, Model: c.Model}
	if len(c.Links) > 0 {
		t.Links = c.Links
	}
	return encodeToken(t)
}

// BaseURL returns the backend endpoint: the configured endpoint, or the
// regional Azure OpenAI resource.
func (c *ChatContext) BaseURL() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://aoai-%s.openai.azure.com", c.Region)
}

// HasStream reports whether the request follows a live output stream.
func (c *ChatContext) HasStream() bool { return c.StreamID != "" }

// pick returns the first source whose text is longer than minLen after
// trimming.
func pick(minLen int, sources ...any) string {
	for _, v := range sources {
		if v == nil {
			continue
		}
		s := strings.TrimSpace(text(v))
		if len(s) > minLen {
			return s
		}
	}
	return ""
}

func first(sources ...any) any {
	for _, v := range sources {
		if v != nil {
			return v
		}
	}
	return nil
}

func intSetting(name string, def int, sources ...any) (int, error) {
	v := first(sources...)
	if v == nil {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, api.NewInvalidRequestError(name, err.Error())
	}
	return n, nil
}

func floatSetting(name string, def float64, sources ...any) (float64, error) {
	v := first(sources...)
	if v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, api.NewInvalidRequestError(name, err.Error())
	}
	return f, nil
}

// nonEmpty, intPtr and floatPtr turn unset values into nil sources.
func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
