package chatconfig

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/builtins/documents"
)

// ChatConfig is a named per-conversation configuration. Unset values are
// nil or empty and fall through to the next settings source.
type ChatConfig struct {
	Name string

	Key          string
	Endpoint     string
	Region       string
	Version      string
	Model        string
	SystemPrompt string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// TimeoutSecs bounds each model call.
	TimeoutSecs *int
	MaxSteps    *int
	MaxHistory  *int

	// UseDataSourceConfig is nil when the configuration does not say.
	UseDataSourceConfig  *bool
	DataSourceConfig     string
	DataSourceAPIVersion string

	// Functions expose registered functions under conversation-specific
	// names with pinned arguments.
	Functions []tools.Binding
}

var (
	stringKeys = map[string][]string{
		"key":                     {"oai-key", "ai-key"},
		"endpoint":                {"oai-endpoint", "ai-endpoint"},
		"region":                  {"oai-region", "ai-region"},
		"version":                 {"oai-version", "ai-version"},
		"model":                   {"oai-model", "ai-model"},
		"system_prompt":           {"system-prompt", "ai-prompt"},
		"data_source_config":      {"data-source-config", "ai-source-config"},
		"data_source_api_version": {"data-source-oai-version", "ai-source-config-api-version"},
	}
	intKeys = map[string][]string{
		"timeout":     {"timeout", "timeout-secs", "ai-timeout"},
		"max_steps":   {"max-steps", "ai-max-steps"},
		"max_history": {"max-history", "ai-max-history"},
		"max_tokens":  {"max-tokens", "max-tokens-generated"},
	}
	floatKeys = map[string][]string{
		"temperature": {"temperature", "ai-temperature"},
		"top_p":       {"top-p", "top_p"},
	}
	useDataSourceKeys = []string{"use-data-source-config", "use-data-source-extensions"}
	functionKeys      = []string{"functions", "ai-functions"}
)

// Load returns the typed configuration with the given name.
func (l *Loader) Load(ctx context.Context, name string) (*ChatConfig, error) {
	raw, err := l.Raw(ctx, name)
	if err != nil {
		return nil, err
	}
	return FromMap(name, raw)
}

// FromMap builds a ChatConfig from a configuration object, honoring the
// key aliases.
func FromMap(name string, raw map[string]any) (*ChatConfig, error) {
	cfg := &ChatConfig{Name: name}
	if n, ok := raw["name"].(string); ok && n != "" {
		cfg.Name = n
	}

	str := func(field string) string {
		v, _ := first(raw, stringKeys[field])
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	cfg.Key = str("key")
	cfg.Endpoint = str("endpoint")
	cfg.Region = str("region")
	cfg.Version = str("version")
	cfg.Model = str("model")
	cfg.SystemPrompt = str("system_prompt")
	cfg.DataSourceConfig = str("data_source_config")
	cfg.DataSourceAPIVersion = str("data_source_api_version")

	var err error
	intField := func(field string) *int {
		v, key := first(raw, intKeys[field])
		if v == nil || err != nil {
			return nil
		}
		n, convErr := toInt(v)
		if convErr != nil {
			err = api.NewConfigurationError(key, fmt.Sprintf("configuration %q: %v", name, convErr))
			return nil
		}
		return &n
	}
	floatField := func(field string) *float64 {
		v, key := first(raw, floatKeys[field])
		if v == nil || err != nil {
			return nil
		}
		f, convErr := toFloat(v)
		if convErr != nil {
			err = api.NewConfigurationError(key, fmt.Sprintf("configuration %q: %v", name, convErr))
			return nil
		}
		return &f
	}
	cfg.TimeoutSecs = intField("timeout")
	cfg.MaxSteps = intField("max_steps")
	cfg.MaxHistory = intField("max_history")
	cfg.MaxTokens = intField("max_tokens")
	cfg.Temperature = floatField("temperature")
	cfg.TopP = floatField("top_p")
	if err != nil {
		return nil, err
	}

	if v, _ := first(raw, useDataSourceKeys); v != nil {
		b := toBool(v)
		cfg.UseDataSourceConfig = &b
	}

	if v, _ := first(raw, functionKeys); v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, api.NewConfigurationError("functions", fmt.Sprintf("configuration %q: functions must be a list", name))
		}
		for _, entry := range list {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			b := tools.Binding{
				Name:        stringOf(m["name"]),
				Function:    stringOf(m["function"]),
				Description: stringOf(m["description"]),
			}
			if args, ok := m["args"].(map[string]any); ok {
				b.Args = args
			}
			if b.Name == "" || b.Function == "" {
				return nil, api.NewConfigurationError("functions",
					fmt.Sprintf("configuration %q: functions need a name and a function", name))
			}
			cfg.Functions = append(cfg.Functions, b)
		}
	}
	return cfg, nil
}

// DataSources returns the data-source entries of the named configuration:
// its "data-sources" member, or the whole object, as a list.
func (l *Loader) DataSources(ctx context.Context, name string) ([]map[string]any, error) {
	raw, err := l.Raw(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := raw["data-sources"]
	if !ok {
		return []map[string]any{raw}, nil
	}
	switch x := v.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, e := range x {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, api.NewConfigurationError("data-sources",
					fmt.Sprintf("configuration %q: data sources must be objects", name))
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, api.NewConfigurationError("data-sources",
		fmt.Sprintf("configuration %q: data-sources must be an object or a list", name))
}

// SourceLoader resolves document search sources from named
// configurations.
func (l *Loader) SourceLoader() documents.SourceLoader {
	return func(ctx context.Context, name string) (documents.Source, error) {
		raw, err := l.Raw(ctx, name)
		if err != nil {
			return documents.Source{}, err
		}
		return documents.SourceFromMap(name, raw)
	}
}

func first(raw map[string]any, keys []string) (any, string) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, k
		}
	}
	return nil, ""
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		return strconv.Atoi(x)
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	case int:
		return x != 0
	case float64:
		return x != 0
	}
	return false
}
