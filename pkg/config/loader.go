package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/parley/pkg/tools/mcp"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PARLEY_CONFIG env, ./config.yaml, /etc/parley/config.yaml)
//  3. Environment variable overrides, including the AZURE_OAI_* names
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	return load(configPath, os.LookupEnv)
}

func load(configPath string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath, lookup)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg, lookup)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. PARLEY_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/parley/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string, lookup func(string) (string, bool)) string {
	if configPath != "" {
		return configPath
	}
	if envPath, ok := lookup("PARLEY_CONFIG"); ok && envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/parley/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envStrings maps environment variables to string fields. Earlier names
// win; the AZURE_OAI_* names are kept for existing deployments.
func envStrings(cfg *Config) map[*string][]string {
	return map[*string][]string{
		&cfg.Completion.BackendURL:        {"PARLEY_BACKEND_URL", "AZURE_OAI_ENDPOINT"},
		&cfg.Completion.APIKey:            {"PARLEY_API_KEY", "AZURE_OAI_API_KEY"},
		&cfg.Completion.APIVersion:        {"PARLEY_API_VERSION", "AZURE_OAI_VERSION"},
		&cfg.Completion.Region:            {"PARLEY_REGION", "AZURE_OAI_REGION"},
		&cfg.Completion.Model:             {"PARLEY_MODEL", "AZURE_OAI_MODEL_DEPLOYMENT"},
		&cfg.Completion.SystemPrompt:      {"PARLEY_SYSTEM_PROMPT", "AZURE_OAI_SYSTEM_PROMPT"},
		&cfg.Completion.DataSourcesConfig: {"PARLEY_DATA_SOURCES_CONFIG", "OAI_DATA_SOURCES_CONFIG_NAME"},
		&cfg.Agents.BaseURL:               {"PARLEY_AGENTS_URL"},
		&cfg.Agents.APIKey:                {"PARLEY_AGENTS_API_KEY"},
		&cfg.Storage.Type:                 {"PARLEY_STORAGE"},
		&cfg.Storage.Postgres.DSN:         {"PARLEY_POSTGRES_DSN"},
		&cfg.Auth.Type:                    {"PARLEY_AUTH_TYPE"},
		&cfg.Logging.Level:                {"PARLEY_LOG_LEVEL"},
		&cfg.Server.PublicURL:             {"PARLEY_PUBLIC_URL"},
	}
}

// applyEnvOverrides maps environment variables to config fields.
// Malformed numeric values are logged and ignored.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	for field, names := range envStrings(cfg) {
		if v := firstEnv(lookup, names...); v != "" {
			*field = v
		}
	}

	if v := firstEnv(lookup, "PARLEY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("ignoring invalid environment value", "name", "PARLEY_PORT", "value", v)
		}
	}
	if v := firstEnv(lookup, "PARLEY_STORAGE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Storage.MaxSize = size
		} else {
			slog.Warn("ignoring invalid environment value", "name", "PARLEY_STORAGE_SIZE", "value", v)
		}
	}
	if v := firstEnv(lookup, "PARLEY_MODEL_TEMPERATURE", "AZURE_OAI_MODEL_TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Completion.Temperature = t
		} else {
			slog.Warn("ignoring invalid environment value", "name", "AZURE_OAI_MODEL_TEMPERATURE", "value", v)
		}
	}
	if v := firstEnv(lookup, "PARLEY_MODEL_TIMEOUT", "AZURE_OAI_MODEL_TIMEOUT"); v != "" {
		if d, err := parseSeconds(v); err == nil {
			cfg.Completion.Timeout = d
		} else {
			slog.Warn("ignoring invalid environment value", "name", "AZURE_OAI_MODEL_TIMEOUT", "value", v)
		}
	}

	// PARLEY_API_KEYS: JSON array of API key configs.
	if v := firstEnv(lookup, "PARLEY_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	// PARLEY_MCP_SERVERS: JSON array of MCP server configs.
	if v := firstEnv(lookup, "PARLEY_MCP_SERVERS"); v != "" {
		servers, err := parseMCPServersJSON(v)
		if err == nil && len(servers) > 0 {
			cfg.MCP.Servers = servers
		}
	}
}

func firstEnv(lookup func(string) (string, bool), names ...string) string {
	for _, n := range names {
		if v, ok := lookup(n); ok && v != "" {
			return v
		}
	}
	return ""
}

// parseSeconds accepts a Go duration or a plain number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// parseMCPServersJSON parses a JSON array of MCP server configurations.
func parseMCPServersJSON(jsonStr string) ([]mcp.ServerConfig, error) {
	var servers []mcp.ServerConfig
	if err := json.Unmarshal([]byte(jsonStr), &servers); err != nil {
		return nil, fmt.Errorf("parsing MCP servers JSON: %w", err)
	}
	return servers, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"completion.api_key_file", cfg.Completion.APIKeyFile, &cfg.Completion.APIKey},
		{"agents.api_key_file", cfg.Agents.APIKeyFile, &cfg.Agents.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for i := range cfg.Auth.APIKeys {
		refs = append(refs, struct {
			name  string
			file  string
			value *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), cfg.Auth.APIKeys[i].KeyFile, &cfg.Auth.APIKeys[i].Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
