package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Completion.Flavor {
	case "azure", "openai":
	default:
		errs = append(errs, fmt.Errorf("completion.flavor must be \"azure\" or \"openai\", got %q", c.Completion.Flavor))
	}
	if c.Completion.Flavor == "openai" && c.Completion.BackendURL == "" {
		errs = append(errs, fmt.Errorf("completion.backend_url is required when completion.flavor is \"openai\""))
	}
	if c.Completion.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("completion.max_steps must be >= 1, got %d", c.Completion.MaxSteps))
	}
	if c.Completion.MaxHistory < 3 {
		errs = append(errs, fmt.Errorf("completion.max_history must be >= 3, got %d", c.Completion.MaxHistory))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}

	if c.Search.Enabled {
		if err := c.Search.Default.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("search.default: %w", err))
		}
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	for i, s := range c.MCP.Servers {
		if s.Name == "" || s.URL == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d] needs a name and a url", i))
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}
