package mcp

// ServerConfig describes a single MCP server connection.
type ServerConfig struct {
	// Name identifies the server in logs and metrics.
	Name string `json:"name" yaml:"name"`

	// Transport is "sse" or "streamable-http" (the default).
	Transport string `json:"transport" yaml:"transport"`

	// URL is the MCP server endpoint URL.
	URL string `json:"url" yaml:"url"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Auth configures dynamic credentials.
	Auth AuthConfig `json:"auth" yaml:"auth"`
}

// AuthConfig selects how credentials for an MCP server are obtained.
type AuthConfig struct {
	// Type is "" (none) or "oauth_client_credentials".
	Type         string   `json:"type" yaml:"type"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes" yaml:"scopes"`
}
