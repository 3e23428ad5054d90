package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HeaderSource supplies per-request authentication headers.
type HeaderSource interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// ClientCredentials fetches bearer tokens with the OAuth 2.0
// client_credentials grant. A token is reused until 80% of its lifetime
// has passed; if the refresh then fails, the old token is used until it
// expires.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	refreshAt time.Time
}

var _ HeaderSource = (*ClientCredentials)(nil)

// NewClientCredentials creates a token source for the given auth settings.
func NewClientCredentials(cfg AuthConfig) *ClientCredentials {
	return &ClientCredentials{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

// Headers returns an Authorization header carrying a valid token.
func (c *ClientCredentials) Headers(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.refreshAt) {
		return bearer(c.token), nil
	}

	token, ttl, err := c.fetch(ctx)
	if err != nil {
		if c.token != "" && now.Before(c.expiresAt) {
			return bearer(c.token), nil
		}
		return nil, fmt.Errorf("acquiring OAuth token: %w", err)
	}

	c.token = token
	c.expiresAt = now.Add(ttl)
	c.refreshAt = now.Add(ttl * 8 / 10)
	return bearer(token), nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *ClientCredentials) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}
	if len(c.Scopes) > 0 {
		form.Set("scope", strings.Join(c.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
}

// headerTransport adds static and dynamic headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	static  map[string]string
	dynamic HeaderSource
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.static {
		req.Header.Set(k, v)
	}
	if t.dynamic != nil {
		hdrs, err := t.dynamic.Headers(req.Context())
		if err != nil {
			return nil, fmt.Errorf("getting auth headers: %w", err)
		}
		for k, v := range hdrs {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
