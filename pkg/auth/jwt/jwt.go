// Package jwt authenticates callers by RS-signed JSON Web Tokens checked
// against a JWKS endpoint.
//
// Claims are addressed by gjson paths, so nested claims such as
// "realm_access.roles" can supply scopes or tiers.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/rhuss/parley/pkg/auth"
)

// AccessTokenQueryParam carries a token for clients that cannot set
// headers, such as browser websockets.
const AccessTokenQueryParam = "access_token"

// Config configures token validation.
type Config struct {
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string
	JWKSURL  string

	UserClaim   string // default "sub"
	TenantClaim string // default "tenant_id"
	ScopesClaim string // default "scope"
	TierClaim   string // default "tier"

	CacheTTL   time.Duration // default 1h
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	cfg  Config
	keys *keySet
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates an authenticator. Keys are fetched on first use.
func New(cfg Config) *Authenticator {
	cfg.defaults()
	return &Authenticator{
		cfg:  cfg,
		keys: &keySet{url: cfg.JWKSURL, ttl: cfg.CacheTTL, client: cfg.HTTPClient},
	}
}

// Authenticate abstains when there is no token or the bearer value is not
// shaped like a JWT, which leaves it to the API key authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok {
		raw = r.URL.Query().Get(AccessTokenQueryParam)
	}
	if raw == "" || strings.Count(raw, ".") != 2 {
		return auth.Result{Decision: auth.Abstain}
	}

	tok, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return a.keys.get(ctx, kid)
	}, a.parserOptions()...)
	if err != nil {
		slog.Debug("jwt rejected", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid token: %w", err)}
	}

	claims, err := json.Marshal(tok.Claims)
	if err != nil {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid token claims: %w", err)}
	}
	subject := gjson.GetBytes(claims, a.cfg.UserClaim).String()
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("token has no %q claim", a.cfg.UserClaim)}
	}

	id := &auth.Identity{
		Subject: subject,
		Tenant:  gjson.GetBytes(claims, a.cfg.TenantClaim).String(),
		Tier:    gjson.GetBytes(claims, a.cfg.TierClaim).String(),
		Scopes:  scopes(gjson.GetBytes(claims, a.cfg.ScopesClaim)),
	}
	if id.Tier == "" {
		id.Tier = auth.DefaultTier
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.cfg.Audience))
	}
	return opts
}

// scopes accepts a space separated string or an array of strings.
func scopes(v gjson.Result) []string {
	var out []string
	if v.IsArray() {
		for _, s := range v.Array() {
			if s.Type == gjson.String && s.Str != "" {
				out = append(out, s.Str)
			}
		}
		return out
	}
	if v.Type == gjson.String {
		return strings.Fields(v.Str)
	}
	return nil
}

// keySet caches the JWKS. Concurrent misses share a single fetch.
type keySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	group     singleflight.Group
}

func (s *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := time.Since(s.fetchedAt) < s.ttl
	s.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	_, err, _ := s.group.Do("jwks", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key %q", kid)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			slog.Warn("skipping jwks key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	slog.Debug("jwks refreshed", "keys", len(keys))
	return nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
