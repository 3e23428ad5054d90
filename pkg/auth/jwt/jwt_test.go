package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/parley/pkg/auth"
)

const (
	testKID    = "k1"
	testIssuer = "https://login.example.com"
	testAud    = "parley"
)

var signingKey = func() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}()

func jwksServer(t *testing.T, fetches *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		pub := signingKey.PublicKey
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{"kty": "EC", "kid": "ec"},
				{
					"kty": "RSA",
					"kid": testKID,
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAuth(t *testing.T, mutate func(*Config)) (*Authenticator, *atomic.Int32) {
	t.Helper()
	var fetches atomic.Int32
	srv := jwksServer(t, &fetches)
	cfg := Config{Issuer: testIssuer, Audience: testAud, JWKSURL: srv.URL}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), &fetches
}

func sign(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	base := jwtlib.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"aud": testAud,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, base)
	tok.Header["kid"] = testKID
	s, err := tok.SignedString(signingKey)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func bearer(token string) *http.Request {
	r := httptest.NewRequest("GET", "/v1/completion", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestAuthenticate_Valid(t *testing.T) {
	a, _ := newAuth(t, nil)
	res := a.Authenticate(context.Background(), bearer(sign(t, jwtlib.MapClaims{
		"tenant_id": "org-7",
		"scope":     "chat assistants",
	})))

	if res.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes (err %v)", res.Decision, res.Err)
	}
	id := res.Identity
	if id.Subject != "user-1" || id.Tenant != "org-7" || id.Tier != auth.DefaultTier {
		t.Errorf("identity = %+v", id)
	}
	if len(id.Scopes) != 2 || id.Scopes[0] != "chat" || id.Scopes[1] != "assistants" {
		t.Errorf("scopes = %v", id.Scopes)
	}
}

func TestAuthenticate_Rejected(t *testing.T) {
	a, _ := newAuth(t, nil)
	tests := []struct {
		name   string
		claims jwtlib.MapClaims
	}{
		{name: "expired", claims: jwtlib.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}},
		{name: "wrong issuer", claims: jwtlib.MapClaims{"iss": "https://evil.example.com"}},
		{name: "wrong audience", claims: jwtlib.MapClaims{"aud": "other"}},
		{name: "no subject", claims: jwtlib.MapClaims{"sub": nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Authenticate(context.Background(), bearer(sign(t, tt.claims)))
			if res.Decision != auth.No {
				t.Errorf("Decision = %d, want No", res.Decision)
			}
			if res.Err == nil {
				t.Error("Err is nil")
			}
		})
	}
}

func TestAuthenticate_UnknownKid(t *testing.T) {
	a, fetches := newAuth(t, nil)
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{"sub": "x", "iss": testIssuer, "aud": testAud})
	tok.Header["kid"] = "rotated"
	s, _ := tok.SignedString(signingKey)

	if res := a.Authenticate(context.Background(), bearer(s)); res.Decision != auth.No {
		t.Errorf("Decision = %d, want No", res.Decision)
	}
	if fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1", fetches.Load())
	}
}

func TestAuthenticate_Abstains(t *testing.T) {
	a, _ := newAuth(t, nil)

	plain := httptest.NewRequest("GET", "/", nil)
	if res := a.Authenticate(context.Background(), plain); res.Decision != auth.Abstain {
		t.Errorf("no token: Decision = %d, want Abstain", res.Decision)
	}
	// An opaque API key is left to the key authenticator.
	if res := a.Authenticate(context.Background(), bearer("sk-opaque")); res.Decision != auth.Abstain {
		t.Errorf("opaque key: Decision = %d, want Abstain", res.Decision)
	}
}

func TestAuthenticate_QueryToken(t *testing.T) {
	a, _ := newAuth(t, nil)
	r := httptest.NewRequest("GET", "/v1/stream/abc?"+AccessTokenQueryParam+"="+sign(t, nil), nil)
	if res := a.Authenticate(context.Background(), r); res.Decision != auth.Yes {
		t.Errorf("Decision = %d, want Yes (err %v)", res.Decision, res.Err)
	}
}

func TestAuthenticate_NestedClaims(t *testing.T) {
	a, _ := newAuth(t, func(c *Config) {
		c.UserClaim = "preferred_username"
		c.TenantClaim = "org.id"
		c.ScopesClaim = "realm_access.roles"
		c.TierClaim = "plan"
		c.Issuer = ""
		c.Audience = ""
	})
	res := a.Authenticate(context.Background(), bearer(sign(t, jwtlib.MapClaims{
		"iss":                "anyone",
		"preferred_username": "jdoe",
		"org":                map[string]any{"id": "acme"},
		"realm_access":       map[string]any{"roles": []any{"admin", 3, "user"}},
		"plan":               "premium",
	})))
	if res.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes (err %v)", res.Decision, res.Err)
	}
	id := res.Identity
	if id.Subject != "jdoe" || id.Tenant != "acme" || id.Tier != "premium" {
		t.Errorf("identity = %+v", id)
	}
	if len(id.Scopes) != 2 || id.Scopes[0] != "admin" || id.Scopes[1] != "user" {
		t.Errorf("scopes = %v", id.Scopes)
	}
}

func TestKeySet_SharedFetch(t *testing.T) {
	a, fetches := newAuth(t, nil)
	token := sign(t, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := a.Authenticate(context.Background(), bearer(token)); res.Decision != auth.Yes {
				t.Errorf("Decision = %d, want Yes (err %v)", res.Decision, res.Err)
			}
		}()
	}
	wg.Wait()
	for range 3 {
		a.Authenticate(context.Background(), bearer(token))
	}

	// Concurrent misses may race the first fetch, but cached keys are reused.
	if n := fetches.Load(); n < 1 || n > 8 {
		t.Errorf("fetches = %d", n)
	}
	before := fetches.Load()
	a.Authenticate(context.Background(), bearer(token))
	if fetches.Load() != before {
		t.Error("cached key triggered a fetch")
	}
}

func TestKeySet_Expiry(t *testing.T) {
	a, fetches := newAuth(t, func(c *Config) { c.CacheTTL = time.Nanosecond })
	token := sign(t, nil)
	a.Authenticate(context.Background(), bearer(token))
	time.Sleep(time.Millisecond)
	a.Authenticate(context.Background(), bearer(token))
	if fetches.Load() != 2 {
		t.Errorf("fetches = %d, want 2", fetches.Load())
	}
}
