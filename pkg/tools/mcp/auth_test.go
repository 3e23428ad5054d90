package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// tokenServer serves an OAuth token endpoint. Calls beyond failAfter
// (when positive) return 500.
func tokenServer(t *testing.T, token string, expiresIn int, failAfter int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if err := r.ParseForm(); err != nil || r.FormValue("grant_type") != "client_credentials" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if failAfter > 0 && n > failAfter {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "bearer",
			"expires_in":   expiresIn,
			"scope":        r.FormValue("scope"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestClientCredentials_CachesToken(t *testing.T) {
	srv, calls := tokenServer(t, "tok-1", 3600, 0)
	cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret"})

	for range 3 {
		hdrs, err := cc.Headers(context.Background())
		if err != nil {
			t.Fatalf("Headers: %v", err)
		}
		if hdrs["Authorization"] != "Bearer tok-1" {
			t.Errorf("Authorization = %q", hdrs["Authorization"])
		}
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls.Load())
	}
}

func TestClientCredentials_RefreshesAtEightyPercent(t *testing.T) {
	srv, calls := tokenServer(t, "tok", 10, 0)
	cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL})

	now := time.Now()
	cc.now = func() time.Time { return now }
	if _, err := cc.Headers(context.Background()); err != nil {
		t.Fatalf("Headers: %v", err)
	}

	now = now.Add(7 * time.Second)
	cc.Headers(context.Background())
	if calls.Load() != 1 {
		t.Fatalf("refreshed too early: %d calls", calls.Load())
	}

	now = now.Add(2 * time.Second)
	cc.Headers(context.Background())
	if calls.Load() != 2 {
		t.Errorf("expected a refresh after 80%% of the lifetime, got %d calls", calls.Load())
	}
}

func TestClientCredentials_FallsBackToValidToken(t *testing.T) {
	srv, _ := tokenServer(t, "tok", 10, 1)
	cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL})

	now := time.Now()
	cc.now = func() time.Time { return now }
	cc.Headers(context.Background())

	now = now.Add(9 * time.Second)
	hdrs, err := cc.Headers(context.Background())
	if err != nil {
		t.Fatalf("expected the cached token while still valid: %v", err)
	}
	if hdrs["Authorization"] != "Bearer tok" {
		t.Errorf("Authorization = %q", hdrs["Authorization"])
	}

	now = now.Add(2 * time.Second)
	if _, err := cc.Headers(context.Background()); err == nil {
		t.Error("expected an error once the token expired and refresh failed")
	}
}

func TestHeaderTransport(t *testing.T) {
	tokSrv, _ := tokenServer(t, "dyn", 3600, 0)

	var got http.Header
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer api.Close()

	client := &http.Client{Transport: &headerTransport{
		base:    http.DefaultTransport,
		static:  map[string]string{"X-Tenant": "acme", "Authorization": "static"},
		dynamic: NewClientCredentials(AuthConfig{TokenURL: tokSrv.URL}),
	}}
	resp, err := client.Get(api.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if got.Get("X-Tenant") != "acme" {
		t.Errorf("X-Tenant = %q", got.Get("X-Tenant"))
	}
	if got.Get("Authorization") != "Bearer dyn" {
		t.Errorf("dynamic header should override static: %q", got.Get("Authorization"))
	}
}
