package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubAuthn struct {
	result Result
	calls  int
}

func (s *stubAuthn) Authenticate(context.Context, *http.Request) Result {
	s.calls++
	return s.result
}

func yes(subject string) *stubAuthn {
	return &stubAuthn{result: Result{Decision: Yes, Identity: &Identity{Subject: subject}}}
}

func TestChain_FirstVoteWins(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)

	abstain := &stubAuthn{result: Result{Decision: Abstain}}
	reject := &stubAuthn{result: Result{Decision: No, Err: errors.New("bad key")}}
	accept := yes("alice")

	c := &Chain{Authenticators: []Authenticator{abstain, reject, accept}}
	res := c.Authenticate(context.Background(), r)
	if res.Decision != No {
		t.Fatalf("Decision = %d, want No", res.Decision)
	}
	if accept.calls != 0 {
		t.Errorf("authenticator after a No vote was called %d times", accept.calls)
	}

	c = &Chain{Authenticators: []Authenticator{abstain, accept, reject}}
	res = c.Authenticate(context.Background(), r)
	if res.Decision != Yes || res.Identity.Subject != "alice" {
		t.Fatalf("got %+v, want Yes for alice", res)
	}
	if reject.calls != 1 {
		t.Errorf("reject calls = %d, want 1", reject.calls)
	}
}

func TestChain_AllAbstain(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	abstain := &stubAuthn{result: Result{Decision: Abstain}}

	c := &Chain{Authenticators: []Authenticator{abstain}}
	if res := c.Authenticate(context.Background(), r); res.Decision != No || !errors.Is(res.Err, ErrUnauthenticated) {
		t.Errorf("closed chain: got %+v, want No/ErrUnauthenticated", res)
	}

	c.AllowAnonymous = true
	res := c.Authenticate(context.Background(), r)
	if res.Decision != Yes {
		t.Fatalf("open chain: Decision = %d, want Yes", res.Decision)
	}
	if res.Identity.Subject != Anonymous.Subject || res.Identity.Tier != DefaultTier {
		t.Errorf("identity = %+v, want anonymous default tier", res.Identity)
	}

	// Callers may not mutate the shared anonymous identity.
	res.Identity.Subject = "changed"
	if Anonymous.Subject != "anonymous" {
		t.Error("Anonymous identity was mutated through a result")
	}
}

func TestIdentityContext(t *testing.T) {
	if IdentityFrom(context.Background()) != nil {
		t.Error("empty context returned an identity")
	}
	id := &Identity{Subject: "bob"}
	if got := IdentityFrom(WithIdentity(context.Background(), id)); got != id {
		t.Errorf("IdentityFrom = %v, want %v", got, id)
	}
}

func TestCredential(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		query  string
		want   string
		ok     bool
	}{
		{name: "bearer", header: map[string]string{"Authorization": "Bearer k1"}, want: "k1", ok: true},
		{name: "bearer case", header: map[string]string{"Authorization": "bearer  k1 "}, want: "k1", ok: true},
		{name: "function key", header: map[string]string{FunctionKeyHeader: "k2"}, want: "k2", ok: true},
		{name: "code query", query: "?code=k3", want: "k3", ok: true},
		{name: "bearer wins", header: map[string]string{"Authorization": "Bearer k1", FunctionKeyHeader: "k2"}, query: "?code=k3", want: "k1", ok: true},
		{name: "basic ignored", header: map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}},
		{name: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/completion"+tt.query, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			got, ok := Credential(r)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Credential = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTierLimiter(t *testing.T) {
	l := NewTierLimiter(map[string]int{"premium": 3, "unlimited": 0}, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	basic := &Identity{Subject: "a"}
	if err := l.Allow(ctx, basic); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow(ctx, basic); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("second request err = %v, want ErrTooManyRequests", err)
	}
	// Another subject has its own bucket.
	if err := l.Allow(ctx, &Identity{Subject: "b"}); err != nil {
		t.Errorf("other subject: %v", err)
	}

	premium := &Identity{Subject: "a", Tier: "premium"}
	for i := range 3 {
		if err := l.Allow(ctx, premium); err != nil {
			t.Fatalf("premium request %d: %v", i, err)
		}
	}
	if err := l.Allow(ctx, premium); err == nil {
		t.Error("fourth premium request allowed")
	}

	for range 10 {
		if err := l.Allow(ctx, &Identity{Subject: "c", Tier: "unlimited"}); err != nil {
			t.Fatalf("unlimited tier rejected: %v", err)
		}
	}

	now = now.Add(time.Minute)
	if err := l.Allow(ctx, basic); err != nil {
		t.Errorf("after refill: %v", err)
	}
}

func TestTierLimiter_SweepsIdleBuckets(t *testing.T) {
	l := NewTierLimiter(nil, 5)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow(context.Background(), &Identity{Subject: "idle"})
	now = now.Add(2 * sweepInterval)
	l.Allow(context.Background(), &Identity{Subject: "active"})

	if _, ok := l.buckets[DefaultTier+"/idle"]; ok {
		t.Error("idle bucket was not swept")
	}
	if len(l.buckets) != 1 {
		t.Errorf("buckets = %d, want 1", len(l.buckets))
	}
}
