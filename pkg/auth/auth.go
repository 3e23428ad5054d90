package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is an authenticator's vote.
type Decision int

const (
	// Yes accepts the request with an identity. The chain stops.
	Yes Decision = iota
	// No rejects the request. The chain stops.
	No
	// Abstain passes the request to the next authenticator.
	Abstain
)

// Result is the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision is Yes
	Err      error     // set when Decision is No
}

// Identity is an authenticated caller.
type Identity struct {
	Subject string
	// Tier selects the rate limit. Empty means the default tier.
	Tier   string
	Scopes []string
	// Tenant scopes stored sessions and items.
	Tenant string
}

// Anonymous is the identity used when the chain admits unauthenticated
// callers.
var Anonymous = Identity{Subject: "anonymous", Tier: DefaultTier}

// DefaultTier is the rate limit tier of identities without one.
const DefaultTier = "default"

// Authenticator examines request credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order.
type Chain struct {
	Authenticators []Authenticator
	// AllowAnonymous admits requests no authenticator recognized.
	AllowAnonymous bool
}

// Authenticate stops at the first Yes or No vote.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		res := a.Authenticate(ctx, r)
		if res.Decision != Abstain {
			return res
		}
	}
	if c.AllowAnonymous {
		id := Anonymous
		return Result{Decision: Yes, Identity: &id}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}
