// Package apikey authenticates callers by static keys.
//
// A key may arrive as a bearer token, in the x-functions-key header, or
// as the code query parameter. Keys are stored as SHA-256 hashes and
// compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/rhuss/parley/pkg/auth"
)

// Key binds a secret to the identity it grants.
type Key struct {
	Secret   string
	Identity auth.Identity
}

type entry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator checks presented credentials against configured keys.
type Authenticator struct {
	entries []entry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New hashes keys. Keys with an empty secret are skipped.
func New(keys []Key) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k.Secret == "" {
			continue
		}
		a.entries = append(a.entries, entry{hash: sha256.Sum256([]byte(k.Secret)), identity: k.Identity})
	}
	return a
}

// Authenticate abstains when the request carries no credential. A
// credential matching no key is rejected.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	secret, ok := auth.Credential(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if secret == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	h := sha256.Sum256([]byte(secret))
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare(h[:], e.hash[:]) == 1 {
			id := e.identity
			if id.Tier == "" {
				id.Tier = auth.DefaultTier
			}
			return auth.Result{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
