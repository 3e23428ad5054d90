package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/storage"
)

// DefaultBypass lists paths served without authentication.
var DefaultBypass = []string{"/healthz", "/metrics"}

// Middleware authenticates requests with chain and applies limiter when it
// is not nil. Paths in bypass are served as is; an entry ending in "/"
// matches every path below it.
func Middleware(chain *Chain, limiter RateLimiter, bypass []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path, bypass) {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				writeError(w, http.StatusUnauthorized, api.NewInvalidRequestError("", "authentication required"))
				return
			}
			id := res.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned an identity without subject")
				writeError(w, http.StatusInternalServerError, api.NewServerError("internal authentication error"))
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier)
					observability.RateLimitRejectedTotal.WithLabelValues(id.Tier).Inc()
					writeError(w, http.StatusTooManyRequests, api.NewInvalidRequestError("", "rate limit exceeded"))
					return
				}
			}

			debug.Log("http", "authenticated", "subject", id.Subject, "tenant", id.Tenant, "path", r.URL.Path)

			ctx := WithIdentity(r.Context(), id)
			if id.Tenant != "" {
				ctx = storage.SetTenant(ctx, id.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bypassed(path string, bypass []string) bool {
	for _, b := range bypass {
		if path == b || (strings.HasSuffix(b, "/") && strings.HasPrefix(path, b)) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, err *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: err})
}
