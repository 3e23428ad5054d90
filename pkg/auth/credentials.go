package auth

import (
	"net/http"
	"strings"
)

// Credential sources besides the Authorization header.
const (
	FunctionKeyHeader = "x-functions-key"
	CodeQueryParam    = "code"
)

// BearerToken returns the bearer token of the Authorization header. ok is
// false when the header is missing or uses another scheme.
func BearerToken(r *http.Request) (token string, ok bool) {
	h := r.Header.Get("Authorization")
	scheme, rest, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// Credential returns the secret presented with the request: a bearer
// token, a function key header, or a code query parameter, in that order.
func Credential(r *http.Request) (string, bool) {
	if tok, ok := BearerToken(r); ok {
		return tok, true
	}
	if k := r.Header.Get(FunctionKeyHeader); k != "" {
		return k, true
	}
	if c := r.URL.Query().Get(CodeQueryParam); c != "" {
		return c, true
	}
	return "", false
}
