// Package auth authenticates callers of the chat API.
//
// Authenticators vote on each request: Yes with an identity, No when the
// presented credential is invalid, or Abstain when they do not recognize
// it. A Chain asks them in order and falls back to a default decision
// when all abstain. Middleware runs the chain, applies per-tier rate
// limits, and scopes storage to the caller's tenant.
//
// Credentials are read from the Authorization bearer header, the
// x-functions-key header, or the code query parameter, so existing
// function-key clients and browser websocket clients can authenticate.
package auth
