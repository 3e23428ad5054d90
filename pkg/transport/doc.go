// Package transport defines the request handler contract between the HTTP
// surface and the chat service, plus the middleware that wraps it.
//
// A Request is either a completion (one prompt through the turn engine)
// or an assistant request (one prompt fanned out to agents). Handlers
// return a Result carrying the responses and the context token the
// client echoes on its next request.
//
// Built-in middleware assigns request ids, recovers panics, logs each
// request with log/slog, and tracks in-flight requests so shutdown can
// cancel them.
package transport
