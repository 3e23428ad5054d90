// Package api defines the core types shared by the parley orchestrators.
//
// It covers session history ([Session], [Message], [ToolCallRequest]),
// turn results ([ChatResponse], [Citation], [MultiAgentResult]), the
// lifecycle of remote agent runs ([RunStatus]), notifications pushed to
// live clients ([StreamMessage]) and the error taxonomy ([APIError]).
//
// The package performs no I/O. Its only dependency beyond the standard
// library is github.com/google/uuid for session and stream identifiers.
package api
