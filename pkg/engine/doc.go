// Package engine runs conversation turns against a chat completion
// backend.
//
// A turn loads the session history, appends the user prompt, compacts the
// history when it grows past the configured limit, and then drives a
// bounded loop of model calls. Each call either answers, asks for tools
// (which are dispatched and fed back on the next step), or returns a
// data-source batch produced by backend-side retrieval. Streamed answers
// are reassembled with a stream.Accumulator and published to the turn's
// stream as throttled interim deltas. The updated history is written back
// to the session store at the end of the turn.
package engine
