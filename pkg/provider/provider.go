package provider

import "context"

// CompletionService abstracts the remote chat completion backend. Finish
// reasons such as content_filter or length are reported as data on the
// result. Only transport failures are returned as errors.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type CompletionService interface {
	// Name returns the backend identifier used in metrics and logs.
	Name() string

	// Complete sends the conversation to the model. When req.Stream is
	// set the result is a stream; otherwise it is a message or a
	// data-source batch, depending on what the backend returned.
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// Close releases backend resources (HTTP clients, connections).
	Close() error
}

// CompletionKind tags the variant held by a Completion.
type CompletionKind int

const (
	// KindMessage carries ordinary choices, each with one message.
	KindMessage CompletionKind = iota
	// KindStream carries a channel of chunks.
	KindStream
	// KindDataSourceBatch carries the multi-message payload produced when
	// the backend runs retrieval itself.
	KindDataSourceBatch
)

// String returns a short name for logs.
func (k CompletionKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindStream:
		return "stream"
	case KindDataSourceBatch:
		return "data_source_batch"
	}
	return "unknown"
}

// Completion is the result of one model call. Exactly one payload field is
// populated, selected by Kind.
type Completion struct {
	Kind CompletionKind

	// Choices is set for KindMessage.
	Choices []Choice

	// Batch is set for KindDataSourceBatch.
	Batch []DataSourceMessage

	// Events is set for KindStream. The channel is closed by the backend
	// when the stream ends, errors, or the context is cancelled.
	Events <-chan StreamEvent

	Usage Usage
}

// NewMessageCompletion wraps ordinary choices.
func NewMessageCompletion(choices []Choice) *Completion {
	return &Completion{Kind: KindMessage, Choices: choices}
}

// NewBatchCompletion wraps a data-source message batch.
func NewBatchCompletion(batch []DataSourceMessage) *Completion {
	return &Completion{Kind: KindDataSourceBatch, Batch: batch}
}

// NewStreamCompletion wraps a chunk channel.
func NewStreamCompletion(events <-chan StreamEvent) *Completion {
	return &Completion{Kind: KindStream, Events: events}
}
