package llmwire

import "context"

// Transport issues completion requests against one LLM provider and
// normalizes the raw wire response into the provider-neutral types of this
// package. Implementations are stateless between calls except for
// caller-supplied request content.
type Transport interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// Model returns the default model identifier for this transport.
	Model() string

	// Send issues a blocking completion and returns the full response.
	Send(ctx context.Context, req SendRequest) (*ModelResponse, error)

	// SendStream issues a streaming completion. The returned channel is
	// finite and not restartable: it closes after a message_stop or
	// stream_error event.
	SendStream(ctx context.Context, req SendRequest) (<-chan ModelEvent, error)
}

// Closer is implemented by transports that hold resources.
type Closer interface {
	Close() error
}
