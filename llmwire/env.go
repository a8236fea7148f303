package llmwire

import "os"

// NewTransportFromEnv constructs a GollmTransport by scanning environment
// variables for provider API keys. The first provider with a key wins;
// anthropic is preferred when both are present.
func NewTransportFromEnv(opts ...GollmOption) (*GollmTransport, error) {
	for _, candidate := range []struct {
		provider string
		envVar   string
	}{
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"openai", "OPENAI_API_KEY"},
	} {
		if os.Getenv(candidate.envVar) == "" {
			continue
		}
		return NewGollmTransport(candidate.provider, opts...)
	}
	return nil, &ConfigurationError{TransportError: TransportError{
		Message: "no provider API key found in environment (ANTHROPIC_API_KEY, OPENAI_API_KEY)",
	}}
}
