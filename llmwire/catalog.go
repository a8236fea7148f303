package llmwire

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	DisplayName   string `json:"display_name"`
	ContextWindow int    `json:"context_window"`
	MaxOutput     int    `json:"max_output"`
	SupportsTools bool   `json:"supports_tools"`
}

// Models is the built-in model catalog.
var Models = []ModelInfo{
	{
		ID: "claude-opus-4-6", Provider: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, MaxOutput: 32768, SupportsTools: true,
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384, SupportsTools: true,
	},
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, MaxOutput: 32768, SupportsTools: true,
	},
	{
		ID: "gpt-5.2-mini", Provider: "openai", DisplayName: "GPT-5.2 Mini",
		ContextWindow: 1047576, MaxOutput: 16384, SupportsTools: true,
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
	}
	return nil
}

// DefaultModel returns the first catalog entry for a provider, or nil.
func DefaultModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}
