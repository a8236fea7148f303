package llmwire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmTransport implements Transport over a gollm.LLM instance. It
// translates between the provider-neutral wire types and gollm's prompt
// API, and classifies gollm errors into the transport error taxonomy.
type GollmTransport struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmTransport.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. If empty, gollm reads it from the
// provider's environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the default model identifier.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions appends extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmTransport creates a transport for the given provider.
func NewGollmTransport(provider string, opts ...GollmOption) (*GollmTransport, error) {
	cfg := &gollmConfig{
		maxTokens:   4096,
		temperature: 1.0,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := DefaultModel(provider); info != nil {
			model = info.ID
		} else {
			return nil, &ConfigurationError{TransportError: TransportError{
				Message: fmt.Sprintf("no default model known for provider %q", provider),
			}}
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retry policy lives in this package
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{TransportError: TransportError{
			Message: fmt.Sprintf("failed to create gollm LLM for provider %s", provider),
			Cause:   err,
		}}
	}

	return &GollmTransport{provider: provider, llm: llm, model: model}, nil
}

// Name returns the provider identifier.
func (t *GollmTransport) Name() string { return t.provider }

// Model returns the default model identifier.
func (t *GollmTransport) Model() string { return t.model }

// Send issues a blocking completion and normalizes the result.
func (t *GollmTransport) Send(ctx context.Context, req SendRequest) (*ModelResponse, error) {
	prompt := t.translateRequest(req)
	t.applyRequestOptions(req)

	text, err := t.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, t.translateError(err)
	}

	return t.buildResponse(text), nil
}

// SendStream issues a streaming completion. Block events are synthesized
// from the token stream; tool-use blocks detected in the generated text are
// emitted as start/delta/stop triples so the assembler path is uniform
// across transports.
func (t *GollmTransport) SendStream(ctx context.Context, req SendRequest) (<-chan ModelEvent, error) {
	prompt := t.translateRequest(req)
	t.applyRequestOptions(req)

	ch := make(chan ModelEvent, 64)

	if !t.llm.SupportsStreaming() {
		// Fallback: run the blocking call and replay it as a stream.
		go func() {
			defer close(ch)
			resp, err := t.Send(ctx, req)
			if err != nil {
				sendEvent(ctx, ch, ModelEvent{Type: EventStreamError, Err: err})
				return
			}
			replayResponse(ctx, ch, resp)
		}()
		return ch, nil
	}

	stream, err := t.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, t.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		started := false
		var fullText strings.Builder

		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				sendEvent(ctx, ch, ModelEvent{Type: EventStreamError, Err: t.translateError(err)})
				return
			}
			if token == nil {
				continue
			}

			if !started {
				if !sendEvent(ctx, ch, ModelEvent{Type: EventBlockStart, Index: 0, Block: ContentBlock{Kind: BlockText}}) {
					return
				}
				started = true
			}
			if !sendEvent(ctx, ch, ModelEvent{Type: EventBlockDelta, Index: 0, TextDelta: token.Text}) {
				return
			}
			fullText.WriteString(token.Text)
		}

		if started {
			if !sendEvent(ctx, ch, ModelEvent{Type: EventBlockStop, Index: 0}) {
				return
			}
		}

		// Tool calls arrive embedded in the generated text; surface them
		// as proper tool-use block events after the text block closes.
		resp := t.buildResponse(fullText.String())
		index := 1
		for _, b := range resp.Content {
			if b.Kind != BlockToolUse {
				continue
			}
			if !emitToolUseBlock(ctx, ch, index, b.ToolUse) {
				return
			}
			index++
		}

		sendEvent(ctx, ch, ModelEvent{Type: EventMessageStop, StopReason: resp.StopReason})
	}()

	return ch, nil
}

// sendEvent delivers one event unless ctx is cancelled first. Without the
// ctx arm an abandoned consumer would leave the goroutine blocked once the
// channel buffer fills, holding the provider stream open.
func sendEvent(ctx context.Context, ch chan<- ModelEvent, ev ModelEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func emitToolUseBlock(ctx context.Context, ch chan<- ModelEvent, index int, use *ToolUseData) bool {
	return sendEvent(ctx, ch, ModelEvent{Type: EventBlockStart, Index: index, Block: ContentBlock{
		Kind:    BlockToolUse,
		ToolUse: &ToolUseData{ID: use.ID, Name: use.Name},
	}}) &&
		sendEvent(ctx, ch, ModelEvent{Type: EventBlockDelta, Index: index, InputDelta: string(use.Input)}) &&
		sendEvent(ctx, ch, ModelEvent{Type: EventBlockStop, Index: index})
}

// replayResponse emits a completed response as a synthetic event stream.
func replayResponse(ctx context.Context, ch chan<- ModelEvent, resp *ModelResponse) {
	for i, b := range resp.Content {
		switch b.Kind {
		case BlockText:
			if !sendEvent(ctx, ch, ModelEvent{Type: EventBlockStart, Index: i, Block: ContentBlock{Kind: BlockText}}) {
				return
			}
			if !sendEvent(ctx, ch, ModelEvent{Type: EventBlockDelta, Index: i, TextDelta: b.Text}) {
				return
			}
			if !sendEvent(ctx, ch, ModelEvent{Type: EventBlockStop, Index: i}) {
				return
			}
		case BlockToolUse:
			if !emitToolUseBlock(ctx, ch, i, b.ToolUse) {
				return
			}
		}
	}
	sendEvent(ctx, ch, ModelEvent{Type: EventMessageStop, StopReason: resp.StopReason})
}

// translateRequest converts a SendRequest into a gollm Prompt. gollm's
// prompt model is flat, so prior turns are rendered as labeled context.
func (t *GollmTransport) translateRequest(req SendRequest) *gollm.Prompt {
	var parts []string

	for _, turn := range req.Turns {
		switch turn.Role {
		case RoleUser:
			for _, b := range turn.Content {
				switch b.Kind {
				case BlockText:
					parts = append(parts, b.Text)
				case BlockToolResult:
					prefix := "[Tool Result]"
					if b.ToolResult.IsError {
						prefix = "[Tool Error]"
					}
					parts = append(parts, prefix+": "+flattenResultContent(b.ToolResult.Content))
				}
			}
		case RoleAssistant:
			if text := turn.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			for _, use := range turn.ToolUses() {
				parts = append(parts, fmt.Sprintf("[Assistant called %s]: %s", use.Name, string(use.Input)))
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Continue."
	}

	promptOpts := []gollm.PromptOption{}

	if req.System != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(req.System), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, td := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  td.InputSchema,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
		promptOpts = append(promptOpts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// flattenResultContent renders a tool result's content sequence as text.
func flattenResultContent(content []ResultContent) string {
	var sb strings.Builder
	for _, c := range content {
		switch c.Type {
		case ResultText:
			sb.WriteString(c.Text)
		case ResultJSON:
			sb.Write(c.JSON)
		}
	}
	return sb.String()
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (t *GollmTransport) applyRequestOptions(req SendRequest) {
	if req.Model != "" {
		t.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		t.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		t.llm.SetOption("max_tokens", req.MaxTokens)
	}
}

// buildResponse constructs a normalized ModelResponse from generated text,
// extracting any embedded tool calls.
func (t *GollmTransport) buildResponse(text string) *ModelResponse {
	var blocks []ContentBlock
	toolUses := t.parseToolUses(text)

	cleaned := t.removeToolUseJSON(text, toolUses)
	if cleaned != "" {
		blocks = append(blocks, TextBlock(cleaned))
	}
	for _, use := range toolUses {
		blocks = append(blocks, ContentBlock{Kind: BlockToolUse, ToolUse: &use})
	}
	if len(blocks) == 0 {
		blocks = []ContentBlock{TextBlock(text)}
	}

	stopReason := StopEndTurn
	if len(toolUses) > 0 {
		stopReason = StopToolUse
	}

	return &ModelResponse{Content: blocks, StopReason: stopReason}
}

// parseToolUses extracts tool calls embedded in the response text. gollm
// returns tool calls as JSON in the generated text.
func (t *GollmTransport) parseToolUses(text string) []ToolUseData {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var uses []ToolUseData
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err == nil {
		for _, rc := range rawCalls {
			input := rc.Arguments
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			uses = append(uses, ToolUseData{
				ID:    "toolu_" + uuid.New().String()[:8],
				Name:  rc.Name,
				Input: input,
			})
		}
	}
	return uses
}

// removeToolUseJSON strips parsed tool call JSON from the text.
func (t *GollmTransport) removeToolUseJSON(text string, uses []ToolUseData) string {
	if len(uses) == 0 {
		return text
	}
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError classifies a gollm error into the transport taxonomy.
func (t *GollmTransport) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	pe := func(status int, retryable bool) ProviderError {
		return ProviderError{
			TransportError: TransportError{Message: msg, Cause: err},
			Provider:       t.provider,
			StatusCode:     status,
			Retryable:      retryable,
		}
	}

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: pe(401, false)}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ProviderError: pe(403, false)}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{ProviderError: pe(404, false)}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: pe(429, true)}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ProviderError: pe(413, false)}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{ProviderError: pe(500, true)}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{TransportError: TransportError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "connection") || strings.Contains(msgLower, "network"):
		return &NetworkError{TransportError: TransportError{Message: msg, Cause: err}}
	default:
		p := pe(0, true)
		return &p
	}
}
