package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Vikash221010/context-graph-demo/llmwire"
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateFailed     SessionState = "failed"
)

// HistoryMessage is one entry of caller-supplied prior history, used to
// seed a fresh session with earlier conversation context.
type HistoryMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// RunResult is the outcome of a non-streaming run. Response is best-effort
// and never nil-like: it is the empty string when no text was produced.
type RunResult struct {
	Response      string           `json:"response"`
	ToolCalls     []ToolCallRecord `json:"tool_calls"`
	DecisionsMade []DecisionRecord `json:"decisions_made"`
}

// Session drives the agentic loop for one conversation. The transcript,
// iteration counter, and tool-use id map are owned exclusively by the one
// goroutine driving the session; independent conversations use independent
// sessions sharing only the read-only registry.
type Session struct {
	id        string
	transport llmwire.Transport
	registry  *ToolRegistry
	system    string
	config    Config
	retry     llmwire.RetryPolicy
	logger    *slog.Logger

	mu           sync.Mutex
	state        SessionState
	history      []llmwire.Turn
	toolUseNames map[string]string
	decisions    decisionTracker
}

// NewSession creates a session over the given transport and tool registry.
// A nil config uses DefaultConfig.
func NewSession(transport llmwire.Transport, registry *ToolRegistry, systemPrompt string, config *Config) *Session {
	cfg := DefaultConfig()
	if config != nil {
		cfg = config.normalize()
	}
	return &Session{
		id:           uuid.New().String(),
		transport:    transport,
		registry:     registry,
		system:       systemPrompt,
		config:       cfg,
		retry:        llmwire.DefaultRetryPolicy(),
		logger:       slog.Default(),
		state:        StateIdle,
		toolUseNames: make(map[string]string),
	}
}

// SetLogger replaces the session logger.
func (s *Session) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetRetryPolicy replaces the retry policy used for non-streaming sends.
func (s *Session) SetRetryPolicy(policy llmwire.RetryPolicy) {
	s.retry = policy
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the transcript.
func (s *Session) History() []llmwire.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]llmwire.Turn, len(s.history))
	copy(h, s.history)
	return h
}

// Run processes one message through the agentic loop and blocks until the
// loop terminates. On a transport failure the returned result still carries
// whatever text and tool calls were produced before it.
func (s *Session) Run(ctx context.Context, message string, prior []HistoryMessage) (*RunResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}

	s.spliceHistory(prior)
	s.append(llmwire.UserTurn(message))

	var responseText strings.Builder
	var toolCalls []ToolCallRecord
	var runErr error

	for iteration := 0; iteration < s.config.MaxIterations; iteration++ {
		req := s.buildRequest()
		resp, err := llmwire.Retry(ctx, s.retry, func(ctx context.Context) (*llmwire.ModelResponse, error) {
			return s.transport.Send(ctx, req)
		})
		if err != nil {
			runErr = err
			break
		}

		s.append(llmwire.AssistantTurn(resp.Content))
		responseText.WriteString(resp.Text())

		uses := resp.ToolUses()
		if len(uses) == 0 {
			// Natural completion: end_turn, or a response that simply
			// carries no tool-use blocks.
			break
		}

		for _, use := range uses {
			toolCalls = append(toolCalls, ToolCallRecord{Name: use.Name, Input: use.Input})
		}

		results, err := s.dispatchAll(ctx, uses, nil, nil)
		if err != nil {
			runErr = err
			break
		}
		s.append(llmwire.ToolResultsTurn(results))

		if iteration == s.config.MaxIterations-1 {
			s.logger.Warn("iteration budget exhausted", "session_id", s.id, "iterations", s.config.MaxIterations)
		}
	}

	s.finish(runErr)

	result := &RunResult{
		Response:      responseText.String(),
		ToolCalls:     toolCalls,
		DecisionsMade: s.decisions.Records(),
	}
	if runErr != nil {
		s.logger.Error("run terminated by transport failure", "session_id", s.id, "error", runErr)
		return result, runErr
	}
	return result, nil
}

// RunStream processes one message through the agentic loop, emitting the
// six-kind progress event sequence. The returned channel is finite and not
// restartable; it closes after the done event, which is always delivered
// last and exactly once. After the caller's ctx is cancelled the done event
// rides the channel buffer, so consumers that keep draining still see it.
func (s *Session) RunStream(ctx context.Context, message string, prior []HistoryMessage) <-chan Event {
	p := newProjector(64)
	go func() {
		defer p.close()
		s.runStream(ctx, message, prior, p)
	}()
	return p.events()
}

func (s *Session) runStream(ctx context.Context, message string, prior []HistoryMessage, p *projector) {
	var responseText strings.Builder
	var toolCalls []ToolCallRecord
	var runErr error

	// The done event is terminal and unconditional: streaming consumers get
	// whatever was produced even on early termination. After cancellation
	// the blocking emit fails, so delivery falls back to the channel buffer.
	defer func() {
		s.finish(runErr)
		done := Event{Type: EventDone, Done: &DoneInfo{
			Response:      responseText.String(),
			ToolCalls:     toolCalls,
			DecisionsMade: s.decisions.Records(),
			Failed:        runErr != nil,
		}}
		if !p.emit(ctx, done) {
			p.emitFinal(done)
		}
	}()

	if err := s.begin(); err != nil {
		runErr = err
		p.emit(ctx, Event{Type: EventError, Error: err.Error()})
		return
	}

	if !p.emit(ctx, Event{Type: EventContext, Context: &ContextInfo{
		SystemPrompt:   s.system,
		Model:          s.modelID(),
		Provider:       s.transport.Name(),
		AvailableTools: s.registry.Names(),
	}}) {
		runErr = ctx.Err()
		return
	}

	s.spliceHistory(prior)
	s.append(llmwire.UserTurn(message))

	for iteration := 0; iteration < s.config.MaxIterations; iteration++ {
		turnCtx, cancel := context.WithTimeout(ctx, s.config.StreamTimeout)
		events, err := s.transport.SendStream(turnCtx, s.buildRequest())
		if err != nil {
			cancel()
			runErr = err
			p.emit(ctx, Event{Type: EventError, Error: err.Error()})
			return
		}

		asm := llmwire.NewStreamAssembler()
		var uses []llmwire.ToolUseData
		malformed := make(map[string]error)

		for ev := range events {
			switch ev.Type {
			case llmwire.EventBlockDelta:
				asm.Process(ev)
				if ev.TextDelta != "" {
					responseText.WriteString(ev.TextDelta)
					if !p.emit(ctx, Event{Type: EventText, Text: ev.TextDelta}) {
						cancel()
						runErr = ctx.Err()
						return
					}
				}

			case llmwire.EventBlockStop:
				block := asm.Process(ev)
				if block == nil || block.Kind != llmwire.BlockToolUse {
					break
				}
				use := *block.ToolUse
				s.rememberToolUse(use.ID, use.Name)
				if merr := asm.Malformed(ev.Index); merr != nil {
					malformed[use.ID] = merr
				}
				uses = append(uses, use)
				toolCalls = append(toolCalls, ToolCallRecord{Name: use.Name, Input: use.Input})
				if !p.emit(ctx, Event{Type: EventToolUse, ToolName: use.Name, ToolInput: use.Input}) {
					cancel()
					runErr = ctx.Err()
					return
				}

			case llmwire.EventStreamError:
				// A mid-stream failure is terminal. Text deltas seen so far
				// have already been forwarded; flush them into the
				// transcript and fail.
				cancel()
				if blocks := asm.Blocks(); len(blocks) > 0 {
					s.append(llmwire.AssistantTurn(blocks))
				}
				runErr = ev.Err
				p.emit(ctx, Event{Type: EventError, Error: ev.Err.Error()})
				return

			default:
				asm.Process(ev)
			}
		}
		cancel()

		// A stream that closed mid-block can leave a tool-use in the
		// assembled turn that never reached block_stop. It still needs an
		// answer before the next model request, so it joins the batch with
		// a synthesized error result instead of a real dispatch.
		for _, use := range asm.TruncatedToolUses() {
			s.rememberToolUse(use.ID, use.Name)
			malformed[use.ID] = fmt.Errorf("stream ended before the input for %s was complete", use.Name)
			uses = append(uses, use)
			toolCalls = append(toolCalls, ToolCallRecord{Name: use.Name, Input: use.Input})
			if !p.emit(ctx, Event{Type: EventToolUse, ToolName: use.Name, ToolInput: use.Input}) {
				runErr = ctx.Err()
				return
			}
		}

		s.append(llmwire.AssistantTurn(asm.Blocks()))

		if len(uses) == 0 {
			// end_turn, or a stream that ended without tool use and without
			// an explicit stop: treat as implicit completion.
			return
		}

		results, err := s.dispatchAll(ctx, uses, malformed, p)
		if err != nil {
			runErr = err
			return
		}
		s.append(llmwire.ToolResultsTurn(results))
	}

	s.logger.Warn("iteration budget exhausted", "session_id", s.id, "iterations", s.config.MaxIterations)
}

// dispatchAll executes one model turn's tool calls concurrently, then
// gathers every result before anything is appended or emitted. Results are
// ordered by the model's request order, and the step is all-or-nothing
// under cancellation: either every dispatch completes and one combined
// tool-result turn is produced, or nothing is appended.
func (s *Session) dispatchAll(ctx context.Context, uses []llmwire.ToolUseData, malformed map[string]error, p *projector) ([]llmwire.ContentBlock, error) {
	results := make([]ToolResult, len(uses))
	var wg sync.WaitGroup
	for i, use := range uses {
		wg.Add(1)
		go func(idx int, use llmwire.ToolUseData) {
			defer wg.Done()
			results[idx] = s.dispatchOne(ctx, use, malformed[use.ID])
		}(i, use)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blocks := make([]llmwire.ContentBlock, len(uses))
	for i, use := range uses {
		s.rememberToolUse(use.ID, use.Name)
		s.observeDecision(use.Name, use.ID, results[i])
		if p != nil {
			if !p.emit(ctx, Event{
				Type:        EventToolResult,
				ToolName:    use.Name,
				ToolOutput:  results[i].Content,
				ToolIsError: results[i].IsError,
			}) {
				return nil, ctx.Err()
			}
		}
		blocks[i] = llmwire.ToolResultBlock(use.ID, results[i].Content, results[i].IsError)
	}
	return blocks, nil
}

// dispatchOne routes a single tool call, converting malformed input into an
// error result without invoking the handler.
func (s *Session) dispatchOne(ctx context.Context, use llmwire.ToolUseData, malformed error) ToolResult {
	if malformed != nil {
		return ErrorResult("Invalid input for %s: %v", use.Name, malformed)
	}
	input := use.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	} else if !json.Valid(input) {
		return ErrorResult("Invalid input for %s: input is not valid JSON", use.Name)
	}
	s.logger.Debug("dispatching tool", "session_id", s.id, "tool", use.Name, "tool_use_id", use.ID)
	return s.registry.Dispatch(ctx, use.Name, input)
}

// buildRequest assembles the transport request from the current transcript.
func (s *Session) buildRequest() llmwire.SendRequest {
	temp := s.config.Temperature
	return llmwire.SendRequest{
		Turns:       s.History(),
		System:      s.system,
		Tools:       s.registry.Definitions(),
		MaxTokens:   s.config.MaxTokens,
		Temperature: &temp,
		Model:       s.config.Model,
	}
}

// spliceHistory seeds the transcript with the most recent prior messages.
func (s *Session) spliceHistory(prior []HistoryMessage) {
	if len(prior) == 0 {
		return
	}
	window := s.config.HistoryWindow
	if len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	for _, msg := range prior {
		switch msg.Role {
		case "assistant":
			s.append(llmwire.AssistantTurn([]llmwire.ContentBlock{llmwire.TextBlock(msg.Content)}))
		default:
			s.append(llmwire.UserTurn(msg.Content))
		}
	}
}

// ToolNameForUse resolves a tool-use id to the tool name recorded when the
// use block was accumulated. Needed because tool-result correlation carries
// only the id on some providers.
func (s *Session) ToolNameForUse(toolUseID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.toolUseNames[toolUseID]; ok {
		return name
	}
	return "unknown"
}

func (s *Session) rememberToolUse(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolUseNames[id] = name
}

func (s *Session) observeDecision(toolName, toolUseID string, result ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions.observe(toolName, toolUseID, result)
}

func (s *Session) append(turn llmwire.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
}

func (s *Session) modelID() string {
	if s.config.Model != "" {
		return s.config.Model
	}
	return s.transport.Model()
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing {
		return fmt.Errorf("session %s is already processing", s.id)
	}
	s.state = StateProcessing
	return nil
}

func (s *Session) finish(runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runErr != nil {
		s.state = StateFailed
		return
	}
	s.state = StateIdle
}
