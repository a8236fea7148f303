package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vikash221010/context-graph-demo/llmwire"
)

// scriptedTransport is a test double for llmwire.Transport. It replays a
// fixed script of responses (for Send) or event sequences (for SendStream)
// and records every request it receives. The last script entry repeats once
// the script is exhausted.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []*llmwire.ModelResponse
	streams   [][]llmwire.ModelEvent
	sendErr   error
	requests  []llmwire.SendRequest
}

func (s *scriptedTransport) Name() string  { return "scripted" }
func (s *scriptedTransport) Model() string { return "test-model" }

func (s *scriptedTransport) Send(ctx context.Context, req llmwire.SendRequest) (*llmwire.ModelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	idx := len(s.requests) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *scriptedTransport) SendStream(ctx context.Context, req llmwire.SendRequest) (<-chan llmwire.ModelEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	idx := len(s.requests) - 1
	if idx >= len(s.streams) {
		idx = len(s.streams) - 1
	}
	events := s.streams[idx]
	ch := make(chan llmwire.ModelEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *scriptedTransport) seen() []llmwire.SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llmwire.SendRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func textResponse(text string) *llmwire.ModelResponse {
	return &llmwire.ModelResponse{
		Content:    []llmwire.ContentBlock{llmwire.TextBlock(text)},
		StopReason: llmwire.StopEndTurn,
	}
}

func toolResponse(text string, uses ...llmwire.ToolUseData) *llmwire.ModelResponse {
	blocks := []llmwire.ContentBlock{llmwire.TextBlock(text)}
	for _, use := range uses {
		blocks = append(blocks, llmwire.ToolUseBlock(use.ID, use.Name, use.Input))
	}
	return &llmwire.ModelResponse{Content: blocks, StopReason: llmwire.StopToolUse}
}

// textStream builds the event sequence for a text-only model turn.
func textStream(text string) []llmwire.ModelEvent {
	return []llmwire.ModelEvent{
		{Type: llmwire.EventBlockStart, Index: 0, Block: llmwire.TextBlock("")},
		{Type: llmwire.EventBlockDelta, Index: 0, TextDelta: text},
		{Type: llmwire.EventBlockStop, Index: 0},
		{Type: llmwire.EventMessageStop, StopReason: llmwire.StopEndTurn},
	}
}

// toolStream builds the event sequence for a turn that requests one tool,
// with the input JSON split across deltas.
func toolStream(text, id, name string, inputFragments ...string) []llmwire.ModelEvent {
	events := []llmwire.ModelEvent{
		{Type: llmwire.EventBlockStart, Index: 0, Block: llmwire.TextBlock("")},
		{Type: llmwire.EventBlockDelta, Index: 0, TextDelta: text},
		{Type: llmwire.EventBlockStop, Index: 0},
		{Type: llmwire.EventBlockStart, Index: 1, Block: llmwire.ToolUseBlock(id, name, nil)},
	}
	for _, frag := range inputFragments {
		events = append(events, llmwire.ModelEvent{Type: llmwire.EventBlockDelta, Index: 1, InputDelta: frag})
	}
	events = append(events,
		llmwire.ModelEvent{Type: llmwire.EventBlockStop, Index: 1},
		llmwire.ModelEvent{Type: llmwire.EventMessageStop, StopReason: llmwire.StopToolUse},
	)
	return events
}

func echoRegistry(t *testing.T, names ...string) *ToolRegistry {
	t.Helper()
	registry := NewToolRegistry()
	for _, name := range names {
		name := name
		registry.Register(llmwire.ToolDefinition{
			Name:        name,
			Description: "echoes its input",
			InputSchema: map[string]interface{}{"type": "object"},
		}, func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			return TextToolResult("echo:" + name), nil
		})
	}
	return registry
}

func collectEvents(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestRunTextOnly(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{textResponse("Hello there.")}}
	session := NewSession(transport, echoRegistry(t), "be helpful", nil)

	result, err := session.Run(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Response != "Hello there." {
		t.Errorf("expected response text, got %q", result.Response)
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("expected no tool calls, got %d", len(result.ToolCalls))
	}
	if got := len(transport.seen()); got != 1 {
		t.Errorf("expected 1 model call, got %d", got)
	}
	if session.State() != StateIdle {
		t.Errorf("expected idle state after success, got %s", session.State())
	}
}

func TestRunToolRoundTripPairing(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{
		toolResponse("Checking.",
			llmwire.ToolUseData{ID: "toolu_a", Name: "slow_tool", Input: json.RawMessage(`{}`)},
			llmwire.ToolUseData{ID: "toolu_b", Name: "fast_tool", Input: json.RawMessage(`{}`)},
		),
		textResponse("Both done."),
	}}

	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "slow_tool", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			time.Sleep(20 * time.Millisecond)
			return TextToolResult("slow"), nil
		})
	registry.Register(llmwire.ToolDefinition{Name: "fast_tool", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			return TextToolResult("fast"), nil
		})

	session := NewSession(transport, registry, "", nil)
	result, err := session.Run(context.Background(), "check both", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Response != "Checking.Both done." {
		t.Errorf("unexpected response: %q", result.Response)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(result.ToolCalls))
	}

	requests := transport.seen()
	if len(requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(requests))
	}

	// The second request must end with exactly one combined user-role turn
	// answering both tool uses, in the order the model requested them even
	// though the fast handler finished first.
	last := requests[1].Turns[len(requests[1].Turns)-1]
	if last.Role != llmwire.RoleUser {
		t.Fatalf("expected tool results in a user turn, got role %s", last.Role)
	}
	if len(last.Content) != 2 {
		t.Fatalf("expected 2 tool result blocks in one turn, got %d", len(last.Content))
	}
	first, second := last.Content[0].ToolResult, last.Content[1].ToolResult
	if first == nil || second == nil {
		t.Fatal("expected tool result blocks")
	}
	if first.ToolUseID != "toolu_a" || second.ToolUseID != "toolu_b" {
		t.Errorf("results out of request order: %s, %s", first.ToolUseID, second.ToolUseID)
	}

	// Every tool use is answered exactly once across the transcript.
	answered := map[string]int{}
	for _, turn := range requests[1].Turns {
		for _, block := range turn.Content {
			if block.Kind == llmwire.BlockToolResult {
				answered[block.ToolResult.ToolUseID]++
			}
		}
	}
	for _, id := range []string{"toolu_a", "toolu_b"} {
		if answered[id] != 1 {
			t.Errorf("tool use %s answered %d times, want 1", id, answered[id])
		}
	}
}

func TestRunIterationBudget(t *testing.T) {
	// The model asks for a tool on every turn; the loop must stop after
	// exactly the configured number of model calls, dispatching the final
	// round's tools, and terminate without error.
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{
		toolResponse("again",
			llmwire.ToolUseData{ID: "toolu_1", Name: "noisy", Input: json.RawMessage(`{}`)},
		),
	}}

	var dispatches int
	var mu sync.Mutex
	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "noisy", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			mu.Lock()
			dispatches++
			mu.Unlock()
			return TextToolResult("ok"), nil
		})

	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	session := NewSession(transport, registry, "", &cfg)

	result, err := session.Run(context.Background(), "loop forever", nil)
	if err != nil {
		t.Fatalf("budget exhaustion is termination, not an error: %v", err)
	}
	if got := len(transport.seen()); got != 3 {
		t.Errorf("expected exactly 3 model calls, got %d", got)
	}
	if dispatches != 3 {
		t.Errorf("expected the final round's tools dispatched too, got %d dispatches", dispatches)
	}
	if len(result.ToolCalls) != 3 {
		t.Errorf("expected 3 recorded tool calls, got %d", len(result.ToolCalls))
	}
}

func TestRunUnknownToolFedBack(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{
		toolResponse("Trying.",
			llmwire.ToolUseData{ID: "toolu_x", Name: "no_such_tool", Input: json.RawMessage(`{}`)},
		),
		textResponse("Recovered."),
	}}
	session := NewSession(transport, echoRegistry(t), "", nil)

	result, err := session.Run(context.Background(), "go", nil)
	if err != nil {
		t.Fatalf("an unknown tool must not fail the loop: %v", err)
	}
	if !strings.Contains(result.Response, "Recovered.") {
		t.Errorf("loop did not continue after unknown tool: %q", result.Response)
	}

	requests := transport.seen()
	last := requests[1].Turns[len(requests[1].Turns)-1]
	tr := last.Content[0].ToolResult
	if tr == nil || !tr.IsError {
		t.Fatal("expected error-tagged tool result for unknown tool")
	}
	if !strings.Contains(tr.Content[0].Text, "not found") {
		t.Errorf("expected explanatory message, got %q", tr.Content[0].Text)
	}
}

func TestRunMalformedToolInput(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{
		toolResponse("Calling.",
			llmwire.ToolUseData{ID: "toolu_bad", Name: "echo", Input: json.RawMessage(`{"broken`)},
		),
		textResponse("Moved on."),
	}}

	handlerCalled := false
	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "echo", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			handlerCalled = true
			return TextToolResult("ok"), nil
		})

	session := NewSession(transport, registry, "", nil)
	_, err := session.Run(context.Background(), "go", nil)
	if err != nil {
		t.Fatalf("malformed input is a dispatch error, not a loop failure: %v", err)
	}
	if handlerCalled {
		t.Error("handler must not run on malformed input")
	}

	requests := transport.seen()
	tr := requests[1].Turns[len(requests[1].Turns)-1].Content[0].ToolResult
	if tr == nil || !tr.IsError {
		t.Fatal("expected error-tagged tool result")
	}
	if tr.ToolUseID != "toolu_bad" {
		t.Errorf("result paired with wrong tool use: %s", tr.ToolUseID)
	}
}

func TestRunTransportFailure(t *testing.T) {
	transport := &scriptedTransport{sendErr: &llmwire.AuthenticationError{
		ProviderError: llmwire.ProviderError{
			TransportError: llmwire.TransportError{Message: "invalid api key"},
			StatusCode:     401,
		},
	}}
	session := NewSession(transport, echoRegistry(t), "", nil)

	result, err := session.Run(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if result == nil {
		t.Fatal("partial result must still be returned")
	}
	if session.State() != StateFailed {
		t.Errorf("expected failed state, got %s", session.State())
	}
}

func TestRunPriorHistoryWindow(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{textResponse("ok")}}
	cfg := DefaultConfig()
	cfg.HistoryWindow = 2
	session := NewSession(transport, echoRegistry(t), "", &cfg)

	prior := []HistoryMessage{
		{Role: "user", Content: "oldest"},
		{Role: "assistant", Content: "older"},
		{Role: "user", Content: "recent"},
		{Role: "assistant", Content: "newest"},
	}
	if _, err := session.Run(context.Background(), "now", prior); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turns := transport.seen()[0].Turns
	// Window of 2 plus the current message.
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].TextContent() != "recent" || turns[1].TextContent() != "newest" {
		t.Errorf("expected the most recent window, got %q, %q", turns[0].TextContent(), turns[1].TextContent())
	}
}

func TestRunStreamEventOrder(t *testing.T) {
	transport := &scriptedTransport{streams: [][]llmwire.ModelEvent{
		toolStream("Let me look. ", "toolu_1", "lookup", `{"q":`, `"x"}`),
		textStream("Found it."),
	}}

	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "lookup", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			return TextToolResult("result-data"), nil
		})

	session := NewSession(transport, registry, "system prompt", nil)
	events := collectEvents(session.RunStream(context.Background(), "find x", nil))

	if len(events) == 0 {
		t.Fatal("expected events")
	}
	if events[0].Type != EventContext {
		t.Fatalf("first event must be context, got %s", events[0].Type)
	}
	if events[0].Context == nil || events[0].Context.Provider != "scripted" {
		t.Error("context event missing provider identity")
	}
	if events[0].Context.AvailableTools[0] != "lookup" {
		t.Error("context event missing tool manifest")
	}

	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("last event must be done, got %s", last.Type)
	}
	doneCount := 0
	contextCount := 0
	var text strings.Builder
	var sawToolUse, sawToolResult bool
	toolUseIdx, toolResultIdx := -1, -1
	for i, ev := range events {
		switch ev.Type {
		case EventDone:
			doneCount++
		case EventContext:
			contextCount++
		case EventText:
			text.WriteString(ev.Text)
		case EventToolUse:
			sawToolUse = true
			toolUseIdx = i
		case EventToolResult:
			sawToolResult = true
			toolResultIdx = i
		}
	}
	if doneCount != 1 {
		t.Errorf("done must be emitted exactly once, got %d", doneCount)
	}
	if contextCount != 1 {
		t.Errorf("context must be emitted exactly once, got %d", contextCount)
	}
	if !sawToolUse || !sawToolResult {
		t.Fatal("expected tool_use and tool_result events")
	}
	if toolResultIdx < toolUseIdx {
		t.Error("tool_result emitted before its tool_use")
	}
	if got := text.String(); got != "Let me look. Found it." {
		t.Errorf("unexpected streamed text: %q", got)
	}
	if last.Done == nil || last.Done.Failed {
		t.Error("expected successful done payload")
	}
	if last.Done.Response != "Let me look. Found it." {
		t.Errorf("done payload text mismatch: %q", last.Done.Response)
	}
}

func TestRunStreamMidStreamFailure(t *testing.T) {
	// The stream dies after delivering some text. Buffered text must reach
	// the caller before the failure is reported, and done still arrives
	// last, exactly once, marked failed.
	transport := &scriptedTransport{streams: [][]llmwire.ModelEvent{{
		{Type: llmwire.EventBlockStart, Index: 0, Block: llmwire.TextBlock("")},
		{Type: llmwire.EventBlockDelta, Index: 0, TextDelta: "partial answer"},
		{Type: llmwire.EventStreamError, Err: &llmwire.StreamError{
			TransportError: llmwire.TransportError{Message: "connection reset"},
		}},
	}}}

	session := NewSession(transport, echoRegistry(t), "", nil)
	events := collectEvents(session.RunStream(context.Background(), "hi", nil))

	var sawText, sawError bool
	textIdx, errIdx := -1, -1
	for i, ev := range events {
		switch ev.Type {
		case EventText:
			sawText = true
			textIdx = i
		case EventError:
			sawError = true
			errIdx = i
		}
	}
	if !sawText {
		t.Fatal("buffered text must be delivered before the failure")
	}
	if !sawError {
		t.Fatal("expected error event")
	}
	if errIdx < textIdx {
		t.Error("error emitted before buffered text")
	}

	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("last event must be done, got %s", last.Type)
	}
	if last.Done == nil || !last.Done.Failed {
		t.Error("done payload must be marked failed")
	}
	if !strings.Contains(last.Done.Response, "partial answer") {
		t.Errorf("done payload missing partial text: %q", last.Done.Response)
	}
	if session.State() != StateFailed {
		t.Errorf("expected failed state, got %s", session.State())
	}
}

func TestRunStreamMalformedToolInput(t *testing.T) {
	transport := &scriptedTransport{streams: [][]llmwire.ModelEvent{
		toolStream("Calling. ", "toolu_bad", "echo", `{"unclosed`),
		textStream("Recovered."),
	}}

	handlerCalled := false
	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "echo", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			handlerCalled = true
			return TextToolResult("ok"), nil
		})

	session := NewSession(transport, registry, "", nil)
	events := collectEvents(session.RunStream(context.Background(), "go", nil))

	if handlerCalled {
		t.Error("handler must not run on malformed input")
	}

	var errorResult *Event
	for i := range events {
		if events[i].Type == EventToolResult {
			errorResult = &events[i]
		}
	}
	if errorResult == nil {
		t.Fatal("expected a tool_result event")
	}
	if !errorResult.ToolIsError {
		t.Error("malformed input must produce an error-tagged result")
	}

	last := events[len(events)-1]
	if last.Type != EventDone || last.Done == nil || last.Done.Failed {
		t.Error("malformed input must not fail the run")
	}
	if !strings.Contains(last.Done.Response, "Recovered.") {
		t.Errorf("loop did not continue after malformed input: %q", last.Done.Response)
	}
}

func TestRunStreamSendError(t *testing.T) {
	transport := &scriptedTransport{sendErr: &llmwire.NetworkError{
		TransportError: llmwire.TransportError{Message: "no route to host"},
	}}
	session := NewSession(transport, echoRegistry(t), "", nil)
	events := collectEvents(session.RunStream(context.Background(), "hi", nil))

	last := events[len(events)-1]
	if last.Type != EventDone || last.Done == nil || !last.Done.Failed {
		t.Fatal("expected failed done event")
	}
	var sawError bool
	for _, ev := range events {
		if ev.Type == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event before done")
	}
}

// A stream can close after a tool-use block started but before its stop
// event arrives. The half-delivered tool use still sits in the assistant
// turn, so it must be answered with an error result alongside the completed
// one or the next request would carry an unanswered tool_use.
func TestRunStreamTruncatedToolInput(t *testing.T) {
	truncated := []llmwire.ModelEvent{
		{Type: llmwire.EventBlockStart, Index: 0, Block: llmwire.ToolUseBlock("toolu_done", "echo", nil)},
		{Type: llmwire.EventBlockDelta, Index: 0, InputDelta: `{"ok":true}`},
		{Type: llmwire.EventBlockStop, Index: 0},
		{Type: llmwire.EventBlockStart, Index: 1, Block: llmwire.ToolUseBlock("toolu_cut", "echo", nil)},
		{Type: llmwire.EventBlockDelta, Index: 1, InputDelta: `{"v":`},
		// channel closes here, no block_stop and no message_stop
	}
	transport := &scriptedTransport{streams: [][]llmwire.ModelEvent{
		truncated,
		textStream("Recovered."),
	}}

	var handlerCalls int
	var mu sync.Mutex
	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "echo", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			mu.Lock()
			handlerCalls++
			mu.Unlock()
			return TextToolResult("ok"), nil
		})

	session := NewSession(transport, registry, "", nil)
	events := collectEvents(session.RunStream(context.Background(), "go", nil))

	if handlerCalls != 1 {
		t.Errorf("handler calls = %d, want 1; the truncated use must not dispatch", handlerCalls)
	}

	var useIDsSeen int
	for _, ev := range events {
		if ev.Type == EventToolUse {
			useIDsSeen++
		}
	}
	if useIDsSeen != 2 {
		t.Errorf("tool_use events = %d, want 2", useIDsSeen)
	}

	requests := transport.seen()
	if len(requests) != 2 {
		t.Fatalf("model requests = %d, want 2", len(requests))
	}
	second := requests[1]
	resultsTurn := second.Turns[len(second.Turns)-1]
	if resultsTurn.Role != llmwire.RoleUser {
		t.Fatalf("final turn role = %q, want user", resultsTurn.Role)
	}
	var results []*llmwire.ToolResultData
	for _, b := range resultsTurn.Content {
		if b.Kind == llmwire.BlockToolResult {
			results = append(results, b.ToolResult)
		}
	}
	if len(results) != 2 {
		t.Fatalf("tool results in follow-up request = %d, want 2", len(results))
	}
	if results[0].ToolUseID != "toolu_done" || results[1].ToolUseID != "toolu_cut" {
		t.Errorf("result order = %q, %q; want toolu_done then toolu_cut",
			results[0].ToolUseID, results[1].ToolUseID)
	}
	if results[0].IsError {
		t.Error("completed use must carry a real result")
	}
	if !results[1].IsError {
		t.Error("truncated use must carry an error result")
	}

	last := events[len(events)-1]
	if last.Type != EventDone || last.Done == nil || last.Done.Failed {
		t.Error("a truncated tool block must not fail the run")
	}
	if !strings.Contains(last.Done.Response, "Recovered.") {
		t.Errorf("loop did not continue after truncation: %q", last.Done.Response)
	}
}

// Even when the caller's context is already cancelled, the channel must
// still deliver a terminal done event before closing.
func TestRunStreamCancelledStillDone(t *testing.T) {
	transport := &scriptedTransport{streams: [][]llmwire.ModelEvent{textStream("Hello.")}}
	session := NewSession(transport, echoRegistry(t), "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collectEvents(session.RunStream(ctx, "hi", nil))
	if len(events) == 0 {
		t.Fatal("expected at least a done event")
	}
	var doneCount int
	for _, ev := range events {
		if ev.Type == EventDone {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("done events = %d, want exactly 1", doneCount)
	}
	if events[len(events)-1].Type != EventDone {
		t.Errorf("last event = %q, want done", events[len(events)-1].Type)
	}
}

func TestRunPrecedentScenario(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{
		toolResponse("Searching for precedents. ",
			llmwire.ToolUseData{
				ID:    "toolu_prec",
				Name:  "find_precedents",
				Input: json.RawMessage(`{"scenario": "$50,000 international wire to a new beneficiary", "limit": 5}`),
			},
		),
		textResponse("Three similar wires were approved with enhanced due diligence."),
	}}

	var dispatched int
	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "find_precedents", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			dispatched++
			return TextToolResult(`{"precedents": []}`), nil
		})

	session := NewSession(transport, registry, "", nil)
	result, err := session.Run(context.Background(), "find precedents for a $50,000 international wire to a new beneficiary", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dispatched != 1 {
		t.Errorf("expected exactly 1 dispatch, got %d", dispatched)
	}
	if len(result.ToolCalls) != 1 {
		t.Errorf("expected 1 tool call, got %d", len(result.ToolCalls))
	}
	if result.Response == "" {
		t.Error("expected non-empty response")
	}

	// Exactly one tool-result turn was appended.
	resultTurns := 0
	for _, turn := range session.History() {
		for _, block := range turn.Content {
			if block.Kind == llmwire.BlockToolResult {
				resultTurns++
			}
		}
	}
	if resultTurns != 1 {
		t.Errorf("expected 1 appended tool result, got %d", resultTurns)
	}
}

func TestTranscriptAppendOnly(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{
		toolResponse("round",
			llmwire.ToolUseData{ID: "toolu_1", Name: "noisy", Input: json.RawMessage(`{}`)},
		),
	}}
	registry := NewToolRegistry()

	var snapshots [][]llmwire.Turn
	var session *Session
	registry.Register(llmwire.ToolDefinition{Name: "noisy", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			snapshots = append(snapshots, session.History())
			return TextToolResult("ok"), nil
		})

	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	session = NewSession(transport, registry, "", &cfg)
	if _, err := session.Run(context.Background(), "go", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapshots = append(snapshots, session.History())

	// Each snapshot is a strict prefix-extension of the previous one.
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		if len(cur) < len(prev) {
			t.Fatalf("snapshot %d shrank: %d -> %d turns", i, len(prev), len(cur))
		}
		for j := range prev {
			if prev[j].Role != cur[j].Role || len(prev[j].Content) != len(cur[j].Content) {
				t.Fatalf("snapshot %d mutated turn %d", i, j)
			}
		}
	}
}

func TestRunDecisionTracking(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{
		toolResponse("Recording.",
			llmwire.ToolUseData{ID: "toolu_rec", Name: "record_decision", Input: json.RawMessage(`{"decision_type":"approval"}`)},
		),
		textResponse("Recorded."),
	}}

	registry := NewToolRegistry()
	registry.Register(llmwire.ToolDefinition{Name: "record_decision", InputSchema: map[string]interface{}{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
			return ToolResult{Content: llmwire.JSONResult(json.RawMessage(
				`{"success":true,"decision_id":"dec_42","message":"Decision recorded successfully with ID dec_42"}`,
			))}, nil
		})

	session := NewSession(transport, registry, "", nil)
	result, err := session.Run(context.Background(), "approve it", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.DecisionsMade) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(result.DecisionsMade))
	}
	if result.DecisionsMade[0].DecisionID != "dec_42" {
		t.Errorf("unexpected decision id: %s", result.DecisionsMade[0].DecisionID)
	}
	if result.DecisionsMade[0].ToolUseID != "toolu_rec" {
		t.Errorf("decision not linked to its tool use: %s", result.DecisionsMade[0].ToolUseID)
	}
}

func TestRunRejectsConcurrentUse(t *testing.T) {
	transport := &scriptedTransport{responses: []*llmwire.ModelResponse{textResponse("ok")}}
	session := NewSession(transport, echoRegistry(t), "", nil)

	if err := session.begin(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := session.Run(context.Background(), "hi", nil); err == nil {
		t.Error("expected rejection while already processing")
	}
	session.finish(nil)

	if _, err := session.Run(context.Background(), "hi", nil); err != nil {
		t.Errorf("session must be reusable after finishing: %v", err)
	}
}
