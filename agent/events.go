package agent

import (
	"context"
	"encoding/json"

	"github.com/Vikash221010/context-graph-demo/llmwire"
)

// EventType identifies the kind of a caller-facing progress event. These
// six kinds are the complete set; no other kind ever appears.
type EventType string

const (
	// EventContext is emitted exactly once, before the first model call.
	// It carries the tool manifest and model identity for observability.
	EventContext EventType = "context"
	// EventText carries one incremental text fragment. Concatenating all
	// text events in order reconstructs the full assistant output.
	EventText EventType = "text"
	// EventToolUse announces a tool invocation once its input is fully
	// assembled.
	EventToolUse EventType = "tool_use"
	// EventToolResult carries the output of one completed dispatch.
	EventToolResult EventType = "tool_result"
	// EventError reports a terminal transport failure. Any text streamed
	// before the failure has already been delivered.
	EventError EventType = "error"
	// EventDone is terminal: exactly once, always the last event.
	EventDone EventType = "done"
)

// ContextInfo is the payload of the context event.
type ContextInfo struct {
	SystemPrompt   string   `json:"system_prompt"`
	Model          string   `json:"model"`
	Provider       string   `json:"provider"`
	AvailableTools []string `json:"available_tools"`
}

// ToolCallRecord is one tool invocation as reported to the caller.
type ToolCallRecord struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// DecisionRecord links a recorded decision back to the tool call that
// created it.
type DecisionRecord struct {
	DecisionID string `json:"decision_id"`
	ToolUseID  string `json:"tool_use_id"`
}

// DoneInfo is the payload of the done event.
type DoneInfo struct {
	Response      string           `json:"response"`
	ToolCalls     []ToolCallRecord `json:"tool_calls"`
	DecisionsMade []DecisionRecord `json:"decisions_made"`
	Failed        bool             `json:"failed,omitempty"`
}

// Event is one entry in the caller-facing progress stream. The populated
// fields depend on Type.
type Event struct {
	Type EventType `json:"type"`

	Context *ContextInfo `json:"context,omitempty"`

	Text string `json:"text,omitempty"`

	ToolName    string                  `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage         `json:"tool_input,omitempty"`
	ToolOutput  []llmwire.ResultContent `json:"tool_output,omitempty"`
	ToolIsError bool                    `json:"tool_is_error,omitempty"`

	Error string `json:"error,omitempty"`

	Done *DoneInfo `json:"done,omitempty"`
}

// projector delivers loop progress to the caller. Delivery is blocking and
// consumer-paced; a cancelled context unblocks any pending send so the loop
// can observe cancellation at the next suspension point.
type projector struct {
	ch chan Event
}

func newProjector(buffer int) *projector {
	if buffer <= 0 {
		buffer = 64
	}
	return &projector{ch: make(chan Event, buffer)}
}

// emit delivers one event. It reports false when ctx is cancelled before
// the event can be accepted.
func (p *projector) emit(ctx context.Context, ev Event) bool {
	select {
	case p.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitFinal delivers the terminal event without blocking, using whatever
// buffer capacity remains. Used after the context is cancelled, when a
// blocking emit can no longer be paced by the consumer.
func (p *projector) emitFinal(ev Event) {
	select {
	case p.ch <- ev:
	default:
	}
}

func (p *projector) close() {
	close(p.ch)
}

func (p *projector) events() <-chan Event {
	return p.ch
}
