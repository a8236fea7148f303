package llmwire

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a turn in a conversation. Tool results ride
// in user-role turns per the provider messages contract, so there is no
// separate wire role for them.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind is the discriminator tag for ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ToolUseData represents a model-initiated tool invocation. ID is opaque,
// provider-assigned, and unique within one response.
type ToolUseData struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ResultContentType discriminates ResultContent entries.
type ResultContentType string

const (
	ResultText ResultContentType = "text"
	ResultJSON ResultContentType = "json"
)

// ResultContent is one entry in a tool result's content sequence.
type ResultContent struct {
	Type ResultContentType `json:"type"`
	Text string            `json:"text,omitempty"`
	JSON json.RawMessage   `json:"json,omitempty"`
}

// ToolResultData holds the outcome of executing a tool-use block.
// ToolUseID must match exactly one earlier, not-yet-answered tool-use block.
type ToolResultData struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   []ResultContent `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ContentBlock is a closed tagged union representing one block of a turn.
type ContentBlock struct {
	Kind       BlockKind       `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolUse    *ToolUseData    `json:"tool_use,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
}

// TextBlock creates a text ContentBlock.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolUseBlock creates a tool-use ContentBlock.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{
		Kind:    BlockToolUse,
		ToolUse: &ToolUseData{ID: id, Name: name, Input: input},
	}
}

// ToolResultBlock creates a tool-result ContentBlock.
func ToolResultBlock(toolUseID string, content []ResultContent, isError bool) ContentBlock {
	return ContentBlock{
		Kind:       BlockToolResult,
		ToolResult: &ToolResultData{ToolUseID: toolUseID, Content: content, IsError: isError},
	}
}

// TextResult creates a single-text ResultContent sequence.
func TextResult(text string) []ResultContent {
	return []ResultContent{{Type: ResultText, Text: text}}
}

// JSONResult creates a single-JSON ResultContent sequence.
func JSONResult(raw json.RawMessage) []ResultContent {
	return []ResultContent{{Type: ResultJSON, JSON: raw}}
}

// Turn is one entry in the transcript. Transcript order is append-only;
// a Turn is never mutated after being appended.
type Turn struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserTurn creates a user Turn with text content.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantTurn creates an assistant Turn from accumulated blocks.
func AssistantTurn(blocks []ContentBlock) Turn {
	return Turn{Role: RoleAssistant, Content: blocks}
}

// ToolResultsTurn creates the user-role turn that carries one batch of tool
// results. The provider contract requires one combined turn per batch.
func ToolResultsTurn(results []ContentBlock) Turn {
	return Turn{Role: RoleUser, Content: results}
}

// TextContent returns the concatenation of all text blocks in the turn.
func (t Turn) TextContent() string {
	var sb strings.Builder
	for _, b := range t.Content {
		if b.Kind == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses extracts all tool-use data from the turn, in block order.
func (t Turn) ToolUses() []ToolUseData {
	var uses []ToolUseData
	for _, b := range t.Content {
		if b.Kind == BlockToolUse && b.ToolUse != nil {
			uses = append(uses, *b.ToolUse)
		}
	}
	return uses
}

// StopReason describes why a model turn ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// ModelResponse is the normalized output of a non-streaming completion.
type ModelResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
}

// Text returns the concatenated text content of the response.
func (r ModelResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Kind == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses extracts all tool-use blocks from the response, in order.
func (r ModelResponse) ToolUses() []ToolUseData {
	var uses []ToolUseData
	for _, b := range r.Content {
		if b.Kind == BlockToolUse && b.ToolUse != nil {
			uses = append(uses, *b.ToolUse)
		}
	}
	return uses
}

// ToolDefinition describes a tool to the model. Immutable, loaded once at
// startup. InputSchema is a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// SendRequest carries everything a transport needs for one completion.
// The transport is stateless between calls; the caller supplies the full
// transcript every time.
type SendRequest struct {
	Turns       []Turn           `json:"turns"`
	System      string           `json:"system,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Model       string           `json:"model,omitempty"`
}

// EventType identifies the kind of a streaming ModelEvent.
type EventType string

const (
	EventBlockStart  EventType = "block_start"
	EventBlockDelta  EventType = "block_delta"
	EventBlockStop   EventType = "block_stop"
	EventMessageStop EventType = "message_stop"
	EventStreamError EventType = "stream_error"
)

// ModelEvent is one event from a streaming completion. The sequence is
// finite and not restartable.
//
// block_start carries the partial block header (kind, and for tool_use the
// id and name). block_delta carries either a text fragment or an
// input-JSON fragment for a tool-use block. message_stop carries the stop
// reason. stream_error carries the transport failure that ended the stream.
type ModelEvent struct {
	Type       EventType    `json:"type"`
	Index      int          `json:"index"`
	Block      ContentBlock `json:"block,omitempty"`
	TextDelta  string       `json:"text_delta,omitempty"`
	InputDelta string       `json:"input_delta,omitempty"`
	StopReason StopReason   `json:"stop_reason,omitempty"`
	Err        error        `json:"-"`
}
