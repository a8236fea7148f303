package llmwire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StreamAssembler reconstructs complete content blocks from a sequence of
// block-indexed stream events. Text deltas are concatenated as they arrive.
// A tool-use block's input JSON is accumulated as raw bytes and parsed
// exactly once, when that block's stop event arrives; a partial accumulation
// is never surfaced as final input.
//
// An assembler handles one stream. It is not safe for concurrent use.
type StreamAssembler struct {
	blocks     map[int]*pendingBlock
	order      []int
	stopReason StopReason
	stopped    bool
}

type pendingBlock struct {
	kind      BlockKind
	text      strings.Builder
	toolID    string
	toolName  string
	inputBuf  bytes.Buffer
	closed    bool
	final     *ContentBlock
	malformed error
}

// NewStreamAssembler creates an empty StreamAssembler.
func NewStreamAssembler() *StreamAssembler {
	return &StreamAssembler{blocks: make(map[int]*pendingBlock)}
}

// Process ingests one stream event. It returns the completed block when the
// event closes a block (block_stop), or nil otherwise. For a tool-use block
// whose accumulated input fails to parse, the returned block carries the
// raw accumulation and Malformed reports the parse failure.
func (a *StreamAssembler) Process(event ModelEvent) *ContentBlock {
	switch event.Type {
	case EventBlockStart:
		pb := &pendingBlock{kind: event.Block.Kind}
		if event.Block.Kind == BlockToolUse && event.Block.ToolUse != nil {
			pb.toolID = event.Block.ToolUse.ID
			pb.toolName = event.Block.ToolUse.Name
		}
		if _, seen := a.blocks[event.Index]; !seen {
			a.order = append(a.order, event.Index)
		}
		a.blocks[event.Index] = pb

	case EventBlockDelta:
		pb := a.blocks[event.Index]
		if pb == nil {
			// Delta for an unannounced block; tolerate by synthesizing a
			// text block so no content is lost.
			pb = &pendingBlock{kind: BlockText}
			a.blocks[event.Index] = pb
			a.order = append(a.order, event.Index)
		}
		if event.TextDelta != "" {
			pb.text.WriteString(event.TextDelta)
		}
		if event.InputDelta != "" {
			pb.inputBuf.WriteString(event.InputDelta)
		}

	case EventBlockStop:
		pb := a.blocks[event.Index]
		if pb == nil {
			return nil
		}
		pb.closed = true
		block := a.finalize(pb)
		pb.final = &block
		return pb.final

	case EventMessageStop:
		a.stopReason = event.StopReason
		a.stopped = true
	}
	return nil
}

// finalize converts a pending block into its completed form, parsing
// tool-use input exactly once.
func (a *StreamAssembler) finalize(pb *pendingBlock) ContentBlock {
	switch pb.kind {
	case BlockToolUse:
		raw := pb.inputBuf.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			// Tools with no arguments stream no input deltas.
			return ToolUseBlock(pb.toolID, pb.toolName, json.RawMessage(`{}`))
		}
		if !json.Valid(raw) {
			pb.malformed = fmt.Errorf("%w: tool %q input %q is not valid JSON",
				ErrMalformedToolInput, pb.toolName, truncateForError(raw))
			// Keep the raw accumulation so the caller can report it.
			return ToolUseBlock(pb.toolID, pb.toolName, json.RawMessage(raw))
		}
		input := make(json.RawMessage, len(raw))
		copy(input, raw)
		return ToolUseBlock(pb.toolID, pb.toolName, input)
	default:
		return TextBlock(pb.text.String())
	}
}

// Malformed returns the input parse failure for the block at index, or nil.
// Only meaningful after that block's stop event has been processed.
func (a *StreamAssembler) Malformed(index int) error {
	if pb := a.blocks[index]; pb != nil {
		return pb.malformed
	}
	return nil
}

// StopReason returns the stop reason reported by message_stop. If the
// stream ended without an explicit message_stop, completion is implicit and
// the stop reason reflects whether tool-use blocks were assembled.
func (a *StreamAssembler) StopReason() StopReason {
	if a.stopped && a.stopReason != "" {
		return a.stopReason
	}
	for _, pb := range a.blocks {
		if pb.kind == BlockToolUse {
			return StopToolUse
		}
	}
	return StopEndTurn
}

// TruncatedToolUses returns tool-use blocks whose stop event never
// arrived, in stream-index order. Their accumulated input may be
// incomplete even when it happens to parse, so callers must not dispatch
// them as if they were finished.
func (a *StreamAssembler) TruncatedToolUses() []ToolUseData {
	indexes := make([]int, len(a.order))
	copy(indexes, a.order)
	sort.Ints(indexes)

	var out []ToolUseData
	for _, idx := range indexes {
		pb := a.blocks[idx]
		if pb.kind != BlockToolUse || pb.closed {
			continue
		}
		if pb.final == nil {
			block := a.finalize(pb)
			pb.final = &block
		}
		if pb.final.ToolUse != nil {
			out = append(out, *pb.final.ToolUse)
		}
	}
	return out
}

// Blocks returns all completed blocks in stream-index order. Blocks whose
// stop event never arrived are finalized with whatever was accumulated, so
// partially delivered text survives a mid-stream failure.
func (a *StreamAssembler) Blocks() []ContentBlock {
	indexes := make([]int, len(a.order))
	copy(indexes, a.order)
	sort.Ints(indexes)

	var out []ContentBlock
	for _, idx := range indexes {
		pb := a.blocks[idx]
		if pb.final == nil {
			block := a.finalize(pb)
			pb.final = &block
		}
		// Drop empty text blocks from truncated streams.
		if pb.final.Kind == BlockText && pb.final.Text == "" {
			continue
		}
		out = append(out, *pb.final)
	}
	return out
}

// Response builds the normalized ModelResponse from everything assembled.
func (a *StreamAssembler) Response() *ModelResponse {
	return &ModelResponse{
		Content:    a.Blocks(),
		StopReason: a.StopReason(),
	}
}

func truncateForError(raw []byte) string {
	const max = 120
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
