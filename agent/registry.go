package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Vikash221010/context-graph-demo/llmwire"
)

// ToolResult is the outcome of one tool dispatch, before it is paired with
// its tool-use id.
type ToolResult struct {
	Content []llmwire.ResultContent `json:"content"`
	IsError bool                    `json:"is_error"`
}

// ErrorResult creates an error-tagged ToolResult with explanatory text.
func ErrorResult(format string, args ...interface{}) ToolResult {
	return ToolResult{
		Content: llmwire.TextResult(fmt.Sprintf(format, args...)),
		IsError: true,
	}
}

// TextToolResult creates a successful text ToolResult.
func TextToolResult(text string) ToolResult {
	return ToolResult{Content: llmwire.TextResult(text)}
}

// Handler executes one tool invocation. Handlers are asynchronous in the
// sense that they may perform I/O under ctx; the registry imposes no
// timeout of its own.
type Handler func(ctx context.Context, input json.RawMessage) (ToolResult, error)

// RegisteredTool pairs a tool definition with its handler.
type RegisteredTool struct {
	Definition llmwire.ToolDefinition
	Handler    Handler
}

// ToolRegistry maps tool names to their definitions and handlers. It is
// safe for concurrent use; registration normally happens once at startup.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	order []string
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(def llmwire.ToolDefinition, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &RegisteredTool{Definition: def, Handler: handler}
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions in registration order, for
// advertising to the model.
func (r *ToolRegistry) Definitions() []llmwire.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llmwire.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns the names of all registered tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Dispatch routes one tool invocation to its handler. It fails closed: an
// unknown name, a handler error, or a handler panic all produce an
// error-tagged ToolResult rather than a fault escaping the loop.
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, input json.RawMessage) (result ToolResult) {
	tool := r.Get(name)
	if tool == nil {
		return ErrorResult("Tool %s not found", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = ErrorResult("Error executing %s: panic: %v", name, rec)
		}
	}()

	res, err := tool.Handler(ctx, input)
	if err != nil {
		return ErrorResult("Error executing %s: %v", name, err)
	}
	return res
}

// ParseArguments unmarshals tool input into a map for validation and access.
func ParseArguments(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// StringArg extracts a string argument from parsed tool arguments.
func StringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg extracts an integer argument from parsed tool arguments.
func IntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// FloatArg extracts a float argument from parsed tool arguments.
func FloatArg(args map[string]interface{}, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// StringSliceArg extracts a string-array argument from parsed tool arguments.
func StringSliceArg(args map[string]interface{}, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
