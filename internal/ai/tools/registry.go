package tools

import (
	"context"
	"fmt"
	"sync"
)

// ToolHandler runs one call of a registered tool.
type ToolHandler func(ctx context.Context, exec *CommandExecutor, args map[string]interface{}) (CallToolResult, error)

// RegisteredTool pairs a tool definition with its handler.
type RegisteredTool struct {
	Definition Tool
	Handler    ToolHandler
}

// ToolRegistry keeps tools in registration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools []RegisteredTool
	index map[string]int
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{index: make(map[string]int)}
}

// Register adds tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[tool.Definition.Name]; ok {
		r.tools[i] = tool
		return
	}
	r.index[tool.Definition.Name] = len(r.tools)
	r.tools = append(r.tools, tool)
}

// ListTools returns the tool definitions in registration order.
func (r *ToolRegistry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	return out
}

// Execute runs the named tool. Unknown tools produce an error result rather
// than an error so the model can recover.
func (r *ToolRegistry) Execute(ctx context.Context, exec *CommandExecutor, name string, args map[string]interface{}) (CallToolResult, error) {
	r.mu.RLock()
	i, ok := r.index[name]
	var tool RegisteredTool
	if ok {
		tool = r.tools[i]
	}
	r.mu.RUnlock()

	if !ok {
		return NewErrorResult(fmt.Errorf("unknown tool: %s", name)), nil
	}
	if tool.Handler == nil {
		return NewErrorResult(fmt.Errorf("tool %s has no handler", name)), nil
	}
	return tool.Handler(ctx, exec, args)
}
