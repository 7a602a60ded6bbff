// Package chat runs the bash assistant: the agentic tool loop, chat sessions
// and the markdown transcripts shown to the user.
package chat

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message
type Message struct {
	ID         string      `json:"id"`
	Role       string      `json:"role"` // "user", "assistant", "tool"
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ToolCall represents a tool invocation
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Command returns the command argument of a run_command call, or the raw
// JSON input for anything else.
func (tc ToolCall) Command() string {
	if cmd, ok := tc.Input["command"].(string); ok {
		return cmd
	}
	if tc.Input == nil {
		return ""
	}
	b, err := json.Marshal(tc.Input)
	if err != nil {
		return ""
	}
	return string(b)
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func newMessage(role, content string) Message {
	return Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// StreamEvent reports progress inside a turn
type StreamEvent struct {
	Type string          `json:"type"` // "content", "tool_start", "tool_end"
	Data json.RawMessage `json:"data,omitempty"`
}

// StreamCallback is called for each progress event. It may be nil.
type StreamCallback func(event StreamEvent)

// ContentData is the data for "content" events
type ContentData struct {
	Text string `json:"text"`
}

// ToolStartData is the data for "tool_start" events
type ToolStartData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"`
}

// ToolEndData is the data for "tool_end" events
type ToolEndData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

func emit(callback StreamCallback, eventType string, data interface{}) {
	if callback == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	callback(StreamEvent{Type: eventType, Data: raw})
}
