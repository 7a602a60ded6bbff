package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTranscript(t *testing.T) {
	rule := strings.Repeat("-", 100) + "\n"

	messages := []Message{
		{Role: RoleUser, Content: "what is in this folder?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "run_command", Input: map[string]interface{}{"command": "ls -l"}}}},
		{Role: RoleTool, Content: "\ntotal 0", ToolResult: &ToolResult{ToolUseID: "1", Content: "\ntotal 0"}},
		{Role: RoleAssistant, Content: "The folder is empty."},
	}

	want := "Command: `ls -l`\n\n" + rule +
		"Output:\n```\n\ntotal 0\n```\n\n" + rule +
		"The folder is empty.\n\n"
	assert.Equal(t, want, FormatTranscript(messages))
}

func TestFormatTranscript_ProseWithToolCalls(t *testing.T) {
	rule := strings.Repeat("-", 100) + "\n"

	messages := []Message{
		{Role: RoleAssistant, Content: "Checking both.", ToolCalls: []ToolCall{
			{ID: "a", Name: "run_command", Input: map[string]interface{}{"command": "uptime"}},
			{ID: "b", Name: "run_command", Input: map[string]interface{}{"command": "free -m"}},
		}},
		{Role: RoleTool, Content: "one"},
		{Role: RoleTool, Content: "two"},
	}

	want := "Checking both.\n\n" +
		"Command: `uptime`\n\n" + rule +
		"Command: `free -m`\n\n" + rule +
		"Output:\n```\none\n```\n\n" + rule +
		"Output:\n```\ntwo\n```\n\n" + rule
	assert.Equal(t, want, FormatTranscript(messages))
}

func TestFormatTranscript_Empty(t *testing.T) {
	assert.Empty(t, FormatTranscript(nil))
	assert.Empty(t, FormatTranscript([]Message{{Role: RoleUser, Content: "hi"}}))
}

func TestToolCallCommand(t *testing.T) {
	assert.Equal(t, "pwd", ToolCall{Input: map[string]interface{}{"command": "pwd"}}.Command())
	assert.Equal(t, `{"path":"/tmp"}`, ToolCall{Input: map[string]interface{}{"path": "/tmp"}}.Command())
	assert.Empty(t, ToolCall{}.Command())
}
