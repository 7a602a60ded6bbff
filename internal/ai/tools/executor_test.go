package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rcourtman/bashmate/internal/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	calls  []string
	output string
	err    error
}

func (s *stubRunner) Run(_ context.Context, command string) (string, error) {
	s.calls = append(s.calls, command)
	return s.output, s.err
}

func TestCommandExecutor_ListTools(t *testing.T) {
	exec := NewCommandExecutor(ExecutorConfig{Runner: &stubRunner{}})
	tools := exec.ListTools()
	require.Len(t, tools, 1)

	tool := tools[0]
	assert.Equal(t, "run_command", tool.Name)
	assert.Contains(t, tool.Description, `"cd test_folder && pwd"`)
	assert.Contains(t, tool.Description, `"ls -l"`)
	assert.Contains(t, tool.Description, `"docker ps"`)
	assert.Equal(t, []string{"command"}, tool.InputSchema.Required)
	assert.Equal(t, "string", tool.InputSchema.Properties["command"].Type)
}

func TestCommandExecutor_ListTools_NoRunner(t *testing.T) {
	exec := NewCommandExecutor(ExecutorConfig{})
	assert.Empty(t, exec.ListTools())

	result, err := exec.ExecuteTool(context.Background(), RunCommandTool, map[string]interface{}{"command": "ls"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCommandExecutor_RunCommand(t *testing.T) {
	runner := &stubRunner{output: "\ntotal 0"}
	exec := NewCommandExecutor(ExecutorConfig{Runner: runner, SessionID: "s1"})

	result, err := exec.ExecuteTool(context.Background(), RunCommandTool, map[string]interface{}{"command": "ls -l"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "\ntotal 0", result.Text())
	assert.Equal(t, []string{"ls -l"}, runner.calls)
}

func TestCommandExecutor_RunCommand_InvalidArgs(t *testing.T) {
	runner := &stubRunner{}
	exec := NewCommandExecutor(ExecutorConfig{Runner: runner})

	cases := []map[string]interface{}{
		{},
		{"command": 42},
		{"command": "   "},
	}
	for _, args := range cases {
		result, err := exec.ExecuteTool(context.Background(), RunCommandTool, args)
		require.NoError(t, err)
		assert.True(t, result.IsError, "%v", args)
	}
	assert.Empty(t, runner.calls)
}

func TestCommandExecutor_RunCommand_Timeout(t *testing.T) {
	runner := &stubRunner{err: &shell.TimeoutError{Command: "sleep 5", Limit: 3 * time.Second}}
	exec := NewCommandExecutor(ExecutorConfig{Runner: runner})

	result, err := exec.ExecuteTool(context.Background(), RunCommandTool, map[string]interface{}{"command": "sleep 5"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "command timed out after 3s", result.Text())
}

func TestCommandExecutor_RunCommand_Cancelled(t *testing.T) {
	runner := &stubRunner{err: context.Canceled}
	exec := NewCommandExecutor(ExecutorConfig{Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.ExecuteTool(ctx, RunCommandTool, map[string]interface{}{"command": "ls"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommandExecutor_RunCommand_Failure(t *testing.T) {
	runner := &stubRunner{err: errors.New("start /bin/sh: no such file")}
	exec := NewCommandExecutor(ExecutorConfig{Runner: runner})

	result, err := exec.ExecuteTool(context.Background(), RunCommandTool, map[string]interface{}{"command": "ls"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "no such file")
}

func TestCommandExecutor_WithRealRunnerBlocks(t *testing.T) {
	exec := NewCommandExecutor(ExecutorConfig{Runner: shell.NewRunner()})

	result, err := exec.ExecuteTool(context.Background(), RunCommandTool, map[string]interface{}{"command": "echo hello"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "you are not allowed to run `echo hello`", result.Text())
}

func TestCommandExecutor_UnknownTool(t *testing.T) {
	exec := NewCommandExecutor(ExecutorConfig{Runner: &stubRunner{}})

	result, err := exec.ExecuteTool(context.Background(), "rm_everything", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "unknown tool: rm_everything", result.Text())
}

func TestToolRegistry_ListTools(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(RegisteredTool{Definition: Tool{Name: "first"}})
	registry.Register(RegisteredTool{Definition: Tool{Name: "second"}})
	registry.Register(RegisteredTool{Definition: Tool{Name: "first", Description: "replaced"}})

	tools := registry.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "first", tools[0].Name)
	assert.Equal(t, "replaced", tools[0].Description)
	assert.Equal(t, "second", tools[1].Name)
}

func TestToolRegistry_NoHandler(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(RegisteredTool{Definition: Tool{Name: "empty"}})

	result, err := registry.Execute(context.Background(), nil, "empty", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestInputSchema_JSONSchema(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"command": {Type: "string", Description: "cmd"},
			"note":    {Type: "string"},
		},
		Required: []string{"command"},
	}

	out := schema.JSONSchema()
	assert.Equal(t, "object", out["type"])
	assert.Equal(t, []string{"command"}, out["required"])

	props := out["properties"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string", "description": "cmd"}, props["command"])
	assert.Equal(t, map[string]interface{}{"type": "string"}, props["note"])
}

func TestResultHelpers(t *testing.T) {
	r := NewTextResult("up 3 days")
	assert.Equal(t, "up 3 days", r.Text())
	assert.False(t, r.IsError)

	r = NewErrorResult(errors.New("command timed out after 3s"))
	assert.Equal(t, "command timed out after 3s", r.Text())
	assert.True(t, r.IsError)

	r = CallToolResult{Content: []Content{NewTextContent("a"), {Type: "image"}, NewTextContent("b")}}
	assert.Equal(t, "a\nb", r.Text())
}
