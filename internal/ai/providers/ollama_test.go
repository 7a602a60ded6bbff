package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_Chat_Tools(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"model": "llama3.1",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "run_command", "arguments": {"command": "free -m"}}}]
			},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 40,
			"eval_count": 12
		}`))
	}))
	defer server.Close()

	client := NewOllamaClient("llama3.1", server.URL+"/")
	resp, err := client.Chat(context.Background(), ChatRequest{
		System: "rules",
		Messages: []Message{
			{Role: "user", Content: "memory?"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "x", Name: "run_command", Input: map[string]interface{}{"command": "ls"}}}},
			{Role: "tool", ToolResult: &ToolResult{ToolUseID: "x", Content: "\nout"}},
		},
		Tools:     []Tool{{Name: "run_command", InputSchema: runCommandSchema}},
		MaxTokens: 256,
	})
	require.NoError(t, err)

	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "ls", got.Messages[2].ToolCalls[0].Function.Arguments["command"])
	assert.Equal(t, "tool", got.Messages[3].Role)
	assert.Equal(t, "\nout", got.Messages[3].Content)
	require.Len(t, got.Tools, 1)
	require.NotNil(t, got.Options)
	assert.Equal(t, 256, got.Options.NumPredict)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "ollama_call_0", resp.ToolCalls[0].ID)
	assert.Equal(t, "free -m", resp.ToolCalls[0].Input["command"])
	assert.Equal(t, 40, resp.InputTokens)
}

func TestOllamaClient_TestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
	}))
	defer server.Close()

	require.NoError(t, NewOllamaClient("m", server.URL).TestConnection(context.Background()))
}

func TestOllamaClient_Defaults(t *testing.T) {
	c := NewOllamaClient("m", "")
	assert.Equal(t, defaultOllamaURL, c.baseURL)
	assert.Equal(t, "ollama", c.Name())
}
