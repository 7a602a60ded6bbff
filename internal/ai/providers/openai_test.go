package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runCommandSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"command": map[string]interface{}{"type": "string"},
	},
	"required": []string{"command"},
}

func TestOpenAIClient_Chat_ToolRoundTrip(t *testing.T) {
	var got openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-3.5-turbo-1106",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "run_command", "arguments": "{\"command\":\"uptime\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "gpt-3.5-turbo-1106", server.URL+"/v1")
	resp, err := client.Chat(context.Background(), ChatRequest{
		System: "be careful",
		Messages: []Message{
			{Role: "user", Content: "how long has the box been up?"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_0", Name: "run_command", Input: map[string]interface{}{"command": "ls"}}}},
			{Role: "tool", ToolResult: &ToolResult{ToolUseID: "call_0", Content: "\nfile"}},
		},
		Tools: []Tool{{Name: "run_command", Description: "Execute a command", InputSchema: runCommandSchema}},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-3.5-turbo-1106", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be careful", *got.Messages[0].Content)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Nil(t, got.Messages[2].Content)
	require.Len(t, got.Messages[2].ToolCalls, 1)
	assert.Equal(t, `{"command":"ls"}`, got.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", got.Messages[3].Role)
	assert.Equal(t, "call_0", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "run_command", got.Tools[0].Function.Name)

	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Empty(t, resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "uptime", resp.ToolCalls[0].Input["command"])
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
}

func TestOpenAIClient_Chat_TextAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"All good."},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "m", server.URL+"/v1/chat/completions")
	resp, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "All good.", resp.Content)
	assert.Empty(t, resp.ToolCalls)
}

func TestOpenAIClient_Chat_BadToolArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"c","type":"function","function":{"name":"run_command","arguments":"{oops"}}]}}]}`))
	}))
	defer server.Close()

	resp, err := NewOpenAIClient("k", "m", server.URL).Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Empty(t, resp.ToolCalls[0].Input)
}

func TestOpenAIClient_Chat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := NewOpenAIClient("bad", "m", server.URL).Chat(context.Background(), ChatRequest{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Incorrect API key provided", apiErr.Message)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, "openai API error (401): Incorrect API key provided", err.Error())
}

func TestOpenAIClient_Chat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := NewOpenAIClient("k", "m", server.URL).Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
}

func TestOpenAIEndpoint(t *testing.T) {
	assert.Equal(t, openaiAPIURL, openaiEndpoint(""))
	assert.Equal(t, "http://h/v1/chat/completions", openaiEndpoint("http://h/v1/"))
	assert.Equal(t, "http://h/v1/chat/completions", openaiEndpoint("http://h/v1/chat/completions"))
}
