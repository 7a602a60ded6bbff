package chat

import (
	"context"
	"sync"

	"github.com/rcourtman/bashmate/internal/ai/providers"
	"github.com/rcourtman/bashmate/internal/shell"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
	errs      map[int]error
	requests  []providers.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]providers.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if err := p.errs[i]; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i >= len(p.responses) {
		return &providers.ChatResponse{Content: "done", Model: "test-model"}, nil
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) TestConnection(context.Context) error { return nil }

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Requests() []providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]providers.ChatRequest(nil), p.requests...)
}

func toolCallResponse(id, command string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Model:      "test-model",
		StopReason: "tool_calls",
		ToolCalls: []providers.ToolCall{{
			ID:    id,
			Name:  "run_command",
			Input: map[string]interface{}{"command": command},
		}},
	}
}

func textResponse(text string) *providers.ChatResponse {
	return &providers.ChatResponse{Model: "test-model", Content: text, StopReason: "stop"}
}

// spyExecutor records commands that reach the shell.
type spyExecutor struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string]shell.Output
	block    bool
}

func (e *spyExecutor) Execute(ctx context.Context, command string) (shell.Output, error) {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	out := e.outputs[command]
	block := e.block
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return shell.Output{ExitCode: -1}, ctx.Err()
	}
	return out, nil
}

func (e *spyExecutor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}
