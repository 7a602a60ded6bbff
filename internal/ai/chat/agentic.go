package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcourtman/bashmate/internal/ai/providers"
	"github.com/rcourtman/bashmate/internal/ai/tools"
	"github.com/rcourtman/bashmate/internal/logging"
)

// DefaultMaxTurns bounds provider calls per user message.
const DefaultMaxTurns = 10

// ErrMaxTurns is returned when the model keeps calling tools past the turn
// limit. The messages produced so far are returned alongside it.
var ErrMaxTurns = errors.New("agent exceeded maximum turns")

// ToolExecutor runs the tools offered to the model.
type ToolExecutor interface {
	ListTools() []tools.Tool
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (tools.CallToolResult, error)
}

// AgenticLoop handles the tool-calling loop
type AgenticLoop struct {
	provider     providers.Provider
	executor     ToolExecutor
	tools        []providers.Tool
	systemPrompt string
	model        string
	maxTurns     int
	maxTokens    int
	metrics      *AIMetrics
}

// NewAgenticLoop creates a new agentic loop
func NewAgenticLoop(provider providers.Provider, executor ToolExecutor, systemPrompt string) *AgenticLoop {
	return &AgenticLoop{
		provider:     provider,
		executor:     executor,
		tools:        ConvertToolsToProvider(executor.ListTools()),
		systemPrompt: systemPrompt,
		maxTurns:     DefaultMaxTurns,
	}
}

// SetMaxTurns overrides the provider call limit. Values below 1 are ignored.
func (a *AgenticLoop) SetMaxTurns(n int) {
	if n > 0 {
		a.maxTurns = n
	}
}

// SetMaxTokens caps each completion. Zero leaves the provider default.
func (a *AgenticLoop) SetMaxTokens(n int) {
	a.maxTokens = n
}

// SetModel sets the model sent with each request. Empty uses the provider's.
func (a *AgenticLoop) SetModel(model string) {
	a.model = model
}

// SetMetrics enables loop instrumentation.
func (a *AgenticLoop) SetMetrics(m *AIMetrics) {
	a.metrics = m
}

// Tools returns the tool definitions sent to the provider.
func (a *AgenticLoop) Tools() []providers.Tool {
	return a.tools
}

// Execute runs the loop over messages and returns the messages it produced:
// assistant replies and tool results, in order. Tool calls run one at a time.
func (a *AgenticLoop) Execute(ctx context.Context, sessionID string, messages []Message, callback StreamCallback) ([]Message, error) {
	providerMessages := convertToProviderMessages(messages)
	// turnRunner attaches the session to the context logger.
	logger := logging.FromContext(ctx)

	var resultMessages []Message
	for turn := 0; turn < a.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return resultMessages, err
		}

		logger.Debug().
			Int("turn", turn).
			Int("messages", len(providerMessages)).
			Int("tools", len(a.tools)).
			Msg("[AgenticLoop] Starting turn")

		resp, err := a.provider.Chat(ctx, providers.ChatRequest{
			Messages:  providerMessages,
			Model:     a.model,
			MaxTokens: a.maxTokens,
			System:    a.systemPrompt,
			Tools:     a.tools,
		})
		if err != nil {
			if a.metrics != nil && ctx.Err() == nil {
				a.metrics.RecordProviderError(a.provider.Name())
			}
			logger.Error().Err(err).Msg("[AgenticLoop] Provider error")
			return resultMessages, fmt.Errorf("provider error: %w", err)
		}
		if a.metrics != nil {
			a.metrics.RecordAgenticIteration(a.provider.Name(), resp.Model)
		}

		assistantMsg := newMessage(RoleAssistant, resp.Content)
		providerAssistant := providers.Message{Role: RoleAssistant, Content: resp.Content}
		for _, tc := range resp.ToolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input})
			providerAssistant.ToolCalls = append(providerAssistant.ToolCalls, tc)
		}
		resultMessages = append(resultMessages, assistantMsg)
		providerMessages = append(providerMessages, providerAssistant)

		if resp.Content != "" {
			emit(callback, "content", ContentData{Text: resp.Content})
		}

		// If no tool calls, we're done
		if len(resp.ToolCalls) == 0 {
			logger.Debug().Int("turns", turn+1).Msg("Agentic loop complete")
			return resultMessages, nil
		}

		for _, tc := range assistantMsg.ToolCalls {
			emit(callback, "tool_start", ToolStartData{ID: tc.ID, Name: tc.Name, Command: tc.Command()})

			result, err := a.executor.ExecuteTool(ctx, tc.Name, tc.Input)
			var resultText string
			var isError bool
			if err != nil {
				if ctx.Err() != nil {
					return resultMessages, ctx.Err()
				}
				resultText = fmt.Sprintf("Error: %v", err)
				isError = true
			} else {
				resultText = result.Text()
				isError = result.IsError
			}

			emit(callback, "tool_end", ToolEndData{
				ID:      tc.ID,
				Name:    tc.Name,
				Command: tc.Command(),
				Output:  resultText,
				Success: !isError,
			})

			toolMsg := newMessage(RoleTool, resultText)
			toolMsg.ToolResult = &ToolResult{ToolUseID: tc.ID, Content: resultText, IsError: isError}
			resultMessages = append(resultMessages, toolMsg)

			providerMessages = append(providerMessages, providers.Message{
				Role: RoleTool,
				ToolResult: &providers.ToolResult{
					ToolUseID: tc.ID,
					Content:   resultText,
					IsError:   isError,
				},
			})
		}
	}

	logger.Warn().Int("max_turns", a.maxTurns).Msg("Agentic loop hit max turns limit")
	return resultMessages, fmt.Errorf("%w (%d)", ErrMaxTurns, a.maxTurns)
}

// ConvertToolsToProvider maps tool descriptors to the provider shape.
func ConvertToolsToProvider(defs []tools.Tool) []providers.Tool {
	out := make([]providers.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, providers.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema.JSONSchema(),
		})
	}
	return out
}

// convertToProviderMessages converts our messages to provider format
func convertToProviderMessages(messages []Message) []providers.Message {
	result := make([]providers.Message, 0, len(messages))
	for _, m := range messages {
		pm := providers.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			pm.ToolCalls = append(pm.ToolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input})
		}
		if m.ToolResult != nil {
			pm.Content = ""
			pm.ToolResult = &providers.ToolResult{
				ToolUseID: m.ToolResult.ToolUseID,
				Content:   m.ToolResult.Content,
				IsError:   m.ToolResult.IsError,
			}
		}
		result = append(result, pm)
	}
	return result
}
