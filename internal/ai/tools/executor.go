package tools

import (
	"context"

	"github.com/rs/zerolog/log"
)

// CommandRunner runs a shell command on behalf of the model. Blocked commands
// are reported in the returned text, not as an error.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// ExecutorConfig holds the dependencies for a CommandExecutor.
type ExecutorConfig struct {
	Runner CommandRunner
	// SessionID tags log lines with the owning chat session.
	SessionID string
}

// CommandExecutor exposes the tools available to the model.
type CommandExecutor struct {
	runner    CommandRunner
	sessionID string
	registry  *ToolRegistry
}

// NewCommandExecutor creates an executor with run_command registered.
func NewCommandExecutor(cfg ExecutorConfig) *CommandExecutor {
	e := &CommandExecutor{
		runner:    cfg.Runner,
		sessionID: cfg.SessionID,
		registry:  NewToolRegistry(),
	}
	e.registerCommandTools()
	return e
}

// RegisterTool allows tests or extensions to add tools at runtime.
func (e *CommandExecutor) RegisterTool(tool RegisteredTool) {
	e.registry.Register(tool)
}

// ListTools returns the tools available to the model.
func (e *CommandExecutor) ListTools() []Tool {
	tools := e.registry.ListTools()
	available := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if e.isToolAvailable(tool.Name) {
			available = append(available, tool)
		}
	}
	return available
}

func (e *CommandExecutor) isToolAvailable(name string) bool {
	switch name {
	case RunCommandTool:
		return e.runner != nil
	default:
		return true
	}
}

// ExecuteTool executes a tool and returns the result
func (e *CommandExecutor) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (CallToolResult, error) {
	log.Debug().
		Str("session_id", e.sessionID).
		Str("tool", name).
		Interface("args", args).
		Msg("Executing tool")

	return e.registry.Execute(ctx, e, name, args)
}
