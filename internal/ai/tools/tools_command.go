package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcourtman/bashmate/internal/shell"
	"github.com/rs/zerolog/log"
)

// RunCommandTool is the name the model uses to execute shell commands.
const RunCommandTool = "run_command"

const runCommandDescription = `Execute a command and capture the output.

The command runs through the system shell and its output is returned as text:
stderr first, then a newline, then stdout. Commands that could change or damage
the system are refused with a message saying you are not allowed to run them.
Only a command string is accepted.

Example commands:
1) "cd test_folder && pwd"
2) "ls -l"
3) "docker ps"`

func (e *CommandExecutor) registerCommandTools() {
	e.registry.Register(RegisteredTool{
		Definition: Tool{
			Name:        RunCommandTool,
			Description: runCommandDescription,
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"command": {
						Type:        "string",
						Description: "The command to be executed.",
					},
				},
				Required: []string{"command"},
			},
		},
		Handler: func(ctx context.Context, exec *CommandExecutor, args map[string]interface{}) (CallToolResult, error) {
			return exec.executeRunCommand(ctx, args)
		},
	})
}

func (e *CommandExecutor) executeRunCommand(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
	if e.runner == nil {
		return NewErrorResult(errors.New("command execution is not available")), nil
	}

	raw, ok := args["command"]
	if !ok {
		return NewErrorResult(errors.New("missing required argument: command")), nil
	}
	command, ok := raw.(string)
	if !ok {
		return NewErrorResult(fmt.Errorf("argument command must be a string, got %T", raw)), nil
	}
	if strings.TrimSpace(command) == "" {
		return NewErrorResult(errors.New("argument command must not be empty")), nil
	}

	output, err := e.runner.Run(ctx, command)
	if err != nil {
		var timeout *shell.TimeoutError
		if errors.As(err, &timeout) {
			return NewErrorResult(timeout), nil
		}
		if ctx.Err() != nil {
			return CallToolResult{}, err
		}
		log.Warn().Err(err).Str("session_id", e.sessionID).Str("command", command).Msg("Command failed to run")
		return NewErrorResult(err), nil
	}
	return NewTextResult(output), nil
}
