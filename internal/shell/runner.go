// Package shell runs model-proposed commands through the host shell after
// they pass the command guard.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds a single command.
	DefaultTimeout = 3 * time.Second
	// DefaultShell is the interpreter used for command strings.
	DefaultShell = "/bin/sh"

	waitDelay = 500 * time.Millisecond
)

var (
	// ErrTimeout matches any *TimeoutError.
	ErrTimeout = errors.New("command timed out")
	// ErrBlocked matches any *BlockedError.
	ErrBlocked = errors.New("command blocked")
)

// TimeoutError reports a command killed at its time limit. Output holds
// whatever was captured before the kill.
type TimeoutError struct {
	Command string
	Limit   time.Duration
	Output  Output
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.Limit)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// BlockedError reports a command refused by the guard.
type BlockedError struct {
	Command  string
	Decision safety.Decision
}

func (e *BlockedError) Error() string {
	if e.Decision.Reason != "" {
		return fmt.Sprintf("command %q blocked: %s", e.Command, e.Decision.Reason)
	}
	return fmt.Sprintf("command %q blocked", e.Command)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// Output is the captured result of one command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs a command string. A non-zero exit status is not an error;
// errors are reserved for commands that could not be run or were cancelled.
type Executor interface {
	Execute(ctx context.Context, command string) (Output, error)
}

// ShellExecutor runs commands with `<Shell> -c <command>`.
type ShellExecutor struct {
	Shell string
	Dir   string
	Env   []string
}

// Execute implements Executor.
func (e *ShellExecutor) Execute(ctx context.Context, command string) (Output, error) {
	shell := e.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = e.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	startInGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("start %s: %w", shell, err)
	}
	return out, nil
}

// Observer is told about every command the runner handles.
type Observer interface {
	CommandBlocked(ctx context.Context, command string, decision safety.Decision)
	CommandExecuted(ctx context.Context, command string, out Output)
	CommandTimedOut(ctx context.Context, command string, limit time.Duration, out Output)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) CommandBlocked(ctx context.Context, command string, decision safety.Decision) {
	for _, obs := range o {
		obs.CommandBlocked(ctx, command, decision)
	}
}

func (o Observers) CommandExecuted(ctx context.Context, command string, out Output) {
	for _, obs := range o {
		obs.CommandExecuted(ctx, command, out)
	}
}

func (o Observers) CommandTimedOut(ctx context.Context, command string, limit time.Duration, out Output) {
	for _, obs := range o {
		obs.CommandTimedOut(ctx, command, limit, out)
	}
}

// Runner guards and executes commands.
type Runner struct {
	Guard    safety.Guard
	Executor Executor
	Timeout  time.Duration
	Observer Observer
}

// NewRunner returns a runner using the default guard, /bin/sh and the
// default timeout.
func NewRunner() *Runner {
	return &Runner{
		Guard:    safety.NewDefaultGuard(),
		Executor: &ShellExecutor{},
		Timeout:  DefaultTimeout,
	}
}

// RejectionMessage is returned in place of output for blocked commands.
func RejectionMessage(command string) string {
	return fmt.Sprintf("you are not allowed to run `%s`", command)
}

// FormatResult joins trimmed stderr and stdout the way the model sees them.
func FormatResult(out Output) string {
	return strings.TrimSpace(out.Stderr) + "\n" + strings.TrimSpace(out.Stdout)
}

// Check classifies command without running it. It returns a *BlockedError
// when the guard refuses it.
func (r *Runner) Check(command string) error {
	decision := safety.Explain(r.guard(), command)
	if decision.Blocked {
		return &BlockedError{Command: command, Decision: decision}
	}
	return nil
}

// Run executes command if the guard allows it. A blocked command yields the
// rejection message and no error, and never reaches the executor. A command
// that exceeds the timeout yields a *TimeoutError.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	if err := r.Check(command); err != nil {
		var blocked *BlockedError
		errors.As(err, &blocked)
		log.Warn().
			Str("command", command).
			Str("rule", blocked.Decision.Rule).
			Msg("Refused blocked command")
		r.observer().CommandBlocked(ctx, command, blocked.Decision)
		return RejectionMessage(command), nil
	}

	limit := r.Timeout
	if limit <= 0 {
		limit = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	executor := r.Executor
	if executor == nil {
		executor = &ShellExecutor{}
	}

	out, err := executor.Execute(runCtx, command)
	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			log.Warn().
				Str("command", command).
				Dur("limit", limit).
				Msg("Command timed out")
			r.observer().CommandTimedOut(ctx, command, limit, out)
			return "", &TimeoutError{Command: command, Limit: limit, Output: out}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("run command: %w", err)
	}

	if logging.IsLevelEnabled(zerolog.DebugLevel) {
		log.Debug().
			Str("command", command).
			Int("exit_code", out.ExitCode).
			Dur("duration", out.Duration).
			Str("output", safety.Preview(FormatResult(out), 200)).
			Msg("Command finished")
	}
	r.observer().CommandExecuted(ctx, command, out)
	return FormatResult(out), nil
}

func (r *Runner) guard() safety.Guard {
	if r.Guard == nil {
		return safety.NewDefaultGuard()
	}
	return r.Guard
}

func (r *Runner) observer() Observer {
	if r.Observer == nil {
		return Observers(nil)
	}
	return r.Observer
}
