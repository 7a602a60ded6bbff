// Package terminal is the interactive chat front end: a line-edited prompt
// with history, markdown rendering of answers and live command progress.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
	"github.com/rcourtman/bashmate/internal/ai/chat"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/rcourtman/bashmate/internal/shell"
	"github.com/rs/zerolog"
)

const (
	// Title and Caption head the chat.
	Title   = "Bash Mate: Linux Command Assistant"
	Caption = "A step towards LLM OS"
	// PromptText is shown at the input line.
	PromptText = "What is up? "
	// ClearLabel is accepted as an alias of /clear.
	ClearLabel = "Clear chat"
)

// LineReader reads one line of input at a time. *liner.State implements it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// Conversation is the part of *chat.Session the REPL drives.
type Conversation interface {
	AskStream(ctx context.Context, prompt string, callback chat.StreamCallback) (*chat.Turn, error)
	History() []chat.DisplayEntry
	Clear()
}

// Options configures a REPL.
type Options struct {
	Session Conversation
	Input   LineReader // nil uses a liner prompt on the controlling terminal
	Output  io.Writer
	Width   int
	// Plain disables colour and markdown rendering.
	Plain bool
}

// REPL runs the interactive chat loop.
type REPL struct {
	session Conversation
	in      LineReader
	out     io.Writer
	render  *Renderer
	styles  styles
	logger  zerolog.Logger
}

// New creates a REPL.
func New(opts Options) (*REPL, error) {
	if opts.Session == nil {
		return nil, errors.New("terminal requires a chat session")
	}
	if opts.Output == nil {
		return nil, errors.New("terminal requires an output writer")
	}
	in := opts.Input
	if in == nil {
		state := liner.NewLiner()
		state.SetCtrlCAborts(true)
		in = state
	}
	return &REPL{
		session: opts.Session,
		in:      in,
		out:     opts.Output,
		render:  NewRenderer(opts.Width, opts.Plain),
		styles:  newStyles(opts.Plain),
		logger:  logging.New("terminal"),
	}, nil
}

// Run reads prompts until the user quits, input ends, or ctx is cancelled.
// Ctrl+C at the prompt and end of input both end the loop without error.
func (r *REPL) Run(ctx context.Context) error {
	defer r.in.Close()

	r.printHeader()
	r.printSuggestions()

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := r.in.Prompt(PromptText)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.in.AppendHistory(input)

		switch input {
		case "/quit", "/exit", "/q":
			return nil
		case "/help", "/h":
			r.printHelp()
			continue
		case "/clear", ClearLabel:
			r.session.Clear()
			fmt.Fprintln(r.out, r.styles.subtle.Render("Chat cleared."))
			r.printSuggestions()
			continue
		case "/history":
			r.printHistory()
			continue
		}

		r.ask(ctx, input)
	}
}

func (r *REPL) ask(ctx context.Context, prompt string) {
	turn, err := r.session.AskStream(ctx, prompt, r.progress)
	if turn != nil && turn.Transcript != "" {
		fmt.Fprint(r.out, r.render.Render(turn.Transcript))
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("Chat turn failed")
		fmt.Fprintln(r.out, r.styles.err.Render("Error: "+err.Error()))
		return
	}
	if turn != nil && turn.Transcript == "" {
		fmt.Fprintln(r.out, r.styles.subtle.Render("(no answer)"))
	}
}

// progress prints each command as it starts and flags refused ones.
func (r *REPL) progress(event chat.StreamEvent) {
	switch event.Type {
	case "tool_start":
		var data chat.ToolStartData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		fmt.Fprintln(r.out, r.styles.command.Render("$ "+data.Command))
	case "tool_end":
		var data chat.ToolEndData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		if data.Output == shell.RejectionMessage(data.Command) {
			fmt.Fprintln(r.out, r.styles.blocked.Render("  blocked"))
		} else if !data.Success {
			fmt.Fprintln(r.out, r.styles.blocked.Render("  failed"))
		}
	}
}

func (r *REPL) printHeader() {
	fmt.Fprintln(r.out, r.styles.title.Render(Title))
	fmt.Fprintln(r.out, r.styles.caption.Render(Caption))
}

func (r *REPL) printSuggestions() {
	if len(r.session.History()) > 0 {
		return
	}
	fmt.Fprint(r.out, r.render.Render(chat.SuggestedQuestions))
	fmt.Fprintln(r.out, r.styles.subtle.Render("Type /help for commands, /quit to exit"))
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, "/clear    forget this conversation (also \""+ClearLabel+"\")")
	fmt.Fprintln(r.out, "/history  show the conversation so far")
	fmt.Fprintln(r.out, "/quit     leave")
}

func (r *REPL) printHistory() {
	entries := r.session.History()
	if len(entries) == 0 {
		fmt.Fprintln(r.out, r.styles.subtle.Render("No messages yet."))
		return
	}
	for _, e := range entries {
		if e.Role == chat.RoleUser {
			fmt.Fprintln(r.out, r.styles.prompt.Render("> "+e.Content))
			continue
		}
		fmt.Fprint(r.out, r.render.Render(e.Content))
	}
}
