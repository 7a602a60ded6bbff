package audit

import (
	"context"
	"time"

	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rcourtman/bashmate/internal/shell"
	"github.com/rs/zerolog/log"
)

// Observer records runner outcomes for one session. It implements
// shell.Observer; write failures are logged and never fail the command.
type Observer struct {
	store     *Store
	sessionID string
}

// NewObserver returns an observer writing to store under sessionID.
func NewObserver(store *Store, sessionID string) *Observer {
	return &Observer{store: store, sessionID: sessionID}
}

// CommandBlocked implements shell.Observer
func (o *Observer) CommandBlocked(ctx context.Context, command string, decision safety.Decision) {
	o.record(ctx, Entry{
		Command:       command,
		Decision:      DecisionBlocked,
		Rule:          decision.Rule,
		OutputPreview: shell.RejectionMessage(command),
	})
}

// CommandExecuted implements shell.Observer
func (o *Observer) CommandExecuted(ctx context.Context, command string, out shell.Output) {
	o.record(ctx, Entry{
		Command:       command,
		Decision:      DecisionAllowed,
		ExitCode:      out.ExitCode,
		Duration:      out.Duration,
		OutputPreview: shell.FormatResult(out),
	})
}

// CommandTimedOut implements shell.Observer
func (o *Observer) CommandTimedOut(ctx context.Context, command string, limit time.Duration, out shell.Output) {
	o.record(ctx, Entry{
		Command:       command,
		Decision:      DecisionTimeout,
		ExitCode:      out.ExitCode,
		Duration:      limit,
		OutputPreview: shell.FormatResult(out),
	})
}

func (o *Observer) record(ctx context.Context, e Entry) {
	if o == nil || o.store == nil {
		return
	}
	e.SessionID = o.sessionID
	// The turn context may already be cancelled; the record should still land.
	if err := o.store.Record(context.WithoutCancel(ctx), e); err != nil {
		log.Warn().Err(err).Str("session_id", o.sessionID).Str("command", e.Command).Msg("Failed to write audit entry")
	}
}
