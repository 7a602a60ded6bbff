package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rcourtman/bashmate/internal/ai/providers"
	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rcourtman/bashmate/internal/ai/tools"
	"github.com/rcourtman/bashmate/internal/audit"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/rcourtman/bashmate/internal/shell"
	"github.com/rs/zerolog/log"
)

// Config holds what the service needs to build sessions.
type Config struct {
	Provider       providers.Provider
	Model          string
	Guard          safety.Guard   // nil uses the default blocklist
	Executor       shell.Executor // nil runs commands through /bin/sh
	CommandTimeout time.Duration
	HistoryMode    HistoryMode
	MaxTurns       int
	MaxTokens      int
	SystemPrompt   string // empty uses SystemPrompt
	Metrics        *AIMetrics
	Audit          *audit.Store // optional
}

// Service creates chat sessions and tracks the open ones.
type Service struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewService validates cfg and returns a service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Provider == nil {
		return nil, errors.New("chat service requires a provider")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = SystemPrompt
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = shell.DefaultTimeout
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	switch cfg.HistoryMode {
	case "":
		cfg.HistoryMode = HistoryLast
	case HistoryLast, HistoryFull:
	default:
		return nil, fmt.Errorf("unknown history mode %q", cfg.HistoryMode)
	}
	return &Service{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// NewSession creates a session with its own runner, tool executor and loop.
func (s *Service) NewSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	id := uuid.New().String()

	var observers shell.Observers
	if s.cfg.Metrics != nil {
		observers = append(observers, NewMetricsObserver(s.cfg.Metrics))
	}
	if s.cfg.Audit != nil {
		observers = append(observers, audit.NewObserver(s.cfg.Audit, id))
	}

	runner := &shell.Runner{
		Guard:    s.cfg.Guard,
		Executor: s.cfg.Executor,
		Timeout:  s.cfg.CommandTimeout,
		Observer: observers,
	}
	executor := tools.NewCommandExecutor(tools.ExecutorConfig{Runner: runner, SessionID: id})

	loop := NewAgenticLoop(s.cfg.Provider, executor, s.cfg.SystemPrompt)
	loop.SetMaxTurns(s.cfg.MaxTurns)
	loop.SetMaxTokens(s.cfg.MaxTokens)
	loop.SetModel(s.cfg.Model)
	loop.SetMetrics(s.cfg.Metrics)

	session := NewSession(SessionOptions{
		ID:          id,
		Runner:      &turnRunner{loop: loop, metrics: s.cfg.Metrics},
		HistoryMode: s.cfg.HistoryMode,
		OnClose:     s.forget,
	})
	s.sessions[id] = session
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionOpened()
	}

	log.Info().
		Str("session_id", id).
		Str("provider", s.cfg.Provider.Name()).
		Str("history_mode", string(s.cfg.HistoryMode)).
		Msg("Chat session started")
	return session, nil
}

func (s *Service) forget(session *Session) {
	s.mu.Lock()
	_, ok := s.sessions[session.ID]
	delete(s.sessions, session.ID)
	s.mu.Unlock()

	if ok && s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionClosed()
	}
	log.Info().Str("session_id", session.ID).Msg("Chat session closed")
}

// Provider returns the model provider sessions use.
func (s *Service) Provider() providers.Provider {
	return s.cfg.Provider
}

// Session returns an open session by ID.
func (s *Service) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Count returns the number of open sessions.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close closes every open session and refuses new ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	open := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		open = append(open, session)
	}
	s.mu.Unlock()

	for _, session := range open {
		session.Close()
	}
}

// turnRunner tags each turn with a request ID and records its outcome.
type turnRunner struct {
	loop    *AgenticLoop
	metrics *AIMetrics
}

func (r *turnRunner) Execute(ctx context.Context, sessionID string, messages []Message, callback StreamCallback) ([]Message, error) {
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With().Str("session_id", sessionID).Logger())
	ctx, _ = logging.WithRequestID(ctx, "")
	logger := logging.FromContext(ctx)
	start := time.Now()

	produced, err := r.loop.Execute(ctx, sessionID, messages, callback)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordTurn(outcome)
	}
	logger.Debug().
		Err(err).
		Int("messages", len(produced)).
		Dur("duration", time.Since(start)).
		Msg("Chat turn finished")
	return produced, err
}
