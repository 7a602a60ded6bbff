package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HistoryMode selects what a session passes back to the model each turn.
type HistoryMode string

const (
	// HistoryLast carries only the final message of the previous turn.
	HistoryLast HistoryMode = "last"
	// HistoryFull carries every message since the session started or was cleared.
	HistoryFull HistoryMode = "full"
)

var (
	// ErrSessionClosed is returned by Ask after Close.
	ErrSessionClosed = errors.New("chat session is closed")
	// ErrEmptyPrompt is returned for blank input.
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// Runner executes one agent turn. *AgenticLoop implements it.
type Runner interface {
	Execute(ctx context.Context, sessionID string, messages []Message, callback StreamCallback) ([]Message, error)
}

// DisplayEntry is one item of the chat as the user sees it: the prompt, or
// the markdown transcript of the answer.
type DisplayEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is the outcome of one Ask.
type Turn struct {
	ID         string        `json:"id"`
	Prompt     string        `json:"prompt"`
	Messages   []Message     `json:"messages"`
	Answer     string        `json:"answer"`
	Transcript string        `json:"transcript"`
	Duration   time.Duration `json:"duration"`
}

// SessionOptions configures a Session.
type SessionOptions struct {
	ID          string
	Runner      Runner
	HistoryMode HistoryMode
	// OnClose runs once when the session is closed.
	OnClose func(s *Session)
}

// Session is one conversation. It keeps the display history and the trimmed
// history carried to the model, and runs turns one at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	runner  Runner
	mode    HistoryMode
	onClose func(s *Session)

	// turnMu serializes turns; mu guards the fields below and is never held
	// across a model call, so History and Clear answer while a turn runs.
	turnMu  sync.Mutex
	mu      sync.Mutex
	display []DisplayEntry
	carried []Message
	epoch   uint64 // bumped by Clear and Close
	closed  bool
}

// NewSession creates a session. An empty ID gets a random UUID.
func NewSession(opts SessionOptions) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	mode := opts.HistoryMode
	if mode == "" {
		mode = HistoryLast
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		runner:    opts.Runner,
		mode:      mode,
		onClose:   opts.OnClose,
	}
}

// Mode returns the session's history mode.
func (s *Session) Mode() HistoryMode {
	return s.mode
}

// Ask runs one turn for prompt.
func (s *Session) Ask(ctx context.Context, prompt string) (*Turn, error) {
	return s.AskStream(ctx, prompt, nil)
}

// AskStream runs one turn, reporting progress to callback. Turns on the same
// session are serialized. On error the prompt stays in the display history,
// any commands already run are shown, and the carried history is unchanged.
// A Clear while the turn runs keeps its result out of both histories.
func (s *Session) AskStream(ctx context.Context, prompt string, callback StreamCallback) (*Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}

	start := time.Now()
	turn := &Turn{ID: uuid.New().String(), Prompt: prompt}
	s.display = append(s.display, DisplayEntry{Role: RoleUser, Content: prompt})

	userMsg := newMessage(RoleUser, prompt)
	messages := make([]Message, 0, len(s.carried)+1)
	messages = append(messages, s.carried...)
	messages = append(messages, userMsg)
	epoch := s.epoch
	s.mu.Unlock()

	log.Debug().
		Str("session_id", s.ID).
		Str("turn_id", turn.ID).
		Int("carried", len(messages)-1).
		Msg("Starting chat turn")

	produced, err := s.runner.Execute(ctx, s.ID, messages, callback)
	turn.Messages = append([]Message{userMsg}, produced...)
	turn.Transcript = FormatTranscript(produced)
	turn.Answer = finalAnswer(produced)
	turn.Duration = time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A Clear or Close while the turn ran wins: the result goes to the
	// caller but not into the history.
	current := s.epoch == epoch && !s.closed

	if current && turn.Transcript != "" {
		s.display = append(s.display, DisplayEntry{Role: RoleAssistant, Content: turn.Transcript})
	}
	if err != nil {
		return turn, fmt.Errorf("chat turn failed: %w", err)
	}
	if !current {
		return turn, nil
	}

	switch s.mode {
	case HistoryFull:
		s.carried = append(messages, produced...)
	default:
		if len(produced) > 0 {
			s.carried = []Message{produced[len(produced)-1]}
		} else {
			s.carried = nil
		}
	}
	return turn, nil
}

func finalAnswer(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

// History returns a copy of the display history.
func (s *Session) History() []DisplayEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DisplayEntry, len(s.display))
	copy(out, s.display)
	return out
}

// Carried returns a copy of the messages passed to the model next turn.
func (s *Session) Carried() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.carried))
	copy(out, s.carried)
	return out
}

// Clear forgets both the display history and the carried history.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display = nil
	s.carried = nil
	s.epoch++
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	s.display = nil
	s.carried = nil
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose(s)
	}
}
