package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rcourtman/bashmate/internal/ai/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(p *scriptedProvider, exec *spyExecutor, mode HistoryMode) *Session {
	return NewSession(SessionOptions{Runner: newTestLoop(p, exec), HistoryMode: mode})
}

func TestSession_LastModeCarriesOnlyFinalMessage(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolCallResponse("c1", "whoami"),
		textResponse("You are root."),
		textResponse("Still root."),
	}}
	s := newTestSession(p, &spyExecutor{}, HistoryLast)

	turn, err := s.Ask(context.Background(), "who am I?")
	require.NoError(t, err)
	assert.Equal(t, "You are root.", turn.Answer)
	assert.Len(t, turn.Messages, 4)
	assert.Contains(t, turn.Transcript, "Command: `whoami`")
	assert.NotEmpty(t, turn.ID)

	carried := s.Carried()
	require.Len(t, carried, 1)
	assert.Equal(t, RoleAssistant, carried[0].Role)
	assert.Equal(t, "You are root.", carried[0].Content)

	_, err = s.Ask(context.Background(), "and now?")
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 3)
	third := reqs[2].Messages
	require.Len(t, third, 2)
	assert.Equal(t, "You are root.", third[0].Content)
	assert.Equal(t, "and now?", third[1].Content)

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, DisplayEntry{Role: RoleUser, Content: "who am I?"}, history[0])
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, "Still root.\n\n", history[3].Content)
}

func TestSession_FullModeCarriesEverything(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolCallResponse("c1", "hostname"),
		textResponse("web1"),
		textResponse("yes"),
	}}
	s := newTestSession(p, &spyExecutor{}, HistoryFull)
	assert.Equal(t, HistoryFull, s.Mode())

	_, err := s.Ask(context.Background(), "hostname?")
	require.NoError(t, err)
	assert.Len(t, s.Carried(), 4)

	_, err = s.Ask(context.Background(), "sure?")
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[2].Messages, 5)
	assert.Len(t, s.Carried(), 6)
}

func TestSession_DefaultsToLastMode(t *testing.T) {
	s := NewSession(SessionOptions{Runner: newTestLoop(&scriptedProvider{}, &spyExecutor{})})
	assert.Equal(t, HistoryLast, s.Mode())
	assert.NotEmpty(t, s.ID)
}

func TestSession_ErrorKeepsCarriedHistory(t *testing.T) {
	p := &scriptedProvider{
		responses: []*providers.ChatResponse{textResponse("first")},
		errs:      map[int]error{1: errors.New("upstream down")},
	}
	s := newTestSession(p, &spyExecutor{}, HistoryLast)

	_, err := s.Ask(context.Background(), "one")
	require.NoError(t, err)
	before := s.Carried()

	turn, err := s.Ask(context.Background(), "two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	require.NotNil(t, turn)
	assert.Equal(t, before, s.Carried())

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, "two", history[2].Content)
}

func TestSession_EmptyPrompt(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestSession(p, &spyExecutor{}, HistoryLast)

	_, err := s.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, p.Requests())
	assert.Empty(t, s.History())
}

func TestSession_Clear(t *testing.T) {
	s := newTestSession(&scriptedProvider{}, &spyExecutor{}, HistoryFull)

	_, err := s.Ask(context.Background(), "hi")
	require.NoError(t, err)
	require.NotEmpty(t, s.History())

	s.Clear()
	assert.Empty(t, s.History())
	assert.Empty(t, s.Carried())
}

func TestSession_Close(t *testing.T) {
	var closedCount int
	s := NewSession(SessionOptions{
		Runner:  newTestLoop(&scriptedProvider{}, &spyExecutor{}),
		OnClose: func(*Session) { closedCount++ },
	})

	s.Close()
	s.Close()
	assert.Equal(t, 1, closedCount)

	_, err := s.Ask(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_TurnsAreSerialized(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestSession(p, &spyExecutor{}, HistoryFull)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Ask(context.Background(), "ping")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reqs := p.Requests()
	require.Len(t, reqs, 5)
	for i, req := range reqs {
		assert.Len(t, req.Messages, 2*i+1, "turn %d sees every earlier exchange", i)
	}
	assert.Len(t, s.History(), 10)
}

// parkedRunner blocks inside Execute until released.
type parkedRunner struct {
	entered chan struct{}
	release chan struct{}
}

func (r *parkedRunner) Execute(ctx context.Context, sessionID string, messages []Message, callback StreamCallback) ([]Message, error) {
	close(r.entered)
	<-r.release
	return []Message{newMessage(RoleAssistant, "done")}, nil
}

func TestSession_ClearAndHistoryDuringTurn(t *testing.T) {
	r := &parkedRunner{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(SessionOptions{Runner: r, HistoryMode: HistoryFull})

	result := make(chan *Turn, 1)
	go func() {
		turn, err := s.Ask(context.Background(), "slow one")
		assert.NoError(t, err)
		result <- turn
	}()
	<-r.entered

	answered := make(chan []DisplayEntry, 1)
	go func() {
		history := s.History()
		s.Clear()
		answered <- history
	}()
	select {
	case history := <-answered:
		require.Len(t, history, 1)
		assert.Equal(t, "slow one", history[0].Content)
	case <-time.After(2 * time.Second):
		t.Fatal("History and Clear blocked while a turn was running")
	}

	close(r.release)
	turn := <-result
	assert.Equal(t, "done", turn.Answer)
	assert.Empty(t, s.History())
	assert.Empty(t, s.Carried())
}
