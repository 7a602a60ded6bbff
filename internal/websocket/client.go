package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rcourtman/bashmate/internal/ai/chat"
	"github.com/rs/zerolog"
)

// Client is one connection and the chat session that belongs to it.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *chat.Session
	id      string
	logger  zerolog.Logger

	send    chan []byte
	prompts chan string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// shutdown stops the client's turn, ends the write pump and closes the
// session once any running turn has returned. Callers hold the hub lock.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.cancel()
	go c.session.Close()
}

func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Msg("Client send buffer full, dropping message")
	}
}

func (c *Client) sendError(message, transcript string) {
	c.sendMessage(Message{Type: TypeError, Data: ErrorData{Message: message, Transcript: transcript}})
}

// readPump decodes client messages. Prompts are queued for turnWorker so
// pings keep flowing while a turn runs.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message: "+err.Error(), "")
			continue
		}

		switch msg.Type {
		case TypePrompt:
			var data PromptData
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &data); err != nil {
					c.sendError("invalid prompt: "+err.Error(), "")
					continue
				}
			}
			if strings.TrimSpace(data.Text) == "" {
				c.sendError(chat.ErrEmptyPrompt.Error(), "")
				continue
			}
			select {
			case c.prompts <- data.Text:
			default:
				c.sendError("too many prompts waiting, try again when the current answer arrives", "")
			}
		case TypeClear:
			c.session.Clear()
			c.sendMessage(Message{Type: TypeCleared})
		case TypeRequestHistory:
			c.sendMessage(Message{Type: TypeHistory, Data: c.session.History()})
		case TypePing:
			c.sendMessage(Message{Type: TypePong, Data: map[string]int64{"timestamp": time.Now().Unix()}})
		default:
			c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown WebSocket message")
			c.sendError("unknown message type "+msg.Type, "")
		}
	}
}

// turnWorker runs queued prompts one at a time.
func (c *Client) turnWorker() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case prompt := <-c.prompts:
			c.runTurn(prompt)
		}
	}
}

func (c *Client) runTurn(prompt string) {
	forward := func(event chat.StreamEvent) {
		if event.Type != TypeToolStart && event.Type != TypeToolEnd {
			return
		}
		c.sendMessage(Message{Type: event.Type, Data: event.Data})
	}

	turn, err := c.session.AskStream(c.ctx, prompt, forward)
	if err != nil {
		if errors.Is(err, chat.ErrSessionClosed) || c.ctx.Err() != nil {
			return
		}
		transcript := ""
		if turn != nil {
			transcript = turn.Transcript
		}
		c.sendError(err.Error(), transcript)
		return
	}
	c.sendMessage(Message{Type: TypeTranscript, Data: TranscriptData{
		TurnID:     turn.ID,
		Prompt:     turn.Prompt,
		Answer:     turn.Answer,
		Transcript: turn.Transcript,
		DurationMS: turn.Duration.Milliseconds(),
	}})
}

// writePump writes queued messages and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
