// Package websocket serves the chat over a WebSocket: one chat session per
// connection, JSON messages in both directions.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rcourtman/bashmate/internal/ai/chat"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
	promptQueue    = 8
)

// Message types sent to clients.
const (
	TypeWelcome        = "welcome"
	TypeTranscript     = "transcript"
	TypeError          = "error"
	TypeCleared        = "cleared"
	TypeHistory        = "history"
	TypePong           = "pong"
	TypeToolStart      = "tool_start"
	TypeToolEnd        = "tool_end"
	TypePolicyReloaded = "policyReloaded"
)

// Message types accepted from clients.
const (
	TypePrompt         = "prompt"
	TypeClear          = "clear"
	TypeRequestHistory = "requestHistory"
	TypePing           = "ping"
)

// Message is the envelope for every frame in either direction.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PromptData is the payload of a prompt message.
type PromptData struct {
	Text string `json:"text"`
}

// WelcomeData is sent once after connecting.
type WelcomeData struct {
	SessionID   string `json:"sessionId"`
	Title       string `json:"title"`
	Caption     string `json:"caption"`
	Suggestions string `json:"suggestions"`
}

// TranscriptData carries the result of one turn.
type TranscriptData struct {
	TurnID     string `json:"turnId"`
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer"`
	Transcript string `json:"transcript"`
	DurationMS int64  `json:"durationMs"`
}

// ErrorData reports a failed request or turn.
type ErrorData struct {
	Message    string `json:"message"`
	Transcript string `json:"transcript,omitempty"`
}

// SessionFactory opens chat sessions. *chat.Service implements it.
type SessionFactory interface {
	NewSession() (*chat.Session, error)
}

// Config configures a Hub.
type Config struct {
	Sessions SessionFactory
	// AllowedOrigins are wildcard patterns matched against the Origin host.
	// Same-host and loopback origins are always accepted.
	AllowedOrigins []string
	Title          string
	Caption        string
}

// Hub tracks connected clients.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(cfg Config) (*Hub, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("websocket hub requires a session factory")
	}
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		logger:     logging.New("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

// Run processes registrations until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.shutdown()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			client.logger.Info().Str("session_id", client.session.ID).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.shutdown()
				client.logger.Info().Msg("WebSocket client disconnected")
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.sendRaw(data)
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades the request and starts a chat session for it.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade WebSocket connection")
		return
	}

	session, err := h.cfg.Sessions.NewSession()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to start chat session")
		writeClose(conn, websocket.CloseInternalServerErr, "session unavailable")
		conn.Close()
		return
	}

	id := uuid.New().String()
	logger := logging.New("websocket", logging.WithFields(map[string]interface{}{"client": id}))
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	client := &Client{
		hub:     h,
		conn:    conn,
		session: session,
		id:      id,
		logger:  logger,
		send:    make(chan []byte, sendBuffer),
		prompts: make(chan string, promptQueue),
		ctx:     ctx,
		cancel:  cancel,
	}
	select {
	case h.register <- client:
	case <-h.done:
		writeClose(conn, websocket.CloseGoingAway, "server shutting down")
		conn.Close()
		session.Close()
		cancel()
		return
	}

	client.sendMessage(Message{Type: TypeWelcome, Data: WelcomeData{
		SessionID:   session.ID,
		Title:       h.cfg.Title,
		Caption:     h.cfg.Caption,
		Suggestions: chat.SuggestedQuestions,
	}})

	go client.writePump()
	go client.turnWorker()
	go client.readPump()
}

// Broadcast sends msg to every connected client.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("WebSocket broadcast channel full")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	host := u.Hostname()
	if isLoopback(host) {
		return true
	}
	for _, pattern := range h.cfg.AllowedOrigins {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if wildcard.Match(strings.ToLower(pattern), strings.ToLower(host)) || wildcard.Match(pattern, origin) {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Str("host", r.Host).Msg("Rejected WebSocket origin")
	return false
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
