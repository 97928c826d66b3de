package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/auth"
	"github.com/fourinarow/fourinarow-server-go/internal/config"
	"github.com/fourinarow/fourinarow-server-go/internal/protocol"
	"github.com/fourinarow/fourinarow-server-go/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var (
	// ErrConnClosed is returned when sending to a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a slow client falls behind.
	ErrSendQueueFull = errors.New("send queue full")
)

// Verifier resolves a bearer token to a player identity.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (auth.Identity, error)
}

// Matchmaker accepts authenticated players.
type Matchmaker interface {
	Enqueue(p session.Participant) error
	Remove(connID string) bool
}

// Sessions routes messages of seated players.
type Sessions interface {
	OnMove(conn session.Conn, raw []byte)
	OnDisconnect(conn session.Conn)
}

// client is one upgraded socket. It implements session.Conn.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (c *client) ID() string { return c.id }

// Send queues msg without blocking. A client whose queue is full has fallen
// out of sync and is disconnected.
func (c *client) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn("send queue full, dropping client", zap.Int("queued", len(c.send)))
		c.Close()
		return ErrSendQueueFull
	}
}

// Close asks the write pump to flush a close frame and drop the socket.
func (c *client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *client) readPump(queue Matchmaker, sessions Sessions, onExit func()) {
	defer func() {
		queue.Remove(c.id)
		sessions.OnDisconnect(c)
		c.Close()
		onExit()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		sessions.OnMove(c, message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// drain flushes messages queued before Close.
func (c *client) drain() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// WebSocketHandler upgrades game connections.
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	verifier      Verifier
	queue         Matchmaker
	sessions      Sessions
	sendQueueSize int
	logger        *zap.Logger

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// NewWebSocketHandler creates the /ws handler.
func NewWebSocketHandler(cfg config.ServerConfig, verifier Verifier, queue Matchmaker, sessions Sessions, logger *zap.Logger) *WebSocketHandler {
	size := cfg.SendQueueSize
	if size <= 0 {
		size = 256
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		verifier:      verifier,
		queue:         queue,
		sessions:      sessions,
		sendQueueSize: size,
		logger:        logger.Named("websocket"),
		clients:       make(map[string]*client),
	}
}

// Handle is the httprouter entry point. The bearer token travels in the
// "token" query parameter.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := r.URL.Query().Get("token")
	identity, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		h.logger.Info("rejected websocket connection",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		writeJSON(w, http.StatusUnauthorized, messageResponse{Message: protocol.InfoAuthFailed})
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		writeJSON(w, http.StatusServiceUnavailable, messageResponse{Message: protocol.InfoServerShutdown})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: identity.UserID,
		conn:   conn,
		send:   make(chan []byte, h.sendQueueSize),
		done:   make(chan struct{}),
	}
	c.logger = h.logger.With(
		zap.String("conn_id", c.id),
		zap.String("user_id", identity.UserID),
	)

	if !h.register(c) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if data, err := protocol.Encode(protocol.NewInfo(protocol.InfoServerShutdown)); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		conn.Close()
		return
	}

	go c.writePump()

	c.logger.Info("player connected", zap.String("username", identity.DisplayName))
	if err := c.Send(protocol.NewInfo(protocol.InfoConnected)); err != nil {
		c.logger.Debug("failed to send connected notice", zap.Error(err))
	}

	participant := session.Participant{Conn: c, UserID: identity.UserID, DisplayName: identity.DisplayName}
	if err := h.queue.Enqueue(participant); err != nil {
		c.logger.Warn("failed to enqueue player", zap.Error(err))
		c.Send(protocol.NewInfo(protocol.InfoCouldNotProcess))
		c.Close()
	}

	go c.readPump(h.queue, h.sessions, func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		c.logger.Info("player disconnected")
	})
}

// register tracks c unless Shutdown has already started.
func (h *WebSocketHandler) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

// Connections returns the number of open sockets.
func (h *WebSocketHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown notifies and closes every open socket and refuses new ones.
func (h *WebSocketHandler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Send(protocol.NewInfo(protocol.InfoServerShutdown))
		c.Close()
	}
	h.logger.Info("closed websocket connections", zap.Int("count", len(clients)))
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
