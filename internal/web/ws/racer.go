// Package ws serves the racer's websocket: keystrokes come in, the live
// view of the race and the racer's own progress go out.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mcoot/typerace/internal/api/apierr"
	apimiddleware "github.com/mcoot/typerace/internal/api/middleware"
	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/arena"
)

// Config holds websocket timing and size limits
type Config struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64

	// CheckOrigin decides whether a browser origin may connect; nil
	// allows same-origin requests only
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns the standard websocket settings
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Handler upgrades racers onto a websocket for one race
type Handler struct {
	arena    *arena.Service
	upgrader websocket.Upgrader
	config   Config
	onOpen   func() func()
	logger   *slog.Logger
}

// NewHandler creates a racer websocket handler. onOpen, if set, is called
// when a racer's live view opens and returns the func to call when it closes.
func NewHandler(arenaService *arena.Service, config Config, onOpen func() func(), logger *slog.Logger) *Handler {
	return &Handler{
		arena: arenaService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		onOpen: onOpen,
		logger: logger.With(slog.String("component", "ws")),
	}
}

// racer is one connected racer socket
type racer struct {
	id        string
	conn      *websocket.Conn
	sessionID model.SessionID
	identity  model.Identity

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// push queues a message for the write pump. A racer too slow to keep up
// is disconnected rather than allowed to fall behind.
func (c *racer) push(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *racer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeHTTP handles GET /live/races/{id}/ws. It must run behind the API
// auth middleware. Only racers seated in the race may connect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := apimiddleware.MustGetIdentity(r.Context())
	sessionID := model.SessionID(mux.Vars(r)["id"])

	reporter, err := h.arena.Reporter(r.Context(), sessionID, identity)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Warn("failed to upgrade websocket", slog.Any("error", err))
		return
	}

	c := &racer{
		id:        uuid.NewString(),
		conn:      conn,
		sessionID: sessionID,
		identity:  identity,
		send:      make(chan []byte, 64),
	}
	logger := h.logger.With(
		slog.String("connection_id", c.id),
		slog.String("session_id", string(sessionID)),
		slog.String("email", identity.Email),
	)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	view, err := h.arena.Watch(ctx, sessionID, func(v arena.View) {
		reporter.SetSession(v.Session)
		lv := response.LiveViewFromView(v)
		if !c.push(ServerMessage{Type: TypeView, View: &lv}) {
			cancel()
		}
	})
	if err != nil {
		logger.Warn("failed to open live view", slog.Any("error", err))
		apiErr := apierr.FromError(err)
		_ = conn.WriteJSON(ServerMessage{Type: TypeError, Error: &apiErr})
		_ = conn.Close()
		return
	}
	if h.onOpen != nil {
		defer h.onOpen()()
	}

	logger.Info("racer connected")
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c, logger)
	}()

	h.readPump(ctx, c, logger)

	view.Close()
	c.close()
	<-done
	logger.Info("racer disconnected")
}

// readPump scores incoming keystrokes until the socket closes
func (h *Handler) readPump(ctx context.Context, c *racer, logger *slog.Logger) {
	c.conn.SetReadLimit(h.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("unexpected websocket close", slog.Any("error", err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))

		if msg.Type != TypeKeys {
			h.pushError(c, apierr.NewInvalidRequestError("unknown message type"))
			continue
		}
		h.keys(ctx, c, msg.Keys)
	}
}

// keys scores a batch of keystrokes and reports the state after the last
func (h *Handler) keys(ctx context.Context, c *racer, keys string) {
	if keys == "" {
		h.pushError(c, apierr.NewInvalidRequestError("keys is required"))
		return
	}
	runes := []rune(keys)
	for i, key := range runes {
		snap, err := h.arena.Keystroke(ctx, c.sessionID, c.identity, key)
		if err != nil {
			h.pushError(c, err)
			return
		}
		if snap.Finished || i == len(runes)-1 {
			progress := response.ProgressFromSnapshot(snap)
			c.push(ServerMessage{Type: TypeProgress, Progress: &progress})
			return
		}
	}
}

func (h *Handler) pushError(c *racer, err error) {
	apiErr := apierr.FromError(err)
	c.push(ServerMessage{Type: TypeError, Error: &apiErr})
}

// writePump sends queued messages and keepalive pings
func (h *Handler) writePump(c *racer, logger *slog.Logger) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("failed to write websocket message", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
