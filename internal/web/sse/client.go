package sse

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mcoot/typerace/internal/api/apierr"
	"github.com/mcoot/typerace/internal/model"
)

const (
	// Time between keepalive comments
	pingPeriod = 15 * time.Second

	// Buffer size for outgoing messages
	sendBufferSize = 64

	// Client reconnect delay advertised to browsers, in milliseconds
	retryMillis = "3000"
)

// Client is one connected spectator
type Client struct {
	id          string
	send        chan []byte
	connectedAt time.Time
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{
		id:          uuid.NewString(),
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
	}
}

// offer queues a message without blocking, reporting whether it fit
func (c *Client) offer(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// ServeSSE streams a hub's messages to one client until either side goes away
func ServeSSE(w http.ResponseWriter, r *http.Request, hub *Hub, client *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte("retry: " + retryMillis + "\n\n"))
	_, _ = w.Write(formatSSEMessage("connected", `{"status":"connected"}`))
	flusher.Flush()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// Handler serves GET /live/races/{id}/events for spectators
func Handler(manager *HubManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := model.SessionID(mux.Vars(r)["id"])

		hub, client, err := manager.Join(r.Context(), sessionID)
		if err != nil {
			apierr.WriteError(w, err)
			return
		}
		defer manager.Leave(sessionID, client)

		ServeSSE(w, r, hub, client)
	}
}
