package sse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/arena"
)

// Watcher opens a live view of a race
type Watcher interface {
	Watch(ctx context.Context, sessionID model.SessionID, onChange func(arena.View)) (*arena.Synchronizer, error)
}

// HubManager owns one hub per watched race and shuts a race's hub and
// synchronizer down when its last spectator leaves
type HubManager struct {
	watcher Watcher
	onOpen  func() func()
	logger  *slog.Logger

	mu   sync.Mutex
	hubs map[model.SessionID]*watchedHub
}

type watchedHub struct {
	hub     *Hub
	view    *arena.Synchronizer
	clients int
	closed  func()
}

// NewHubManager creates a new HubManager. onOpen, if set, is called when
// a race's live view opens and returns the func to call when it closes.
func NewHubManager(watcher Watcher, onOpen func() func(), logger *slog.Logger) *HubManager {
	return &HubManager{
		watcher: watcher,
		onOpen:  onOpen,
		logger:  logger.With(slog.String("component", "sse")),
		hubs:    make(map[model.SessionID]*watchedHub),
	}
}

// Join registers a new client on the race's hub, opening the live view if
// this is the first spectator. An unknown race is reported as
// model.ErrSessionNotFound.
func (m *HubManager) Join(ctx context.Context, sessionID model.SessionID) (*Hub, *Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.hubs[sessionID]
	if !ok {
		hub := NewHub(sessionID, m.logger)
		go hub.Run()

		// The synchronizer outlives the request that opened it
		view, err := m.watcher.Watch(context.WithoutCancel(ctx), sessionID, hub.BroadcastView)
		if err != nil {
			hub.Close()
			return nil, nil, err
		}

		w = &watchedHub{hub: hub, view: view, closed: func() {}}
		if m.onOpen != nil {
			w.closed = m.onOpen()
		}
		m.hubs[sessionID] = w
		m.logger.Info("live view opened", slog.String("session_id", string(sessionID)))
	}

	w.clients++
	client := NewClient()
	w.hub.Register(client)
	return w.hub, client, nil
}

// Leave unregisters a client, closing the race's live view when no
// spectators remain
func (m *HubManager) Leave(sessionID model.SessionID, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.hubs[sessionID]
	if !ok {
		return
	}
	w.hub.Unregister(client)
	w.clients--
	if w.clients > 0 {
		return
	}

	delete(m.hubs, sessionID)
	w.view.Close()
	w.hub.Close()
	w.closed()
	m.logger.Info("live view closed", slog.String("session_id", string(sessionID)))
}

// HubCount returns the number of races being watched
func (m *HubManager) HubCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs)
}

// Close shuts every live view down
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.hubs {
		w.view.Close()
		w.hub.Close()
		w.closed()
		delete(m.hubs, id)
	}
}
