// Package feed implements an in-process change-feed broker. Backends that
// learn about changes in-process (memory) or through a single upstream
// connection (postgres LISTEN) fan events out to per-session subscriptions.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

const (
	// Buffer size for pending events per subscription
	eventBufferSize = 256

	// Buffer size for pending status notifications per subscription
	statusBufferSize = 4
)

// Broker fans change events out to session-scoped subscriptions
type Broker struct {
	mu      sync.RWMutex
	subs    map[model.SessionID]map[*Subscription]struct{}
	healthy bool
	logger  *slog.Logger
}

// NewBroker creates a healthy broker
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subs:    make(map[model.SessionID]map[*Subscription]struct{}),
		healthy: true,
		logger:  logger.With(slog.String("component", "feed")),
	}
}

// Subscribe registers a subscription for a session. When the broker is
// unhealthy the subscription reports model.FeedChannelError immediately and
// is not registered.
func (b *Broker) Subscribe(ctx context.Context, sessionID model.SessionID) (storage.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		broker:    b,
		sessionID: sessionID,
		events:    make(chan model.ChangeEvent, eventBufferSize),
		status:    make(chan model.FeedStatus, statusBufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.healthy {
		sub.status <- model.FeedChannelError
		sub.closeLocked()
		return sub, nil
	}

	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*Subscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	sub.status <- model.FeedSubscribed

	return sub, nil
}

// Publish delivers an event to every subscription for its session.
// Delivery never blocks; a subscriber whose buffer is full loses the event
// and is failed so that it resubscribes and reloads.
func (b *Broker) Publish(event model.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[event.SessionID] {
		select {
		case sub.events <- event:
		default:
			b.logger.Warn("feed subscriber buffer full, failing subscription",
				slog.String("session_id", string(event.SessionID)))
			b.failLocked(sub, model.FeedChannelError)
		}
	}
}

// SetHealthy marks upstream delivery as working or broken. Marking the
// broker unhealthy fails every open subscription with model.FeedChannelError.
func (b *Broker) SetHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.healthy = healthy
	if healthy {
		return
	}

	failed := 0
	for _, subs := range b.subs {
		for sub := range subs {
			b.failLocked(sub, model.FeedChannelError)
			failed++
		}
	}
	if failed > 0 {
		b.logger.Warn("feed unhealthy, subscriptions failed", slog.Int("failed", failed))
	}
}

// Fail ends every subscription for a session with the given status
func (b *Broker) Fail(sessionID model.SessionID, status model.FeedStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[sessionID] {
		b.failLocked(sub, status)
	}
}

// SubscriberCount returns the number of live subscriptions for a session
func (b *Broker) SubscriberCount(sessionID model.SessionID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// Close ends every subscription with model.FeedClosed
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for sub := range subs {
			b.failLocked(sub, model.FeedClosed)
		}
	}
}

func (b *Broker) failLocked(sub *Subscription, status model.FeedStatus) {
	select {
	case sub.status <- status:
	default:
	}
	b.removeLocked(sub)
	sub.closeLocked()
}

func (b *Broker) removeLocked(sub *Subscription) {
	subs, ok := b.subs[sub.sessionID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, sub.sessionID)
	}
}

// Subscription is a broker registration for one session
type Subscription struct {
	broker    *Broker
	sessionID model.SessionID
	events    chan model.ChangeEvent
	status    chan model.FeedStatus
	closed    bool // guarded by broker.mu
}

var _ storage.Subscription = (*Subscription)(nil)

// Events returns the event channel
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.events
}

// Status returns the status channel
func (s *Subscription) Status() <-chan model.FeedStatus {
	return s.status
}

// Close unregisters the subscription
func (s *Subscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	s.broker.removeLocked(s)
	s.closeLocked()
	return nil
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
	close(s.status)
}
