package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// DefaultReconnectBackoff is the constant delay before resubscribing
const DefaultReconnectBackoff = 3 * time.Second

// View is a consistent picture of one race for display
type View struct {
	Session      *model.Session
	Participants []model.ParticipantView
	State        model.ConnectionState
}

// SyncOptions configures a Synchronizer
type SyncOptions struct {
	// Backoff is the delay before a reconnect attempt
	Backoff time.Duration

	// OnChange receives every new view, in order, from a single goroutine
	OnChange func(View)
}

// Synchronizer keeps a live view of one session in step with the store's
// change feed. Session events replace the held session; participant events
// trigger a full reload so the view never drifts from the table contents.
//
// When the feed fails the subscription is closed, the state becomes
// disconnected and one reconnect is scheduled after a constant backoff.
// A successful resubscribe reloads everything to cover missed changes.
type Synchronizer struct {
	storage   storage.Storage
	clock     clock.Clock
	logger    *slog.Logger
	sessionID model.SessionID
	backoff   time.Duration
	onChange  func(View)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        model.ConnectionState
	session      *model.Session
	participants []model.ParticipantView
	ships        map[model.ShipID]*model.Ship
	sub          storage.Subscription
	generation   uint64 // Identifies the current subscription
	reloadSeq    uint64 // Identifies the latest reload
	timer        clockwork.Timer
	started      bool
	closed       bool

	queue []View
	kick  chan struct{}
	done  chan struct{}
}

// NewSynchronizer creates a synchronizer for a session. Call Start to
// begin watching and Close to stop.
func NewSynchronizer(storage storage.Storage, clock clock.Clock, logger *slog.Logger, sessionID model.SessionID, opts SyncOptions) *Synchronizer {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultReconnectBackoff
	}
	return &Synchronizer{
		storage:   storage,
		clock:     clock,
		sessionID: sessionID,
		backoff:   opts.Backoff,
		onChange:  opts.OnChange,
		state:     model.StateDisconnected,
		ships:     make(map[model.ShipID]*model.Ship),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger: logger.With(
			slog.String("component", "sync"),
			slog.String("session_id", string(sessionID)),
		),
	}
}

// Start loads the session and opens the subscription. A failure to load
// is returned; a failure to subscribe is retried in the background.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return errors.New("synchronizer already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	go s.dispatch()

	if err := s.reload(ctx); err != nil {
		s.Close()
		return err
	}

	s.connect()
	return nil
}

// Close cancels any pending reconnect, closes the subscription and
// discards reloads still in flight. It is safe to call more than once.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.closeSubLocked()
	s.setStateLocked(model.StateDisconnected)
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(s.done)
		return
	}
	s.wake()
}

// Done is closed once the final view has been delivered after Close
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the current view
func (s *Synchronizer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// State returns the connection state
func (s *Synchronizer) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// connect opens a new subscription unless closed
func (s *Synchronizer) connect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	ctx := s.ctx
	s.mu.Unlock()

	sub, err := s.storage.Subscribe(ctx, s.sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		s.logger.Warn("failed to subscribe", slog.Any("error", err))
		s.failLocked()
		return
	}

	s.sub = sub
	go s.consume(ctx, gen, sub)
}

// consume handles one subscription's status and events until it fails or
// is replaced
func (s *Synchronizer) consume(ctx context.Context, gen uint64, sub storage.Subscription) {
	status := sub.Status()
	events := sub.Events()

	for {
		select {
		case st, ok := <-status:
			if !ok {
				s.fail(gen, "subscription ended")
				return
			}
			switch {
			case st == model.FeedSubscribed:
				if !s.connected(gen) {
					return
				}
				if err := s.reload(ctx); err != nil {
					s.logger.Warn("failed to reload after subscribe", slog.Any("error", err))
				}
			default:
				s.fail(gen, string(st))
				return
			}
		case event, ok := <-events:
			if !ok {
				s.fail(gen, "subscription ended")
				return
			}
			if !s.current(gen) {
				return
			}
			s.handleEvent(ctx, event)
		}
	}
}

func (s *Synchronizer) handleEvent(ctx context.Context, event model.ChangeEvent) {
	if event.SessionID != s.sessionID {
		return
	}

	switch event.Table {
	case model.TableSessions:
		if event.Session == nil {
			return
		}
		s.mu.Lock()
		if !s.closed && s.applySessionLocked(event.Session) {
			s.publishLocked()
		}
		s.mu.Unlock()
	case model.TableParticipants:
		if err := s.reload(ctx); err != nil {
			s.logger.Warn("failed to reload participants", slog.Any("error", err))
		}
	}
}

// applySessionLocked replaces the held session unless the image would move
// the status backwards. Returns true if the session changed.
func (s *Synchronizer) applySessionLocked(session *model.Session) bool {
	if s.session != nil && session.Status.Precedes(s.session.Status) {
		return false
	}
	next := session.Clone()
	if next.RaceText == "" && s.session != nil {
		// Feed images may omit the text; it is fixed at creation
		next.RaceText = s.session.RaceText
	}
	s.session = next
	return true
}

// reload reads the session and all participants. A reload overtaken by a
// newer one, or finishing after Close, is discarded.
func (s *Synchronizer) reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.reloadSeq++
	seq := s.reloadSeq
	s.mu.Unlock()

	session, err := s.storage.GetSession(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	participants, err := s.storage.ListParticipants(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	views := make([]model.ParticipantView, len(participants))
	for i, p := range participants {
		views[i] = model.ParticipantView{Participant: *p, Ship: s.ship(ctx, p.ShipID)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.reloadSeq {
		return nil
	}
	s.applySessionLocked(session)
	s.participants = views
	s.publishLocked()
	return nil
}

// ship resolves a ship, caching lookups. Unknown ships resolve to nil.
func (s *Synchronizer) ship(ctx context.Context, id model.ShipID) *model.Ship {
	s.mu.Lock()
	ship, ok := s.ships[id]
	s.mu.Unlock()
	if ok {
		return ship
	}

	ship, err := s.storage.GetShip(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrShipNotFound) {
			s.logger.Warn("failed to load ship", slog.String("ship_id", string(id)), slog.Any("error", err))
			return nil
		}
		ship = nil
	}

	s.mu.Lock()
	s.ships[id] = ship
	s.mu.Unlock()
	return ship
}

func (s *Synchronizer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.generation
}

func (s *Synchronizer) connected(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return false
	}
	s.setStateLocked(model.StateConnected)
	return true
}

func (s *Synchronizer) fail(gen uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return
	}
	s.logger.Warn("subscription lost", slog.String("reason", reason))
	s.failLocked()
}

// failLocked tears down the subscription and schedules one reconnect
func (s *Synchronizer) failLocked() {
	s.generation++
	s.closeSubLocked()
	s.setStateLocked(model.StateDisconnected)

	if s.timer != nil {
		return
	}
	s.timer = s.clock.AfterFunc(s.backoff, s.reconnect)
}

func (s *Synchronizer) reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.setStateLocked(model.StateReconnecting)
	s.mu.Unlock()

	s.connect()
}

func (s *Synchronizer) closeSubLocked() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Close(); err != nil {
		s.logger.Debug("failed to close subscription", slog.Any("error", err))
	}
	s.sub = nil
}

func (s *Synchronizer) setStateLocked(state model.ConnectionState) {
	if s.state == state {
		return
	}
	s.state = state
	s.publishLocked()
}

func (s *Synchronizer) viewLocked() View {
	view := View{State: s.state}
	if s.session != nil {
		view.Session = s.session.Clone()
	}
	view.Participants = make([]model.ParticipantView, len(s.participants))
	for i, p := range s.participants {
		view.Participants[i] = model.ParticipantView{Participant: *p.Clone(), Ship: p.Ship}
	}
	return view
}

// publishLocked queues the current view for delivery
func (s *Synchronizer) publishLocked() {
	if s.onChange == nil {
		return
	}
	s.queue = append(s.queue, s.viewLocked())
	s.wake()
}

func (s *Synchronizer) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// dispatch delivers queued views in order, outside the lock, so OnChange
// may call back into the synchronizer
func (s *Synchronizer) dispatch() {
	defer close(s.done)
	for range s.kick {
		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, view := range queue {
			s.onChange(view)
		}
		if closed {
			return
		}
	}
}
