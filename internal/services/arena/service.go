// Package arena runs the multiplayer race: finding a lobby, seating
// racers, reporting progress, keeping live views in step and moving
// sessions through their lifecycle.
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/typing"
	"github.com/mcoot/typerace/internal/storage"
)

// Gate decides whether a user id may enter the arena
type Gate interface {
	Validate(ctx context.Context, userID, token string) (bool, error)
}

// Config holds race timing settings
type Config struct {
	ReconnectBackoff time.Duration
	RaceTimeout      time.Duration
	SweepInterval    time.Duration
}

// DefaultConfig returns the standard race timings
func DefaultConfig() Config {
	return Config{
		ReconnectBackoff: DefaultReconnectBackoff,
		RaceTimeout:      10 * time.Minute,
		SweepInterval:    30 * time.Second,
	}
}

// EntryRequest is what a player presents at the arena door
type EntryRequest struct {
	UserID string
	Token  string
	ShipID model.ShipID
}

// Entry is the result of entering the arena
type Entry struct {
	Session     *model.Session
	Participant *model.Participant
}

// RaceView is a one-off read of a race with its results
type RaceView struct {
	Session      *model.Session
	Participants []model.ParticipantView
	Standings    []Standing
}

// Service wires the race components together for the transport layer
type Service struct {
	storage  storage.Storage
	gate     Gate
	locator  *Locator
	seats    *SeatAllocator
	director *Director
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config

	mu        sync.Mutex
	reporters map[model.ParticipantID]*Reporter
}

// NewService creates a new arena Service
func NewService(
	storage storage.Storage,
	texts TextSource,
	gate Gate,
	clock clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Service {
	s := &Service{
		storage:   storage,
		gate:      gate,
		locator:   NewLocator(storage, texts, clock, logger),
		seats:     NewSeatAllocator(storage, clock, logger),
		director:  NewDirector(storage, clock, logger, cfg.RaceTimeout),
		clock:     clock,
		logger:    logger.With(slog.String("component", "arena")),
		cfg:       cfg,
		reporters: make(map[model.ParticipantID]*Reporter),
	}
	s.director.OnComplete(s.releaseSession)
	return s
}

// Director returns the race director
func (s *Service) Director() *Director {
	return s.director
}

// Enter checks the entry token, finds the open lobby and seats the player
func (s *Service) Enter(ctx context.Context, identity model.Identity, req EntryRequest) (*Entry, error) {
	if s.gate != nil {
		ok, err := s.gate.Validate(ctx, req.UserID, req.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to validate entry token: %w", err)
		}
		if !ok {
			return nil, model.ErrInvalidToken
		}
	}

	identity.DisplayName = req.UserID

	sessionID, err := s.locator.LocateOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	participant, err := s.seats.Join(ctx, sessionID, identity, req.ShipID)
	if err != nil {
		return nil, err
	}
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return &Entry{Session: session, Participant: participant}, nil
}

// Join seats a player in a specific session
func (s *Service) Join(ctx context.Context, sessionID model.SessionID, identity model.Identity, shipID model.ShipID) (*model.Participant, error) {
	return s.seats.Join(ctx, sessionID, identity, shipID)
}

// GetRace reads a race, its racers and the current standings
func (s *Service) GetRace(ctx context.Context, sessionID model.SessionID) (*RaceView, error) {
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := s.storage.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ships := make(map[model.ShipID]*model.Ship)
	views := make([]model.ParticipantView, len(participants))
	for i, p := range participants {
		ship, ok := ships[p.ShipID]
		if !ok {
			ship, err = s.storage.GetShip(ctx, p.ShipID)
			if err != nil && !errors.Is(err, model.ErrShipNotFound) {
				return nil, err
			}
			ships[p.ShipID] = ship
		}
		views[i] = model.ParticipantView{Participant: *p, Ship: ship}
	}

	return &RaceView{
		Session:      session,
		Participants: views,
		Standings:    Standings(views),
	}, nil
}

// StartRace starts a full waiting race on behalf of an admin
func (s *Service) StartRace(ctx context.Context, sessionID model.SessionID, identity model.Identity) (*model.Session, error) {
	return s.director.StartRace(ctx, sessionID, identity)
}

// Reporter returns the progress reporter for the player's seat in a
// session, creating it on first use
func (s *Service) Reporter(ctx context.Context, sessionID model.SessionID, identity model.Identity) (*Reporter, error) {
	participant, err := s.storage.FindParticipant(ctx, sessionID, identity.Email)
	if errors.Is(err, model.ErrParticipantNotFound) {
		return nil, model.ErrNotParticipant
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.reporters[participant.ID]; ok {
		return r, nil
	}
	r := NewReporter(s.storage, s.director, s.clock, s.logger, participant)
	s.reporters[participant.ID] = r
	return r, nil
}

// Keystroke scores one keystroke for the player's seat in a session
func (s *Service) Keystroke(ctx context.Context, sessionID model.SessionID, identity model.Identity, key rune) (typing.Snapshot, error) {
	r, err := s.Reporter(ctx, sessionID, identity)
	if err != nil {
		return typing.Snapshot{}, err
	}

	snap, err := r.OnKeystroke(ctx, key)
	if errors.Is(err, model.ErrRaceNotInProgress) || r.Finished() || r.Ended() {
		// Nothing left to write until the race starts, or ever again
		s.release(r)
	}
	return snap, err
}

// release drops a reporter that has nothing left to write
func (s *Service) release(r *Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reporters[r.ParticipantID()] == r {
		delete(s.reporters, r.ParticipantID())
	}
}

// releaseSession drops every reporter held for a completed race. It runs
// while a reporter may hold its own lock, so it only touches the map.
func (s *Service) releaseSession(session *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.reporters {
		if r.sessionID == session.ID {
			delete(s.reporters, id)
		}
	}
}

// Watch starts a live view of a session. The caller must Close the
// returned synchronizer.
func (s *Service) Watch(ctx context.Context, sessionID model.SessionID, onChange func(View)) (*Synchronizer, error) {
	sync := NewSynchronizer(s.storage, s.clock, s.logger, sessionID, SyncOptions{
		Backoff:  s.cfg.ReconnectBackoff,
		OnChange: onChange,
	})
	if err := sync.Start(ctx); err != nil {
		return nil, err
	}
	return sync, nil
}

// Run drives background race housekeeping until ctx is done
func (s *Service) Run(ctx context.Context) {
	s.director.Run(ctx, s.cfg.SweepInterval)
}
