package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/mcoot/typerace/internal/storage/feed"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	sessions     map[model.SessionID]*model.Session
	participants map[model.ParticipantID]*model.Participant
	laneIndex    map[laneKey]model.ParticipantID
	seatIndex    map[seatKey]model.ParticipantID
	ships        map[model.ShipID]*model.Ship
	admins       map[string]*model.Admin
	entryTokens  map[model.EntryTokenID]*model.EntryToken

	// unavailable makes every operation fail, simulating a store outage
	unavailable bool

	broker *feed.Broker
}

type laneKey struct {
	sessionID model.SessionID
	lane      int
}

type seatKey struct {
	sessionID model.SessionID
	email     string
}

// New creates a new in-memory storage instance
func New() *Storage {
	return NewWithLogger(slog.New(slog.DiscardHandler))
}

// NewWithLogger creates a new in-memory storage instance that logs feed activity
func NewWithLogger(logger *slog.Logger) *Storage {
	return &Storage{
		sessions:     make(map[model.SessionID]*model.Session),
		participants: make(map[model.ParticipantID]*model.Participant),
		laneIndex:    make(map[laneKey]model.ParticipantID),
		seatIndex:    make(map[seatKey]model.ParticipantID),
		ships:        make(map[model.ShipID]*model.Ship),
		admins:       make(map[string]*model.Admin),
		entryTokens:  make(map[model.EntryTokenID]*model.EntryToken),
		broker:       feed.NewBroker(logger),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Test controls

// SetUnavailable simulates a store outage. While unavailable every
// operation returns model.ErrStoreUnavailable and the change feed fails.
func (s *Storage) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	s.unavailable = unavailable
	s.mu.Unlock()
	s.broker.SetHealthy(!unavailable)
}

// FailSubscriptions ends every subscription for a session with the given status
func (s *Storage) FailSubscriptions(sessionID model.SessionID, status model.FeedStatus) {
	s.broker.Fail(sessionID, status)
}

// SubscriberCount returns the number of live subscriptions for a session
func (s *Storage) SubscriberCount(sessionID model.SessionID) int {
	return s.broker.SubscriberCount(sessionID)
}

func (s *Storage) check() error {
	if s.unavailable {
		return model.ErrStoreUnavailable
	}
	return nil
}

// Session operations

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.sessions[session.ID] = session.Clone()
	s.publishSessionLocked(model.ChangeInsert, session)
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *Storage) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var sessions []*model.Session
	for _, session := range s.sessions {
		if session.Status == status {
			sessions = append(sessions, session.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *Storage) TransitionSession(ctx context.Context, id model.SessionID, t model.Transition) (*model.Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	if session.Status != t.From {
		return nil, model.ErrInvalidTransition
	}
	t.Apply(session)
	s.publishSessionLocked(model.ChangeUpdate, session)
	return session.Clone(), nil
}

// Participant operations

func (s *Storage) InsertParticipant(ctx context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if !model.IsValidLane(p.LaneNumber) {
		return model.ErrInvalidLane
	}
	if _, ok := s.sessions[p.SessionID]; !ok {
		return model.ErrSessionNotFound
	}
	seat := seatKey{sessionID: p.SessionID, email: p.UserEmail}
	if _, ok := s.seatIndex[seat]; ok {
		return model.ErrAlreadyJoined
	}
	lane := laneKey{sessionID: p.SessionID, lane: p.LaneNumber}
	if _, ok := s.laneIndex[lane]; ok {
		return model.ErrLaneTaken
	}

	s.participants[p.ID] = p.Clone()
	s.seatIndex[seat] = p.ID
	s.laneIndex[lane] = p.ID
	s.publishParticipantLocked(model.ChangeInsert, p)
	return nil
}

func (s *Storage) GetParticipant(ctx context.Context, id model.ParticipantID) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	p, ok := s.participants[id]
	if !ok {
		return nil, model.ErrParticipantNotFound
	}
	return p.Clone(), nil
}

func (s *Storage) FindParticipant(ctx context.Context, sessionID model.SessionID, email string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	id, ok := s.seatIndex[seatKey{sessionID: sessionID, email: email}]
	if !ok {
		return nil, model.ErrParticipantNotFound
	}
	return s.participants[id].Clone(), nil
}

func (s *Storage) ListParticipants(ctx context.Context, sessionID model.SessionID) ([]*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	participants := []*model.Participant{}
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			participants = append(participants, p.Clone())
		}
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].LaneNumber < participants[j].LaneNumber
	})
	return participants, nil
}

func (s *Storage) UpdateProgress(ctx context.Context, id model.ParticipantID, update model.ProgressUpdate) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	p, ok := s.participants[id]
	if !ok {
		return nil, model.ErrParticipantNotFound
	}
	if session, ok := s.sessions[p.SessionID]; !ok || session.Status != model.SessionStatusInProgress {
		return nil, model.ErrRaceNotInProgress
	}
	update.Apply(p)
	s.publishParticipantLocked(model.ChangeUpdate, p)
	return p.Clone(), nil
}

// Ship operations

func (s *Storage) SaveShip(ctx context.Context, ship *model.Ship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	c := *ship
	s.ships[ship.ID] = &c
	return nil
}

func (s *Storage) GetShip(ctx context.Context, id model.ShipID) (*model.Ship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	ship, ok := s.ships[id]
	if !ok {
		return nil, model.ErrShipNotFound
	}
	c := *ship
	return &c, nil
}

func (s *Storage) ListShips(ctx context.Context) ([]*model.Ship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	ships := make([]*model.Ship, 0, len(s.ships))
	for _, ship := range s.ships {
		c := *ship
		ships = append(ships, &c)
	}
	sort.Slice(ships, func(i, j int) bool {
		return ships[i].Name < ships[j].Name
	})
	return ships, nil
}

// Admin operations

func (s *Storage) SaveAdmin(ctx context.Context, admin *model.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	c := *admin
	s.admins[admin.Email] = &c
	return nil
}

func (s *Storage) IsAdmin(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return false, err
	}
	_, ok := s.admins[email]
	return ok, nil
}

func (s *Storage) ListAdmins(ctx context.Context) ([]*model.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	admins := make([]*model.Admin, 0, len(s.admins))
	for _, admin := range s.admins {
		c := *admin
		admins = append(admins, &c)
	}
	sort.Slice(admins, func(i, j int) bool {
		return admins[i].CreatedAt.Before(admins[j].CreatedAt)
	})
	return admins, nil
}

func (s *Storage) DeleteAdmin(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.admins[email]; !ok {
		return model.ErrAdminNotFound
	}
	delete(s.admins, email)
	return nil
}

// Entry token operations

func (s *Storage) SaveEntryToken(ctx context.Context, token *model.EntryToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	c := *token
	s.entryTokens[token.ID] = &c
	return nil
}

func (s *Storage) GetEntryToken(ctx context.Context, id model.EntryTokenID) (*model.EntryToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	token, ok := s.entryTokens[id]
	if !ok {
		return nil, model.ErrEntryTokenNotFound
	}
	c := *token
	return &c, nil
}

func (s *Storage) ListEntryTokens(ctx context.Context) ([]*model.EntryToken, error) {
	return s.listEntryTokens(func(*model.EntryToken) bool { return true })
}

func (s *Storage) ListEntryTokensForUser(ctx context.Context, userID string) ([]*model.EntryToken, error) {
	return s.listEntryTokens(func(t *model.EntryToken) bool { return t.UserID == userID })
}

func (s *Storage) listEntryTokens(match func(*model.EntryToken) bool) ([]*model.EntryToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	tokens := []*model.EntryToken{}
	for _, token := range s.entryTokens {
		if match(token) {
			c := *token
			tokens = append(tokens, &c)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Storage) DeleteEntryToken(ctx context.Context, id model.EntryTokenID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.entryTokens[id]; !ok {
		return model.ErrEntryTokenNotFound
	}
	delete(s.entryTokens, id)
	return nil
}

// Change feed

func (s *Storage) Subscribe(ctx context.Context, sessionID model.SessionID) (storage.Subscription, error) {
	s.mu.RLock()
	err := s.check()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.broker.Subscribe(ctx, sessionID)
}

func (s *Storage) publishSessionLocked(op model.ChangeOp, session *model.Session) {
	s.broker.Publish(model.ChangeEvent{
		Table:     model.TableSessions,
		Op:        op,
		SessionID: session.ID,
		Session:   session.Clone(),
		At:        time.Now(),
	})
}

func (s *Storage) publishParticipantLocked(op model.ChangeOp, p *model.Participant) {
	s.broker.Publish(model.ChangeEvent{
		Table:       model.TableParticipants,
		Op:          op,
		SessionID:   p.SessionID,
		Participant: p.Clone(),
		At:          time.Now(),
	})
}
