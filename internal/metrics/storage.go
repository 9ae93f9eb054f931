package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// Storage decorates a store with operation metrics
type Storage struct {
	storage.Storage
	metrics *Metrics
}

var _ storage.Storage = (*Storage)(nil)

// InstrumentStorage wraps a store so every race operation is counted and timed
func (m *Metrics) InstrumentStorage(s storage.Storage) *Storage {
	return &Storage{Storage: s, metrics: m}
}

func (s *Storage) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.storeOps.WithLabelValues(op, result).Inc()
	s.metrics.storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	start := time.Now()
	err := s.Storage.CreateSession(ctx, session)
	s.observe("create_session", start, err)
	return err
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	start := time.Now()
	session, err := s.Storage.GetSession(ctx, id)
	s.observe("get_session", start, err)
	return session, err
}

func (s *Storage) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	start := time.Now()
	sessions, err := s.Storage.ListSessionsByStatus(ctx, status)
	s.observe("list_sessions", start, err)
	return sessions, err
}

func (s *Storage) TransitionSession(ctx context.Context, id model.SessionID, t model.Transition) (*model.Session, error) {
	start := time.Now()
	session, err := s.Storage.TransitionSession(ctx, id, t)
	s.observe("transition_session", start, err)
	if err == nil {
		s.metrics.transitions.WithLabelValues(string(t.To)).Inc()
	}
	return session, err
}

func (s *Storage) InsertParticipant(ctx context.Context, p *model.Participant) error {
	start := time.Now()
	err := s.Storage.InsertParticipant(ctx, p)
	s.observe("insert_participant", start, err)
	return err
}

func (s *Storage) FindParticipant(ctx context.Context, sessionID model.SessionID, email string) (*model.Participant, error) {
	start := time.Now()
	p, err := s.Storage.FindParticipant(ctx, sessionID, email)
	s.observe("find_participant", start, err)
	return p, err
}

func (s *Storage) ListParticipants(ctx context.Context, sessionID model.SessionID) ([]*model.Participant, error) {
	start := time.Now()
	participants, err := s.Storage.ListParticipants(ctx, sessionID)
	s.observe("list_participants", start, err)
	return participants, err
}

func (s *Storage) UpdateProgress(ctx context.Context, id model.ParticipantID, update model.ProgressUpdate) (*model.Participant, error) {
	start := time.Now()
	p, err := s.Storage.UpdateProgress(ctx, id, update)
	s.observe("update_progress", start, err)
	if err == nil {
		s.metrics.progressWrites.WithLabelValues(strconv.FormatBool(update.FinishedAt != nil)).Inc()
	}
	return p, err
}

func (s *Storage) Subscribe(ctx context.Context, sessionID model.SessionID) (storage.Subscription, error) {
	sub, err := s.Storage.Subscribe(ctx, sessionID)
	if err != nil {
		s.metrics.subscriptions.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.subscriptions.WithLabelValues("ok").Inc()
	s.metrics.subscriptionsNow.Inc()
	return &subscription{Subscription: sub, gauge: s.metrics.subscriptionsNow}, nil
}

// subscription decrements the open gauge exactly once on Close
type subscription struct {
	storage.Subscription
	gauge interface{ Dec() }
	once  sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(s.gauge.Dec)
	return s.Subscription.Close()
}
