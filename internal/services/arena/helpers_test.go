package arena

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/typerace/internal/dependencies/mocks"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/mcoot/typerace/internal/storage/memory"
	"github.com/mcoot/typerace/internal/testutil"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// textSource always returns the same passage
type textSource string

func (t textSource) RandomText() (string, error) {
	return string(t), nil
}

// countingStore counts progress writes on top of a real store
type countingStore struct {
	storage.Storage
	updates atomic.Int32
}

func (c *countingStore) UpdateProgress(ctx context.Context, id model.ParticipantID, update model.ProgressUpdate) (*model.Participant, error) {
	c.updates.Add(1)
	return c.Storage.UpdateProgress(ctx, id, update)
}

type stallKey struct{}

// stallingStore parks one ListParticipants call made with a stall context
// until release is closed. With before set the call parks ahead of the
// read, otherwise it parks holding the rows it read.
type stallingStore struct {
	storage.Storage
	before  bool
	stalled chan struct{}
	release chan struct{}
}

func newStallingStore(inner storage.Storage, before bool) *stallingStore {
	return &stallingStore{
		Storage: inner,
		before:  before,
		stalled: make(chan struct{}),
		release: make(chan struct{}),
	}
}

// stall marks ctx so the next ListParticipants made with it parks
func (s *stallingStore) stall(ctx context.Context) context.Context {
	return context.WithValue(ctx, stallKey{}, true)
}

func (s *stallingStore) ListParticipants(ctx context.Context, sessionID model.SessionID) ([]*model.Participant, error) {
	if ctx.Value(stallKey{}) == nil {
		return s.Storage.ListParticipants(ctx, sessionID)
	}
	if s.before {
		close(s.stalled)
		<-s.release
		return s.Storage.ListParticipants(ctx, sessionID)
	}
	participants, err := s.Storage.ListParticipants(ctx, sessionID)
	close(s.stalled)
	<-s.release
	return participants, err
}

// baseSuite provides a memory store, fake clock and one ship
type baseSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *clockwork.FakeClock
	random  *mocks.MockRandom
	logger  *slog.Logger
	ctx     context.Context
}

func (s *baseSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(testStart)
	s.random = mocks.NewMockRandom()
	s.logger = testutil.NopLogger()
	s.ctx = context.Background()

	s.Require().NoError(s.storage.SaveShip(s.ctx, &model.Ship{ID: "pinisi", Name: "Pinisi"}))
}

func (s *baseSuite) createSession(status model.SessionStatus, text string) *model.Session {
	session := &model.Session{
		ID:        model.SessionID(fmt.Sprintf("session-%d", s.clock.Now().UnixNano())),
		Status:    status,
		RaceText:  text,
		CreatedAt: s.clock.Now(),
	}
	if status != model.SessionStatusWaiting {
		startedAt := s.clock.Now()
		session.StartedAt = &startedAt
		session.StartedBy = "admin@example.com"
	}
	s.Require().NoError(s.storage.CreateSession(s.ctx, session))
	s.clock.Advance(time.Millisecond)
	return session
}

func (s *baseSuite) seat(sessionID model.SessionID, email string, lane int) *model.Participant {
	p := &model.Participant{
		ID:         model.ParticipantID(fmt.Sprintf("%s-lane-%d", sessionID, lane)),
		SessionID:  sessionID,
		UserEmail:  email,
		UserID:     email,
		ShipID:     "pinisi",
		LaneNumber: lane,
		Accuracy:   100,
		CreatedAt:  s.clock.Now(),
		UpdatedAt:  s.clock.Now(),
	}
	s.Require().NoError(s.storage.InsertParticipant(s.ctx, p))
	return p
}

func (s *baseSuite) fill(sessionID model.SessionID, n int) []*model.Participant {
	participants := make([]*model.Participant, 0, n)
	for lane := 1; lane <= n; lane++ {
		participants = append(participants, s.seat(sessionID, fmt.Sprintf("racer%d@example.com", lane), lane))
	}
	return participants
}

func player(email string) model.Identity {
	return model.Identity{Email: email, DisplayName: email}
}

func admin() model.Identity {
	return model.Identity{Email: "admin@example.com", DisplayName: "admin", IsAdmin: true}
}

// viewRecorder collects views delivered by a synchronizer
type viewRecorder struct {
	mu    sync.Mutex
	views []View
}

func (r *viewRecorder) record(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *viewRecorder) all() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.views)
}

func (r *viewRecorder) last() (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}, false
	}
	return r.views[len(r.views)-1], true
}

// states returns the connection states seen, collapsing repeats
func (r *viewRecorder) states() []model.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []model.ConnectionState
	for _, v := range r.views {
		if len(states) == 0 || states[len(states)-1] != v.State {
			states = append(states, v.State)
		}
	}
	return states
}
