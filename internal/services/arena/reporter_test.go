package arena

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/mcoot/typerace/internal/testutil"
)

// flakyStore fails progress writes while failing is set
type flakyStore struct {
	storage.Storage
	failing atomic.Bool
}

func (f *flakyStore) UpdateProgress(ctx context.Context, id model.ParticipantID, update model.ProgressUpdate) (*model.Participant, error) {
	if f.failing.Load() {
		return nil, errors.Join(model.ErrStoreUnavailable, errors.New("connection reset"))
	}
	return f.Storage.UpdateProgress(ctx, id, update)
}

type ReporterSuite struct {
	baseSuite
	store    *countingStore
	director *Director
}

func TestReporterSuite(t *testing.T) {
	suite.Run(t, new(ReporterSuite))
}

func (s *ReporterSuite) SetupTest() {
	s.baseSuite.SetupTest()
	s.store = &countingStore{Storage: s.storage}
	s.director = NewDirector(s.storage, s.clock, s.logger, 10*time.Minute)
}

func (s *ReporterSuite) newReporter(p *model.Participant) *Reporter {
	return NewReporter(s.store, s.director, s.clock, s.logger, p)
}

func (s *ReporterSuite) stored(id model.ParticipantID) *model.Participant {
	p, err := s.storage.GetParticipant(s.ctx, id)
	s.Require().NoError(err)
	return p
}

func (s *ReporterSuite) TestProgressWrittenPerKeystroke() {
	session := s.createSession(model.SessionStatusInProgress, "cat dog")
	p := s.seat(session.ID, "a@example.com", 1)
	r := s.newReporter(p)

	expected := []int{14, 29, 43, 57, 71, 86, 100}
	for i, key := range "cat dog" {
		s.clock.Advance(time.Second)
		snap, err := r.OnKeystroke(s.ctx, key)
		s.Require().NoError(err)
		s.True(snap.Accepted)
		s.Equal(expected[i], snap.Progress)

		stored := s.stored(p.ID)
		s.Equal(expected[i], stored.Progress)
		s.Equal(i+1, int(s.store.updates.Load()))
		if i < len(expected)-1 {
			s.Nil(stored.FinishedAt)
		}
	}

	stored := s.stored(p.ID)
	s.Require().NotNil(stored.FinishedAt)
	s.Equal(s.clock.Now(), *stored.FinishedAt)
	s.Equal(100, stored.Accuracy)
	s.Equal(12, stored.WPM)
	s.True(r.Finished())
}

func (s *ReporterSuite) TestMismatchIsNotWritten() {
	session := s.createSession(model.SessionStatusInProgress, "cat")
	p := s.seat(session.ID, "a@example.com", 1)
	r := s.newReporter(p)

	snap, err := r.OnKeystroke(s.ctx, 'x')
	s.Require().NoError(err)
	s.False(snap.Accepted)
	s.Equal(1, snap.Errors)
	s.Equal(0, snap.Progress)
	s.Equal(int32(0), s.store.updates.Load())

	snap, err = r.OnKeystroke(s.ctx, 'c')
	s.Require().NoError(err)
	s.True(snap.Accepted)
	s.Equal(33, snap.Progress)
	s.Equal(50, snap.Accuracy)
	s.Equal(int32(1), s.store.updates.Load())
	s.Equal(50, s.stored(p.ID).Accuracy)
}

func (s *ReporterSuite) TestIgnoredBeforeStart() {
	session := s.createSession(model.SessionStatusWaiting, "cat")
	p := s.seat(session.ID, "a@example.com", 1)
	r := s.newReporter(p)

	_, err := r.OnKeystroke(s.ctx, 'c')
	s.ErrorIs(err, model.ErrRaceNotInProgress)
	s.Equal(int32(0), s.store.updates.Load())
	s.Equal(0, s.stored(p.ID).Progress)
}

func (s *ReporterSuite) TestPicksUpStartFromStore() {
	session := s.createSession(model.SessionStatusWaiting, "cat")
	p := s.seat(session.ID, "a@example.com", 1)
	r := s.newReporter(p)
	r.SetSession(session)

	startedAt := s.clock.Now()
	_, err := s.storage.TransitionSession(s.ctx, session.ID, model.Transition{
		From:      model.SessionStatusWaiting,
		To:        model.SessionStatusInProgress,
		StartedBy: "admin@example.com",
		StartedAt: &startedAt,
	})
	s.Require().NoError(err)

	snap, err := r.OnKeystroke(s.ctx, 'c')
	s.Require().NoError(err)
	s.Equal(33, snap.Progress)
	s.Equal(33, s.stored(p.ID).Progress)
}

func (s *ReporterSuite) TestIgnoredAfterCompletion() {
	session := s.createSession(model.SessionStatusCompleted, "cat")
	p := s.seat(session.ID, "a@example.com", 1)
	r := s.newReporter(p)

	_, err := r.OnKeystroke(s.ctx, 'c')
	s.ErrorIs(err, model.ErrRaceNotInProgress)
	s.Equal(int32(0), s.store.updates.Load())
}

func (s *ReporterSuite) TestSetSessionIgnoresStaleImage() {
	session := s.createSession(model.SessionStatusInProgress, "cat")
	p := s.seat(session.ID, "a@example.com", 1)
	r := s.newReporter(p)
	r.SetSession(session)

	stale := session.Clone()
	stale.Status = model.SessionStatusWaiting
	stale.StartedAt = nil
	r.SetSession(stale)

	_, err := r.OnKeystroke(s.ctx, 'c')
	s.NoError(err)
}

func (s *ReporterSuite) TestWriteFailureDoesNotStopTyping() {
	session := s.createSession(model.SessionStatusInProgress, "cat dog")
	p := s.seat(session.ID, "a@example.com", 1)
	flaky := &flakyStore{Storage: s.storage}
	logs, logger := testutil.NewLogRecorder()
	r := NewReporter(flaky, s.director, s.clock, logger, p)

	_, err := r.OnKeystroke(s.ctx, 'c')
	s.Require().NoError(err)

	flaky.failing.Store(true)
	snap, err := r.OnKeystroke(s.ctx, 'a')
	s.Require().NoError(err)
	s.Equal(29, snap.Progress)
	s.Equal(14, s.stored(p.ID).Progress)
	s.Equal([]string{"failed to persist progress"}, logs.Messages(slog.LevelWarn))

	flaky.failing.Store(false)
	_, err = r.OnKeystroke(s.ctx, 't')
	s.Require().NoError(err)
	s.Equal(43, s.stored(p.ID).Progress)
}

func (s *ReporterSuite) TestFailedFinishIsRetried() {
	session := s.createSession(model.SessionStatusInProgress, "ab")
	p := s.seat(session.ID, "a@example.com", 1)
	flaky := &flakyStore{Storage: s.storage}
	r := NewReporter(flaky, s.director, s.clock, s.logger, p)

	_, err := r.OnKeystroke(s.ctx, 'a')
	s.Require().NoError(err)

	flaky.failing.Store(true)
	s.clock.Advance(time.Second)
	finishedAt := s.clock.Now()
	snap, err := r.OnKeystroke(s.ctx, 'b')
	s.Require().NoError(err)
	s.True(snap.Finished)
	s.False(r.Finished())
	s.Nil(s.stored(p.ID).FinishedAt)

	flaky.failing.Store(false)
	s.clock.Advance(time.Second)
	r.Flush(s.ctx)

	s.True(r.Finished())
	stored := s.stored(p.ID)
	s.Require().NotNil(stored.FinishedAt)
	s.Equal(finishedAt, *stored.FinishedAt)
	s.Equal(100, stored.Progress)
}

func (s *ReporterSuite) TestFailedFinishRetriedOnNextKeystroke() {
	session := s.createSession(model.SessionStatusInProgress, "a")
	p := s.seat(session.ID, "a@example.com", 1)
	flaky := &flakyStore{Storage: s.storage}
	r := NewReporter(flaky, s.director, s.clock, s.logger, p)

	flaky.failing.Store(true)
	_, err := r.OnKeystroke(s.ctx, 'a')
	s.Require().NoError(err)
	s.False(r.Finished())

	flaky.failing.Store(false)
	_, err = r.OnKeystroke(s.ctx, 'z')
	s.Require().NoError(err)
	s.True(r.Finished())
	s.NotNil(s.stored(p.ID).FinishedAt)
}

func (s *ReporterSuite) TestKeystrokesAfterFinishAreNotWritten() {
	session := s.createSession(model.SessionStatusInProgress, "ab")
	p := s.seat(session.ID, "a@example.com", 1)
	s.seat(session.ID, "b@example.com", 2)
	r := s.newReporter(p)

	for _, key := range "ab" {
		_, err := r.OnKeystroke(s.ctx, key)
		s.Require().NoError(err)
	}
	s.Equal(int32(2), s.store.updates.Load())

	snap, err := r.OnKeystroke(s.ctx, 'c')
	s.Require().NoError(err)
	s.True(snap.Finished)
	s.Equal(100, snap.Progress)
	s.Equal(int32(2), s.store.updates.Load())
}

func (s *ReporterSuite) TestLastFinisherCompletesRace() {
	session := s.createSession(model.SessionStatusInProgress, "ab")
	first := s.newReporter(s.seat(session.ID, "a@example.com", 1))
	second := s.newReporter(s.seat(session.ID, "b@example.com", 2))

	for _, key := range "ab" {
		_, err := first.OnKeystroke(s.ctx, key)
		s.Require().NoError(err)
	}
	stored, err := s.storage.GetSession(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(model.SessionStatusInProgress, stored.Status)

	for _, key := range "ab" {
		_, err := second.OnKeystroke(s.ctx, key)
		s.Require().NoError(err)
	}
	stored, err = s.storage.GetSession(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(model.SessionStatusCompleted, stored.Status)
	s.NotNil(stored.CompletedAt)
}

func (s *ReporterSuite) TestResumesFinishedParticipant() {
	session := s.createSession(model.SessionStatusInProgress, "ab")
	p := s.seat(session.ID, "a@example.com", 1)
	finishedAt := s.clock.Now()
	updated, err := s.storage.UpdateProgress(s.ctx, p.ID, model.ProgressUpdate{
		Progress: 100, WPM: 40, Accuracy: 90, FinishedAt: &finishedAt, UpdatedAt: finishedAt,
	})
	s.Require().NoError(err)

	r := s.newReporter(updated)
	s.True(r.Finished())

	snap, err := r.OnKeystroke(s.ctx, 'a')
	s.Require().NoError(err)
	s.Equal(100, snap.Progress)
	s.Equal(40, snap.WPM)
	s.Equal(int32(0), s.store.updates.Load())
}
