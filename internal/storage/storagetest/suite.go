// Package storagetest holds the behaviour every storage backend must share.
// Backend packages run it against their own implementation.
package storagetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/stretchr/testify/suite"
)

// Suite exercises a storage.Storage implementation
type Suite struct {
	suite.Suite

	// NewStorage returns a fresh, empty store for each test
	NewStorage func() storage.Storage

	// EventTimeout bounds how long feed tests wait for delivery
	EventTimeout time.Duration

	Store storage.Storage
	Ctx   context.Context
}

func (s *Suite) SetupTest() {
	s.Ctx = context.Background()
	s.Store = s.NewStorage()
	if s.EventTimeout == 0 {
		s.EventTimeout = 2 * time.Second
	}
}

func (s *Suite) newSession(status model.SessionStatus, createdAt time.Time) *model.Session {
	session := &model.Session{
		ID:        model.SessionID(uuid.NewString()),
		Status:    status,
		RaceText:  "cat dog",
		CreatedAt: createdAt,
	}
	s.Require().NoError(s.Store.CreateSession(s.Ctx, session))
	return session
}

func (s *Suite) newParticipant(sessionID model.SessionID, email string, lane int) *model.Participant {
	now := time.Now().UTC()
	return &model.Participant{
		ID:         model.ParticipantID(uuid.NewString()),
		SessionID:  sessionID,
		UserEmail:  email,
		UserID:     email,
		ShipID:     "ship-1",
		LaneNumber: lane,
		Accuracy:   100,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Session tests

func (s *Suite) TestCreateAndGetSession() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())

	retrieved, err := s.Store.GetSession(s.Ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(session.ID, retrieved.ID)
	s.Equal(model.SessionStatusWaiting, retrieved.Status)
	s.Equal("cat dog", retrieved.RaceText)
	s.Nil(retrieved.StartedAt)
}

func (s *Suite) TestGetSessionNotFound() {
	_, err := s.Store.GetSession(s.Ctx, "nonexistent")
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *Suite) TestListSessionsByStatusOldestFirst() {
	base := time.Now().UTC().Truncate(time.Millisecond)
	newer := s.newSession(model.SessionStatusWaiting, base)
	older := s.newSession(model.SessionStatusWaiting, base.Add(-time.Minute))
	s.newSession(model.SessionStatusInProgress, base.Add(-time.Hour))

	sessions, err := s.Store.ListSessionsByStatus(s.Ctx, model.SessionStatusWaiting)
	s.Require().NoError(err)
	s.Require().Len(sessions, 2)
	s.Equal(older.ID, sessions[0].ID)
	s.Equal(newer.ID, sessions[1].ID)
}

func (s *Suite) TestTransitionSession() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	startedAt := time.Now().UTC().Truncate(time.Millisecond)

	updated, err := s.Store.TransitionSession(s.Ctx, session.ID, model.Transition{
		From:      model.SessionStatusWaiting,
		To:        model.SessionStatusInProgress,
		StartedBy: "admin@example.com",
		StartedAt: &startedAt,
	})
	s.Require().NoError(err)
	s.Equal(model.SessionStatusInProgress, updated.Status)
	s.Equal("admin@example.com", updated.StartedBy)
	s.Require().NotNil(updated.StartedAt)
	s.True(startedAt.Equal(*updated.StartedAt))

	retrieved, err := s.Store.GetSession(s.Ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(model.SessionStatusInProgress, retrieved.Status)
}

func (s *Suite) TestTransitionSessionStaleStatus() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	t := model.Transition{From: model.SessionStatusWaiting, To: model.SessionStatusInProgress}

	_, err := s.Store.TransitionSession(s.Ctx, session.ID, t)
	s.Require().NoError(err)

	// The second compare-and-set sees in_progress, not waiting
	_, err = s.Store.TransitionSession(s.Ctx, session.ID, t)
	s.ErrorIs(err, model.ErrInvalidTransition)
}

func (s *Suite) TestTransitionSessionRejectsBackwards() {
	session := s.newSession(model.SessionStatusInProgress, time.Now().UTC())

	_, err := s.Store.TransitionSession(s.Ctx, session.ID, model.Transition{
		From: model.SessionStatusInProgress,
		To:   model.SessionStatusWaiting,
	})
	s.ErrorIs(err, model.ErrInvalidTransition)
}

func (s *Suite) TestTransitionSessionNotFound() {
	_, err := s.Store.TransitionSession(s.Ctx, "nonexistent", model.Transition{
		From: model.SessionStatusWaiting,
		To:   model.SessionStatusInProgress,
	})
	s.ErrorIs(err, model.ErrSessionNotFound)
}

// Participant tests

func (s *Suite) TestInsertAndListParticipants() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, "b@example.com", 2)))
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, "a@example.com", 1)))

	participants, err := s.Store.ListParticipants(s.Ctx, session.ID)
	s.Require().NoError(err)
	s.Require().Len(participants, 2)
	s.Equal(1, participants[0].LaneNumber)
	s.Equal("a@example.com", participants[0].UserEmail)
	s.Equal(2, participants[1].LaneNumber)
}

func (s *Suite) TestListParticipantsEmpty() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())

	participants, err := s.Store.ListParticipants(s.Ctx, session.ID)
	s.Require().NoError(err)
	s.Empty(participants)
}

func (s *Suite) TestInsertParticipantLaneTaken() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, "a@example.com", 1)))

	err := s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, "b@example.com", 1))
	s.ErrorIs(err, model.ErrLaneTaken)

	participants, _ := s.Store.ListParticipants(s.Ctx, session.ID)
	s.Len(participants, 1)
}

func (s *Suite) TestInsertParticipantAlreadyJoined() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, "a@example.com", 1)))

	err := s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, "a@example.com", 2))
	s.ErrorIs(err, model.ErrAlreadyJoined)

	participants, _ := s.Store.ListParticipants(s.Ctx, session.ID)
	s.Len(participants, 1)
}

func (s *Suite) TestSameLaneInDifferentSessions() {
	first := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	second := s.newSession(model.SessionStatusWaiting, time.Now().UTC())

	s.NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(first.ID, "a@example.com", 1)))
	s.NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(second.ID, "a@example.com", 1)))
}

func (s *Suite) TestConcurrentInsertsSameLane() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := s.newParticipant(session.ID, uuid.NewString()+"@example.com", 3)
			errs[i] = s.Store.InsertParticipant(s.Ctx, p)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(errors.Is(err, model.ErrLaneTaken), "unexpected error: %v", err)
	}
	s.Equal(1, succeeded)
}

func (s *Suite) TestFindParticipant() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	p := s.newParticipant(session.ID, "a@example.com", 4)
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, p))

	found, err := s.Store.FindParticipant(s.Ctx, session.ID, "a@example.com")
	s.Require().NoError(err)
	s.Equal(p.ID, found.ID)
	s.Equal(4, found.LaneNumber)

	_, err = s.Store.FindParticipant(s.Ctx, session.ID, "nobody@example.com")
	s.ErrorIs(err, model.ErrParticipantNotFound)
}

func (s *Suite) TestGetParticipantNotFound() {
	_, err := s.Store.GetParticipant(s.Ctx, "nonexistent")
	s.ErrorIs(err, model.ErrParticipantNotFound)
}

func (s *Suite) TestUpdateProgress() {
	session := s.newSession(model.SessionStatusInProgress, time.Now().UTC())
	p := s.newParticipant(session.ID, "a@example.com", 1)
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, p))

	updated, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{
		Progress:  43,
		WPM:       60,
		Accuracy:  90,
		UpdatedAt: time.Now().UTC(),
	})
	s.Require().NoError(err)
	s.Equal(43, updated.Progress)
	s.Equal(60, updated.WPM)
	s.Equal(90, updated.Accuracy)
	s.Nil(updated.FinishedAt)
}

func (s *Suite) TestUpdateProgressNeverDecreases() {
	session := s.newSession(model.SessionStatusInProgress, time.Now().UTC())
	p := s.newParticipant(session.ID, "a@example.com", 1)
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, p))

	_, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{Progress: 71, UpdatedAt: time.Now().UTC()})
	s.Require().NoError(err)

	updated, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{Progress: 57, UpdatedAt: time.Now().UTC()})
	s.Require().NoError(err)
	s.Equal(71, updated.Progress)
}

func (s *Suite) TestUpdateProgressKeepsFirstFinish() {
	session := s.newSession(model.SessionStatusInProgress, time.Now().UTC())
	p := s.newParticipant(session.ID, "a@example.com", 1)
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, p))

	first := time.Now().UTC().Truncate(time.Millisecond)
	later := first.Add(time.Minute)

	_, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{Progress: 100, FinishedAt: &first, UpdatedAt: first})
	s.Require().NoError(err)
	updated, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{Progress: 100, FinishedAt: &later, UpdatedAt: later})
	s.Require().NoError(err)

	s.Require().NotNil(updated.FinishedAt)
	s.True(first.Equal(*updated.FinishedAt))
}

func (s *Suite) TestUpdateProgressOutsideRunningRace() {
	for _, status := range []model.SessionStatus{model.SessionStatusWaiting, model.SessionStatusCompleted} {
		session := s.newSession(status, time.Now().UTC())
		p := s.newParticipant(session.ID, "a@example.com", 1)
		s.Require().NoError(s.Store.InsertParticipant(s.Ctx, p))

		finishedAt := time.Now().UTC()
		_, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{
			Progress: 100, FinishedAt: &finishedAt, UpdatedAt: finishedAt,
		})
		s.ErrorIs(err, model.ErrRaceNotInProgress, "status %s", status)

		stored, err := s.Store.GetParticipant(s.Ctx, p.ID)
		s.Require().NoError(err)
		s.Zero(stored.Progress)
		s.Nil(stored.FinishedAt)
	}
}

func (s *Suite) TestUpdateProgressAfterCompletion() {
	session := s.newSession(model.SessionStatusInProgress, time.Now().UTC())
	p := s.newParticipant(session.ID, "a@example.com", 1)
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, p))

	_, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{Progress: 14, UpdatedAt: time.Now().UTC()})
	s.Require().NoError(err)

	completedAt := time.Now().UTC()
	_, err = s.Store.TransitionSession(s.Ctx, session.ID, model.Transition{
		From:        model.SessionStatusInProgress,
		To:          model.SessionStatusCompleted,
		CompletedAt: &completedAt,
	})
	s.Require().NoError(err)

	_, err = s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{Progress: 29, UpdatedAt: time.Now().UTC()})
	s.ErrorIs(err, model.ErrRaceNotInProgress)

	stored, err := s.Store.GetParticipant(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(14, stored.Progress)
}

func (s *Suite) TestInsertParticipantOutsideLanePool() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())

	for _, lane := range []int{0, -1, model.LanePoolSize + 1} {
		err := s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, uuid.NewString()+"@example.com", lane))
		s.ErrorIs(err, model.ErrInvalidLane, "lane %d", lane)
	}
	s.NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(session.ID, "last@example.com", model.LanePoolSize)))

	participants, err := s.Store.ListParticipants(s.Ctx, session.ID)
	s.Require().NoError(err)
	s.Len(participants, 1)
}

func (s *Suite) TestUpdateProgressNotFound() {
	_, err := s.Store.UpdateProgress(s.Ctx, "nonexistent", model.ProgressUpdate{Progress: 10})
	s.ErrorIs(err, model.ErrParticipantNotFound)
}

// Ship tests

func (s *Suite) TestShips() {
	s.Require().NoError(s.Store.SaveShip(s.Ctx, &model.Ship{ID: "ship-2", Name: "Zephyr"}))
	s.Require().NoError(s.Store.SaveShip(s.Ctx, &model.Ship{ID: "ship-1", Name: "Aurora", ImageURL: "/ships/aurora.png"}))

	ship, err := s.Store.GetShip(s.Ctx, "ship-1")
	s.Require().NoError(err)
	s.Equal("Aurora", ship.Name)
	s.Equal("/ships/aurora.png", ship.ImageURL)

	ships, err := s.Store.ListShips(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(ships, 2)
	s.Equal("Aurora", ships[0].Name)
	s.Equal("Zephyr", ships[1].Name)

	_, err = s.Store.GetShip(s.Ctx, "nonexistent")
	s.ErrorIs(err, model.ErrShipNotFound)
}

// Admin tests

func (s *Suite) TestAdmins() {
	now := time.Now().UTC()
	s.Require().NoError(s.Store.SaveAdmin(s.Ctx, &model.Admin{Email: "root@example.com", CreatedAt: now}))

	isAdmin, err := s.Store.IsAdmin(s.Ctx, "root@example.com")
	s.Require().NoError(err)
	s.True(isAdmin)

	isAdmin, err = s.Store.IsAdmin(s.Ctx, "player@example.com")
	s.Require().NoError(err)
	s.False(isAdmin)

	admins, err := s.Store.ListAdmins(s.Ctx)
	s.Require().NoError(err)
	s.Len(admins, 1)

	s.Require().NoError(s.Store.DeleteAdmin(s.Ctx, "root@example.com"))
	s.ErrorIs(s.Store.DeleteAdmin(s.Ctx, "root@example.com"), model.ErrAdminNotFound)
}

// Entry token tests

func (s *Suite) TestEntryTokens() {
	now := time.Now().UTC()
	token := &model.EntryToken{ID: "token-1", UserID: "racer1", TokenHash: "hash", IsActive: true, CreatedAt: now}
	other := &model.EntryToken{ID: "token-2", UserID: "racer2", TokenHash: "hash2", IsActive: true, CreatedAt: now.Add(time.Second)}
	s.Require().NoError(s.Store.SaveEntryToken(s.Ctx, token))
	s.Require().NoError(s.Store.SaveEntryToken(s.Ctx, other))

	retrieved, err := s.Store.GetEntryToken(s.Ctx, "token-1")
	s.Require().NoError(err)
	s.Equal("racer1", retrieved.UserID)
	s.True(retrieved.IsActive)

	forUser, err := s.Store.ListEntryTokensForUser(s.Ctx, "racer2")
	s.Require().NoError(err)
	s.Require().Len(forUser, 1)
	s.Equal(model.EntryTokenID("token-2"), forUser[0].ID)

	token.IsActive = false
	s.Require().NoError(s.Store.SaveEntryToken(s.Ctx, token))
	retrieved, err = s.Store.GetEntryToken(s.Ctx, "token-1")
	s.Require().NoError(err)
	s.False(retrieved.IsActive)

	all, err := s.Store.ListEntryTokens(s.Ctx)
	s.Require().NoError(err)
	s.Len(all, 2)

	s.Require().NoError(s.Store.DeleteEntryToken(s.Ctx, "token-1"))
	_, err = s.Store.GetEntryToken(s.Ctx, "token-1")
	s.ErrorIs(err, model.ErrEntryTokenNotFound)
	s.ErrorIs(s.Store.DeleteEntryToken(s.Ctx, "token-1"), model.ErrEntryTokenNotFound)
}

// Change feed tests

func (s *Suite) subscribe(sessionID model.SessionID) storage.Subscription {
	sub, err := s.Store.Subscribe(s.Ctx, sessionID)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = sub.Close() })

	select {
	case status := <-sub.Status():
		s.Require().Equal(model.FeedSubscribed, status)
	case <-time.After(s.EventTimeout):
		s.FailNow("timed out waiting for SUBSCRIBED")
	}
	return sub
}

func (s *Suite) nextEvent(sub storage.Subscription) model.ChangeEvent {
	select {
	case event, ok := <-sub.Events():
		s.Require().True(ok, "event channel closed")
		return event
	case <-time.After(s.EventTimeout):
		s.FailNow("timed out waiting for change event")
	}
	return model.ChangeEvent{}
}

func (s *Suite) TestFeedDeliversParticipantChanges() {
	session := s.newSession(model.SessionStatusInProgress, time.Now().UTC())
	sub := s.subscribe(session.ID)

	p := s.newParticipant(session.ID, "a@example.com", 1)
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, p))

	event := s.nextEvent(sub)
	s.Equal(model.TableParticipants, event.Table)
	s.Equal(model.ChangeInsert, event.Op)
	s.Equal(session.ID, event.SessionID)
	s.Require().NotNil(event.Participant)
	s.Equal(p.ID, event.Participant.ID)

	_, err := s.Store.UpdateProgress(s.Ctx, p.ID, model.ProgressUpdate{Progress: 14, UpdatedAt: time.Now().UTC()})
	s.Require().NoError(err)

	event = s.nextEvent(sub)
	s.Equal(model.ChangeUpdate, event.Op)
	s.Require().NotNil(event.Participant)
	s.Equal(14, event.Participant.Progress)
}

func (s *Suite) TestFeedDeliversSessionChanges() {
	session := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	sub := s.subscribe(session.ID)

	_, err := s.Store.TransitionSession(s.Ctx, session.ID, model.Transition{
		From: model.SessionStatusWaiting,
		To:   model.SessionStatusInProgress,
	})
	s.Require().NoError(err)

	event := s.nextEvent(sub)
	s.Equal(model.TableSessions, event.Table)
	s.Equal(model.ChangeUpdate, event.Op)
	s.Require().NotNil(event.Session)
	s.Equal(model.SessionStatusInProgress, event.Session.Status)
}

func (s *Suite) TestFeedCarriesLongRaceText() {
	id := model.SessionID(uuid.NewString())
	sub := s.subscribe(id)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 300)
	s.Require().NoError(s.Store.CreateSession(s.Ctx, &model.Session{
		ID:        id,
		Status:    model.SessionStatusWaiting,
		RaceText:  text,
		CreatedAt: time.Now().UTC(),
	}))

	event := s.nextEvent(sub)
	s.Equal(model.TableSessions, event.Table)
	s.Equal(id, event.SessionID)

	stored, err := s.Store.GetSession(s.Ctx, id)
	s.Require().NoError(err)
	s.Equal(text, stored.RaceText)
}

func (s *Suite) TestFeedIsScopedToSession() {
	watched := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	other := s.newSession(model.SessionStatusWaiting, time.Now().UTC())
	sub := s.subscribe(watched.ID)

	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(other.ID, "x@example.com", 1)))
	s.Require().NoError(s.Store.InsertParticipant(s.Ctx, s.newParticipant(watched.ID, "a@example.com", 1)))

	event := s.nextEvent(sub)
	s.Equal(watched.ID, event.SessionID)
	s.Equal("a@example.com", event.Participant.UserEmail)
}
