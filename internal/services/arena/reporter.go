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

// Completer evaluates the completion rule after a racer finishes
type Completer interface {
	CompleteIfFinished(ctx context.Context, sessionID model.SessionID) (bool, error)
}

// Reporter turns one racer's keystrokes into progress writes on their own
// participant row. Keystrokes are serialised so writes land in order.
type Reporter struct {
	storage   storage.Storage
	completer Completer
	clock     clock.Clock
	logger    *slog.Logger

	participantID model.ParticipantID
	sessionID     model.SessionID

	mu       sync.Mutex
	session  *model.Session
	tracker  *typing.Tracker
	finished bool            // Finish time persisted
	final    typing.Snapshot // Scores at the finish

	// pendingFinish holds a finishing write that failed and must be retried
	pendingFinish *model.ProgressUpdate
}

// NewReporter creates a reporter for a seated participant
func NewReporter(storage storage.Storage, completer Completer, clock clock.Clock, logger *slog.Logger, participant *model.Participant) *Reporter {
	return &Reporter{
		storage:       storage,
		completer:     completer,
		clock:         clock,
		participantID: participant.ID,
		sessionID:     participant.SessionID,
		finished:      participant.IsFinished(),
		final: typing.Snapshot{
			Progress: participant.Progress,
			WPM:      participant.WPM,
			Accuracy: participant.Accuracy,
			Finished: participant.IsFinished(),
		},
		logger: logger.With(
			slog.String("component", "reporter"),
			slog.String("session_id", string(participant.SessionID)),
			slog.String("participant_id", string(participant.ID)),
		),
	}
}

// ParticipantID returns the participant this reporter writes for
func (r *Reporter) ParticipantID() model.ParticipantID {
	return r.participantID
}

// Finished returns true once the finish time has been persisted
func (r *Reporter) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// SetSession feeds the latest session image from a live view. The tracker
// starts once the session is in progress, timed from the session's start.
func (r *Reporter) SetSession(session *model.Session) {
	if session == nil || session.ID != r.sessionID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setSessionLocked(session)
}

func (r *Reporter) setSessionLocked(session *model.Session) {
	if r.session != nil && session.Status.Precedes(r.session.Status) {
		return
	}
	r.session = session.Clone()
	if r.tracker == nil && session.Status == model.SessionStatusInProgress {
		startedAt := r.clock.Now()
		if session.StartedAt != nil {
			startedAt = *session.StartedAt
		}
		r.tracker = typing.NewTracker(session.RaceText, startedAt)
	}
}

// OnKeystroke scores a keystroke and persists the new progress. Keystrokes
// outside an in-progress race are ignored with model.ErrRaceNotInProgress.
// A failed write is logged and typing continues; the store keeps the
// highest progress so a later write catches it up.
func (r *Reporter) OnKeystroke(ctx context.Context, key rune) (typing.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Status == model.SessionStatusWaiting {
		// The live view may lag the store; check before rejecting
		session, err := r.storage.GetSession(ctx, r.sessionID)
		if err != nil {
			return typing.Snapshot{}, fmt.Errorf("failed to load session: %w", err)
		}
		r.setSessionLocked(session)
	}

	if r.session.Status != model.SessionStatusInProgress || r.tracker == nil {
		return typing.Snapshot{}, model.ErrRaceNotInProgress
	}

	now := r.clock.Now()
	if r.finished {
		return r.final, nil
	}
	if r.tracker.Finished() {
		r.retryFinishLocked(ctx)
		return r.tracker.Snapshot(now), nil
	}

	snap := r.tracker.Press(key, now)
	if !snap.Accepted {
		return snap, nil
	}

	update := model.ProgressUpdate{
		Progress:  snap.Progress,
		WPM:       snap.WPM,
		Accuracy:  snap.Accuracy,
		UpdatedAt: now,
	}
	if snap.Finished {
		finishedAt := now
		update.FinishedAt = &finishedAt
	}

	if _, err := r.storage.UpdateProgress(ctx, r.participantID, update); err != nil {
		if errors.Is(err, model.ErrRaceNotInProgress) {
			// The race ended before the live view caught up
			r.raceEndedLocked(ctx)
			return typing.Snapshot{}, model.ErrRaceNotInProgress
		}
		r.logger.Warn("failed to persist progress",
			slog.Int("progress", snap.Progress),
			slog.Any("error", err))
		if snap.Finished {
			r.pendingFinish = &update
		}
		return snap, nil
	}

	if snap.Finished {
		r.markFinishedLocked(ctx, snap, now)
	}
	return snap, nil
}

// Flush retries a finishing write that previously failed
func (r *Reporter) Flush(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryFinishLocked(ctx)
}

func (r *Reporter) retryFinishLocked(ctx context.Context) {
	if r.pendingFinish == nil {
		return
	}
	if _, err := r.storage.UpdateProgress(ctx, r.participantID, *r.pendingFinish); err != nil {
		if errors.Is(err, model.ErrRaceNotInProgress) {
			r.pendingFinish = nil
			r.raceEndedLocked(ctx)
			return
		}
		r.logger.Warn("failed to persist finish", slog.Any("error", err))
		return
	}
	finishedAt := *r.pendingFinish.FinishedAt
	r.pendingFinish = nil
	r.markFinishedLocked(ctx, r.tracker.Snapshot(finishedAt), finishedAt)
}

// Ended returns true once the reporter has seen the race leave progress
func (r *Reporter) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil && r.session.Status == model.SessionStatusCompleted
}

// raceEndedLocked refreshes the held session after the store refused a write
func (r *Reporter) raceEndedLocked(ctx context.Context) {
	session, err := r.storage.GetSession(ctx, r.sessionID)
	if err != nil {
		r.logger.Warn("failed to reload session", slog.Any("error", err))
		return
	}
	r.setSessionLocked(session)
}

func (r *Reporter) markFinishedLocked(ctx context.Context, snap typing.Snapshot, at time.Time) {
	r.finished = true
	r.final = snap
	r.final.Accepted = false
	r.logger.Info("racer finished", slog.Time("finished_at", at))

	if r.completer == nil {
		return
	}
	if _, err := r.completer.CompleteIfFinished(ctx, r.sessionID); err != nil {
		r.logger.Warn("failed to evaluate race completion", slog.Any("error", err))
	}
}
