package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// Director owns the session status transitions
type Director struct {
	storage     storage.Storage
	clock       clock.Clock
	logger      *slog.Logger
	raceTimeout time.Duration

	onComplete func(session *model.Session)
}

// NewDirector creates a new Director. A race still running raceTimeout
// after it started is completed by SweepExpired.
func NewDirector(storage storage.Storage, clock clock.Clock, logger *slog.Logger, raceTimeout time.Duration) *Director {
	return &Director{
		storage:     storage,
		clock:       clock,
		logger:      logger.With(slog.String("component", "director")),
		raceTimeout: raceTimeout,
	}
}

// OnComplete registers fn to run after this director completes a race
func (d *Director) OnComplete(fn func(session *model.Session)) {
	d.onComplete = fn
}

// StartRace moves a full waiting session into progress. Only admins may
// start a race, and only once every lane is taken.
func (d *Director) StartRace(ctx context.Context, sessionID model.SessionID, identity model.Identity) (*model.Session, error) {
	if !identity.IsAdmin {
		return nil, model.ErrNotAdmin
	}

	session, err := d.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != model.SessionStatusWaiting {
		return nil, model.ErrInvalidTransition
	}

	participants, err := d.storage.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	if len(participants) != model.LanePoolSize {
		return nil, model.ErrNotEnoughRacers
	}

	startedAt := d.clock.Now()
	started, err := d.storage.TransitionSession(ctx, sessionID, model.Transition{
		From:      model.SessionStatusWaiting,
		To:        model.SessionStatusInProgress,
		StartedBy: identity.Email,
		StartedAt: &startedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start race: %w", err)
	}

	d.logger.Info("race started",
		slog.String("session_id", string(sessionID)),
		slog.String("started_by", identity.Email))
	return started, nil
}

// CompleteIfFinished completes an in-progress session once every
// participant has a finish time. It is safe to call repeatedly and from
// several racers at once; only one call performs the transition.
func (d *Director) CompleteIfFinished(ctx context.Context, sessionID model.SessionID) (bool, error) {
	session, err := d.storage.GetSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != model.SessionStatusInProgress {
		return false, nil
	}

	participants, err := d.storage.ListParticipants(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to list participants: %w", err)
	}
	if len(participants) == 0 {
		return false, nil
	}
	for _, p := range participants {
		if !p.IsFinished() {
			return false, nil
		}
	}

	return d.complete(ctx, sessionID, "all racers finished")
}

// SweepExpired completes every in-progress race that has run longer than
// the race timeout. Returns the number of races completed.
func (d *Director) SweepExpired(ctx context.Context) (int, error) {
	if d.raceTimeout <= 0 {
		return 0, nil
	}

	running, err := d.storage.ListSessionsByStatus(ctx, model.SessionStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to list running races: %w", err)
	}

	now := d.clock.Now()
	completed := 0
	for _, session := range running {
		if session.StartedAt == nil || now.Sub(*session.StartedAt) < d.raceTimeout {
			continue
		}
		ok, err := d.complete(ctx, session.ID, "race timed out")
		if err != nil {
			return completed, err
		}
		if ok {
			completed++
		}
	}
	return completed, nil
}

// Run sweeps for expired races every interval until ctx is done
func (d *Director) Run(ctx context.Context, interval time.Duration) {
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := d.SweepExpired(ctx); err != nil {
				d.logger.Error("failed to sweep expired races", slog.Any("error", err))
			}
		}
	}
}

func (d *Director) complete(ctx context.Context, sessionID model.SessionID, reason string) (bool, error) {
	completedAt := d.clock.Now()
	completed, err := d.storage.TransitionSession(ctx, sessionID, model.Transition{
		From:        model.SessionStatusInProgress,
		To:          model.SessionStatusCompleted,
		CompletedAt: &completedAt,
	})
	if errors.Is(err, model.ErrInvalidTransition) {
		// Another caller completed it first
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to complete race: %w", err)
	}

	d.logger.Info("race completed",
		slog.String("session_id", string(sessionID)),
		slog.String("reason", reason))
	if d.onComplete != nil {
		d.onComplete(completed)
	}
	return true, nil
}
