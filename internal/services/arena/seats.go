package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// SeatAllocator gives each player an exclusive lane in a session
type SeatAllocator struct {
	storage storage.Storage
	clock   clock.Clock
	logger  *slog.Logger
}

// NewSeatAllocator creates a new SeatAllocator
func NewSeatAllocator(storage storage.Storage, clock clock.Clock, logger *slog.Logger) *SeatAllocator {
	return &SeatAllocator{
		storage: storage,
		clock:   clock,
		logger:  logger.With(slog.String("component", "seats")),
	}
}

// Join seats the player in the lowest free lane. A player who already has
// a seat gets the existing row back unchanged. New players may only join a
// waiting session.
//
// Lane exclusivity is enforced by the store: an insert that loses a race
// for a lane fails with model.ErrLaneTaken and the free lane is recomputed.
// Every lost race means another player took a lane, so at most
// model.LanePoolSize retries are needed before the pool is exhausted.
func (a *SeatAllocator) Join(ctx context.Context, sessionID model.SessionID, identity model.Identity, shipID model.ShipID) (*model.Participant, error) {
	for attempt := 0; attempt <= model.LanePoolSize; attempt++ {
		existing, err := a.storage.FindParticipant(ctx, sessionID, identity.Email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, model.ErrParticipantNotFound) {
			return nil, fmt.Errorf("failed to look up seat: %w", err)
		}

		if attempt == 0 {
			if err := a.checkJoinable(ctx, sessionID, shipID); err != nil {
				return nil, err
			}
		}

		participants, err := a.storage.ListParticipants(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to list participants: %w", err)
		}
		lane := LowestFreeLane(participants)
		if lane == 0 {
			return nil, model.ErrArenaFull
		}

		now := a.clock.Now()
		p := &model.Participant{
			ID:         model.ParticipantID(uuid.NewString()),
			SessionID:  sessionID,
			UserEmail:  identity.Email,
			UserID:     identity.DisplayName,
			ShipID:     shipID,
			LaneNumber: lane,
			Accuracy:   100,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = a.storage.InsertParticipant(ctx, p)
		switch {
		case err == nil:
			a.logger.Info("player joined race",
				slog.String("session_id", string(sessionID)),
				slog.String("email", identity.Email),
				slog.Int("lane", lane))
			return p, nil
		case errors.Is(err, model.ErrLaneTaken):
			a.logger.Debug("lane taken, retrying",
				slog.String("session_id", string(sessionID)),
				slog.Int("lane", lane))
			continue
		case errors.Is(err, model.ErrAlreadyJoined):
			// A concurrent join by the same player won; return its row
			continue
		default:
			return nil, fmt.Errorf("failed to take seat: %w", err)
		}
	}
	return nil, model.ErrArenaFull
}

func (a *SeatAllocator) checkJoinable(ctx context.Context, sessionID model.SessionID, shipID model.ShipID) error {
	session, err := a.storage.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != model.SessionStatusWaiting {
		return model.ErrRaceStarted
	}
	if _, err := a.storage.GetShip(ctx, shipID); err != nil {
		return fmt.Errorf("failed to load ship: %w", err)
	}
	return nil
}

// LowestFreeLane returns the smallest lane in 1..LanePoolSize not used by
// any participant, or 0 if every lane is taken
func LowestFreeLane(participants []*model.Participant) int {
	used := make(map[int]struct{}, len(participants))
	for _, p := range participants {
		used[p.LaneNumber] = struct{}{}
	}
	for lane := 1; lane <= model.LanePoolSize; lane++ {
		if _, ok := used[lane]; !ok {
			return lane
		}
	}
	return 0
}
