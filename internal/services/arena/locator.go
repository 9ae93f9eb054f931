package arena

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// TextSource chooses the passage for a new session
type TextSource interface {
	RandomText() (string, error)
}

// Locator finds the open lobby or creates one
type Locator struct {
	storage storage.SessionStore
	texts   TextSource
	clock   clock.Clock
	logger  *slog.Logger
}

// NewLocator creates a new Locator
func NewLocator(storage storage.SessionStore, texts TextSource, clock clock.Clock, logger *slog.Logger) *Locator {
	return &Locator{
		storage: storage,
		texts:   texts,
		clock:   clock,
		logger:  logger.With(slog.String("component", "locator")),
	}
}

// LocateOrCreate returns the oldest waiting session, creating one if none
// exists. Two callers racing here may both create a session; the extra
// lobby is harmless and the oldest is preferred from then on.
func (l *Locator) LocateOrCreate(ctx context.Context) (model.SessionID, error) {
	waiting, err := l.storage.ListSessionsByStatus(ctx, model.SessionStatusWaiting)
	if err != nil {
		return "", fmt.Errorf("failed to find waiting session: %w", err)
	}
	if len(waiting) > 0 {
		return waiting[0].ID, nil
	}

	text, err := l.texts.RandomText()
	if err != nil {
		return "", fmt.Errorf("failed to choose race text: %w", err)
	}

	session := &model.Session{
		ID:        model.SessionID(uuid.NewString()),
		Status:    model.SessionStatusWaiting,
		RaceText:  text,
		CreatedAt: l.clock.Now(),
	}
	if err := l.storage.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	l.logger.Info("created race session", slog.String("session_id", string(session.ID)))
	return session.ID, nil
}
