package storage

import (
	"context"

	"github.com/mcoot/typerace/internal/model"
)

// Storage defines the interface for data persistence and change delivery
type Storage interface {
	SessionStore
	ParticipantStore
	ShipStore
	AdminStore
	EntryTokenStore
	ChangeFeed
}

// SessionStore persists race sessions
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)
	// ListSessionsByStatus returns matching sessions, oldest first
	ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]*model.Session, error)
	// TransitionSession applies t only if the stored status equals t.From.
	// Returns model.ErrInvalidTransition if the status no longer matches.
	TransitionSession(ctx context.Context, id model.SessionID, t model.Transition) (*model.Session, error)
}

// ParticipantStore persists racers' seats and progress
type ParticipantStore interface {
	// InsertParticipant fails with model.ErrLaneTaken or model.ErrAlreadyJoined
	// when the (session, lane) or (session, email) pair already exists, and
	// with model.ErrInvalidLane when the lane is outside the lane pool.
	InsertParticipant(ctx context.Context, p *model.Participant) error
	GetParticipant(ctx context.Context, id model.ParticipantID) (*model.Participant, error)
	// FindParticipant returns model.ErrParticipantNotFound if the player has no seat
	FindParticipant(ctx context.Context, sessionID model.SessionID, email string) (*model.Participant, error)
	// ListParticipants returns the session's participants ordered by lane
	ListParticipants(ctx context.Context, sessionID model.SessionID) ([]*model.Participant, error)
	// UpdateProgress applies a progress write only while the participant's
	// session is in progress, otherwise it fails with model.ErrRaceNotInProgress
	UpdateProgress(ctx context.Context, id model.ParticipantID, update model.ProgressUpdate) (*model.Participant, error)
}

// ShipStore holds the vessel reference table
type ShipStore interface {
	SaveShip(ctx context.Context, ship *model.Ship) error
	GetShip(ctx context.Context, id model.ShipID) (*model.Ship, error)
	// ListShips returns ships ordered by name
	ListShips(ctx context.Context) ([]*model.Ship, error)
}

// AdminStore holds the privileged emails
type AdminStore interface {
	SaveAdmin(ctx context.Context, admin *model.Admin) error
	IsAdmin(ctx context.Context, email string) (bool, error)
	ListAdmins(ctx context.Context) ([]*model.Admin, error)
	DeleteAdmin(ctx context.Context, email string) error
}

// EntryTokenStore holds the entry gate registry
type EntryTokenStore interface {
	SaveEntryToken(ctx context.Context, token *model.EntryToken) error
	GetEntryToken(ctx context.Context, id model.EntryTokenID) (*model.EntryToken, error)
	ListEntryTokens(ctx context.Context) ([]*model.EntryToken, error)
	ListEntryTokensForUser(ctx context.Context, userID string) ([]*model.EntryToken, error)
	DeleteEntryToken(ctx context.Context, id model.EntryTokenID) error
}

// ChangeFeed delivers row changes for a single session
type ChangeFeed interface {
	// Subscribe opens a subscription scoped to sessionID covering the session
	// row and all of its participant rows. Session images may leave RaceText
	// empty since it never changes after creation. The subscription reports
	// model.FeedSubscribed once live and a failure status if delivery stops.
	Subscribe(ctx context.Context, sessionID model.SessionID) (Subscription, error)
}

// Subscription is a live change-feed registration
type Subscription interface {
	// Events delivers change events. Closed when the subscription ends.
	Events() <-chan model.ChangeEvent
	// Status delivers lifecycle notifications. Closed when the subscription ends.
	Status() <-chan model.FeedStatus
	// Close stops delivery. Safe to call more than once.
	Close() error
}
