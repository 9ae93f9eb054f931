package model

import "time"

// SessionID uniquely identifies a race session
type SessionID string

// SessionStatus represents the lifecycle phase of a race session
type SessionStatus string

const (
	SessionStatusWaiting    SessionStatus = "waiting"     // Lobby open, seats being filled
	SessionStatusInProgress SessionStatus = "in_progress" // Race started, racers typing
	SessionStatusCompleted  SessionStatus = "completed"   // Results final
)

// LanePoolSize is the number of lanes in every race. It is both the seat
// limit and the number of racers required before a race may start.
const LanePoolSize = 5

// rank orders statuses along the only permitted path
func (s SessionStatus) rank() int {
	switch s {
	case SessionStatusWaiting:
		return 0
	case SessionStatusInProgress:
		return 1
	case SessionStatusCompleted:
		return 2
	default:
		return -1
	}
}

// IsValid returns true for the three known statuses
func (s SessionStatus) IsValid() bool {
	return s.rank() >= 0
}

// CanTransitionTo returns true if next is the immediate successor of s
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	return s.IsValid() && next.rank() == s.rank()+1
}

// Precedes returns true if s comes strictly before other in the lifecycle
func (s SessionStatus) Precedes(other SessionStatus) bool {
	return s.rank() < other.rank()
}

// Session is one shared race instance
type Session struct {
	ID          SessionID
	Status      SessionStatus
	StartedBy   string     // Email of the admin who started the race
	StartedAt   *time.Time // nil until the race starts
	CompletedAt *time.Time // nil until the race completes
	RaceText    string     // Fixed at creation
	CreatedAt   time.Time
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Transition describes a forward status change applied with compare-and-set
// semantics: it only succeeds if the stored status still equals From.
type Transition struct {
	From        SessionStatus
	To          SessionStatus
	StartedBy   string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Apply mutates the session according to the transition. The caller must
// have verified that the session is currently in t.From.
func (t Transition) Apply(s *Session) {
	s.Status = t.To
	if t.StartedBy != "" {
		s.StartedBy = t.StartedBy
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		s.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		s.CompletedAt = &at
	}
}

// Validate checks the transition moves exactly one step forward
func (t Transition) Validate() error {
	if !t.From.CanTransitionTo(t.To) {
		return ErrInvalidTransition
	}
	return nil
}
