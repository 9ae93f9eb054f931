package model

import "time"

// ParticipantID uniquely identifies a racer's seat in a session
type ParticipantID string

// Participant is one player's membership and live progress within a session
type Participant struct {
	ID         ParticipantID
	SessionID  SessionID
	UserEmail  string // Identity from the identity provider
	UserID     string // Display id chosen at the entry gate
	ShipID     ShipID
	LaneNumber int // 1..LanePoolSize, unique within a session
	Progress   int // 0..100, never decreases
	WPM        int
	Accuracy   int // 0..100
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsFinished returns true once the racer has typed the whole text
func (p *Participant) IsFinished() bool {
	return p.FinishedAt != nil
}

// Clone returns a deep copy of the participant
func (p *Participant) Clone() *Participant {
	c := *p
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// ProgressUpdate is the owner-only write applied on every accepted keystroke
type ProgressUpdate struct {
	Progress   int
	WPM        int
	Accuracy   int
	FinishedAt *time.Time // Set on the finishing keystroke only
	UpdatedAt  time.Time
}

// Apply merges the update into the participant. Progress never moves
// backwards and an existing finish time is never overwritten.
func (u ProgressUpdate) Apply(p *Participant) {
	if u.Progress > p.Progress {
		p.Progress = u.Progress
	}
	p.WPM = u.WPM
	p.Accuracy = u.Accuracy
	if p.FinishedAt == nil && u.FinishedAt != nil {
		t := *u.FinishedAt
		p.FinishedAt = &t
	}
	p.UpdatedAt = u.UpdatedAt
}

// ParticipantView is a participant joined with its ship for display
type ParticipantView struct {
	Participant
	Ship *Ship // nil if the ship reference no longer resolves
}

// IsValidLane returns true if lane is within the lane pool
func IsValidLane(lane int) bool {
	return lane >= 1 && lane <= LanePoolSize
}
