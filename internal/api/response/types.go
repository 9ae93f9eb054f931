// Package response holds the JSON shapes returned by the API and pushed to
// live race clients
package response

import (
	"time"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/arena"
	"github.com/mcoot/typerace/internal/services/auth"
	"github.com/mcoot/typerace/internal/services/entry"
	"github.com/mcoot/typerace/internal/services/typing"
)

// Identity is the signed-in player
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// IdentityFromModel converts a model.Identity
func IdentityFromModel(i model.Identity) Identity {
	return Identity{
		Email:       i.Email,
		DisplayName: i.DisplayName,
		IsAdmin:     i.IsAdmin,
	}
}

// AuthResponse is returned by sign-in
type AuthResponse struct {
	Identity     Identity  `json:"identity"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Identity:     IdentityFromModel(s.Identity),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// Ship is a catalog vessel
type Ship struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ImageURL    string `json:"image_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// ShipFromModel converts a model.Ship
func ShipFromModel(s *model.Ship) Ship {
	return Ship{
		ID:          string(s.ID),
		Name:        s.Name,
		ImageURL:    s.ImageURL,
		Description: s.Description,
	}
}

// ShipsFromModel converts a list of ships
func ShipsFromModel(ships []*model.Ship) []Ship {
	out := make([]Ship, len(ships))
	for i, s := range ships {
		out[i] = ShipFromModel(s)
	}
	return out
}

// Session is a race session
type Session struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	RaceText    string     `json:"race_text"`
	StartedBy   string     `json:"started_by,omitempty"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SessionFromModel converts a model.Session
func SessionFromModel(s *model.Session) Session {
	return Session{
		ID:          string(s.ID),
		Status:      string(s.Status),
		RaceText:    s.RaceText,
		StartedBy:   s.StartedBy,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		CreatedAt:   s.CreatedAt,
	}
}

// Participant is one racer's seat and progress. The email is not exposed,
// racers are shown by the user id they entered with.
type Participant struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Lane       int        `json:"lane"`
	ShipID     string     `json:"ship_id"`
	Ship       *Ship      `json:"ship"`
	Progress   int        `json:"progress"`
	WPM        int        `json:"wpm"`
	Accuracy   int        `json:"accuracy"`
	FinishedAt *time.Time `json:"finished_at"`
}

// ParticipantFromModel converts a model.Participant without ship details
func ParticipantFromModel(p *model.Participant) Participant {
	return Participant{
		ID:         string(p.ID),
		UserID:     p.UserID,
		Lane:       p.LaneNumber,
		ShipID:     string(p.ShipID),
		Progress:   p.Progress,
		WPM:        p.WPM,
		Accuracy:   p.Accuracy,
		FinishedAt: p.FinishedAt,
	}
}

// ParticipantFromView converts a participant joined with its ship
func ParticipantFromView(v model.ParticipantView) Participant {
	p := ParticipantFromModel(&v.Participant)
	if v.Ship != nil {
		ship := ShipFromModel(v.Ship)
		p.Ship = &ship
	}
	return p
}

// ParticipantsFromViews converts a list of participant views
func ParticipantsFromViews(views []model.ParticipantView) []Participant {
	out := make([]Participant, len(views))
	for i, v := range views {
		out[i] = ParticipantFromView(v)
	}
	return out
}

// Standing is a racer's place in the results
type Standing struct {
	Position int `json:"position"`
	Participant
}

// Race is a race with its racers and standings
type Race struct {
	Session      Session       `json:"session"`
	Participants []Participant `json:"participants"`
	Standings    []Standing    `json:"standings"`
}

// RaceFromView converts an arena.RaceView
func RaceFromView(v *arena.RaceView) Race {
	standings := make([]Standing, len(v.Standings))
	for i, s := range v.Standings {
		standings[i] = Standing{Position: s.Position, Participant: ParticipantFromView(s.ParticipantView)}
	}
	return Race{
		Session:      SessionFromModel(v.Session),
		Participants: ParticipantsFromViews(v.Participants),
		Standings:    standings,
	}
}

// Entry is the result of entering the arena
type Entry struct {
	Session     Session     `json:"session"`
	Participant Participant `json:"participant"`
}

// EntryFromModel converts an arena.Entry
func EntryFromModel(e *arena.Entry) Entry {
	return Entry{
		Session:     SessionFromModel(e.Session),
		Participant: ParticipantFromModel(e.Participant),
	}
}

// Progress is the scored state after a batch of keystrokes
type Progress struct {
	Index    int  `json:"index"`
	Length   int  `json:"length"`
	Errors   int  `json:"errors"`
	Progress int  `json:"progress"`
	WPM      int  `json:"wpm"`
	Accuracy int  `json:"accuracy"`
	Finished bool `json:"finished"`
}

// ProgressFromSnapshot converts a typing.Snapshot
func ProgressFromSnapshot(s typing.Snapshot) Progress {
	return Progress{
		Index:    s.Index,
		Length:   s.Length,
		Errors:   s.Errors,
		Progress: s.Progress,
		WPM:      s.WPM,
		Accuracy: s.Accuracy,
		Finished: s.Finished,
	}
}

// LiveView is pushed to live race clients on every change
type LiveView struct {
	State        string        `json:"state"`
	Session      *Session      `json:"session"`
	Participants []Participant `json:"participants"`
}

// LiveViewFromView converts an arena.View
func LiveViewFromView(v arena.View) LiveView {
	lv := LiveView{
		State:        string(v.State),
		Participants: ParticipantsFromViews(v.Participants),
	}
	if v.Session != nil {
		s := SessionFromModel(v.Session)
		lv.Session = &s
	}
	return lv
}

// Admin is an admin email
type Admin struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminsFromModel converts a list of admins
func AdminsFromModel(admins []*model.Admin) []Admin {
	out := make([]Admin, len(admins))
	for i, a := range admins {
		out[i] = Admin{Email: a.Email, CreatedAt: a.CreatedAt}
	}
	return out
}

// EntryToken is a registry token. The plain token is only present in the
// response that created it.
type EntryToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	Token     string    `json:"token,omitempty"`
}

// EntryTokenFromModel converts a model.EntryToken
func EntryTokenFromModel(t *model.EntryToken) EntryToken {
	return EntryToken{
		ID:        string(t.ID),
		UserID:    t.UserID,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt,
	}
}

// EntryTokenFromIssued converts a freshly issued token
func EntryTokenFromIssued(i *entry.Issued) EntryToken {
	t := EntryTokenFromModel(i.Token)
	t.Token = i.Plain
	return t
}

// EntryTokensFromModel converts a list of tokens
func EntryTokensFromModel(tokens []*model.EntryToken) []EntryToken {
	out := make([]EntryToken, len(tokens))
	for i, t := range tokens {
		out[i] = EntryTokenFromModel(t)
	}
	return out
}
