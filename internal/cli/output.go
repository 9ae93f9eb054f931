package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/fatih/color"
)

var (
	headingColor = color.New(color.Bold)
	goodColor    = color.New(color.FgGreen)
	badColor     = color.New(color.FgRed)
	dimColor     = color.New(color.Faint)
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to w
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		o.printJSON(map[string]string{"message": msg})
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Identity:
		o.printIdentity(v)
	case AuthResult:
		o.printAuthResult(v)
	case []Ship:
		o.printShips(v)
	case EntryResult:
		o.printEntry(v)
	case Race:
		o.printRace(v)
	case Session:
		o.printSession(v)
	case Participant:
		o.printParticipant(v)
	case Progress:
		o.printProgress(v)
	case []Admin:
		o.printAdmins(v)
	case Admin:
		o.printAdmins([]Admin{v})
	case []EntryToken:
		o.printTokens(v)
	case EntryToken:
		o.printTokens([]EntryToken{v})
	case HealthResult:
		_, _ = fmt.Fprintf(o.w, "Status: %s\n", v.Status)
	default:
		o.printJSON(data)
	}
}

// Identity response type
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// AuthResult combines identity and token
type AuthResult struct {
	Identity     Identity  `json:"identity"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Ship response type
type Ship struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ImageURL    string `json:"image_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Session response type
type Session struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	RaceText    string     `json:"race_text"`
	StartedBy   string     `json:"started_by,omitempty"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Participant response type
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

// Standing response type
type Standing struct {
	Position int `json:"position"`
	Participant
}

// Race response type
type Race struct {
	Session      Session       `json:"session"`
	Participants []Participant `json:"participants"`
	Standings    []Standing    `json:"standings"`
}

// EntryResult response type
type EntryResult struct {
	Session     Session     `json:"session"`
	Participant Participant `json:"participant"`
}

// Progress response type
type Progress struct {
	Index    int  `json:"index"`
	Length   int  `json:"length"`
	Errors   int  `json:"errors"`
	Progress int  `json:"progress"`
	WPM      int  `json:"wpm"`
	Accuracy int  `json:"accuracy"`
	Finished bool `json:"finished"`
}

// LiveView is the payload of view events on the live endpoints
type LiveView struct {
	State        string        `json:"state"`
	Session      *Session      `json:"session"`
	Participants []Participant `json:"participants"`
}

// Admin response type
type Admin struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryToken response type
type EntryToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	Token     string    `json:"token,omitempty"`
}

// HealthResult response type
type HealthResult struct {
	Status string `json:"status"`
}

func (o *Output) printIdentity(i Identity) {
	_, _ = fmt.Fprintf(o.w, "Player: %s (%s)\n", i.DisplayName, i.Email)
	if i.IsAdmin {
		_, _ = goodColor.Fprintln(o.w, "Admin: yes")
	}
}

func (o *Output) printAuthResult(a AuthResult) {
	o.printIdentity(a.Identity)
	_, _ = fmt.Fprintf(o.w, "Token: %s\n", a.SessionToken)
	_, _ = fmt.Fprintf(o.w, "Expires: %s\n", humanize.Time(a.ExpiresAt))
}

func (o *Output) printShips(ships []Ship) {
	for _, s := range ships {
		_, _ = fmt.Fprintf(o.w, "%-16s %s\n", s.ID, s.Name)
		if s.Description != "" {
			_, _ = dimColor.Fprintf(o.w, "%-16s %s\n", "", s.Description)
		}
	}
}

func (o *Output) printEntry(e EntryResult) {
	o.printSession(e.Session)
	_, _ = fmt.Fprintln(o.w)
	o.printParticipant(e.Participant)
}

func (o *Output) printSession(s Session) {
	_, _ = headingColor.Fprintf(o.w, "Race: %s\n", s.ID)
	_, _ = fmt.Fprintf(o.w, "Status: %s\n", s.Status)
	_, _ = fmt.Fprintf(o.w, "Created: %s\n", humanize.Time(s.CreatedAt))
	if s.StartedAt != nil {
		_, _ = fmt.Fprintf(o.w, "Started: %s by %s\n", humanize.Time(*s.StartedAt), s.StartedBy)
	}
	if s.CompletedAt != nil {
		_, _ = fmt.Fprintf(o.w, "Completed: %s\n", humanize.Time(*s.CompletedAt))
	}
	_, _ = fmt.Fprintf(o.w, "Text: %s\n", s.RaceText)
}

func (o *Output) printParticipant(p Participant) {
	ship := p.ShipID
	if p.Ship != nil {
		ship = p.Ship.Name
	}
	_, _ = fmt.Fprintf(o.w, "Lane %d: %s on %s\n", p.Lane, p.UserID, ship)
	_, _ = fmt.Fprintf(o.w, "  %s %3d%%  %3d wpm  %3d%% acc\n", progressBar(p.Progress, 20), p.Progress, p.WPM, p.Accuracy)
}

func (o *Output) printRace(r Race) {
	o.printSession(r.Session)

	_, _ = headingColor.Fprintf(o.w, "\nRacers (%d):\n", len(r.Participants))
	for _, p := range r.Participants {
		o.printParticipant(p)
	}

	if r.Session.Status == "waiting" {
		return
	}
	_, _ = headingColor.Fprintln(o.w, "\nStandings:")
	for _, s := range r.Standings {
		line := fmt.Sprintf("  %-4s %-20s %3d%%  %3d wpm", humanize.Ordinal(s.Position), s.UserID, s.Progress, s.WPM)
		if s.FinishedAt != nil {
			_, _ = goodColor.Fprintln(o.w, line+"  finished")
		} else {
			_, _ = fmt.Fprintln(o.w, line)
		}
	}
}

func (o *Output) printProgress(p Progress) {
	_, _ = fmt.Fprintf(o.w, "%s %3d%%  %d/%d  %d wpm  %d%% acc",
		progressBar(p.Progress, 20), p.Progress, p.Index, p.Length, p.WPM, p.Accuracy)
	if p.Errors > 0 {
		_, _ = badColor.Fprintf(o.w, "  %s", english.Plural(p.Errors, "miss", "misses"))
	}
	_, _ = fmt.Fprintln(o.w)
	if p.Finished {
		_, _ = goodColor.Fprintln(o.w, "Finished!")
	}
}

func (o *Output) printAdmins(admins []Admin) {
	for _, a := range admins {
		_, _ = fmt.Fprintf(o.w, "%-32s added %s\n", a.Email, humanize.Time(a.CreatedAt))
	}
}

func (o *Output) printTokens(tokens []EntryToken) {
	for _, t := range tokens {
		status := goodColor.Sprint("active")
		if !t.IsActive {
			status = badColor.Sprint("inactive")
		}
		_, _ = fmt.Fprintf(o.w, "%s  %-20s %s  %s\n", t.ID, t.UserID, status, humanize.Time(t.CreatedAt))
		if t.Token != "" {
			_, _ = fmt.Fprintf(o.w, "  token: %s (shown once)\n", t.Token)
		}
	}
}

func progressBar(percent, width int) string {
	percent = max(0, min(100, percent))
	filled := percent * width / 100
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
