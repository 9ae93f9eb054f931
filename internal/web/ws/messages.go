package ws

import (
	"github.com/mcoot/typerace/internal/api/apierr"
	"github.com/mcoot/typerace/internal/api/response"
)

// Message types
const (
	TypeKeys     = "keys"
	TypeView     = "view"
	TypeProgress = "progress"
	TypeError    = "error"
)

// ClientMessage is sent by the racer
type ClientMessage struct {
	Type string `json:"type"`
	Keys string `json:"keys"`
}

// ServerMessage is sent to the racer. Exactly one payload is set, matching Type.
type ServerMessage struct {
	Type     string             `json:"type"`
	View     *response.LiveView `json:"view,omitempty"`
	Progress *response.Progress `json:"progress,omitempty"`
	Error    *apierr.APIError   `json:"error,omitempty"`
}
