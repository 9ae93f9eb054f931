package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mcoot/typerace/internal/api/middleware"
	"github.com/mcoot/typerace/internal/api/request"
	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/arena"
	"github.com/mcoot/typerace/internal/services/typing"
)

// maxKeysPerRequest bounds a keystroke batch
const maxKeysPerRequest = 256

// RaceHandler handles arena entry and race endpoints
type RaceHandler struct {
	arena *arena.Service
}

// NewRaceHandler creates a new race handler
func NewRaceHandler(arenaService *arena.Service) *RaceHandler {
	return &RaceHandler{arena: arenaService}
}

// Enter handles POST /api/v1/arena/enter
func (h *RaceHandler) Enter(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.EnterRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		WriteError(w, NewInvalidRequestError("user_id is required"))
		return
	}
	if req.ShipID == "" {
		WriteError(w, NewInvalidRequestError("ship_id is required"))
		return
	}

	entry, err := h.arena.Enter(r.Context(), identity, arena.EntryRequest{
		UserID: req.UserID,
		Token:  req.Token,
		ShipID: model.ShipID(req.ShipID),
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.EntryFromModel(entry))
}

// Get handles GET /api/v1/races/{id}
func (h *RaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	race, err := h.arena.GetRace(r.Context(), raceID(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.RaceFromView(race))
}

// Join handles POST /api/v1/races/{id}/join
func (h *RaceHandler) Join(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.JoinRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}
	if req.ShipID == "" {
		WriteError(w, NewInvalidRequestError("ship_id is required"))
		return
	}

	participant, err := h.arena.Join(r.Context(), raceID(r), identity, model.ShipID(req.ShipID))
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.ParticipantFromModel(participant))
}

// Start handles POST /api/v1/races/{id}/start
func (h *RaceHandler) Start(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	session, err := h.arena.StartRace(r.Context(), raceID(r), identity)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.SessionFromModel(session))
}

// Keystrokes handles POST /api/v1/races/{id}/keystrokes. Keys are scored in
// order and the state after the last one is returned.
func (h *RaceHandler) Keystrokes(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	var req request.KeystrokesRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}
	keys := []rune(req.Keys)
	if len(keys) == 0 {
		WriteError(w, NewInvalidRequestError("keys is required"))
		return
	}
	if len(keys) > maxKeysPerRequest {
		WriteError(w, NewInvalidRequestError("too many keys in one request"))
		return
	}

	var snap typing.Snapshot
	for _, key := range keys {
		var err error
		snap, err = h.arena.Keystroke(r.Context(), raceID(r), identity, key)
		if err != nil {
			WriteError(w, err)
			return
		}
	}
	response.JSON(w, http.StatusOK, response.ProgressFromSnapshot(snap))
}

func raceID(r *http.Request) model.SessionID {
	return model.SessionID(mux.Vars(r)["id"])
}
