package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/auth"
	"github.com/mcoot/typerace/internal/services/entry"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeParticipantMissing = "PARTICIPANT_NOT_FOUND"
	CodeShipNotFound       = "SHIP_NOT_FOUND"
	CodeAdminNotFound      = "ADMIN_NOT_FOUND"
	CodeTokenNotFound      = "ENTRY_TOKEN_NOT_FOUND"
	CodeArenaFull          = "ARENA_FULL"
	CodeRaceStarted        = "RACE_STARTED"
	CodeInvalidToken       = "INVALID_ENTRY_TOKEN"
	CodeNotAdmin           = "NOT_ADMIN"
	CodeNotEnoughRacers    = "NOT_ENOUGH_RACERS"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeRaceNotInProgress  = "RACE_NOT_IN_PROGRESS"
	CodeNotParticipant     = "NOT_PARTICIPANT"
	CodeProtectedAdmin     = "PROTECTED_ADMIN"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeGateUnavailable    = "GATE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
	CodeInternalError      = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	// Lookups
	case errors.Is(err, model.ErrSessionNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeSessionNotFound, "Race not found"}}
	case errors.Is(err, model.ErrParticipantNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeParticipantMissing, "Racer not found"}}
	case errors.Is(err, model.ErrShipNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeShipNotFound, "Ship not found"}}
	case errors.Is(err, model.ErrAdminNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeAdminNotFound, "Admin not found"}}
	case errors.Is(err, model.ErrEntryTokenNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeTokenNotFound, "Entry token not found"}}

	// Seating
	case errors.Is(err, model.ErrArenaFull):
		return &httpError{http.StatusConflict, APIError{CodeArenaFull, "Arena is full, try again shortly"}}
	case errors.Is(err, model.ErrRaceStarted):
		return &httpError{http.StatusConflict, APIError{CodeRaceStarted, "Race has already started"}}
	case errors.Is(err, model.ErrInvalidToken):
		return &httpError{http.StatusForbidden, APIError{CodeInvalidToken, "Invalid user id or entry token"}}

	// Race lifecycle
	case errors.Is(err, model.ErrNotAdmin):
		return &httpError{http.StatusForbidden, APIError{CodeNotAdmin, "Only admins can perform this action"}}
	case errors.Is(err, model.ErrNotEnoughRacers):
		return &httpError{http.StatusConflict, APIError{CodeNotEnoughRacers, "Every lane must be filled before the race starts"}}
	case errors.Is(err, model.ErrInvalidTransition):
		return &httpError{http.StatusConflict, APIError{CodeInvalidTransition, "Race cannot move to that status"}}
	case errors.Is(err, model.ErrRaceNotInProgress):
		return &httpError{http.StatusConflict, APIError{CodeRaceNotInProgress, "Race is not in progress"}}
	case errors.Is(err, model.ErrNotParticipant):
		return &httpError{http.StatusForbidden, APIError{CodeNotParticipant, "You are not racing in this race"}}

	// Auth
	case errors.Is(err, auth.ErrInvalidSession):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Invalid or expired session"}}
	case errors.Is(err, auth.ErrInvalidIdentity):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Identity provider did not assert a valid email"}}
	case errors.Is(err, auth.ErrProtectedAdmin):
		return &httpError{http.StatusForbidden, APIError{CodeProtectedAdmin, "Bootstrap admins cannot be removed"}}
	case errors.Is(err, entry.ErrInvalidUserID):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, "user_id is required"}}

	// Dependencies
	case errors.Is(err, entry.ErrGateUnavailable):
		return &httpError{http.StatusBadGateway, APIError{CodeGateUnavailable, "Entry gate is unavailable"}}
	case errors.Is(err, model.ErrStoreUnavailable):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeStoreUnavailable, "Race store is unavailable"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewRateLimitedError creates a too many requests error
func NewRateLimitedError() error {
	return &httpError{http.StatusTooManyRequests, APIError{CodeRateLimited, "Too many entry attempts, slow down"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}

// NewInternalErrorf is an internal error with a formatted message
func NewInternalErrorf(format string, args ...any) error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, fmt.Sprintf(format, args...)}}
}

// NewMissingIdentityError is returned when the identity provider header is absent
func NewMissingIdentityError(header string) error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Missing identity header " + header}}
}

// NewNotFoundError creates a not found error for a disabled feature
func NewNotFoundError(message string) error {
	return &httpError{http.StatusNotFound, APIError{CodeNotFound, message}}
}

// FromError returns the API error body an error maps to, for transports
// that cannot carry an HTTP status
func FromError(err error) APIError {
	return toHTTPError(err).apiError
}
