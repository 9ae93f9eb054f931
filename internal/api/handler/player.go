package handler

import (
	"net/http"
	"strings"

	"github.com/mcoot/typerace/internal/api/middleware"
	"github.com/mcoot/typerace/internal/api/request"
	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/services/auth"
)

// sessionCookie is read back by middleware.ExtractToken
const sessionCookie = "session"

// PlayerHandler handles sign-in and the current player
type PlayerHandler struct {
	authService    *auth.Service
	identityHeader string
}

// NewPlayerHandler creates a new player handler. identityHeader names the
// header in which the upstream identity provider asserts the email.
func NewPlayerHandler(authService *auth.Service, identityHeader string) *PlayerHandler {
	return &PlayerHandler{
		authService:    authService,
		identityHeader: identityHeader,
	}
}

// SignIn handles POST /api/v1/players/signin
func (h *PlayerHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.Header.Get(h.identityHeader))
	if email == "" {
		WriteError(w, NewUnauthorizedIdentityError(h.identityHeader))
		return
	}

	var req request.SignInRequest
	if err := decode(r, &req, true); err != nil {
		WriteError(w, err)
		return
	}

	session, err := h.authService.SignIn(r.Context(), email, strings.TrimSpace(req.DisplayName))
	if err != nil {
		WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session))
}

// SignOut handles POST /api/v1/players/signout
func (h *PlayerHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.authService.InvalidateSession(middleware.GetToken(r.Context()))
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	response.NoContent(w)
}

// GetMe handles GET /api/v1/players/me
func (h *PlayerHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())
	response.JSON(w, http.StatusOK, response.IdentityFromModel(identity))
}
