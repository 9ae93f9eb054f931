package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/typerace/internal/api/middleware"
	"github.com/mcoot/typerace/internal/api/request"
	"github.com/mcoot/typerace/internal/api/response"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/auth"
	"github.com/mcoot/typerace/internal/services/entry"
)

// AdminHandler manages admins and the entry token registry. Every method
// checks the admin role in the service layer.
type AdminHandler struct {
	authService *auth.Service
	registry    *entry.Registry
}

// NewAdminHandler creates a new admin handler. registry may be nil when
// the arena is gated by something other than the token registry.
func NewAdminHandler(authService *auth.Service, registry *entry.Registry) *AdminHandler {
	return &AdminHandler{
		authService: authService,
		registry:    registry,
	}
}

// ListAdmins handles GET /api/v1/admin/admins
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.authService.ListAdmins(r.Context(), middleware.MustGetIdentity(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.AdminsFromModel(admins))
}

// AddAdmin handles POST /api/v1/admin/admins
func (h *AdminHandler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	var req request.AddAdminRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}
	if req.Email == "" {
		WriteError(w, NewInvalidRequestError("email is required"))
		return
	}

	admin, err := h.authService.AddAdmin(r.Context(), middleware.MustGetIdentity(r.Context()), req.Email)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, response.AdminsFromModel([]*model.Admin{admin})[0])
}

// RemoveAdmin handles DELETE /api/v1/admin/admins/{email}
func (h *AdminHandler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	err := h.authService.RemoveAdmin(r.Context(), middleware.MustGetIdentity(r.Context()), mux.Vars(r)["email"])
	if err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// ListTokens handles GET /api/v1/admin/tokens
func (h *AdminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	if !h.registryEnabled(w) {
		return
	}
	tokens, err := h.registry.List(r.Context(), middleware.MustGetIdentity(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.EntryTokensFromModel(tokens))
}

// IssueToken handles POST /api/v1/admin/tokens
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !h.registryEnabled(w) {
		return
	}
	var req request.IssueTokenRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	issued, err := h.registry.Issue(r.Context(), middleware.MustGetIdentity(r.Context()), req.UserID, req.Token)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, response.EntryTokenFromIssued(issued))
}

// ToggleToken handles POST /api/v1/admin/tokens/{id}/toggle
func (h *AdminHandler) ToggleToken(w http.ResponseWriter, r *http.Request) {
	if !h.registryEnabled(w) {
		return
	}
	token, err := h.registry.Toggle(r.Context(), middleware.MustGetIdentity(r.Context()), tokenID(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.EntryTokenFromModel(token))
}

// DeleteToken handles DELETE /api/v1/admin/tokens/{id}
func (h *AdminHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	if !h.registryEnabled(w) {
		return
	}
	if err := h.registry.Delete(r.Context(), middleware.MustGetIdentity(r.Context()), tokenID(r)); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

func (h *AdminHandler) registryEnabled(w http.ResponseWriter) bool {
	if h.registry == nil {
		WriteError(w, NewNotFoundError("entry token registry is not enabled"))
		return false
	}
	return true
}

func tokenID(r *http.Request) model.EntryTokenID {
	return model.EntryTokenID(mux.Vars(r)["id"])
}
