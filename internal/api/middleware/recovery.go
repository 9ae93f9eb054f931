package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mcoot/typerace/internal/api/apierr"
	"github.com/mcoot/typerace/internal/middleware"
)

// Recovery turns a handler panic into a JSON internal error that quotes the
// request id, so a report from a player can be matched to the server log
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.Recovery(logger, func(w http.ResponseWriter, r *http.Request, _ any) {
		id := middleware.RequestID(r.Context())
		if id == "" {
			apierr.WriteError(w, apierr.NewInternalError())
			return
		}
		apierr.WriteError(w, apierr.NewInternalErrorf("Internal server error (request %s)", id))
	})
}
