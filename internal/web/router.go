// Package web serves the live race endpoints: a server-sent event stream
// for spectators and a websocket for racers.
package web

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	apimiddleware "github.com/mcoot/typerace/internal/api/middleware"
	"github.com/mcoot/typerace/internal/middleware"
	"github.com/mcoot/typerace/internal/services/auth"
	"github.com/mcoot/typerace/internal/web/sse"
	"github.com/mcoot/typerace/internal/web/ws"
)

// RouterConfig holds configuration for the live router
type RouterConfig struct {
	Logger      *slog.Logger
	AuthService *auth.Service
	HubManager  *sse.HubManager
	Racers      *ws.Handler
}

// NewRouter creates the router for /live routes
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Logging(cfg.Logger))
	r.Use(apimiddleware.Recovery(cfg.Logger))

	live := r.PathPrefix("/live").Subrouter()

	// Spectating needs no session
	live.HandleFunc("/races/{id}/events", sse.Handler(cfg.HubManager)).Methods(http.MethodGet)

	racers := live.PathPrefix("/races/{id}").Subrouter()
	racers.Use(apimiddleware.Auth(cfg.AuthService))
	racers.Handle("/ws", cfg.Racers).Methods(http.MethodGet)

	return r
}
