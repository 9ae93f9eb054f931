// Package api serves the JSON API used by browser and CLI clients
package api

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mcoot/typerace/internal/api/handler"
	"github.com/mcoot/typerace/internal/api/middleware"
	sharedmiddleware "github.com/mcoot/typerace/internal/middleware"
	"github.com/mcoot/typerace/internal/services/arena"
	"github.com/mcoot/typerace/internal/services/auth"
	"github.com/mcoot/typerace/internal/services/catalog"
	"github.com/mcoot/typerace/internal/services/entry"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger
	AuthService    *auth.Service
	Arena          *arena.Service
	Catalog        *catalog.Service
	Registry       *entry.Registry // nil unless the registry gate is in use
	IdentityHeader string
	EntryLimiter   *middleware.EntryLimiter
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	playerHandler := handler.NewPlayerHandler(cfg.AuthService, cfg.IdentityHeader)
	shipHandler := handler.NewShipHandler(cfg.Catalog)
	raceHandler := handler.NewRaceHandler(cfg.Arena)
	adminHandler := handler.NewAdminHandler(cfg.AuthService, cfg.Registry)

	authMiddleware := middleware.Auth(cfg.AuthService)
	limiter := cfg.EntryLimiter
	if limiter == nil {
		limiter = middleware.NewEntryLimiter(0)
	}

	// Logging wraps recovery so a recovered panic is still logged as a 500
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(sharedmiddleware.Logging(cfg.Logger))
	api.Use(middleware.Recovery(cfg.Logger))

	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/ships", shipHandler.List).Methods(http.MethodGet)

	// The identity provider authenticates sign-in, not a bearer session
	api.HandleFunc("/players/signin", playerHandler.SignIn).Methods(http.MethodPost)

	players := api.PathPrefix("/players").Subrouter()
	players.Use(authMiddleware)
	players.HandleFunc("/me", playerHandler.GetMe).Methods(http.MethodGet)
	players.HandleFunc("/signout", playerHandler.SignOut).Methods(http.MethodPost)

	arenaRoutes := api.PathPrefix("/arena").Subrouter()
	arenaRoutes.Use(authMiddleware)
	arenaRoutes.Use(limiter.Middleware)
	arenaRoutes.HandleFunc("/enter", raceHandler.Enter).Methods(http.MethodPost)

	races := api.PathPrefix("/races").Subrouter()
	races.Use(authMiddleware)
	races.HandleFunc("/{id}", raceHandler.Get).Methods(http.MethodGet)
	races.HandleFunc("/{id}/join", raceHandler.Join).Methods(http.MethodPost)
	races.HandleFunc("/{id}/start", raceHandler.Start).Methods(http.MethodPost)
	races.HandleFunc("/{id}/keystrokes", raceHandler.Keystrokes).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authMiddleware)
	admin.HandleFunc("/admins", adminHandler.ListAdmins).Methods(http.MethodGet)
	admin.HandleFunc("/admins", adminHandler.AddAdmin).Methods(http.MethodPost)
	admin.HandleFunc("/admins/{email}", adminHandler.RemoveAdmin).Methods(http.MethodDelete)
	admin.HandleFunc("/tokens", adminHandler.ListTokens).Methods(http.MethodGet)
	admin.HandleFunc("/tokens", adminHandler.IssueToken).Methods(http.MethodPost)
	admin.HandleFunc("/tokens/{id}/toggle", adminHandler.ToggleToken).Methods(http.MethodPost)
	admin.HandleFunc("/tokens/{id}", adminHandler.DeleteToken).Methods(http.MethodDelete)

	return r
}

// CORS wraps a handler so browser clients on other origins can call the
// API with bearer tokens or the session cookie
func CORS(next http.Handler, allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"Authorization", "Content-Type", sharedmiddleware.RequestIDHeader},
		ExposedHeaders:   []string{sharedmiddleware.RequestIDHeader},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
	})
	return c.Handler(next)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
