// Package auth turns an identity asserted by the upstream identity provider
// into a bearer session, and manages the admin role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// Errors
var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidSession  = errors.New("invalid or expired session")
	ErrProtectedAdmin  = errors.New("bootstrap admin cannot be removed")
)

// tokenBytes is the entropy of a session token
const tokenBytes = 24

// Session represents an authenticated session
type Session struct {
	Token     string
	Identity  model.Identity
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service handles sign-in, session validation and admin management
type Service struct {
	storage storage.AdminStore
	clock   clock.Clock
	random  random.Random
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	sessionDuration time.Duration
	bootstrapAdmins []string
}

// Config holds configuration for the auth service
type Config struct {
	SessionDuration time.Duration

	// BootstrapAdmins are always admins and cannot be removed
	BootstrapAdmins []string
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		SessionDuration: 24 * time.Hour,
	}
}

// New creates a new auth Service
func New(storage storage.AdminStore, clock clock.Clock, random random.Random, logger *slog.Logger, cfg Config) *Service {
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultConfig().SessionDuration
	}
	admins := make([]string, 0, len(cfg.BootstrapAdmins))
	for _, email := range cfg.BootstrapAdmins {
		if email = normalizeEmail(email); email != "" {
			admins = append(admins, email)
		}
	}
	return &Service{
		storage:         storage,
		clock:           clock,
		random:          random,
		logger:          logger.With(slog.String("component", "auth")),
		sessions:        make(map[string]*Session),
		sessionDuration: cfg.SessionDuration,
		bootstrapAdmins: admins,
	}
}

// Bootstrap records the bootstrap admins in the store so they show up in
// admin listings
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, email := range s.bootstrapAdmins {
		ok, err := s.storage.IsAdmin(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to check admin %s: %w", email, err)
		}
		if ok {
			continue
		}
		if err := s.storage.SaveAdmin(ctx, &model.Admin{Email: email, CreatedAt: s.clock.Now()}); err != nil {
			return fmt.Errorf("failed to save admin %s: %w", email, err)
		}
		s.logger.Info("bootstrap admin added", slog.String("email", email))
	}
	return nil
}

// SignIn creates a session for an email asserted by the identity provider
func (s *Service) SignIn(ctx context.Context, email, displayName string) (*Session, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidIdentity
	}
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	isAdmin, err := s.isAdmin(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &Session{
		Token: "sess_" + s.random.Token(tokenBytes),
		Identity: model.Identity{
			Email:       email,
			DisplayName: displayName,
			IsAdmin:     isAdmin,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionDuration),
	}

	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()

	s.logger.Info("player signed in", slog.String("email", email), slog.Bool("admin", isAdmin))
	return session, nil
}

// ValidateSession checks if a session token is valid and returns the session
func (s *Service) ValidateSession(token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidSession
	}

	if s.clock.Now().After(session.ExpiresAt) {
		s.InvalidateSession(token)
		return nil, ErrInvalidSession
	}

	return session, nil
}

// Identity returns the identity behind a session token with the admin flag
// re-read from the store, so granting or revoking takes effect immediately
func (s *Service) Identity(ctx context.Context, token string) (model.Identity, error) {
	session, err := s.ValidateSession(token)
	if err != nil {
		return model.Identity{}, err
	}

	identity := session.Identity
	identity.IsAdmin, err = s.isAdmin(ctx, identity.Email)
	if err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// InvalidateSession removes a session
func (s *Service) InvalidateSession(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// CleanExpiredSessions removes expired sessions (call periodically)
func (s *Service) CleanExpiredSessions() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}

// Run drops expired sessions every interval until ctx is done
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.CleanExpiredSessions()
		}
	}
}

// Admin management

// AddAdmin grants the admin role to an email
func (s *Service) AddAdmin(ctx context.Context, actor model.Identity, email string) (*model.Admin, error) {
	if !actor.IsAdmin {
		return nil, model.ErrNotAdmin
	}
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidIdentity
	}

	admin := &model.Admin{Email: email, CreatedAt: s.clock.Now()}
	if err := s.storage.SaveAdmin(ctx, admin); err != nil {
		return nil, err
	}
	s.logger.Info("admin added", slog.String("email", email), slog.String("by", actor.Email))
	return admin, nil
}

// ListAdmins returns every admin, oldest first
func (s *Service) ListAdmins(ctx context.Context, actor model.Identity) ([]*model.Admin, error) {
	if !actor.IsAdmin {
		return nil, model.ErrNotAdmin
	}
	return s.storage.ListAdmins(ctx)
}

// RemoveAdmin revokes the admin role. Bootstrap admins are protected.
func (s *Service) RemoveAdmin(ctx context.Context, actor model.Identity, email string) error {
	if !actor.IsAdmin {
		return model.ErrNotAdmin
	}
	email = normalizeEmail(email)
	if slices.Contains(s.bootstrapAdmins, email) {
		return ErrProtectedAdmin
	}

	if err := s.storage.DeleteAdmin(ctx, email); err != nil {
		return err
	}
	s.logger.Info("admin removed", slog.String("email", email), slog.String("by", actor.Email))
	return nil
}

func (s *Service) isAdmin(ctx context.Context, email string) (bool, error) {
	if slices.Contains(s.bootstrapAdmins, email) {
		return true, nil
	}
	ok, err := s.storage.IsAdmin(ctx, email)
	if err != nil {
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}
	return ok, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
