package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// ErrInvalidUserID is returned when issuing a token without a user id
var ErrInvalidUserID = errors.New("user id is required")

// generatedTokenBytes is the entropy of a generated entry token
const generatedTokenBytes = 9

// Issued is a newly created token. Plain is shown once and never stored.
type Issued struct {
	Token *model.EntryToken
	Plain string
}

// Registry is the admin-managed token list. Tokens are stored as bcrypt
// hashes and checked by Validate.
type Registry struct {
	storage storage.EntryTokenStore
	clock   clock.Clock
	random  random.Random
	logger  *slog.Logger
	cost    int
}

// NewRegistry creates a Registry. A cost of 0 uses bcrypt.DefaultCost.
func NewRegistry(storage storage.EntryTokenStore, clock clock.Clock, random random.Random, logger *slog.Logger, cost int) *Registry {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Registry{
		storage: storage,
		clock:   clock,
		random:  random,
		logger:  logger.With(slog.String("component", "token_registry")),
		cost:    cost,
	}
}

// Validate returns true if any active token for the user matches
func (r *Registry) Validate(ctx context.Context, userID, token string) (bool, error) {
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" || token == "" {
		return false, nil
	}

	tokens, err := r.storage.ListEntryTokensForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load entry tokens: %w", err)
	}
	for _, t := range tokens {
		if !t.IsActive {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(token)) == nil {
			return true, nil
		}
	}
	return false, nil
}

// Issue creates an active token for a user. An empty token is generated.
func (r *Registry) Issue(ctx context.Context, actor model.Identity, userID, token string) (*Issued, error) {
	if !actor.IsAdmin {
		return nil, model.ErrNotAdmin
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	token = strings.TrimSpace(token)
	if token == "" {
		token = r.random.Token(generatedTokenBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), r.cost)
	if err != nil {
		return nil, err
	}

	entryToken := &model.EntryToken{
		ID:        model.EntryTokenID(uuid.NewString()),
		UserID:    userID,
		TokenHash: string(hash),
		IsActive:  true,
		CreatedAt: r.clock.Now(),
	}
	if err := r.storage.SaveEntryToken(ctx, entryToken); err != nil {
		return nil, err
	}

	r.logger.Info("entry token issued",
		slog.String("token_id", string(entryToken.ID)),
		slog.String("user_id", userID),
		slog.String("by", actor.Email))
	return &Issued{Token: entryToken, Plain: token}, nil
}

// List returns every token, oldest first
func (r *Registry) List(ctx context.Context, actor model.Identity) ([]*model.EntryToken, error) {
	if !actor.IsAdmin {
		return nil, model.ErrNotAdmin
	}
	return r.storage.ListEntryTokens(ctx)
}

// Toggle flips a token between active and inactive
func (r *Registry) Toggle(ctx context.Context, actor model.Identity, id model.EntryTokenID) (*model.EntryToken, error) {
	if !actor.IsAdmin {
		return nil, model.ErrNotAdmin
	}

	token, err := r.storage.GetEntryToken(ctx, id)
	if err != nil {
		return nil, err
	}
	token.IsActive = !token.IsActive
	if err := r.storage.SaveEntryToken(ctx, token); err != nil {
		return nil, err
	}

	r.logger.Info("entry token toggled",
		slog.String("token_id", string(id)),
		slog.Bool("active", token.IsActive))
	return token, nil
}

// Delete removes a token
func (r *Registry) Delete(ctx context.Context, actor model.Identity, id model.EntryTokenID) error {
	if !actor.IsAdmin {
		return model.ErrNotAdmin
	}
	if err := r.storage.DeleteEntryToken(ctx, id); err != nil {
		return err
	}
	r.logger.Info("entry token deleted", slog.String("token_id", string(id)))
	return nil
}
