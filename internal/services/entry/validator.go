// Package entry implements the arena entry gate: a user id and token pair
// is checked against a remote sheet or the admin-managed token registry.
package entry

import (
	"context"
	"errors"
)

// ErrGateUnavailable is returned when the gate cannot reach its backend
var ErrGateUnavailable = errors.New("entry gate unavailable")

// Validator decides whether a user id may enter the arena
type Validator interface {
	Validate(ctx context.Context, userID, token string) (bool, error)
}

// Open admits everyone. Used for local play and tests.
type Open struct{}

// Validate always succeeds
func (Open) Validate(context.Context, string, string) (bool, error) {
	return true, nil
}
