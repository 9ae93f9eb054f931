package model

import "time"

// Identity is the authenticated player as asserted by the identity provider
type Identity struct {
	Email       string
	DisplayName string
	IsAdmin     bool
}

// Admin grants the privileged race-starter role to an email
type Admin struct {
	Email     string
	CreatedAt time.Time
}

// EntryTokenID identifies an entry token in the registry
type EntryTokenID string

// EntryToken lets a user id pass the arena entry gate
type EntryToken struct {
	ID        EntryTokenID
	UserID    string
	TokenHash string // bcrypt hash, the plain token is never stored
	IsActive  bool
	CreatedAt time.Time
}
