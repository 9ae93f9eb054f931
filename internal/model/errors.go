package model

import "errors"

// Common errors used across the application
var (
	// Store errors
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrShipNotFound        = errors.New("ship not found")
	ErrAdminNotFound       = errors.New("admin not found")
	ErrEntryTokenNotFound  = errors.New("entry token not found")

	// Uniqueness violations reported by the store
	ErrLaneTaken     = errors.New("lane already taken")
	ErrAlreadyJoined = errors.New("player already joined session")
	ErrInvalidLane   = errors.New("lane outside the lane pool")

	// Seat errors
	ErrArenaFull   = errors.New("arena is full")
	ErrRaceStarted = errors.New("race has already started")

	// Race director errors
	ErrNotAdmin          = errors.New("player is not an admin")
	ErrNotEnoughRacers   = errors.New("not enough racers to start")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrRaceNotInProgress = errors.New("race is not in progress")
	ErrNotParticipant    = errors.New("player is not in this race")

	// Entry gate errors
	ErrInvalidToken = errors.New("invalid entry token")

	// Change feed errors
	ErrSubscriptionLost = errors.New("subscription lost")
)
