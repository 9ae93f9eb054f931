package redis

import (
	"fmt"

	"github.com/mcoot/typerace/internal/model"
)

// Key prefix for all race data
const keyPrefix = "typerace"

// sessionKey returns the Redis key for a Session
func sessionKey(id model.SessionID) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, id)
}

// sessionsByStatusKey returns the Redis key for the ZSET of sessions in a
// status, scored by creation time
func sessionsByStatusKey(status model.SessionStatus) string {
	return fmt.Sprintf("%s:idx:sessions:%s", keyPrefix, status)
}

// participantKey returns the Redis key for a Participant
func participantKey(id model.ParticipantID) string {
	return fmt.Sprintf("%s:participant:%s", keyPrefix, id)
}

// participantsForSessionKey returns the Redis key for the SET of participant ids in a session
func participantsForSessionKey(sessionID model.SessionID) string {
	return fmt.Sprintf("%s:idx:participants:%s", keyPrefix, sessionID)
}

// laneClaimKey returns the Redis key that reserves a lane in a session
func laneClaimKey(sessionID model.SessionID, lane int) string {
	return fmt.Sprintf("%s:claim:lane:%s:%d", keyPrefix, sessionID, lane)
}

// seatClaimKey returns the Redis key that reserves a player's seat in a session
func seatClaimKey(sessionID model.SessionID, email string) string {
	return fmt.Sprintf("%s:claim:seat:%s:%s", keyPrefix, sessionID, email)
}

// shipKey returns the Redis key for a Ship
func shipKey(id model.ShipID) string {
	return fmt.Sprintf("%s:ship:%s", keyPrefix, id)
}

// shipsIndexKey returns the Redis key for the SET of all ship keys
func shipsIndexKey() string {
	return fmt.Sprintf("%s:idx:ships", keyPrefix)
}

// adminKey returns the Redis key for an Admin
func adminKey(email string) string {
	return fmt.Sprintf("%s:admin:%s", keyPrefix, email)
}

// adminsIndexKey returns the Redis key for the SET of all admin keys
func adminsIndexKey() string {
	return fmt.Sprintf("%s:idx:admins", keyPrefix)
}

// entryTokenKey returns the Redis key for an EntryToken
func entryTokenKey(id model.EntryTokenID) string {
	return fmt.Sprintf("%s:entry_token:%s", keyPrefix, id)
}

// entryTokensIndexKey returns the Redis key for the SET of all entry token keys
func entryTokensIndexKey() string {
	return fmt.Sprintf("%s:idx:entry_tokens", keyPrefix)
}

// feedChannel returns the pub/sub channel carrying a session's change events
func feedChannel(sessionID model.SessionID) string {
	return fmt.Sprintf("%s:feed:%s", keyPrefix, sessionID)
}
