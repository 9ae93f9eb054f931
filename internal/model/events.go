package model

import "time"

// Table names a watched table in the change feed
type Table string

const (
	TableSessions     Table = "race_sessions"
	TableParticipants Table = "race_participants"
)

// ChangeOp is the kind of row change
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// ChangeEvent is a single row change delivered by the change feed.
// Exactly one of Session or Participant is set, matching Table.
type ChangeEvent struct {
	Table       Table
	Op          ChangeOp
	SessionID   SessionID
	Session     *Session
	Participant *Participant
	At          time.Time
}

// FeedStatus is a subscription lifecycle notification
type FeedStatus string

const (
	FeedSubscribed   FeedStatus = "SUBSCRIBED"
	FeedChannelError FeedStatus = "CHANNEL_ERROR"
	FeedTimedOut     FeedStatus = "TIMED_OUT"
	FeedClosed       FeedStatus = "CLOSED"
)

// IsFailure returns true for statuses that require a resubscribe
func (s FeedStatus) IsFailure() bool {
	return s == FeedChannelError || s == FeedTimedOut
}

// ConnectionState is the live view's connection indicator
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)
