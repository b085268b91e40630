package types

import (
	"fmt"
	"time"
)

// Event is a single message distributed through the relay core. Events are
// immutable once constructed; the bridge stamps OriginNode and Sequence at
// publish time and they must not change afterwards.
type Event struct {
	ID         string            `json:"id"`
	ChannelID  string            `json:"channel_id"`
	Type       EventType         `json:"type"`
	Payload    []byte            `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OriginNode string            `json:"origin_node"`
	Sequence   uint64            `json:"sequence"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// EventType represents the type of event
type EventType string

const (
	// Presence events, published on system.presence.<user_id>. Online and
	// offline mark a user's aggregate transitions (first record created,
	// last record removed); connected, disconnected and heartbeat carry
	// the per-(user, node) detail other nodes project from.
	EventPresenceOnline       EventType = "presence.online"
	EventPresenceOffline      EventType = "presence.offline"
	EventPresenceConnected    EventType = "presence.connected"
	EventPresenceDisconnected EventType = "presence.disconnected"
	EventPresenceHeartbeat    EventType = "presence.heartbeat"

	// Session events, published on system.session.<node_id> and
	// system.session.ack
	EventSessionTerminate EventType = "session.terminate"
	EventSessionAck       EventType = "session.ack"
	EventSessionBroadcast EventType = "session.broadcast"

	// Domain notification events emitted by outer subsystems
	EventNotification EventType = "notification"
)

// ChannelType defines the kind of channel an event is routed on
type ChannelType string

const (
	ChannelUser           ChannelType = "user"
	ChannelFolder         ChannelType = "folder"
	ChannelBroadcast      ChannelType = "broadcast"
	ChannelSystemPresence ChannelType = "system-presence"
	ChannelSystemSession  ChannelType = "system-session"
)

// Reserved channel name components. Any future channel type must avoid
// the "system." prefix.
const (
	SystemPresencePrefix = "system.presence."
	SystemSessionPrefix  = "system.session."
	SessionAckChannel    = "system.session.ack"
	BroadcastChannel     = "broadcast"
)

// UserChannel returns the channel id carrying events addressed to a user
func UserChannel(userID string) string {
	return fmt.Sprintf("user.%s", userID)
}

// FolderChannel returns the channel id for a shared folder (room)
func FolderChannel(folderID string) string {
	return fmt.Sprintf("folder.%s", folderID)
}

// PresenceChannel returns the reserved channel carrying a user's presence
// transitions
func PresenceChannel(userID string) string {
	return SystemPresencePrefix + userID
}

// SessionChannel returns the reserved channel on which termination commands
// addressed to a node are published
func SessionChannel(nodeID string) string {
	return SystemSessionPrefix + nodeID
}

// PresenceStatus represents the activity level of a presence record
type PresenceStatus string

const (
	PresenceOnline PresenceStatus = "online"
	PresenceAway   PresenceStatus = "away"
	// PresenceOffline is an aggregate-only status; records for offline
	// users are deleted, never stored with this value.
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord tracks one user's connection to one node. A user connected
// to two nodes has two records; the record is owned by the node holding the
// live connection and other nodes only learn of it through events.
type PresenceRecord struct {
	UserID        string         `json:"user_id"`
	NodeID        string         `json:"node_id"`
	Status        PresenceStatus `json:"status"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
}

// Stale reports whether the record's heartbeat is older than ttl at now
func (r *PresenceRecord) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastHeartbeat) > ttl
}

// SessionRecord tracks one live connection hosted on a node
type SessionRecord struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	NodeID      string    `json:"node_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// TerminationCommand instructs the node hosting a session to close it
type TerminationCommand struct {
	CommandID   string    `json:"command_id"`
	SessionID   string    `json:"session_id"`
	Reason      string    `json:"reason"`
	IssuedBy    string    `json:"issued_by"`
	IssuedAt    time.Time `json:"issued_at"`
	AckDeadline time.Time `json:"ack_deadline"`
}

// TerminationOutcome is the result of a termination attempt, always returned
// to the caller explicitly
type TerminationOutcome string

const (
	// OutcomeAcknowledged means the hosting node confirmed the session is
	// gone. A stale session id (already disconnected) also acknowledges,
	// since the desired end state already holds.
	OutcomeAcknowledged TerminationOutcome = "acknowledged"
	// OutcomeTimedOut means no acknowledgment arrived before the deadline
	OutcomeTimedOut TerminationOutcome = "timed_out"
)

// TerminationAck is carried in the payload of session.ack events
type TerminationAck struct {
	CommandID string    `json:"command_id"`
	SessionID string    `json:"session_id"`
	NodeID    string    `json:"node_id"`
	Stale     bool      `json:"stale,omitempty"`
	AckedAt   time.Time `json:"acked_at"`
}

// AuditEntry records an issued termination command or its observed outcome
type AuditEntry struct {
	CommandID string    `json:"command_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"` // "issued", "acknowledged", "timed_out"
	Reason    string    `json:"reason,omitempty"`
	IssuedBy  string    `json:"issued_by"`
	Timestamp time.Time `json:"timestamp"`
}
