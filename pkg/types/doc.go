/*
Package types defines the core data structures used throughout Relay.

The types package contains all shared data structures for events, channels,
presence, sessions, and the termination audit trail. By centralizing type
definitions, Relay keeps every subsystem speaking the same vocabulary and
avoids circular import dependencies between packages.

# Architecture

Types flow through the system in a clean dependency hierarchy:

	types (this package)
	  ↑
	  ├── transport  (carries Event over the wire)
	  ├── bridge     (stamps OriginNode and Sequence on Event)
	  ├── registry   (routes Event to subscribers)
	  ├── presence   (maintains PresenceRecord)
	  ├── session    (maintains SessionRecord, issues TerminationCommand)
	  ├── audit      (persists AuditEntry)
	  └── node       (composes everything)

All other packages import types; types imports only the standard library.

# Core Types

Event:
  - One real-time message delivered through a channel
  - ID: unique event identifier (UUID)
  - ChannelID: the channel it was published on
  - Type: semantic event type ("notification", "presence.online", ...)
  - Payload: opaque JSON body owned by the producer
  - Metadata: small string map for routing hints
  - OriginNode + Sequence: delivery bookkeeping stamped by the bridge

PresenceRecord:
  - One (user, node) pair's liveness
  - Status: online or away, chosen by the client
  - LastHeartbeat: staleness timestamp the sweep compares against

SessionRecord:
  - One live connection: session id, user, hosting node, connect time

TerminationCommand:
  - Admin request to force-close a session wherever it is hosted
  - CommandID correlates the command with its acknowledgment
  - AckDeadline bounds how long the issuer waits

TerminationAck:
  - The hosting node's answer to a TerminationCommand
  - Stale marks commands whose session was already gone

AuditEntry:
  - One line of the append-only termination audit trail

# Channel Naming

Channels are flat strings with reserved prefixes:

	user.<user_id>              per-user delivery
	folder.<folder_id>          shared-folder delivery
	system.presence.<user_id>   presence transitions (reserved)
	system.session.<node_id>    termination commands (reserved)
	system.session.ack          termination acknowledgments (reserved)
	broadcast                   cluster-wide announcements

The helpers UserChannel, FolderChannel, PresenceChannel, and SessionChannel
build well-formed identifiers so callers never concatenate prefixes by hand.

# Usage

Creating an event:

	event := &types.Event{
		ChannelID: types.UserChannel("u-123"),
		Type:      types.EventNotification,
		Payload:   []byte(`{"file": "report.pdf"}`),
	}

Checking presence staleness:

	if record.Stale(time.Now(), 45*time.Second) {
		// heartbeat went silent; the connection is considered dead
	}

# Thread Safety

Types in this package are plain data carriers with no internal locking.
Ownership rules:
  - An Event is immutable once published; consumers must not mutate it
  - PresenceRecord and SessionRecord copies are handed out by their owners
  - AuditEntry is written once and never updated

# See Also

  - pkg/bridge: stamps and routes events
  - pkg/presence: maintains presence records
  - pkg/session: issues termination commands
*/
package types
