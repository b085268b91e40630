/*
Package presence tracks which users are online across the Relay cluster.

The tracker keeps one record per (user, node) pair. Records for this node's
own connections are authoritative and mutated by the local connection layer;
records for other nodes are read-only projections learned from their presence
events. A user's aggregate status is online if any node holds a non-stale
record for them.

# Architecture

	┌──────────────────────── PRESENCE TRACKER ────────────────────────┐
	│                                                                    │
	│  local connection layer                                            │
	│    Connect / Heartbeat / Disconnect                               │
	│        │                                                           │
	│        ├── mutate (user, self) record                              │
	│        └── publish on system.presence.<user_id>                   │
	│              presence.connected / heartbeat / disconnected        │
	│              presence.online / offline  (aggregate transitions)   │
	│                                                                    │
	│  remote nodes' events ──► ObserveRemote ──► projection records    │
	│                                                                    │
	│  sweep (every TTL/2):                                              │
	│    record stale? ──► delete, notify evict hook                    │
	│    locally owned and user's last? ──► publish presence.offline    │
	└────────────────────────────────────────────────────────────────────┘

# Failure Detection

Heartbeats are the only liveness signal. A record whose heartbeat is older
than the TTL is swept regardless of which node owns it:

  - Local records: the connection died without an orderly disconnect
    (process kill, network drop). The sweep publishes the user's offline
    transition if it was their last record anywhere.
  - Projected records: the owning node died or is partitioned. The sweep
    clears the projection silently; announcing another node's users
    offline is that node's job, not ours.

The eviction hook lets dependent state (projected session records) die
together with the presence record that implied it.

# Multiple Sessions

A user may hold several connections on one node. The (user, node) record is
shared: disconnecting one session refreshes nothing and removes nothing
until the caller signals that the last session on this node closed
(removeRecord). The aggregate offline transition fires only when the user's
last record across all nodes disappears, so consumers see one online and
one offline per actual presence episode.

# Usage

	tracker := presence.NewTracker(b, 45*time.Second, 22*time.Second)
	tracker.Start()
	defer tracker.Stop()

	tracker.Connect(ctx, "u-123", sessionID)
	tracker.Heartbeat(ctx, "u-123", types.PresenceAway)

	if tracker.Status("u-123") == types.PresenceOnline {
		// at least one live connection somewhere in the cluster
	}

	tracker.Disconnect(ctx, "u-123", sessionID, lastSessionHere)

# Integration Points

This package integrates with:

  - pkg/bridge: publishes presence events, cluster-wide
  - pkg/session: evict hook clears projected sessions; connected events
    carry the session id the monitor projects from
  - pkg/node: drives Connect/Disconnect from the connection lifecycle

# Monitoring

  - relay_presence_records: current record count (local + projected)
  - relay_presence_sweep_duration_seconds: sweep latency
  - relay_presence_sweep_evictions_total: records expired by the sweep

# See Also

  - pkg/session: the session-level view built on these events
*/
package presence
