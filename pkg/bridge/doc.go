/*
Package bridge unifies the local and cluster transports into one event bus.

The bridge is the seam between same-process delivery and cross-node delivery.
Every published event is stamped with the publishing node's identity and a
per-node sequence number, fanned out to local subscribers, and forwarded to
the cluster broker. Events arriving from the broker are ingested into the
local fan-out after echo suppression and duplicate detection, so the rest of
the system sees a single logical stream per channel regardless of where an
event originated.

# Architecture

	┌───────────────────────── EVENT BRIDGE ─────────────────────────┐
	│                                                                  │
	│  Publish(event)                                                  │
	│      │                                                           │
	│      ├── stamp OriginNode + Sequence (+ ID, EmittedAt)          │
	│      ├── MemoryBackend.Publish ──► local subscribers            │
	│      └── ClusterBackend.Publish ─► broker (best effort)         │
	│                                                                  │
	│  broker ──► tap (one per subscribed channel, refcounted)        │
	│      │                                                           │
	│      ├── origin == self?      drop (echo)                       │
	│      ├── (origin, seq) seen?  drop (duplicate)                  │
	│      └── MemoryBackend.Publish ──► local subscribers            │
	│            (never re-forwarded: relay loops cannot form)        │
	│                                                                  │
	│  SubscribePattern ──► RemoteFeed (remote-only, own dedup)       │
	└──────────────────────────────────────────────────────────────────┘

# Core Components

Bridge:
  - Publish: stamp, deliver locally, forward to the broker
  - Subscribe: local subscription plus the channel's shared cluster tap
  - SubscribePattern: remote-only feed over a channel pattern
  - Degraded: true while the broker is unreachable

Subscription:
  - One subscriber's unified stream for a channel
  - Closing the last subscription of a channel releases its cluster tap

RemoteFeed:
  - Pattern subscription producing only other nodes' events
  - Backs the cluster-wide presence and session projections
  - Carries its own dedup window: it is an independent delivery path

# Delivery Guarantees

  - Per-origin FIFO ordering: events from one node arrive in its
    publish order on every other node
  - Echo suppression: a node never receives its own forward back
  - Bounded dedup: the last N sequences per origin are remembered;
    redeliveries inside the window are dropped exactly once
  - Degraded mode: when the broker is down, local publish and delivery
    continue unaffected; only cross-node traffic pauses

# Usage

	b := bridge.New("node-a", memoryBackend, redisBackend, 256)

	sub, _ := b.Subscribe(ctx, "folder.f-42")
	go func() {
		for event := range sub.Events() {
			// local and remote events, deduplicated, in per-origin order
		}
	}()

	b.Publish(ctx, &types.Event{
		ChannelID: "folder.f-42",
		Type:      types.EventNotification,
		Payload:   payload,
	})

Single-node deployments pass a nil cluster backend; the bridge then runs
purely in-process and never reports degraded.

# Integration Points

This package integrates with:

  - pkg/transport: the two backends being bridged
  - pkg/registry: consumes Subscribe for channel routing
  - pkg/presence, pkg/session: consume SubscribePattern for projections
  - pkg/node: owns the bridge lifecycle

# Limitations

  - The dedup window is bounded; a redelivery older than the window is
    not detected. Window size is configurable per deployment.
  - No persistence: events published while a node is partitioned are
    not replayed when it reconnects.

# See Also

  - pkg/transport: delivery semantics of the underlying backends
*/
package bridge
