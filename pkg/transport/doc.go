/*
Package transport provides the pluggable message backends Relay delivers over.

The transport package defines the Backend abstraction and its two production
implementations: an in-memory backend for same-process fan-out and a Redis
pub/sub backend for cross-node fan-out. Higher layers (the event bridge, the
channel registry) are written against the interfaces and never against a
concrete broker.

# Architecture

	┌─────────────────────── TRANSPORT LAYER ───────────────────────┐
	│                                                                 │
	│  ┌──────────────────────────────────────────────┐             │
	│  │            Backend (interface)                │             │
	│  │  - Publish(ctx, channelID, event)             │             │
	│  │  - Subscribe(ctx, channelID) → Handle         │             │
	│  │  - Close()                                    │             │
	│  └───────────┬──────────────────────┬───────────┘             │
	│              │                      │                          │
	│  ┌───────────▼───────────┐  ┌──────▼────────────────────┐    │
	│  │    MemoryBackend      │  │  RedisBackend              │    │
	│  │  - per-channel subs   │  │  - Redis pub/sub           │    │
	│  │  - non-blocking sends │  │  - ClusterBackend: adds    │    │
	│  │  - channel collapse   │  │    PSubscribe, Connected   │    │
	│  │    when last sub goes │  │  - health probe +          │    │
	│  │                       │  │    capped-doubling backoff │    │
	│  └───────────────────────┘  └───────────────────────────┘    │
	│                                                                 │
	│  Handle: one live subscription                                  │
	│  - Events() <-chan *types.Event                                 │
	│  - Close() idempotent                                           │
	└─────────────────────────────────────────────────────────────────┘

# Core Components

Backend:
  - Minimal publish/subscribe surface every transport implements
  - Publish is fire-and-forget: no delivery confirmation
  - Subscribe returns a Handle carrying the event stream

ClusterBackend:
  - Extends Backend with pattern subscriptions (PSubscribe) and a
    connectivity probe (Connected) for degraded-mode detection

MemoryBackend:
  - Same-process fan-out with per-channel subscriber sets
  - Slow consumers are never allowed to block a publisher: a full
    subscriber buffer drops the event and counts it
  - Channel state collapses as soon as its last subscriber leaves

RedisBackend:
  - Cross-node fan-out over Redis pub/sub
  - A background monitor probes the broker; on failure the backend
    reports disconnected and retries with capped-doubling backoff
  - Publish fails fast with ErrNotConnected while the broker is down
    so callers can keep serving local traffic

Handle:
  - One live subscription's event stream
  - Closing is idempotent; the stream channel closes after removal

# Delivery Semantics

  - At-most-once per subscriber: a full buffer drops, never blocks
  - Per-publisher FIFO: one producer's events arrive in publish order
  - No persistence: events published while a subscriber is absent or
    the broker is down are gone

# Usage

In-memory fan-out:

	backend := transport.NewMemoryBackend(64)
	handle, _ := backend.Subscribe(ctx, "user.u-123")
	go func() {
		for event := range handle.Events() {
			deliver(event)
		}
	}()
	backend.Publish(ctx, "user.u-123", event)

Redis-backed fan-out:

	backend := transport.NewRedisBackend(transport.RedisOptions{
		Addr:       "127.0.0.1:6379",
		BackoffMin: 100 * time.Millisecond,
		BackoffMax: 30 * time.Second,
		Buffer:     64,
	})
	defer backend.Close()

	if !backend.Connected() {
		// degraded: local delivery only
	}

# Integration Points

This package integrates with:

  - pkg/bridge: composes MemoryBackend and RedisBackend into one bus
  - pkg/node: constructs the backends from configuration

# Troubleshooting

Events missing under load:
  - Symptom: EventsDropped metric rising
  - Cause: a subscriber is not draining its Handle
  - Solution: raise the subscriber buffer or speed up the consumer

Publish returns ErrNotConnected:
  - Symptom: cross-node delivery suspended
  - Cause: the Redis broker is unreachable
  - Check: relay_broker_reconnects_total and the degraded-mode gauge
  - Behavior: reconnection is automatic with bounded backoff

# See Also

  - pkg/bridge: origin stamping and echo suppression atop transports
  - Redis pub/sub: https://redis.io/docs/interact/pubsub/
*/
package transport
