/*
Package registry maps channel identity to live local subscribers and routes
events to them.

The registry is the subscription bookkeeping layer between the event bridge
and Relay's consumers (connection handlers, the notification service, the
session monitor). Channels exist only as routing state: they are created
lazily when their first subscriber registers and collapse as soon as their
last subscriber leaves, so an idle channel costs nothing.

# Architecture

	┌────────────────────── CHANNEL REGISTRY ──────────────────────┐
	│                                                                │
	│  Register("svc", "user.u1", filter)                           │
	│      │                                                         │
	│      ▼                                                         │
	│  ┌─────────────── channelEntry "user.u1" ────────────┐       │
	│  │  bridge.Subscription (one per channel)             │       │
	│  │       │                                            │       │
	│  │       ▼  route goroutine (one per channel)         │       │
	│  │  for each subscriber:                              │       │
	│  │    filter(event)?  ── error/panic → non-match      │       │
	│  │    send (non-blocking; full buffer drops)          │       │
	│  └────────────────────────────────────────────────────┘       │
	│                                                                │
	│  last Unregister ──► close bridge.Subscription, delete entry  │
	└────────────────────────────────────────────────────────────────┘

# Core Components

Registry:
  - Register: attach a subscriber to a channel, creating it if absent
  - Unregister: detach; idempotent; collapses empty channels

Subscription:
  - One subscriber's filtered event stream for one channel
  - Events() closes when the subscription is unregistered

Filter:
  - Optional pure predicate narrowing a subscription's stream
  - Fail-closed: an error or panic counts as "does not match", is
    logged and counted, and never disturbs other subscribers

# Ordering

Each channel is routed by a single goroutine, so every local subscriber of
a channel observes its events in the same relative order, and events from
one origin node arrive in that origin's publish order.

# Usage

	reg := registry.NewRegistry(b, 64)

	sub, err := reg.Register(ctx, "notif-service", types.UserChannel("u1"),
		func(event *types.Event) (bool, error) {
			return event.Type == types.EventNotification, nil
		})
	if err != nil {
		return err
	}
	defer sub.Close()

	for event := range sub.Events() {
		// only notification events for u1
	}

# Integration Points

This package integrates with:

  - pkg/bridge: one bridge subscription per active channel
  - pkg/session: the termination executor and ack wait are registry
    subscriptions on the reserved session channels
  - pkg/node: exposes Register as the public Subscribe surface

# Monitoring

  - relay_channels_active: channels with at least one subscriber
  - relay_subscriptions_active: total live subscriptions
  - relay_filter_errors_total: filters that errored or panicked
  - relay_events_dropped_total: full subscriber buffers

# See Also

  - pkg/bridge: where channel streams come from
*/
package registry
