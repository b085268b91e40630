/*
Package node composes Relay's subsystems into one cluster member.

A Node owns the transport backends, the event bridge, the channel registry,
the presence tracker, the session monitor, and the audit log, and exposes
the surface the rest of the platform talks to: the connection layer calls
Connect/Disconnect/Heartbeat, producers call Publish, consumers call
Subscribe, and admin tooling calls ListSessions/Broadcast/Terminate.

# Architecture

	┌───────────────────────── RELAY NODE ─────────────────────────┐
	│                                                                │
	│   connection layer        producers         admin tooling     │
	│   Connect/Disconnect      Publish           ListSessions      │
	│   Heartbeat               Subscribe         Broadcast         │
	│        │                     │              Terminate         │
	│        ▼                     ▼                   ▼            │
	│  ┌──────────┐  ┌──────────┐  ┌──────────┐  ┌──────────┐     │
	│  │ presence │  │ registry │  │  session │  │  audit   │     │
	│  │ tracker  │  │          │  │  monitor │  │  (bbolt) │     │
	│  └────┬─────┘  └────┬─────┘  └────┬─────┘  └──────────┘     │
	│       └─────────────┼─────────────┘                           │
	│                     ▼                                          │
	│              ┌─────────────┐                                  │
	│              │   bridge    │  origin stamping, echo           │
	│              └──────┬──────┘  suppression, dedup              │
	│              ┌──────┴──────┐                                  │
	│        ┌─────▼────┐  ┌─────▼─────┐                            │
	│        │  memory  │  │   redis   │  (optional: standalone     │
	│        │ backend  │  │  backend  │   nodes run without it)    │
	│        └──────────┘  └───────────┘                            │
	└────────────────────────────────────────────────────────────────┘

On Start the node also opens the cluster projection feed: a pattern
subscription over the reserved presence channels whose events feed the
tracker's and monitor's remote projections.

# Lifecycle

	cfg, _ := config.Load(path)
	n, err := node.NewNode(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer n.Shutdown()

Shutdown stops the sweep and the executor, drains the projection feed, and
closes the registry, bridge, backends, and audit store, in that order.

# Connection Contract

The connection layer hands Connect a closer that force-closes the
underlying connection. The node invokes it when an administrator
terminates the session, then releases the user's presence record if that
was their last session here. Orderly disconnects call Disconnect instead.

# Degraded Mode

A node whose broker connection drops keeps serving local traffic: Publish
and Subscribe work, presence of locally connected users stays accurate.
Cross-node delivery and projections pause until the automatic reconnect
succeeds; Degraded reports the current state.

# Integration Points

This package integrates with:

  - cmd/relay: the node binary's run command
  - every pkg/ subsystem: the node is the composition root

# See Also

  - pkg/config: the configuration a node is built from
*/
package node
