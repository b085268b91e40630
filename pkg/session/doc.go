/*
Package session gives administrators a cluster-wide view of live sessions
and the ability to broadcast announcements and force-terminate a session on
any node.

The monitor keeps two session sets: sessions hosted on this node
(authoritative, attached by the connection layer together with a hook that
force-closes the underlying connection) and sessions hosted elsewhere
(projections learned from other nodes' presence events). Listing merges
both; termination routes the command to whichever node hosts the target.

# Termination Protocol

	issuing node                               hosting node
	────────────                               ────────────
	lookup session ── not found ──► no-op success (stale)
	     │
	subscribe system.session.ack  (before publishing: no ack race)
	audit "issued"
	publish command on system.session.<hosting_node>
	     │                                     executor receives command
	     │                                     drop session, call closer
	     │                                     publish ack (stale if gone)
	wait: ack ──► audit "acknowledged"
	      deadline ──► audit "timed_out"

Only the hosting node executes a command; every other node's executor never
sees it because commands travel on the hosting node's reserved channel. A
command for a session that is already gone acknowledges as stale, so
redelivered commands are idempotent and terminating a dead session is a
successful no-op: the desired end state already holds.

The ack wait is bounded by the configured deadline. A timeout means the
outcome is unknown (the hosting node may still execute the command later);
the audit trail records which of the two happened from the issuer's view.

# Audit Trail

Every command writes an append-only trail through pkg/audit: one entry when
issued and one for the observed outcome. Entries carry the command id, the
target session and user, the reason, and the issuing administrator, and are
queryable by time range, command, or issuer for compliance review.

# Usage

	monitor := session.NewMonitor(b, reg, auditLog, 10*time.Second)
	monitor.Start(ctx)
	defer monitor.Stop()

	// connection layer
	monitor.Attach(record, conn.ForceClose)
	defer monitor.Detach(record.SessionID)

	// admin surface
	sessions := monitor.List(session.Filter{UserID: "u-123"})
	outcome, err := monitor.Terminate(ctx, sessionID, "abuse report", "admin-7")

	monitor.Broadcast(ctx, "maintenance at 22:00 UTC", "admin-7", nil)

# Integration Points

This package integrates with:

  - pkg/registry: the executor subscription and the filtered ack wait
  - pkg/bridge: command, ack, and broadcast publishing
  - pkg/presence: session projections ride on presence events; the
    tracker's evict hook clears sessions of silently failed connections
  - pkg/audit: the append-only command trail

# Monitoring

  - relay_sessions_active: sessions hosted on this node
  - relay_termination_outcomes_total: acknowledged / timed_out / stale

# See Also

  - pkg/audit: trail persistence and queries
*/
package session
