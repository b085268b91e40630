/*
Package audit provides BoltDB-backed persistence for the termination audit
trail.

Session termination is an administrative action against a user's live
connection, so every command and its observed outcome are recorded in an
append-only log that survives restarts. The log is local to the issuing
node: each node's trail records the commands its administrators issued.

# Core Components

Store:
  - Append: add one entry (timestamp defaulted if missing)
  - ListByTimeRange: entries between two instants, oldest first
  - ListByCommand: the full life of one command
  - ListByUser: commands that targeted a user's sessions
  - ListByIssuer: everything one administrator did

BoltStore:
  - Single-file BoltDB database under the configured data directory
  - Keys are RFC3339Nano timestamp / command id / action, so the
    natural key order is chronological and time-range queries are
    cursor range scans
  - Values are JSON-marshaled AuditEntry records

# Usage

	store, err := audit.NewBoltStore("/var/lib/relay")
	if err != nil {
		return err
	}
	defer store.Close()

	store.Append(&types.AuditEntry{
		CommandID: cmd.CommandID,
		SessionID: cmd.SessionID,
		Action:    "issued",
		IssuedBy:  "admin-7",
	})

	entries, err := store.ListByIssuer("admin-7")

# Integration Points

This package integrates with:

  - pkg/session: appends entries for every termination command
  - pkg/node: owns the store lifecycle, exposes it for admin queries

# See Also

  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package audit
