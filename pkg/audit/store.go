package audit

import (
	"time"

	"github.com/driftbox/relay/pkg/types"
)

// Store is the append-only audit log for session termination commands.
// Entries are never updated or deleted; every issued command and every
// observed acknowledgment or timeout is appended for compliance review.
type Store interface {
	Append(entry *types.AuditEntry) error
	ListByTimeRange(from, to time.Time) ([]*types.AuditEntry, error)
	ListByCommand(commandID string) ([]*types.AuditEntry, error)
	ListByUser(userID string) ([]*types.AuditEntry, error)
	ListByIssuer(issuedBy string) ([]*types.AuditEntry, error)
	Close() error
}
