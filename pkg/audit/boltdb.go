package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/driftbox/relay/pkg/types"
)

var bucketAudit = []byte("termination_audit")

// BoltStore implements Store using BoltDB. Keys are ordered by timestamp
// so time-range queries are cursor range scans.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the audit database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "audit.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// auditKey orders entries chronologically and keeps same-instant entries
// for different commands distinct
func auditKey(entry *types.AuditEntry) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s",
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.CommandID,
		entry.Action,
	))
}

// Append adds an entry to the log
func (s *BoltStore) Append(entry *types.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(auditKey(entry), data)
	})
}

// ListByTimeRange returns entries with from <= Timestamp <= to, oldest first
func (s *BoltStore) ListByTimeRange(from, to time.Time) ([]*types.AuditEntry, error) {
	var entries []*types.AuditEntry
	min := []byte(from.UTC().Format(time.RFC3339Nano))
	max := []byte(to.UTC().Format(time.RFC3339Nano) + "\xff")

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Seek(min); k != nil && string(k) <= string(max); k, v = c.Next() {
			var entry types.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

// ListByCommand returns every entry recorded for a command id
func (s *BoltStore) ListByCommand(commandID string) ([]*types.AuditEntry, error) {
	return s.scan(func(entry *types.AuditEntry) bool {
		return entry.CommandID == commandID
	})
}

// ListByUser returns every entry recorded for commands targeting a user's
// sessions
func (s *BoltStore) ListByUser(userID string) ([]*types.AuditEntry, error) {
	return s.scan(func(entry *types.AuditEntry) bool {
		return entry.UserID == userID
	})
}

// ListByIssuer returns every entry recorded for commands issued by an admin
func (s *BoltStore) ListByIssuer(issuedBy string) ([]*types.AuditEntry, error) {
	return s.scan(func(entry *types.AuditEntry) bool {
		return entry.IssuedBy == issuedBy
	})
}

func (s *BoltStore) scan(match func(*types.AuditEntry) bool) ([]*types.AuditEntry, error) {
	var entries []*types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).ForEach(func(k, v []byte) error {
			var entry types.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if match(&entry) {
				entries = append(entries, &entry)
			}
			return nil
		})
	})
	return entries, err
}
