package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftbox/relay/pkg/audit"
	"github.com/driftbox/relay/pkg/bridge"
	"github.com/driftbox/relay/pkg/log"
	"github.com/driftbox/relay/pkg/metrics"
	"github.com/driftbox/relay/pkg/registry"
	"github.com/driftbox/relay/pkg/types"
)

// localSession pairs a locally hosted session record with the hook that
// force-closes its connection
type localSession struct {
	record *types.SessionRecord
	closer func()
}

// Filter selects sessions for admin listing
type Filter struct {
	UserID string
	NodeID string
}

// Monitor gives administrators a cluster-wide view of active sessions and
// the ability to broadcast announcements and terminate a session hosted on
// an arbitrary node. It is built atop the event bridge (publishing) and
// the channel registry (the per-node command subscription and the ack
// wait). Sessions hosted here are authoritative; sessions on other nodes
// are projections learned from presence events.
type Monitor struct {
	nodeID      string
	bridge      *bridge.Bridge
	registry    *registry.Registry
	auditLog    audit.Store
	ackDeadline time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	local  map[string]*localSession
	remote map[string]*types.SessionRecord
	cmdSub *registry.Subscription
}

// NewMonitor creates a session monitor. auditLog receives every issued
// command and observed outcome; ackDeadline is the default wait bound for
// termination acknowledgments.
func NewMonitor(b *bridge.Bridge, reg *registry.Registry, auditLog audit.Store, ackDeadline time.Duration) *Monitor {
	return &Monitor{
		nodeID:      b.NodeID(),
		bridge:      b,
		registry:    reg,
		auditLog:    auditLog,
		ackDeadline: ackDeadline,
		logger:      log.WithComponent("session"),
		local:       make(map[string]*localSession),
		remote:      make(map[string]*types.SessionRecord),
	}
}

// Start subscribes the termination executor on this node's reserved
// command channel
func (m *Monitor) Start(ctx context.Context) error {
	sub, err := m.registry.Register(ctx, "session-monitor", types.SessionChannel(m.nodeID), nil)
	if err != nil {
		return fmt.Errorf("failed to subscribe termination channel: %w", err)
	}

	m.mu.Lock()
	m.cmdSub = sub
	m.mu.Unlock()

	go m.executor(sub)
	return nil
}

// Stop unsubscribes the termination executor
func (m *Monitor) Stop() {
	m.mu.Lock()
	sub := m.cmdSub
	m.cmdSub = nil
	m.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Attach records a session hosted on this node. closer force-closes the
// underlying connection when a termination command arrives.
func (m *Monitor) Attach(record *types.SessionRecord, closer func()) {
	m.mu.Lock()
	m.local[record.SessionID] = &localSession{record: record, closer: closer}
	metrics.SessionsActive.Set(float64(len(m.local)))
	m.mu.Unlock()
}

// Detach removes a locally hosted session on disconnect. It returns the
// session's record, or nil if the session was unknown.
func (m *Monitor) Detach(sessionID string) *types.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls, ok := m.local[sessionID]
	if !ok {
		return nil
	}
	delete(m.local, sessionID)
	metrics.SessionsActive.Set(float64(len(m.local)))
	return ls.record
}

// ObserveRemote folds another node's presence events into the session
// projection. Connected events carry the session id in metadata and the
// owning (user, node) in the payload record.
func (m *Monitor) ObserveRemote(event *types.Event) {
	sessionID := event.Metadata["session_id"]
	if sessionID == "" {
		return
	}

	switch event.Type {
	case types.EventPresenceConnected:
		var rec types.PresenceRecord
		if err := json.Unmarshal(event.Payload, &rec); err != nil {
			return
		}
		if rec.NodeID == m.nodeID {
			return
		}
		m.mu.Lock()
		m.remote[sessionID] = &types.SessionRecord{
			SessionID:   sessionID,
			UserID:      rec.UserID,
			NodeID:      rec.NodeID,
			ConnectedAt: event.EmittedAt,
		}
		m.mu.Unlock()

	case types.EventPresenceDisconnected:
		m.mu.Lock()
		delete(m.remote, sessionID)
		m.mu.Unlock()
	}
}

// ForgetConnection clears projected sessions for a (user, node) pair whose
// presence went silent, keeping the audit view from listing sessions on a
// dead connection
func (m *Monitor) ForgetConnection(userID, nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.remote {
		if rec.UserID == userID && rec.NodeID == nodeID {
			delete(m.remote, id)
		}
	}
}

// LocalSessions returns how many sessions the user currently holds on this
// node
func (m *Monitor) LocalSessions(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ls := range m.local {
		if ls.record.UserID == userID {
			n++
		}
	}
	return n
}

// List returns active session records, cluster-wide, optionally filtered
// by user and/or node
func (m *Monitor) List(filter Filter) []*types.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.SessionRecord
	add := func(rec *types.SessionRecord) {
		if filter.UserID != "" && rec.UserID != filter.UserID {
			return
		}
		if filter.NodeID != "" && rec.NodeID != filter.NodeID {
			return
		}
		cp := *rec
		out = append(out, &cp)
	}
	for _, ls := range m.local {
		add(ls.record)
	}
	for _, rec := range m.remote {
		add(rec)
	}
	return out
}

// lookup finds a session record anywhere in the cluster
func (m *Monitor) lookup(sessionID string) *types.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.local[sessionID]; ok {
		cp := *ls.record
		return &cp
	}
	if rec, ok := m.remote[sessionID]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

// Broadcast publishes an announcement to every session, or to the given
// users only
func (m *Monitor) Broadcast(ctx context.Context, message, issuedBy string, userIDs []string) error {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}

	channels := []string{types.BroadcastChannel}
	if len(userIDs) > 0 {
		channels = channels[:0]
		for _, userID := range userIDs {
			channels = append(channels, types.UserChannel(userID))
		}
	}

	for _, channelID := range channels {
		event := &types.Event{
			ChannelID: channelID,
			Type:      types.EventSessionBroadcast,
			Payload:   payload,
			Metadata:  map[string]string{"issued_by": issuedBy},
		}
		if err := m.bridge.Publish(ctx, event); err != nil {
			return fmt.Errorf("failed to publish announcement on %s: %w", channelID, err)
		}
	}
	return nil
}

// Terminate forcibly ends a session wherever it is hosted. The command is
// published on the hosting node's reserved command channel and the call
// waits for the acknowledgment or the deadline, whichever fires first. A
// session that no longer exists anywhere is a no-op success: the desired
// end state already holds.
func (m *Monitor) Terminate(ctx context.Context, sessionID, reason, issuedBy string) (types.TerminationOutcome, error) {
	cmd := &types.TerminationCommand{
		CommandID:   uuid.New().String(),
		SessionID:   sessionID,
		Reason:      reason,
		IssuedBy:    issuedBy,
		IssuedAt:    time.Now(),
		AckDeadline: time.Now().Add(m.ackDeadline),
	}

	target := m.lookup(sessionID)
	if target == nil {
		// Already gone everywhere; report no-op success
		m.audit(cmd, nil, "issued")
		m.audit(cmd, nil, "acknowledged")
		metrics.TerminationOutcomes.WithLabelValues("stale").Inc()
		return types.OutcomeAcknowledged, nil
	}

	// Subscribe for the acknowledgment before publishing the command so
	// the ack cannot race past us. The filter narrows the stream to this
	// command's ack.
	commandID := cmd.CommandID
	ackSub, err := m.registry.Register(ctx, "session-monitor", types.SessionAckChannel,
		func(event *types.Event) (bool, error) {
			if event.Type != types.EventSessionAck {
				return false, nil
			}
			var ack types.TerminationAck
			if err := json.Unmarshal(event.Payload, &ack); err != nil {
				return false, err
			}
			return ack.CommandID == commandID, nil
		})
	if err != nil {
		return "", fmt.Errorf("failed to subscribe ack channel: %w", err)
	}
	defer ackSub.Close()

	m.audit(cmd, target, "issued")

	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to encode command: %w", err)
	}
	event := &types.Event{
		ChannelID: types.SessionChannel(target.NodeID),
		Type:      types.EventSessionTerminate,
		Payload:   payload,
	}
	if err := m.bridge.Publish(ctx, event); err != nil {
		return "", fmt.Errorf("failed to publish termination command: %w", err)
	}

	m.logger.Info().
		Str("command_id", cmd.CommandID).
		Str("session_id", sessionID).
		Str("target_node", target.NodeID).
		Str("issued_by", issuedBy).
		Msg("termination command issued")

	// Race the ack against the deadline
	deadline := time.NewTimer(time.Until(cmd.AckDeadline))
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			m.audit(cmd, target, "timed_out")
			metrics.TerminationOutcomes.WithLabelValues("timed_out").Inc()
			m.logger.Warn().
				Str("command_id", cmd.CommandID).
				Str("session_id", sessionID).
				Msg("termination command timed out")
			return types.OutcomeTimedOut, nil
		case ackEvent, ok := <-ackSub.Events():
			if !ok {
				return "", fmt.Errorf("ack subscription closed")
			}
			var ack types.TerminationAck
			if err := json.Unmarshal(ackEvent.Payload, &ack); err != nil {
				continue
			}
			m.audit(cmd, target, "acknowledged")
			metrics.TerminationOutcomes.WithLabelValues("acknowledged").Inc()
			return types.OutcomeAcknowledged, nil
		}
	}
}

// executor consumes termination commands addressed to this node. Only the
// node hosting the session can execute a command: it closes the
// connection, drops the record, and publishes the acknowledgment. A
// command for a session already gone acknowledges as stale, since the
// desired end state holds; redelivered commands are therefore idempotent.
func (m *Monitor) executor(sub *registry.Subscription) {
	for event := range sub.Events() {
		if event.Type != types.EventSessionTerminate {
			continue
		}

		var cmd types.TerminationCommand
		if err := json.Unmarshal(event.Payload, &cmd); err != nil {
			m.logger.Error().Err(err).Msg("discarding undecodable termination command")
			continue
		}

		m.mu.Lock()
		ls := m.local[cmd.SessionID]
		if ls != nil {
			delete(m.local, cmd.SessionID)
			metrics.SessionsActive.Set(float64(len(m.local)))
		}
		m.mu.Unlock()

		stale := ls == nil
		if ls != nil {
			m.logger.Info().
				Str("command_id", cmd.CommandID).
				Str("session_id", cmd.SessionID).
				Str("reason", cmd.Reason).
				Msg("terminating session")
			ls.closer()
		}

		m.ack(&cmd, stale)
	}
}

// ack publishes the acknowledgment for an executed (or stale) command
func (m *Monitor) ack(cmd *types.TerminationCommand, stale bool) {
	payload, err := json.Marshal(&types.TerminationAck{
		CommandID: cmd.CommandID,
		SessionID: cmd.SessionID,
		NodeID:    m.nodeID,
		Stale:     stale,
		AckedAt:   time.Now(),
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to encode acknowledgment")
		return
	}

	event := &types.Event{
		ChannelID: types.SessionAckChannel,
		Type:      types.EventSessionAck,
		Payload:   payload,
	}
	if err := m.bridge.Publish(context.Background(), event); err != nil {
		m.logger.Error().Err(err).
			Str("command_id", cmd.CommandID).
			Msg("failed to publish acknowledgment")
	}
}

// audit appends one entry for the command to the audit log
func (m *Monitor) audit(cmd *types.TerminationCommand, target *types.SessionRecord, action string) {
	entry := &types.AuditEntry{
		CommandID: cmd.CommandID,
		SessionID: cmd.SessionID,
		Action:    action,
		Reason:    cmd.Reason,
		IssuedBy:  cmd.IssuedBy,
		Timestamp: time.Now(),
	}
	if target != nil {
		entry.UserID = target.UserID
	}
	if err := m.auditLog.Append(entry); err != nil {
		m.logger.Error().Err(err).
			Str("command_id", cmd.CommandID).
			Msg("failed to append audit entry")
	}
}
