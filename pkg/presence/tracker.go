package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/driftbox/relay/pkg/bridge"
	"github.com/driftbox/relay/pkg/log"
	"github.com/driftbox/relay/pkg/metrics"
	"github.com/driftbox/relay/pkg/types"
)

// key identifies one (user, node) presence record
type key struct {
	userID string
	nodeID string
}

// Tracker maintains per-user online state aggregated from per-node
// heartbeats. Records owned by this node (live connections) are mutated
// locally and broadcast over the bridge; records for other nodes are
// read-only projections learned from their events. A background sweep
// deletes records whose heartbeat went silent for longer than the TTL,
// which is the sole mechanism for detecting silent node failure.
type Tracker struct {
	nodeID        string
	bridge        *bridge.Bridge
	ttl           time.Duration
	sweepInterval time.Duration
	logger        zerolog.Logger

	mu      sync.Mutex
	records map[key]*types.PresenceRecord

	// onEvict, when set, is called for every record the sweep removes, so
	// dependent projections (session records) can be cleared alongside
	onEvict func(userID, nodeID string)

	stopCh chan struct{}
	done   chan struct{}
}

// NewTracker creates a tracker. ttl is the heartbeat staleness bound;
// sweepInterval is how often stale records are collected (typically ttl/2).
func NewTracker(b *bridge.Bridge, ttl, sweepInterval time.Duration) *Tracker {
	return &Tracker{
		nodeID:        b.NodeID(),
		bridge:        b,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        log.WithComponent("presence"),
		records:       make(map[key]*types.PresenceRecord),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetEvictHook registers a callback invoked (outside the tracker's lock)
// for every record the staleness sweep removes
func (t *Tracker) SetEvictHook(hook func(userID, nodeID string)) {
	t.onEvict = hook
}

// Start begins the background staleness sweep
func (t *Tracker) Start() {
	go t.run()
}

// Stop stops the sweep loop
func (t *Tracker) Stop() {
	close(t.stopCh)
	<-t.done
}

func (t *Tracker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep(time.Now())
		case <-t.stopCh:
			return
		}
	}
}

// Connect establishes the local presence record for a user's first or
// additional connection to this node and announces it cluster-wide.
// sessionID identifies the connection for the session monitor's benefit.
func (t *Tracker) Connect(ctx context.Context, userID, sessionID string) {
	now := time.Now()
	k := key{userID: userID, nodeID: t.nodeID}

	t.mu.Lock()
	first := !t.userPresentLocked(userID, now)
	rec, ok := t.records[k]
	if !ok {
		rec = &types.PresenceRecord{
			UserID: userID,
			NodeID: t.nodeID,
			Status: types.PresenceOnline,
		}
		t.records[k] = rec
		metrics.PresenceRecords.Set(float64(len(t.records)))
	}
	rec.LastHeartbeat = now
	snapshot := *rec
	t.mu.Unlock()

	t.publishRecord(ctx, types.EventPresenceConnected, &snapshot, sessionID)
	if first {
		t.publishAggregate(ctx, types.EventPresenceOnline, userID)
	}
}

// Heartbeat refreshes the local record for a user, creating it if absent.
// An empty status keeps the current activity level; an explicit status
// (online or away) replaces it.
func (t *Tracker) Heartbeat(ctx context.Context, userID string, status types.PresenceStatus) {
	now := time.Now()
	k := key{userID: userID, nodeID: t.nodeID}

	t.mu.Lock()
	first := !t.userPresentLocked(userID, now)
	rec, ok := t.records[k]
	if !ok {
		rec = &types.PresenceRecord{
			UserID: userID,
			NodeID: t.nodeID,
			Status: types.PresenceOnline,
		}
		t.records[k] = rec
		metrics.PresenceRecords.Set(float64(len(t.records)))
	}
	rec.LastHeartbeat = now
	if status == types.PresenceOnline || status == types.PresenceAway {
		rec.Status = status
	}
	snapshot := *rec
	t.mu.Unlock()

	t.publishRecord(ctx, types.EventPresenceHeartbeat, &snapshot, "")
	if first {
		t.publishAggregate(ctx, types.EventPresenceOnline, userID)
	}
}

// Disconnect announces a session's explicit disconnect. removeRecord must
// be true when the session was the user's last on this node, which deletes
// the local record; a user with further sessions here keeps their record.
// The aggregate offline transition fires only when the user's last record
// across all nodes is gone.
func (t *Tracker) Disconnect(ctx context.Context, userID, sessionID string, removeRecord bool) {
	now := time.Now()
	k := key{userID: userID, nodeID: t.nodeID}

	t.mu.Lock()
	rec, ok := t.records[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	if removeRecord {
		delete(t.records, k)
		metrics.PresenceRecords.Set(float64(len(t.records)))
	}
	last := removeRecord && !t.userPresentLocked(userID, now)
	snapshot := *rec
	t.mu.Unlock()

	t.publishDisconnect(ctx, &snapshot, sessionID, removeRecord)
	if last {
		t.publishAggregate(ctx, types.EventPresenceOffline, userID)
	}
}

// ObserveRemote folds another node's presence event into this node's
// read-only projection. Aggregate online/offline events carry no record
// detail and are ignored here; the detail events are authoritative.
func (t *Tracker) ObserveRemote(event *types.Event) {
	switch event.Type {
	case types.EventPresenceConnected, types.EventPresenceHeartbeat:
		var rec types.PresenceRecord
		if err := json.Unmarshal(event.Payload, &rec); err != nil {
			t.logger.Warn().Err(err).Str("channel", event.ChannelID).
				Msg("discarding undecodable presence event")
			return
		}
		if rec.NodeID == t.nodeID {
			// Our own records are authoritative locally
			return
		}
		t.mu.Lock()
		t.records[key{userID: rec.UserID, nodeID: rec.NodeID}] = &rec
		metrics.PresenceRecords.Set(float64(len(t.records)))
		t.mu.Unlock()

	case types.EventPresenceDisconnected:
		var rec types.PresenceRecord
		if err := json.Unmarshal(event.Payload, &rec); err != nil {
			return
		}
		if rec.NodeID == t.nodeID {
			return
		}
		// The projection record survives unless the owning node removed
		// its own (the user's last session there ended)
		if event.Metadata["record_removed"] != "true" {
			return
		}
		t.mu.Lock()
		delete(t.records, key{userID: rec.UserID, nodeID: rec.NodeID})
		metrics.PresenceRecords.Set(float64(len(t.records)))
		t.mu.Unlock()
	}
}

// Status returns the user's aggregate status: online if any non-stale
// record exists for the user on any node, offline otherwise.
func (t *Tracker) Status(userID string) types.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.userPresentLocked(userID, time.Now()) {
		return types.PresenceOnline
	}
	return types.PresenceOffline
}

// Records returns copies of the user's current records across all nodes
func (t *Tracker) Records(userID string) []*types.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*types.PresenceRecord
	for k, rec := range t.records {
		if k.userID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// userPresentLocked reports whether any non-stale record exists for the
// user. Caller holds t.mu.
func (t *Tracker) userPresentLocked(userID string, now time.Time) bool {
	for k, rec := range t.records {
		if k.userID == userID && !rec.Stale(now, t.ttl) {
			return true
		}
	}
	return false
}

// Sweep deletes every record whose heartbeat is older than the TTL,
// treating its node or connection as silently failed. Aggregate offline
// events are published only for locally owned records; a dead node's
// projections are cleared silently on every surviving node.
func (t *Tracker) Sweep(now time.Time) {
	timer := prometheus.NewTimer(metrics.SweepDuration)
	defer timer.ObserveDuration()

	var offline []string
	var evicted []key

	t.mu.Lock()
	for k, rec := range t.records {
		if !rec.Stale(now, t.ttl) {
			continue
		}
		delete(t.records, k)
		evicted = append(evicted, k)
		metrics.SweepEvictions.Inc()
		t.logger.Debug().
			Str("user_id", k.userID).
			Str("record_node", k.nodeID).
			Time("last_heartbeat", rec.LastHeartbeat).
			Msg("presence record expired")
		if k.nodeID == t.nodeID && !t.userPresentLocked(k.userID, now) {
			offline = append(offline, k.userID)
		}
	}
	metrics.PresenceRecords.Set(float64(len(t.records)))
	t.mu.Unlock()

	if t.onEvict != nil {
		for _, k := range evicted {
			t.onEvict(k.userID, k.nodeID)
		}
	}
	for _, userID := range offline {
		t.publishAggregate(context.Background(), types.EventPresenceOffline, userID)
	}
}

// publishRecord broadcasts a per-record presence event on the user's
// reserved presence channel
func (t *Tracker) publishRecord(ctx context.Context, eventType types.EventType, rec *types.PresenceRecord, sessionID string) {
	payload, err := json.Marshal(rec)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to encode presence record")
		return
	}

	event := &types.Event{
		ChannelID: types.PresenceChannel(rec.UserID),
		Type:      eventType,
		Payload:   payload,
	}
	if sessionID != "" {
		event.Metadata = map[string]string{"session_id": sessionID}
	}
	if err := t.bridge.Publish(ctx, event); err != nil {
		t.logger.Error().Err(err).Str("user_id", rec.UserID).
			Msg("failed to publish presence event")
	}
}

// publishDisconnect broadcasts a session's end, flagging whether the
// (user, node) record itself was removed so other nodes' projections can
// follow suit
func (t *Tracker) publishDisconnect(ctx context.Context, rec *types.PresenceRecord, sessionID string, removed bool) {
	payload, err := json.Marshal(rec)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to encode presence record")
		return
	}

	event := &types.Event{
		ChannelID: types.PresenceChannel(rec.UserID),
		Type:      types.EventPresenceDisconnected,
		Payload:   payload,
		Metadata: map[string]string{
			"record_removed": fmt.Sprintf("%t", removed),
		},
	}
	if sessionID != "" {
		event.Metadata["session_id"] = sessionID
	}
	if err := t.bridge.Publish(ctx, event); err != nil {
		t.logger.Error().Err(err).Str("user_id", rec.UserID).
			Msg("failed to publish presence event")
	}
}

// publishAggregate broadcasts a user's online/offline transition
func (t *Tracker) publishAggregate(ctx context.Context, eventType types.EventType, userID string) {
	event := &types.Event{
		ChannelID: types.PresenceChannel(userID),
		Type:      eventType,
		Metadata:  map[string]string{"user_id": userID},
	}
	if err := t.bridge.Publish(ctx, event); err != nil {
		t.logger.Error().Err(err).Str("user_id", userID).
			Msg("failed to publish presence transition")
	}
}
