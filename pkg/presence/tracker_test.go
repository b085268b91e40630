package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/relay/pkg/bridge"
	"github.com/driftbox/relay/pkg/transport"
	"github.com/driftbox/relay/pkg/types"
)

func newTestTracker(t *testing.T, nodeID string) (*Tracker, *bridge.Bridge) {
	t.Helper()

	local := transport.NewMemoryBackend(256)
	t.Cleanup(func() { _ = local.Close() })

	b := bridge.New(nodeID, local, nil, 64)
	t.Cleanup(b.Close)

	// Sweeps are driven explicitly in tests, so the loop is never started
	tr := NewTracker(b, 45*time.Second, 22*time.Second)
	return tr, b
}

// collect drains the channel's buffered events after publishing settled
func collect(sub *bridge.Subscription) []*types.Event {
	var out []*types.Event
	for {
		select {
		case event := <-sub.Events():
			out = append(out, event)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func eventTypes(events []*types.Event) []types.EventType {
	out := make([]types.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestTrackerConnectPublishesOnlineTransition(t *testing.T) {
	tr, b := newTestTracker(t, "node-a")
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, types.PresenceChannel("u1"))
	require.NoError(t, err)
	defer sub.Close()

	tr.Connect(ctx, "u1", "s1")
	assert.Equal(t, types.PresenceOnline, tr.Status("u1"))

	events := collect(sub)
	assert.Equal(t,
		[]types.EventType{types.EventPresenceConnected, types.EventPresenceOnline},
		eventTypes(events))
	assert.Equal(t, "s1", events[0].Metadata["session_id"])
}

func TestTrackerSecondConnectionNoOnlineTransition(t *testing.T) {
	tr, b := newTestTracker(t, "node-a")
	ctx := context.Background()

	tr.Connect(ctx, "u1", "s1")

	sub, err := b.Subscribe(ctx, types.PresenceChannel("u1"))
	require.NoError(t, err)
	defer sub.Close()

	tr.Connect(ctx, "u1", "s2")

	events := collect(sub)
	assert.Equal(t, []types.EventType{types.EventPresenceConnected}, eventTypes(events),
		"the online transition fires only for the user's first record")
}

func TestTrackerHeartbeatStatus(t *testing.T) {
	tr, _ := newTestTracker(t, "node-a")
	ctx := context.Background()

	tr.Heartbeat(ctx, "u1", "")
	assert.Equal(t, types.PresenceOnline, tr.Status("u1"))

	tr.Heartbeat(ctx, "u1", types.PresenceAway)
	records := tr.Records("u1")
	require.Len(t, records, 1)
	assert.Equal(t, types.PresenceAway, records[0].Status)

	// An empty status keeps the current activity level
	tr.Heartbeat(ctx, "u1", "")
	records = tr.Records("u1")
	require.Len(t, records, 1)
	assert.Equal(t, types.PresenceAway, records[0].Status)

	assert.Equal(t, types.PresenceOffline, tr.Status("u2"))
}

func TestTrackerDisconnectLastSession(t *testing.T) {
	tr, b := newTestTracker(t, "node-a")
	ctx := context.Background()

	tr.Connect(ctx, "u1", "s1")

	sub, err := b.Subscribe(ctx, types.PresenceChannel("u1"))
	require.NoError(t, err)
	defer sub.Close()

	tr.Disconnect(ctx, "u1", "s1", true)
	assert.Equal(t, types.PresenceOffline, tr.Status("u1"))
	assert.Empty(t, tr.Records("u1"))

	events := collect(sub)
	require.Equal(t,
		[]types.EventType{types.EventPresenceDisconnected, types.EventPresenceOffline},
		eventTypes(events))
	assert.Equal(t, "true", events[0].Metadata["record_removed"])
}

func TestTrackerDisconnectKeepsRecordWhileSessionsRemain(t *testing.T) {
	tr, b := newTestTracker(t, "node-a")
	ctx := context.Background()

	tr.Connect(ctx, "u1", "s1")
	tr.Connect(ctx, "u1", "s2")

	sub, err := b.Subscribe(ctx, types.PresenceChannel("u1"))
	require.NoError(t, err)
	defer sub.Close()

	tr.Disconnect(ctx, "u1", "s1", false)
	assert.Equal(t, types.PresenceOnline, tr.Status("u1"))
	assert.Len(t, tr.Records("u1"), 1)

	events := collect(sub)
	require.Equal(t, []types.EventType{types.EventPresenceDisconnected}, eventTypes(events))
	assert.Equal(t, "false", events[0].Metadata["record_removed"])
}

func TestTrackerDisconnectUnknownUserNoOp(t *testing.T) {
	tr, b := newTestTracker(t, "node-a")
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, types.PresenceChannel("ghost"))
	require.NoError(t, err)
	defer sub.Close()

	tr.Disconnect(ctx, "ghost", "s1", true)
	assert.Empty(t, collect(sub))
}

func TestTrackerSweepEvictsStaleRecords(t *testing.T) {
	tr, b := newTestTracker(t, "node-a")
	ctx := context.Background()

	tr.Connect(ctx, "u1", "s1")
	tr.Connect(ctx, "u2", "s2")
	tr.Heartbeat(ctx, "u2", "")

	var evicted []string
	tr.SetEvictHook(func(userID, nodeID string) {
		evicted = append(evicted, userID+"@"+nodeID)
	})

	sub, err := b.Subscribe(ctx, types.PresenceChannel("u1"))
	require.NoError(t, err)
	defer sub.Close()

	// Not yet past the TTL, nothing happens
	tr.Sweep(time.Now().Add(30 * time.Second))
	assert.Equal(t, types.PresenceOnline, tr.Status("u1"))
	assert.Empty(t, evicted)

	// Past the TTL every record is gone and the offline transition fires
	tr.Sweep(time.Now().Add(60 * time.Second))
	assert.Empty(t, tr.Records("u1"))
	assert.Empty(t, tr.Records("u2"))
	assert.ElementsMatch(t, []string{"u1@node-a", "u2@node-a"}, evicted)

	events := collect(sub)
	require.Equal(t, []types.EventType{types.EventPresenceOffline}, eventTypes(events))
}

func TestTrackerObserveRemoteProjection(t *testing.T) {
	tr, _ := newTestTracker(t, "node-a")

	rec := types.PresenceRecord{
		UserID:        "u1",
		NodeID:        "node-b",
		Status:        types.PresenceOnline,
		LastHeartbeat: time.Now(),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	tr.ObserveRemote(&types.Event{
		ChannelID:  types.PresenceChannel("u1"),
		Type:       types.EventPresenceConnected,
		Payload:    payload,
		OriginNode: "node-b",
	})
	assert.Equal(t, types.PresenceOnline, tr.Status("u1"))
	require.Len(t, tr.Records("u1"), 1)
	assert.Equal(t, "node-b", tr.Records("u1")[0].NodeID)

	// A disconnect that kept the remote record does not clear the projection
	tr.ObserveRemote(&types.Event{
		ChannelID:  types.PresenceChannel("u1"),
		Type:       types.EventPresenceDisconnected,
		Payload:    payload,
		Metadata:   map[string]string{"record_removed": "false"},
		OriginNode: "node-b",
	})
	assert.Equal(t, types.PresenceOnline, tr.Status("u1"))

	// Removal of the remote record clears it here too
	tr.ObserveRemote(&types.Event{
		ChannelID:  types.PresenceChannel("u1"),
		Type:       types.EventPresenceDisconnected,
		Payload:    payload,
		Metadata:   map[string]string{"record_removed": "true"},
		OriginNode: "node-b",
	})
	assert.Equal(t, types.PresenceOffline, tr.Status("u1"))
	assert.Empty(t, tr.Records("u1"))
}

func TestTrackerObserveRemoteIgnoresOwnNode(t *testing.T) {
	tr, _ := newTestTracker(t, "node-a")

	rec := types.PresenceRecord{
		UserID:        "u1",
		NodeID:        "node-a",
		Status:        types.PresenceOnline,
		LastHeartbeat: time.Now(),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	tr.ObserveRemote(&types.Event{
		Type:    types.EventPresenceConnected,
		Payload: payload,
	})
	assert.Empty(t, tr.Records("u1"), "locally owned records come from local calls only")
}

func TestTrackerObserveRemoteUndecodablePayload(t *testing.T) {
	tr, _ := newTestTracker(t, "node-a")

	tr.ObserveRemote(&types.Event{
		Type:    types.EventPresenceConnected,
		Payload: []byte("not json"),
	})
	assert.Empty(t, tr.Records("u1"))
}

func TestTrackerSweepClearsDeadNodeProjectionsSilently(t *testing.T) {
	tr, b := newTestTracker(t, "node-a")

	rec := types.PresenceRecord{
		UserID:        "u1",
		NodeID:        "node-b",
		Status:        types.PresenceOnline,
		LastHeartbeat: time.Now().Add(-2 * time.Minute),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	tr.ObserveRemote(&types.Event{
		Type:    types.EventPresenceConnected,
		Payload: payload,
	})

	sub, err := b.Subscribe(context.Background(), types.PresenceChannel("u1"))
	require.NoError(t, err)
	defer sub.Close()

	tr.Sweep(time.Now())
	assert.Empty(t, tr.Records("u1"))
	assert.Empty(t, collect(sub),
		"offline transitions for a dead node's users are that node's projections, not ours to announce")
}
