package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/relay/pkg/audit"
	"github.com/driftbox/relay/pkg/bridge"
	"github.com/driftbox/relay/pkg/registry"
	"github.com/driftbox/relay/pkg/transport"
	"github.com/driftbox/relay/pkg/types"
)

func newTestMonitor(t *testing.T, ackDeadline time.Duration) (*Monitor, *bridge.Bridge, audit.Store) {
	t.Helper()

	local := transport.NewMemoryBackend(256)
	t.Cleanup(func() { _ = local.Close() })

	b := bridge.New("node-a", local, nil, 64)
	t.Cleanup(b.Close)

	reg := registry.NewRegistry(b, 64)
	t.Cleanup(reg.Close)

	store, err := audit.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := NewMonitor(b, reg, store, ackDeadline)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m, b, store
}

func sessionRecord(sessionID, userID, nodeID string) *types.SessionRecord {
	return &types.SessionRecord{
		SessionID:   sessionID,
		UserID:      userID,
		NodeID:      nodeID,
		ConnectedAt: time.Now(),
	}
}

func TestMonitorAttachDetach(t *testing.T) {
	m, _, _ := newTestMonitor(t, time.Second)

	m.Attach(sessionRecord("s1", "u1", "node-a"), func() {})
	m.Attach(sessionRecord("s2", "u1", "node-a"), func() {})
	assert.Equal(t, 2, m.LocalSessions("u1"))

	rec := m.Detach("s1")
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, 1, m.LocalSessions("u1"))

	assert.Nil(t, m.Detach("s1"), "detaching an unknown session returns nil")
}

func TestMonitorListFilters(t *testing.T) {
	m, _, _ := newTestMonitor(t, time.Second)

	m.Attach(sessionRecord("s1", "u1", "node-a"), func() {})
	m.Attach(sessionRecord("s2", "u2", "node-a"), func() {})

	rec := types.PresenceRecord{UserID: "u1", NodeID: "node-b", Status: types.PresenceOnline}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	m.ObserveRemote(&types.Event{
		Type:      types.EventPresenceConnected,
		Payload:   payload,
		Metadata:  map[string]string{"session_id": "s3"},
		EmittedAt: time.Now(),
	})

	assert.Len(t, m.List(Filter{}), 3)
	assert.Len(t, m.List(Filter{UserID: "u1"}), 2)
	assert.Len(t, m.List(Filter{NodeID: "node-a"}), 2)
	assert.Len(t, m.List(Filter{UserID: "u1", NodeID: "node-b"}), 1)
}

func TestMonitorTerminateLocalSession(t *testing.T) {
	m, _, store := newTestMonitor(t, 5*time.Second)

	closed := make(chan struct{})
	m.Attach(sessionRecord("s1", "u1", "node-a"), func() { close(closed) })

	outcome, err := m.Terminate(context.Background(), "s1", "policy violation", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAcknowledged, outcome)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("the session's connection was not force-closed")
	}
	assert.Equal(t, 0, m.LocalSessions("u1"))

	entries, err := store.ListByIssuer("admin-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	actions := []string{entries[0].Action, entries[1].Action}
	assert.ElementsMatch(t, []string{"issued", "acknowledged"}, actions)
	assert.Equal(t, "policy violation", entries[0].Reason)
	assert.Equal(t, "u1", entries[0].UserID)
}

func TestMonitorTerminateStaleSessionNoOp(t *testing.T) {
	m, _, store := newTestMonitor(t, time.Second)

	outcome, err := m.Terminate(context.Background(), "never-existed", "cleanup", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAcknowledged, outcome)

	entries, err := store.ListByIssuer("admin-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []string{"issued", "acknowledged"},
		[]string{entries[0].Action, entries[1].Action})
}

func TestMonitorTerminateRemoteNeverAcksTimesOut(t *testing.T) {
	m, _, store := newTestMonitor(t, 200*time.Millisecond)

	// A projected session on a node that will never answer
	rec := types.PresenceRecord{UserID: "u1", NodeID: "node-dead", Status: types.PresenceOnline}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	m.ObserveRemote(&types.Event{
		Type:      types.EventPresenceConnected,
		Payload:   payload,
		Metadata:  map[string]string{"session_id": "s9"},
		EmittedAt: time.Now(),
	})

	start := time.Now()
	outcome, err := m.Terminate(context.Background(), "s9", "stuck", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeTimedOut, outcome)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	entries, err := store.ListByCommand(entriesCommandID(t, store, "admin-1"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []string{"issued", "timed_out"},
		[]string{entries[0].Action, entries[1].Action})
}

// entriesCommandID pulls the command id from the issuer's audit trail
func entriesCommandID(t *testing.T, store audit.Store, issuedBy string) string {
	t.Helper()
	entries, err := store.ListByIssuer(issuedBy)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[0].CommandID
}

func TestMonitorTerminateCanceledContext(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10*time.Second)

	rec := types.PresenceRecord{UserID: "u1", NodeID: "node-dead", Status: types.PresenceOnline}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	m.ObserveRemote(&types.Event{
		Type:      types.EventPresenceConnected,
		Payload:   payload,
		Metadata:  map[string]string{"session_id": "s9"},
		EmittedAt: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Terminate(ctx, "s9", "stuck", "admin-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMonitorExecutorRedeliveredCommandAcksStale(t *testing.T) {
	_, b, _ := newTestMonitor(t, time.Second)

	ackSub, err := b.Subscribe(context.Background(), types.SessionAckChannel)
	require.NoError(t, err)
	defer ackSub.Close()

	cmd := types.TerminationCommand{
		CommandID: "cmd-1",
		SessionID: "gone",
		Reason:    "redelivery",
		IssuedBy:  "admin-1",
		IssuedAt:  time.Now(),
	}
	payload, err := json.Marshal(&cmd)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), &types.Event{
		ChannelID: types.SessionChannel("node-a"),
		Type:      types.EventSessionTerminate,
		Payload:   payload,
	}))

	select {
	case event := <-ackSub.Events():
		var ack types.TerminationAck
		require.NoError(t, json.Unmarshal(event.Payload, &ack))
		assert.Equal(t, "cmd-1", ack.CommandID)
		assert.True(t, ack.Stale)
		assert.Equal(t, "node-a", ack.NodeID)
	case <-time.After(time.Second):
		t.Fatal("no acknowledgment for the redelivered command")
	}
}

func TestMonitorForgetConnection(t *testing.T) {
	m, _, _ := newTestMonitor(t, time.Second)

	rec := types.PresenceRecord{UserID: "u1", NodeID: "node-b", Status: types.PresenceOnline}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	for _, sessionID := range []string{"s1", "s2"} {
		m.ObserveRemote(&types.Event{
			Type:      types.EventPresenceConnected,
			Payload:   payload,
			Metadata:  map[string]string{"session_id": sessionID},
			EmittedAt: time.Now(),
		})
	}
	require.Len(t, m.List(Filter{NodeID: "node-b"}), 2)

	m.ForgetConnection("u1", "node-b")
	assert.Empty(t, m.List(Filter{NodeID: "node-b"}))
}

func TestMonitorBroadcast(t *testing.T) {
	m, b, _ := newTestMonitor(t, time.Second)
	ctx := context.Background()

	allSub, err := b.Subscribe(ctx, types.BroadcastChannel)
	require.NoError(t, err)
	defer allSub.Close()
	userSub, err := b.Subscribe(ctx, types.UserChannel("u1"))
	require.NoError(t, err)
	defer userSub.Close()

	require.NoError(t, m.Broadcast(ctx, "maintenance at 22:00", "admin-1", nil))
	select {
	case event := <-allSub.Events():
		assert.Equal(t, types.EventSessionBroadcast, event.Type)
		assert.Equal(t, "admin-1", event.Metadata["issued_by"])
	case <-time.After(time.Second):
		t.Fatal("global announcement not delivered")
	}

	require.NoError(t, m.Broadcast(ctx, "your account is flagged", "admin-1", []string{"u1"}))
	select {
	case event := <-userSub.Events():
		var body map[string]string
		require.NoError(t, json.Unmarshal(event.Payload, &body))
		assert.Equal(t, "your account is flagged", body["message"])
	case <-time.After(time.Second):
		t.Fatal("targeted announcement not delivered")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, allSub.Events(), "targeted announcements bypass the global channel")
}
