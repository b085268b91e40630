package bridge

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/relay/pkg/transport"
	"github.com/driftbox/relay/pkg/types"
)

// newTestBridge builds a bridge for nodeID over a shared miniredis broker
func newTestBridge(t *testing.T, m *miniredis.Miniredis, nodeID string) *Bridge {
	t.Helper()

	local := transport.NewMemoryBackend(256)
	t.Cleanup(func() { _ = local.Close() })

	var cluster transport.ClusterBackend
	if m != nil {
		rb := transport.NewRedisBackend(transport.RedisOptions{
			Addr:          m.Addr(),
			BackoffMin:    10 * time.Millisecond,
			BackoffMax:    100 * time.Millisecond,
			Buffer:        256,
			ProbeInterval: 20 * time.Millisecond,
		})
		t.Cleanup(func() { _ = rb.Close() })
		cluster = rb
	}

	b := New(nodeID, local, cluster, 64)
	t.Cleanup(b.Close)
	return b
}

func TestBridgeLocalDelivery(t *testing.T) {
	b := newTestBridge(t, nil, "node-a")

	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "user.u1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, &types.Event{
		ChannelID: "user.u1",
		Type:      types.EventNotification,
	}))

	event := <-sub.Events()
	assert.Equal(t, "node-a", event.OriginNode)
	assert.Equal(t, uint64(1), event.Sequence)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.EmittedAt.IsZero())
}

func TestBridgeSequenceMonotonic(t *testing.T) {
	b := newTestBridge(t, nil, "node-a")

	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "user.u1")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, &types.Event{ChannelID: "user.u1"}))
	}
	for i := 1; i <= 5; i++ {
		event := <-sub.Events()
		assert.Equal(t, uint64(i), event.Sequence)
	}
}

func TestBridgeCrossNodeExactlyOnce(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()

	nodeA := newTestBridge(t, m, "node-a")
	nodeB := newTestBridge(t, m, "node-b")

	ctx := context.Background()
	subA, err := nodeA.Subscribe(ctx, "folder.f1")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := nodeB.Subscribe(ctx, "folder.f1")
	require.NoError(t, err)
	defer subB.Close()

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, nodeA.Publish(ctx, &types.Event{
		ChannelID: "folder.f1",
		Type:      types.EventNotification,
		Payload:   []byte(`{"file":"q3.xlsx"}`),
	}))

	// The remote subscriber receives exactly one copy
	select {
	case event := <-subB.Events():
		assert.Equal(t, "node-a", event.OriginNode)
		assert.Equal(t, []byte(`{"file":"q3.xlsx"}`), event.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("remote subscriber did not receive the event")
	}

	// The local subscriber receives exactly one copy as well: the broker
	// echo of node-a's own forward must be suppressed
	event := <-subA.Events()
	assert.Equal(t, "node-a", event.OriginNode)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, subA.Events(), "echo must not be delivered twice locally")
	assert.Empty(t, subB.Events(), "remote copy must be delivered once")
}

func TestBridgeDegradedMode(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()

	b := newTestBridge(t, m, "node-a")
	assert.False(t, b.Degraded())

	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "user.u1")
	require.NoError(t, err)
	defer sub.Close()

	m.Close()
	assert.Eventually(t, func() bool { return b.Degraded() },
		5*time.Second, 20*time.Millisecond)

	// Local-only delivery still works while the broker is down
	require.NoError(t, b.Publish(ctx, &types.Event{
		ChannelID: "user.u1",
		Type:      types.EventNotification,
	}))

	select {
	case event := <-sub.Events():
		assert.Equal(t, "node-a", event.OriginNode)
	case <-time.After(time.Second):
		t.Fatal("local delivery must not depend on the broker")
	}
}

func TestBridgeSingleNodeNotDegraded(t *testing.T) {
	b := newTestBridge(t, nil, "node-a")
	assert.False(t, b.Degraded(), "standalone node has no cross-node delivery to lose")
}

func TestBridgeRemoteFeedExcludesOwnEvents(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()

	nodeA := newTestBridge(t, m, "node-a")
	nodeB := newTestBridge(t, m, "node-b")

	ctx := context.Background()
	feedB, err := nodeB.SubscribePattern(ctx, types.SystemPresencePrefix+"*")
	require.NoError(t, err)
	defer feedB.Close()
	feedA, err := nodeA.SubscribePattern(ctx, types.SystemPresencePrefix+"*")
	require.NoError(t, err)
	defer feedA.Close()

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, nodeA.Publish(ctx, &types.Event{
		ChannelID: types.PresenceChannel("u1"),
		Type:      types.EventPresenceOnline,
	}))

	select {
	case event := <-feedB.Events():
		assert.Equal(t, "node-a", event.OriginNode)
		assert.Equal(t, types.EventPresenceOnline, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("remote feed did not receive the event")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, feedA.Events(), "a node's own events are excluded from its feed")
}
