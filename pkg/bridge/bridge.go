package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftbox/relay/pkg/log"
	"github.com/driftbox/relay/pkg/metrics"
	"github.com/driftbox/relay/pkg/transport"
	"github.com/driftbox/relay/pkg/types"
)

// Bridge unifies the in-process and cluster backends into one logical bus.
// Local subscribers always receive events published anywhere: a local
// publish fans out via the in-process backend first and is then forwarded
// to the broker, while broker events from other nodes are ingested into
// the local fan-out. Origin stamping suppresses the echo of this node's
// own forwards.
type Bridge struct {
	nodeID  string
	local   *transport.MemoryBackend
	cluster transport.ClusterBackend
	seq     atomic.Uint64
	dedup   *dedupWindow
	logger  zerolog.Logger

	mu     sync.Mutex
	taps   map[string]*tap
	closed bool

	windowSize int
}

// tap is one cluster-backend subscription ingesting a channel's remote
// events into the local fan-out, shared by every local subscriber of that
// channel and refcounted so it lives exactly as long as they do.
type tap struct {
	handle *transport.Handle
	refs   int
}

// New creates a bridge over the two backends. cluster may be nil for
// single-node deployments; everything then flows through the in-process
// backend alone.
func New(nodeID string, local *transport.MemoryBackend, cluster transport.ClusterBackend, dedupWindowSize int) *Bridge {
	return &Bridge{
		nodeID:     nodeID,
		local:      local,
		cluster:    cluster,
		dedup:      newDedupWindow(dedupWindowSize),
		logger:     log.WithComponent("bridge"),
		taps:       make(map[string]*tap),
		windowSize: dedupWindowSize,
	}
}

// NodeID returns the identity stamped on locally published events
func (b *Bridge) NodeID() string {
	return b.nodeID
}

// Degraded reports whether cross-node delivery is currently suspended.
// Local delivery is unaffected while degraded.
func (b *Bridge) Degraded() bool {
	return b.cluster != nil && !b.cluster.Connected()
}

// Publish stamps the event with this node's identity and next sequence,
// delivers it to local subscribers, and forwards it to the cluster broker.
// Transport faults on the forward are absorbed as degraded mode; callers
// never see them for local delivery.
func (b *Bridge) Publish(ctx context.Context, event *types.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now()
	}
	event.OriginNode = b.nodeID
	event.Sequence = b.seq.Add(1)

	if err := b.local.Publish(ctx, event.ChannelID, event); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(channelType(event.ChannelID)).Inc()

	if b.cluster != nil {
		if err := b.cluster.Publish(ctx, event.ChannelID, event); err != nil {
			if !errors.Is(err, transport.ErrNotConnected) {
				b.logger.Warn().Err(err).Str("channel", event.ChannelID).
					Msg("cross-node forward failed")
			}
		}
	}
	return nil
}

// Subscription is a live bridge subscription combining the local fan-out
// with the channel's cluster tap. Close is idempotent and releases the tap
// once the channel's last local subscriber is gone.
type Subscription struct {
	bridge    *Bridge
	handle    *transport.Handle
	channelID string
	closeOnce sync.Once
}

// Events returns the subscription's event stream
func (s *Subscription) Events() <-chan *types.Event {
	return s.handle.Events()
}

// ChannelID returns the subscribed channel
func (s *Subscription) ChannelID() string {
	return s.channelID
}

// Close cancels the subscription. A second call is a no-op.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.handle.Close()
		s.bridge.releaseTap(s.channelID)
	})
}

// Subscribe attaches a local subscriber to the channel and ensures the
// channel's remote events are being ingested from the broker.
func (b *Bridge) Subscribe(ctx context.Context, channelID string) (*Subscription, error) {
	h, err := b.local.Subscribe(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if err := b.acquireTap(ctx, channelID); err != nil {
		h.Close()
		return nil, err
	}

	return &Subscription{bridge: b, handle: h, channelID: channelID}, nil
}

// acquireTap opens the channel's cluster subscription on first use and
// bumps its refcount otherwise
func (b *Bridge) acquireTap(ctx context.Context, channelID string) error {
	if b.cluster == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrClosed
	}

	if t := b.taps[channelID]; t != nil {
		t.refs++
		return nil
	}

	h, err := b.cluster.Subscribe(ctx, channelID)
	if err != nil {
		return err
	}
	b.taps[channelID] = &tap{handle: h, refs: 1}
	go b.ingest(h)
	return nil
}

// releaseTap drops a reference and closes the cluster subscription when the
// last local subscriber of the channel unsubscribes
func (b *Bridge) releaseTap(channelID string) {
	if b.cluster == nil {
		return
	}

	b.mu.Lock()
	t := b.taps[channelID]
	if t != nil {
		t.refs--
		if t.refs <= 0 {
			delete(b.taps, channelID)
		} else {
			t = nil
		}
	}
	b.mu.Unlock()

	if t != nil {
		t.handle.Close()
	}
}

// ingest consumes one cluster tap, discarding echoes of this node's own
// publishes and broker redeliveries, and fans accepted events out locally
// only. It never re-forwards, so relay loops cannot form.
func (b *Bridge) ingest(h *transport.Handle) {
	for event := range h.Events() {
		if !b.accept(event) {
			continue
		}
		if err := b.local.Publish(context.Background(), event.ChannelID, event); err != nil {
			return
		}
	}
}

// accept applies echo suppression and duplicate detection on an inbound
// broker event
func (b *Bridge) accept(event *types.Event) bool {
	if event.OriginNode == b.nodeID {
		// Echo of our own forward; local subscribers were already served
		// by the local path
		metrics.EventsDeduplicated.Inc()
		return false
	}
	if b.dedup.observe(event.OriginNode, event.Sequence) {
		metrics.EventsDeduplicated.Inc()
		return false
	}
	return true
}

// RemoteFeed is a pattern subscription over the cluster backend, producing
// only remote, deduplicated events. It backs cluster-wide projections such
// as presence and session state.
type RemoteFeed struct {
	events    chan *types.Event
	handle    *transport.Handle
	closeOnce sync.Once
}

// Events returns the feed's event stream. It closes when the feed is
// closed or the broker subscription is permanently lost.
func (f *RemoteFeed) Events() <-chan *types.Event {
	return f.events
}

// Close ends the feed. A second call is a no-op.
func (f *RemoteFeed) Close() {
	f.closeOnce.Do(func() {
		if f.handle != nil {
			f.handle.Close()
		}
	})
}

// SubscribePattern opens a remote-only feed over a channel pattern, e.g.
// "system.presence.*". Events published by this node are excluded; local
// state is maintained by the local writer directly. The feed carries its
// own dedup window since it is an independent delivery path from the
// per-channel taps.
func (b *Bridge) SubscribePattern(ctx context.Context, pattern string) (*RemoteFeed, error) {
	feed := &RemoteFeed{events: make(chan *types.Event, 64)}

	if b.cluster == nil {
		// Single-node: nothing remote will ever arrive
		close(feed.events)
		return feed, nil
	}

	h, err := b.cluster.PSubscribe(ctx, pattern)
	if err != nil {
		return nil, err
	}
	feed.handle = h

	window := newDedupWindow(b.windowSize)
	go func() {
		defer close(feed.events)
		for event := range h.Events() {
			if event.OriginNode == b.nodeID {
				continue
			}
			if window.observe(event.OriginNode, event.Sequence) {
				metrics.EventsDeduplicated.Inc()
				continue
			}
			select {
			case feed.events <- event:
			default:
				metrics.EventsDropped.Inc()
			}
		}
	}()

	return feed, nil
}

// Close releases every cluster tap. The backends themselves are owned and
// closed by the node.
func (b *Bridge) Close() {
	b.mu.Lock()
	taps := b.taps
	b.taps = make(map[string]*tap)
	b.closed = true
	b.mu.Unlock()

	for _, t := range taps {
		t.handle.Close()
	}
}

// channelType classifies a channel id for metrics labels
func channelType(channelID string) string {
	switch {
	case strings.HasPrefix(channelID, types.SystemPresencePrefix):
		return string(types.ChannelSystemPresence)
	case strings.HasPrefix(channelID, types.SystemSessionPrefix):
		return string(types.ChannelSystemSession)
	case strings.HasPrefix(channelID, "user."):
		return string(types.ChannelUser)
	case strings.HasPrefix(channelID, "folder."):
		return string(types.ChannelFolder)
	case channelID == types.BroadcastChannel:
		return string(types.ChannelBroadcast)
	default:
		return "other"
	}
}
