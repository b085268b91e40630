package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/driftbox/relay/pkg/types"
)

var (
	// ErrClosed is returned when publishing or subscribing on a backend
	// that has been shut down
	ErrClosed = errors.New("transport backend closed")

	// ErrNotConnected is returned by the cluster backend while the broker
	// connection is down. Local delivery is unaffected; callers treat this
	// as degraded mode, not a failure.
	ErrNotConnected = errors.New("cluster broker not connected")
)

// Backend is the publish/subscribe contract shared by the in-process and
// cluster implementations. Publish is best-effort fan-out to all current
// subscribers of the channel and never blocks on slow subscribers beyond
// a bounded buffer.
type Backend interface {
	Publish(ctx context.Context, channelID string, event *types.Event) error
	Subscribe(ctx context.Context, channelID string) (*Handle, error)
	Close() error
}

// ClusterBackend extends Backend with pattern subscriptions and a
// connectivity flag. Pattern subscriptions feed cluster-wide projections
// (presence, sessions) without enumerating every channel up front.
type ClusterBackend interface {
	Backend
	PSubscribe(ctx context.Context, pattern string) (*Handle, error)
	Connected() bool
}

// Handle is a live subscription. Events() produces the subscription's lazy
// event stream; the stream ends only when the handle is closed or the
// backend connection is permanently lost. Close is idempotent.
type Handle struct {
	channelID string
	events    chan *types.Event
	closeOnce sync.Once
	stop      func()
}

func newHandle(channelID string, buffer int, stop func()) *Handle {
	return &Handle{
		channelID: channelID,
		events:    make(chan *types.Event, buffer),
		stop:      stop,
	}
}

// ChannelID returns the channel (or pattern) this handle is subscribed to
func (h *Handle) ChannelID() string {
	return h.channelID
}

// Events returns the subscription's event stream. The channel is closed
// when the handle is closed.
func (h *Handle) Events() <-chan *types.Event {
	return h.events
}

// Close cancels the subscription. A second call is a no-op.
func (h *Handle) Close() {
	h.closeOnce.Do(h.stop)
}
