package transport

import (
	"context"
	"sync"

	"github.com/driftbox/relay/pkg/metrics"
	"github.com/driftbox/relay/pkg/types"
)

// memoryChannel holds the fan-out list for one channel. Fan-out and
// membership changes are serialized per channel so a publish never observes
// a torn subscriber set, while different channels proceed independently.
type memoryChannel struct {
	mu   sync.Mutex
	subs map[*Handle]struct{}
}

// MemoryBackend is the in-process transport: an in-memory fan-out list per
// channel, scoped to the current node. Delivery is synchronous-enqueue /
// async-deliver; per-channel publish order is preserved because each
// publish enqueues to every subscriber under the channel's lock.
type MemoryBackend struct {
	mu       sync.RWMutex
	channels map[string]*memoryChannel
	buffer   int
	closed   bool
}

// NewMemoryBackend creates an in-process backend. buffer bounds each
// subscriber's pending-event queue; a full queue drops rather than blocks.
func NewMemoryBackend(buffer int) *MemoryBackend {
	return &MemoryBackend{
		channels: make(map[string]*memoryChannel),
		buffer:   buffer,
	}
}

// Publish enqueues the event to every current subscriber of the channel.
// Slow subscribers whose buffers are full are skipped, never waited on.
func (b *MemoryBackend) Publish(ctx context.Context, channelID string, event *types.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	ch := b.channels[channelID]
	b.mu.RUnlock()

	if ch == nil {
		// No subscribers; nothing to deliver
		return nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	for h := range ch.subs {
		select {
		case h.events <- event:
			metrics.EventsDelivered.Inc()
		default:
			// Subscriber buffer full, skip
			metrics.EventsDropped.Inc()
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the channel, creating the channel
// entry lazily on first subscription.
func (b *MemoryBackend) Subscribe(ctx context.Context, channelID string) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	ch := b.channels[channelID]
	if ch == nil {
		ch = &memoryChannel{subs: make(map[*Handle]struct{})}
		b.channels[channelID] = ch
	}

	var h *Handle
	h = newHandle(channelID, b.buffer, func() {
		b.drop(channelID, h)
	})

	ch.mu.Lock()
	ch.subs[h] = struct{}{}
	ch.mu.Unlock()
	return h, nil
}

// drop removes a handle and collapses the channel entry once its subscriber
// set is empty, so orphan channels do not accumulate.
func (b *MemoryBackend) drop(channelID string, h *Handle) {
	b.mu.Lock()
	ch := b.channels[channelID]
	if ch == nil {
		b.mu.Unlock()
		close(h.events)
		return
	}

	ch.mu.Lock()
	delete(ch.subs, h)
	empty := len(ch.subs) == 0
	ch.mu.Unlock()

	if empty {
		delete(b.channels, channelID)
	}
	b.mu.Unlock()

	// No publisher can hold the handle past the delete above, so closing
	// the stream here is safe.
	close(h.events)
}

// SubscriberCount returns the number of subscribers on a channel
func (b *MemoryBackend) SubscriberCount(channelID string) int {
	b.mu.RLock()
	ch := b.channels[channelID]
	b.mu.RUnlock()
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}

// ChannelCount returns the number of channels with at least one subscriber
func (b *MemoryBackend) ChannelCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// Close shuts the backend down and ends every subscription stream
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := b.channels
	b.channels = make(map[string]*memoryChannel)
	b.mu.Unlock()

	var handles []*Handle
	for _, ch := range channels {
		ch.mu.Lock()
		for h := range ch.subs {
			handles = append(handles, h)
			delete(ch.subs, h)
		}
		ch.mu.Unlock()
	}
	// Close via the handle so a later caller-side Close stays a no-op
	for _, h := range handles {
		h.Close()
	}
	return nil
}
