package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftbox/relay/pkg/bridge"
	"github.com/driftbox/relay/pkg/log"
	"github.com/driftbox/relay/pkg/metrics"
	"github.com/driftbox/relay/pkg/types"
)

// Filter is a pure predicate over an event. A filter that returns an error
// or panics is treated as "does not match": fail-closed, logged, never
// fatal to other subscribers.
type Filter func(*types.Event) (bool, error)

// Subscription is one subscriber's attachment to a channel. Events
// matching the filter arrive on Events() in the channel's local delivery
// order; a full outbound queue drops rather than blocking the channel.
type Subscription struct {
	ID           string
	SubscriberID string
	ChannelID    string

	filter   Filter
	events   chan *types.Event
	registry *Registry
}

// Events returns the subscription's outbound event stream. It closes when
// the subscription is unregistered.
func (s *Subscription) Events() <-chan *types.Event {
	return s.events
}

// Close unregisters the subscription. Idempotent.
func (s *Subscription) Close() {
	s.registry.Unregister(s)
}

// channelEntry is the live local subscriber set of one channel. Membership
// changes and routing are serialized per entry; routing to different
// channels proceeds independently.
type channelEntry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	bsub *bridge.Subscription
}

// Registry maps channel identity to its live local subscriber set and
// routes ingested events to matching subscribers. Channels are created
// lazily on first subscription, hold one bridge subscription each, and are
// collapsed as soon as their local subscriber set empties.
type Registry struct {
	bridge *bridge.Bridge
	buffer int
	logger zerolog.Logger

	mu       sync.Mutex
	channels map[string]*channelEntry
	closed   bool
}

// NewRegistry creates a registry routing over the given bridge. buffer
// bounds each subscription's outbound queue.
func NewRegistry(b *bridge.Bridge, buffer int) *Registry {
	return &Registry{
		bridge:   b,
		buffer:   buffer,
		logger:   log.WithComponent("registry"),
		channels: make(map[string]*channelEntry),
	}
}

// Register subscribes subscriberID to a channel with an optional filter.
// The first local subscriber of a channel also opens the channel's bridge
// subscription.
func (r *Registry) Register(ctx context.Context, subscriberID, channelID string, filter Filter) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry closed")
	}

	entry := r.channels[channelID]
	if entry == nil {
		bsub, err := r.bridge.Subscribe(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe channel %s: %w", channelID, err)
		}
		entry = &channelEntry{
			subs: make(map[string]*Subscription),
			bsub: bsub,
		}
		r.channels[channelID] = entry
		metrics.ChannelsActive.Inc()
		go r.route(entry)
	}

	sub := &Subscription{
		ID:           uuid.New().String(),
		SubscriberID: subscriberID,
		ChannelID:    channelID,
		filter:       filter,
		events:       make(chan *types.Event, r.buffer),
		registry:     r,
	}

	entry.mu.Lock()
	entry.subs[sub.ID] = sub
	entry.mu.Unlock()
	metrics.SubscriptionsActive.Inc()
	return sub, nil
}

// Unregister removes a subscription immediately. When the channel's local
// subscriber set empties, the channel's bridge subscription is closed and
// the entry deleted so no further delivery work is performed for it.
// Idempotent: unregistering twice is a no-op.
func (r *Registry) Unregister(sub *Subscription) {
	r.mu.Lock()
	entry := r.channels[sub.ChannelID]
	if entry == nil {
		r.mu.Unlock()
		return
	}

	entry.mu.Lock()
	if _, ok := entry.subs[sub.ID]; !ok {
		entry.mu.Unlock()
		r.mu.Unlock()
		return
	}
	delete(entry.subs, sub.ID)
	close(sub.events)
	empty := len(entry.subs) == 0
	entry.mu.Unlock()

	if empty {
		delete(r.channels, sub.ChannelID)
		metrics.ChannelsActive.Dec()
	}
	r.mu.Unlock()

	metrics.SubscriptionsActive.Dec()
	if empty {
		entry.bsub.Close()
	}
}

// route is one channel's delivery loop. A single goroutine per channel
// means every local subscriber observes the channel's events in the same
// relative order.
func (r *Registry) route(entry *channelEntry) {
	for event := range entry.bsub.Events() {
		entry.mu.Lock()
		for _, sub := range entry.subs {
			if !r.matches(sub, event) {
				continue
			}
			select {
			case sub.events <- event:
			default:
				metrics.EventsDropped.Inc()
			}
		}
		entry.mu.Unlock()
	}
}

// matches applies the subscription's filter, treating any failure as a
// non-match so one bad filter cannot block delivery to other subscribers
func (r *Registry) matches(sub *Subscription, event *types.Event) (matched bool) {
	if sub.filter == nil {
		return true
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.FilterErrors.Inc()
			r.logger.Error().
				Str("subscription_id", sub.ID).
				Str("channel", sub.ChannelID).
				Interface("panic", rec).
				Msg("filter panicked, treating as non-match")
			matched = false
		}
	}()

	ok, err := sub.filter(event)
	if err != nil {
		metrics.FilterErrors.Inc()
		r.logger.Warn().Err(err).
			Str("subscription_id", sub.ID).
			Str("channel", sub.ChannelID).
			Msg("filter failed, treating as non-match")
		return false
	}
	return ok
}

// ChannelCount returns the number of channels with local subscribers
func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// SubscriptionCount returns the number of active subscriptions
func (r *Registry) SubscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, entry := range r.channels {
		entry.mu.Lock()
		n += len(entry.subs)
		entry.mu.Unlock()
	}
	return n
}

// Close unregisters every subscription and stops all routing
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	channels := r.channels
	r.channels = make(map[string]*channelEntry)
	r.mu.Unlock()

	for _, entry := range channels {
		entry.mu.Lock()
		for id, sub := range entry.subs {
			delete(entry.subs, id)
			close(sub.events)
			metrics.SubscriptionsActive.Dec()
		}
		entry.mu.Unlock()
		entry.bsub.Close()
		metrics.ChannelsActive.Dec()
	}
}
