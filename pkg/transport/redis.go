package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftbox/relay/pkg/log"
	"github.com/driftbox/relay/pkg/metrics"
	"github.com/driftbox/relay/pkg/types"
)

// defaultProbeInterval is how often the broker connection is probed while
// it is believed healthy
const defaultProbeInterval = 5 * time.Second

// RedisOptions configures the cluster backend
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// BackoffMin/BackoffMax bound the capped-doubling reconnect backoff
	BackoffMin time.Duration
	BackoffMax time.Duration

	// Buffer bounds each subscription's pending-event queue
	Buffer int

	// ProbeInterval is how often the connection is probed while healthy.
	// Zero means the default of 5s.
	ProbeInterval time.Duration
}

// RedisBackend is the cluster-wide transport, wrapping a Redis pub/sub
// connection. It reconnects automatically with exponential backoff; while
// disconnected, Publish fails fast with ErrNotConnected and the bridge
// keeps local delivery flowing (degraded mode). No buffered replay is
// attempted on reconnect; missed events are not recovered.
type RedisBackend struct {
	client    *redis.Client
	opts      RedisOptions
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRedisBackend connects to the broker and starts the connection monitor.
// Construction succeeds even if the broker is initially unreachable; the
// backend simply starts in the disconnected state and keeps retrying.
func NewRedisBackend(opts RedisOptions) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBackend{
		client: client,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := client.Ping(ctx).Err(); err == nil {
		b.setConnected(true)
	} else {
		logger := log.WithComponent("transport")
		logger.Warn().Err(err).
			Str("addr", opts.Addr).Msg("broker unreachable at startup, entering degraded mode")
	}

	go b.monitor(ctx)
	return b
}

// Connected reports whether cross-node delivery is currently available
func (b *RedisBackend) Connected() bool {
	return b.connected.Load()
}

func (b *RedisBackend) setConnected(up bool) {
	b.connected.Store(up)
	if up {
		metrics.DegradedMode.Set(0)
	} else {
		metrics.DegradedMode.Set(1)
	}
}

// monitor probes the broker and drives reconnect with capped doubling
// backoff while the connection is down
func (b *RedisBackend) monitor(ctx context.Context) {
	defer close(b.done)
	logger := log.WithComponent("transport")

	interval := b.opts.ProbeInterval
	if interval == 0 {
		interval = defaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := b.client.Ping(ctx).Err(); err == nil {
			if !b.Connected() {
				logger.Info().Str("addr", b.opts.Addr).Msg("broker connection restored")
				b.setConnected(true)
			}
			continue
		}

		if b.Connected() {
			logger.Warn().Str("addr", b.opts.Addr).Msg("broker connection lost, entering degraded mode")
			b.setConnected(false)
		}

		// Reconnect loop: capped doubling backoff until the broker answers
		backoff := b.opts.BackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			metrics.BrokerReconnects.Inc()
			if err := b.client.Ping(ctx).Err(); err == nil {
				logger.Info().Str("addr", b.opts.Addr).Msg("broker connection restored")
				b.setConnected(true)
				break
			}

			backoff *= 2
			if backoff > b.opts.BackoffMax {
				backoff = b.opts.BackoffMax
			}
		}
	}
}

// Publish sends the event to the broker for cluster-wide fan-out. While
// disconnected it fails fast with ErrNotConnected rather than queueing.
func (b *RedisBackend) Publish(ctx context.Context, channelID string, event *types.Event) error {
	if !b.Connected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.client.Publish(ctx, channelID, data).Err(); err != nil {
		b.setConnected(false)
		return fmt.Errorf("failed to publish to broker: %w", err)
	}
	return nil
}

// Subscribe opens a broker subscription on a single channel
func (b *RedisBackend) Subscribe(ctx context.Context, channelID string) (*Handle, error) {
	ps := b.client.Subscribe(ctx, channelID)
	return b.attach(channelID, ps), nil
}

// PSubscribe opens a broker subscription on a channel pattern, e.g.
// "system.presence.*"
func (b *RedisBackend) PSubscribe(ctx context.Context, pattern string) (*Handle, error) {
	ps := b.client.PSubscribe(ctx, pattern)
	return b.attach(pattern, ps), nil
}

// attach pumps broker messages into a handle until the handle is closed or
// the pub/sub stream ends
func (b *RedisBackend) attach(name string, ps *redis.PubSub) *Handle {
	h := newHandle(name, b.opts.Buffer, func() {
		_ = ps.Close()
	})

	go func() {
		logger := log.WithComponent("transport")
		for msg := range ps.Channel() {
			var event types.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Error().Err(err).Str("channel", msg.Channel).
					Msg("discarding undecodable broker message")
				continue
			}
			select {
			case h.events <- &event:
			default:
				metrics.EventsDropped.Inc()
			}
		}
		// The pump is the sole closer of the event stream, whether the
		// handle was closed or the pub/sub connection was permanently lost.
		_ = ps.Close()
		close(h.events)
	}()

	return h
}

// Close shuts down the connection monitor and the broker client. Open
// subscription streams end as their pub/sub connections close.
func (b *RedisBackend) Close() error {
	b.cancel()
	<-b.done
	return b.client.Close()
}
