package node

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftbox/relay/pkg/audit"
	"github.com/driftbox/relay/pkg/bridge"
	"github.com/driftbox/relay/pkg/config"
	"github.com/driftbox/relay/pkg/log"
	"github.com/driftbox/relay/pkg/presence"
	"github.com/driftbox/relay/pkg/registry"
	"github.com/driftbox/relay/pkg/session"
	"github.com/driftbox/relay/pkg/transport"
	"github.com/driftbox/relay/pkg/types"
)

// Node is one cluster member's real-time distribution core. It owns the
// transport backends, the event bridge, the channel registry, the presence
// tracker, the session monitor and the audit log, and exposes the surface
// the rest of the platform (connection layer, notification service, admin
// tooling) talks to.
type Node struct {
	cfg      *config.Config
	local    *transport.MemoryBackend
	cluster  *transport.RedisBackend
	bridge   *bridge.Bridge
	registry *registry.Registry
	tracker  *presence.Tracker
	monitor  *session.Monitor
	auditLog audit.Store
	feed     *bridge.RemoteFeed
	logger   zerolog.Logger
	feedDone chan struct{}
}

// NewNode wires a node from configuration. A node with no broker address
// configured runs standalone: local delivery only, never degraded.
func NewNode(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auditLog, err := audit.NewBoltStore(cfg.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	local := transport.NewMemoryBackend(cfg.SubscriberBuffer)

	var cluster *transport.RedisBackend
	if cfg.Redis.Addr != "" {
		cluster = transport.NewRedisBackend(transport.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			BackoffMin: cfg.Redis.BackoffMin,
			BackoffMax: cfg.Redis.BackoffMax,
			Buffer:     cfg.SubscriberBuffer,
		})
	}

	var clusterBackend transport.ClusterBackend
	if cluster != nil {
		clusterBackend = cluster
	}
	b := bridge.New(cfg.NodeID, local, clusterBackend, cfg.DedupWindowSize)
	reg := registry.NewRegistry(b, cfg.SubscriberBuffer)
	tracker := presence.NewTracker(b, cfg.HeartbeatTTL, cfg.EffectiveSweepInterval())
	monitor := session.NewMonitor(b, reg, auditLog, cfg.AckDeadline)

	n := &Node{
		cfg:      cfg,
		local:    local,
		cluster:  cluster,
		bridge:   b,
		registry: reg,
		tracker:  tracker,
		monitor:  monitor,
		auditLog: auditLog,
		logger:   log.WithNodeID(cfg.NodeID),
		feedDone: make(chan struct{}),
	}

	// Sessions projected from a silently failed connection die with its
	// presence record
	tracker.SetEvictHook(monitor.ForgetConnection)

	return n, nil
}

// Start brings up the termination executor, the presence sweep, and the
// cluster-wide presence/session projection feed
func (n *Node) Start(ctx context.Context) error {
	if err := n.monitor.Start(ctx); err != nil {
		return err
	}
	n.tracker.Start()

	feed, err := n.bridge.SubscribePattern(ctx, types.SystemPresencePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to open presence feed: %w", err)
	}
	n.feed = feed
	go n.project(feed)

	n.logger.Info().
		Bool("clustered", n.cluster != nil).
		Dur("heartbeat_ttl", n.cfg.HeartbeatTTL).
		Msg("relay node started")
	return nil
}

// project folds remote presence events into the local projections
func (n *Node) project(feed *bridge.RemoteFeed) {
	defer close(n.feedDone)
	for event := range feed.Events() {
		n.tracker.ObserveRemote(event)
		n.monitor.ObserveRemote(event)
	}
}

// Connect registers a live connection supplied by the session layer.
// closer must force-close the underlying connection; it is invoked when an
// administrator terminates the session.
func (n *Node) Connect(ctx context.Context, userID, sessionID string, closer func()) {
	record := &types.SessionRecord{
		SessionID:   sessionID,
		UserID:      userID,
		NodeID:      n.cfg.NodeID,
		ConnectedAt: time.Now(),
	}

	n.monitor.Attach(record, func() {
		if closer != nil {
			closer()
		}
		// The monitor has already dropped the session; release the
		// presence record if that was the user's last session here
		last := n.monitor.LocalSessions(userID) == 0
		n.tracker.Disconnect(context.Background(), userID, sessionID, last)
	})
	n.tracker.Connect(ctx, userID, sessionID)
}

// Disconnect removes a session on orderly connection close
func (n *Node) Disconnect(ctx context.Context, sessionID string) {
	record := n.monitor.Detach(sessionID)
	if record == nil {
		return
	}
	last := n.monitor.LocalSessions(record.UserID) == 0
	n.tracker.Disconnect(ctx, record.UserID, sessionID, last)
}

// Heartbeat refreshes a user's presence. status may be empty to keep the
// current activity level, or an explicit online/away level.
func (n *Node) Heartbeat(ctx context.Context, userID string, status types.PresenceStatus) {
	n.tracker.Heartbeat(ctx, userID, status)
}

// Publish emits a domain event on a channel; this is the only way other
// subsystems emit real-time events
func (n *Node) Publish(ctx context.Context, channelID string, eventType types.EventType, payload []byte) error {
	return n.bridge.Publish(ctx, &types.Event{
		ChannelID: channelID,
		Type:      eventType,
		Payload:   payload,
	})
}

// Subscribe attaches a consumer to a channel with an optional filter
func (n *Node) Subscribe(ctx context.Context, subscriberID, channelID string, filter registry.Filter) (*registry.Subscription, error) {
	return n.registry.Register(ctx, subscriberID, channelID, filter)
}

// Status returns a user's aggregate presence across the cluster
func (n *Node) Status(userID string) types.PresenceStatus {
	return n.tracker.Status(userID)
}

// ListSessions returns active sessions cluster-wide for admin reporting
func (n *Node) ListSessions(filter session.Filter) []*types.SessionRecord {
	return n.monitor.List(filter)
}

// Broadcast publishes an admin announcement to all sessions or to the
// given users
func (n *Node) Broadcast(ctx context.Context, message, issuedBy string, userIDs []string) error {
	return n.monitor.Broadcast(ctx, message, issuedBy, userIDs)
}

// Terminate forcibly ends a session wherever in the cluster it is hosted
func (n *Node) Terminate(ctx context.Context, sessionID, reason, issuedBy string) (types.TerminationOutcome, error) {
	return n.monitor.Terminate(ctx, sessionID, reason, issuedBy)
}

// Degraded reports whether cross-node delivery is currently unavailable.
// Local delivery keeps working while degraded.
func (n *Node) Degraded() bool {
	return n.bridge.Degraded()
}

// AuditLog exposes the termination audit log for compliance queries
func (n *Node) AuditLog() audit.Store {
	return n.auditLog
}

// Shutdown gracefully stops the core
func (n *Node) Shutdown() error {
	n.tracker.Stop()
	n.monitor.Stop()
	if n.feed != nil {
		n.feed.Close()
		<-n.feedDone
	}
	n.registry.Close()
	n.bridge.Close()
	if n.cluster != nil {
		if err := n.cluster.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("failed to close cluster backend")
		}
	}
	if err := n.local.Close(); err != nil {
		return fmt.Errorf("failed to close local backend: %w", err)
	}
	if err := n.auditLog.Close(); err != nil {
		return fmt.Errorf("failed to close audit store: %w", err)
	}
	n.logger.Info().Msg("relay node stopped")
	return nil
}
