package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event flow metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Total number of events published, by channel type",
		},
		[]string{"channel_type"},
	)

	EventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_delivered_total",
			Help: "Total number of events delivered to local subscribers",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Total number of events dropped due to full subscriber buffers",
		},
	)

	EventsDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_deduplicated_total",
			Help: "Total number of duplicate or echoed events discarded by the bridge",
		},
	)

	FilterErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_filter_errors_total",
			Help: "Total number of subscription filter failures treated as non-match",
		},
	)

	// Registry metrics
	ChannelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_channels_active",
			Help: "Number of channels with at least one local subscriber",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscriptions_active",
			Help: "Number of active local subscriptions",
		},
	)

	// Cluster transport metrics
	DegradedMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_degraded_mode",
			Help: "Whether cross-node delivery is unavailable (1 = degraded)",
		},
	)

	BrokerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_broker_reconnects_total",
			Help: "Total number of cluster broker reconnect attempts",
		},
	)

	// Presence metrics
	PresenceRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_presence_records",
			Help: "Number of live (user, node) presence records on this node",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_presence_sweep_duration_seconds",
			Help:    "Duration of presence staleness sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_presence_sweep_evictions_total",
			Help: "Total number of presence records removed by the staleness sweep",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Number of live sessions hosted on this node",
		},
	)

	TerminationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_termination_outcomes_total",
			Help: "Total number of termination commands by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(EventsDeduplicated)
	prometheus.MustRegister(FilterErrors)
	prometheus.MustRegister(ChannelsActive)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(DegradedMode)
	prometheus.MustRegister(BrokerReconnects)
	prometheus.MustRegister(PresenceRecords)
	prometheus.MustRegister(SweepEvictions)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(TerminationOutcomes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
