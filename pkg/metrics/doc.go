/*
Package metrics provides Prometheus instrumentation for Relay.

Collectors are package-level and registered with the default registry at
init time; subsystems import the package and update the collectors inline.
The node binary exposes them on the configured metrics address via the
standard promhttp handler.

# Metrics Catalog

Delivery:
  - relay_events_published_total{channel_type}: events published locally
  - relay_events_delivered_total: events handed to subscribers
  - relay_events_dropped_total: events dropped on full subscriber buffers
  - relay_events_deduplicated_total: broker echoes and redeliveries dropped
  - relay_filter_errors_total: subscription filters that errored or panicked

Channels:
  - relay_channels_active: channels with at least one local subscriber
  - relay_subscriptions_active: live local subscriptions

Cluster:
  - relay_degraded_mode: 1 while the broker is unreachable
  - relay_broker_reconnects_total: reconnect attempts

Presence:
  - relay_presence_records: current records (local + projected)
  - relay_presence_sweep_duration_seconds: staleness sweep latency
  - relay_presence_sweep_evictions_total: records expired by the sweep

Sessions:
  - relay_sessions_active: sessions hosted on this node
  - relay_termination_outcomes_total{outcome}: acknowledged / timed_out / stale

# Usage

	metrics.EventsDropped.Inc()
	metrics.TerminationOutcomes.WithLabelValues("acknowledged").Inc()

	timer := prometheus.NewTimer(metrics.SweepDuration)
	defer timer.ObserveDuration()

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())

# Alerting Suggestions

  - relay_degraded_mode == 1 for more than a minute: broker outage
  - rate(relay_events_dropped_total[5m]) > 0: slow consumers
  - rate(relay_termination_outcomes_total{outcome="timed_out"}[15m]) > 0:
    a node is not executing termination commands

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
