/*
Package config defines Relay's node configuration and its YAML loading.

A node is configured from a single YAML file layered over built-in defaults.
Every tunable the runtime consults lives here; no timeout or buffer size is
hard-coded anywhere else.

# Configuration File

	node_id: node-a            # required, unique per cluster member
	redis:
	  addr: 127.0.0.1:6379     # empty addr = standalone (no cluster)
	  password: ""
	  db: 0
	  backoff_min: 100ms       # reconnect backoff bounds
	  backoff_max: 30s
	heartbeat_ttl: 45s         # presence staleness bound
	sweep_interval: 0s         # 0 = heartbeat_ttl / 2
	ack_deadline: 10s          # termination ack wait bound
	dedup_window_size: 256     # sequences remembered per origin node
	subscriber_buffer: 64      # per-subscription outbound queue
	audit_path: ./relay-data   # termination audit log directory
	metrics_addr: 127.0.0.1:9190
	log:
	  level: info
	  json: true

# Usage

	cfg, err := config.Load("/etc/relay/relay.yaml")
	if err != nil {
		return err
	}

	// or programmatically
	cfg := config.Default()
	cfg.NodeID = "node-a"
	if err := cfg.Validate(); err != nil {
		return err
	}

Validate rejects configurations the core cannot run with: a missing node
id, non-positive timeouts or buffers, and inverted backoff bounds.

# See Also

  - pkg/node: consumes the configuration to wire a node
*/
package config
