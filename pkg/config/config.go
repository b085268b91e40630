package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default tunables. All of them are overridable from the config file;
// none are hard-coded anywhere else.
const (
	DefaultHeartbeatTTL     = 45 * time.Second
	DefaultAckDeadline      = 10 * time.Second
	DefaultBackoffMin       = 100 * time.Millisecond
	DefaultBackoffMax       = 30 * time.Second
	DefaultDedupWindowSize  = 256
	DefaultSubscriberBuffer = 64
	DefaultMetricsAddr      = "127.0.0.1:9190"
)

// Config holds the full configuration for one relay node
type Config struct {
	// NodeID uniquely identifies this node in the cluster. Required.
	NodeID string `yaml:"node_id"`

	// Redis is the cluster broker connection
	Redis RedisConfig `yaml:"redis"`

	// HeartbeatTTL is how long a presence record survives without a
	// heartbeat before the sweep treats the connection as silently failed
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`

	// SweepInterval is how often stale presence records are collected.
	// Zero means HeartbeatTTL / 2.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// AckDeadline bounds how long a termination command waits for its
	// acknowledgment before reporting a timeout
	AckDeadline time.Duration `yaml:"ack_deadline"`

	// DedupWindowSize is the number of recent sequences remembered per
	// origin node for duplicate suppression
	DedupWindowSize int `yaml:"dedup_window_size"`

	// SubscriberBuffer is the per-subscription outbound queue length
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// AuditPath is the directory holding the termination audit log
	AuditPath string `yaml:"audit_path"`

	// MetricsAddr is the listen address for the Prometheus endpoint
	MetricsAddr string `yaml:"metrics_addr"`

	Log LogConfig `yaml:"log"`
}

// RedisConfig holds broker connection and reconnect settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`

	// BackoffMin/BackoffMax bound the capped-doubling reconnect backoff
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// LogConfig selects log level and output format
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a config populated with default values
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:       "127.0.0.1:6379",
			BackoffMin: DefaultBackoffMin,
			BackoffMax: DefaultBackoffMax,
		},
		HeartbeatTTL:     DefaultHeartbeatTTL,
		AckDeadline:      DefaultAckDeadline,
		DedupWindowSize:  DefaultDedupWindowSize,
		SubscriberBuffer: DefaultSubscriberBuffer,
		AuditPath:        "./relay-data",
		MetricsAddr:      DefaultMetricsAddr,
		Log:              LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the config for values the core cannot run with
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.HeartbeatTTL <= 0 {
		return fmt.Errorf("heartbeat_ttl must be positive")
	}
	if c.AckDeadline <= 0 {
		return fmt.Errorf("ack_deadline must be positive")
	}
	if c.DedupWindowSize <= 0 {
		return fmt.Errorf("dedup_window_size must be positive")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive")
	}
	if c.Redis.BackoffMin <= 0 || c.Redis.BackoffMax < c.Redis.BackoffMin {
		return fmt.Errorf("redis backoff bounds invalid: min=%s max=%s",
			c.Redis.BackoffMin, c.Redis.BackoffMax)
	}
	return nil
}

// EffectiveSweepInterval returns the configured sweep interval, defaulting
// to half the heartbeat TTL
func (c *Config) EffectiveSweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	return c.HeartbeatTTL / 2
}
