// Package config loads and validates statehub.yml.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the root of statehub.yml.
type Config struct {
	Version string       `yaml:"version"`
	Daemon  DaemonConfig `yaml:"daemon"`
	Hub     HubConfig    `yaml:"hub"`

	// Extensions captures all other top-level keys for extensibility.
	Extensions map[string]interface{} `yaml:",inline"`
}

// DaemonConfig configures the statehub daemon (hubd).
type DaemonConfig struct {
	// Listen is the TCP address the daemon serves HTTP and WebSocket on.
	Listen string `yaml:"listen"`

	// MaxSessions caps concurrently active sessions.
	MaxSessions int `yaml:"max_sessions"`

	// DefaultModel is assigned to sessions created without an explicit model.
	DefaultModel string `yaml:"default_model"`

	// HealthInterval is how often the health collector publishes state.health.
	HealthInterval Duration `yaml:"health_interval"`

	// DeltaHistory is the per-channel ring of recent deltas kept for replay
	// to subscribers that reconnect slightly behind.
	DeltaHistory int `yaml:"delta_history"`
}

// HubConfig configures the client-side hub.
type HubConfig struct {
	// ServerURL is the WebSocket endpoint of the daemon.
	ServerURL string `yaml:"server_url"`

	// CallTimeout is the default deadline for calls without an explicit one.
	CallTimeout Duration `yaml:"call_timeout"`

	// OptimisticDeadline is how long a provisional mutation survives without
	// server confirmation before it is rolled back.
	OptimisticDeadline Duration `yaml:"optimistic_deadline"`

	// SnapshotAttempts is the retry budget for snapshot/resync fetches.
	SnapshotAttempts int `yaml:"snapshot_attempts"`

	// SnapshotBackoff is the initial snapshot retry delay; it doubles per
	// attempt up to SnapshotBackoffCap.
	SnapshotBackoff    Duration `yaml:"snapshot_backoff"`
	SnapshotBackoffCap Duration `yaml:"snapshot_backoff_cap"`

	// ReconnectBackoff is the initial transport reconnect delay; it doubles
	// per failure up to ReconnectBackoffCap. A manual Reconnect resets it.
	ReconnectBackoff    Duration `yaml:"reconnect_backoff"`
	ReconnectBackoffCap Duration `yaml:"reconnect_backoff_cap"`
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = "127.0.0.1:7433"
	}
	if c.Daemon.MaxSessions == 0 {
		c.Daemon.MaxSessions = 32
	}
	if c.Daemon.DefaultModel == "" {
		c.Daemon.DefaultModel = "claude-sonnet"
	}
	if c.Daemon.HealthInterval == 0 {
		c.Daemon.HealthInterval = Duration(15 * time.Second)
	}
	if c.Daemon.DeltaHistory == 0 {
		c.Daemon.DeltaHistory = 256
	}

	if c.Hub.ServerURL == "" {
		c.Hub.ServerURL = "ws://" + c.Daemon.Listen + "/ws"
	}
	if c.Hub.CallTimeout == 0 {
		c.Hub.CallTimeout = Duration(10 * time.Second)
	}
	if c.Hub.OptimisticDeadline == 0 {
		c.Hub.OptimisticDeadline = Duration(5 * time.Second)
	}
	if c.Hub.SnapshotAttempts == 0 {
		c.Hub.SnapshotAttempts = 3
	}
	if c.Hub.SnapshotBackoff == 0 {
		c.Hub.SnapshotBackoff = Duration(500 * time.Millisecond)
	}
	if c.Hub.SnapshotBackoffCap == 0 {
		c.Hub.SnapshotBackoffCap = Duration(5 * time.Second)
	}
	if c.Hub.ReconnectBackoff == 0 {
		c.Hub.ReconnectBackoff = Duration(250 * time.Millisecond)
	}
	if c.Hub.ReconnectBackoffCap == 0 {
		c.Hub.ReconnectBackoffCap = Duration(15 * time.Second)
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Daemon.MaxSessions < 1 {
		return fmt.Errorf("daemon.max_sessions must be positive, got %d", c.Daemon.MaxSessions)
	}
	if c.Daemon.DeltaHistory < 1 {
		return fmt.Errorf("daemon.delta_history must be positive, got %d", c.Daemon.DeltaHistory)
	}
	if c.Hub.SnapshotAttempts < 1 {
		return fmt.Errorf("hub.snapshot_attempts must be positive, got %d", c.Hub.SnapshotAttempts)
	}
	if c.Hub.SnapshotBackoff > c.Hub.SnapshotBackoffCap {
		return fmt.Errorf("hub.snapshot_backoff exceeds its cap")
	}
	if c.Hub.ReconnectBackoff > c.Hub.ReconnectBackoffCap {
		return fmt.Errorf("hub.reconnect_backoff exceeds its cap")
	}
	return nil
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded statehub.yml into the provided target struct. The target must be a
// pointer. This provides a type-safe way for extensions to access their
// custom configuration sections.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		// The target struct will simply remain zero-valued.
		return nil
	}

	// Use mapstructure to decode the generic map[string]interface{}
	// into the strongly-typed target struct.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
