// ABOUTME: Configuration loading for moss-peer
// ABOUTME: Loads TOML with environment variable expansion; defaults match the presence constants

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// Peer defaults applied when a field is left empty.
const (
	DefaultTickInterval          = 8 * time.Second
	DefaultIdleThreshold         = 40 * time.Second
	DefaultOfflineThreshold      = 20 * time.Second
	DefaultRefetchEvery          = 10
	DefaultNotificationDedupeTTL = 10 * time.Minute
)

// PeerConfig represents the complete moss-peer configuration
type PeerConfig struct {
	Relay     PeerRelayConfig `toml:"relay"`
	Profile   ProfileConfig   `toml:"profile"`
	Presence  PresenceConfig  `toml:"presence"`
	Messenger MessengerConfig `toml:"messenger"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   PeerMetrics     `toml:"metrics"`
}

// PeerRelayConfig says where the relay is and who we are to it.
type PeerRelayConfig struct {
	Addr    string `toml:"addr"`
	Token   string `toml:"token"`
	AgentID string `toml:"agent_id"`
}

// ProfileConfig is what other peers see of us.
type ProfileConfig struct {
	Nickname    string `toml:"nickname"`
	TzUTCOffset *int   `toml:"tz_utc_offset"` // minutes; nil means use the local zone
}

// PresenceConfig tunes the gossip loop.
type PresenceConfig struct {
	TickInterval     time.Duration `toml:"-"`
	IdleThreshold    time.Duration `toml:"-"`
	OfflineThreshold time.Duration `toml:"-"`
	RefetchEvery     int           `toml:"refetch_every"`

	TickIntervalRaw     string `toml:"tick_interval"`
	IdleThresholdRaw    string `toml:"idle_threshold"`
	OfflineThresholdRaw string `toml:"offline_threshold"`
}

// MessengerConfig bounds messenger state.
type MessengerConfig struct {
	MaxOutstandingPerPeer int           `toml:"max_outstanding_per_peer"`
	NotificationDedupeTTL time.Duration `toml:"-"`

	NotificationDedupeTTLRaw string `toml:"notification_dedupe_ttl"`
}

// PeerMetrics enables a local /metrics listener when Addr is set.
type PeerMetrics struct {
	Addr string `toml:"addr"`
}

// LoadPeer reads a peer config from path, expanding environment variables.
func LoadPeer(path string) (*PeerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParsePeer(string(data))
}

// ParsePeer decodes, defaults, and validates a peer config document.
func ParsePeer(doc string) (*PeerConfig, error) {
	var cfg PeerConfig
	if _, err := toml.Decode(expandEnvVars(doc), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *PeerConfig) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"presence.tick_interval", c.Presence.TickIntervalRaw, &c.Presence.TickInterval},
		{"presence.idle_threshold", c.Presence.IdleThresholdRaw, &c.Presence.IdleThreshold},
		{"presence.offline_threshold", c.Presence.OfflineThresholdRaw, &c.Presence.OfflineThreshold},
		{"messenger.notification_dedupe_ttl", c.Messenger.NotificationDedupeTTLRaw, &c.Messenger.NotificationDedupeTTL},
	}
	for _, f := range fields {
		if err := parseDuration(f.name, f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *PeerConfig) applyDefaults() {
	if c.Presence.TickInterval == 0 {
		c.Presence.TickInterval = DefaultTickInterval
	}
	if c.Presence.IdleThreshold == 0 {
		c.Presence.IdleThreshold = DefaultIdleThreshold
	}
	if c.Presence.OfflineThreshold == 0 {
		c.Presence.OfflineThreshold = DefaultOfflineThreshold
	}
	if c.Presence.RefetchEvery == 0 {
		c.Presence.RefetchEvery = DefaultRefetchEvery
	}
	if c.Messenger.NotificationDedupeTTL == 0 {
		c.Messenger.NotificationDedupeTTL = DefaultNotificationDedupeTTL
	}
	if c.Profile.TzUTCOffset == nil {
		_, offset := time.Now().Zone()
		minutes := offset / 60
		c.Profile.TzUTCOffset = &minutes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that required config fields are present and valid.
func (c *PeerConfig) Validate() error {
	if c.Relay.Addr == "" {
		return fmt.Errorf("relay.addr is required")
	}
	if c.Relay.AgentID == "" {
		return fmt.Errorf("relay.agent_id is required (generate one with `moss-peer keygen`)")
	}
	if _, err := identity.Parse(c.Relay.AgentID); err != nil {
		return fmt.Errorf("relay.agent_id: %w", err)
	}
	if c.Presence.TickInterval < 0 || c.Presence.IdleThreshold < 0 || c.Presence.OfflineThreshold < 0 {
		return fmt.Errorf("presence durations must not be negative")
	}
	if c.Presence.RefetchEvery < 0 {
		return fmt.Errorf("presence.refetch_every must not be negative")
	}
	if c.Messenger.MaxOutstandingPerPeer < 0 {
		return fmt.Errorf("messenger.max_outstanding_per_peer must not be negative")
	}
	return validateLogging(c.Logging)
}

// Self returns the configured agent id. It is only valid after Validate.
func (c *PeerConfig) Self() identity.AgentID {
	id, _ := identity.Parse(c.Relay.AgentID)
	return id
}
