package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/peerchat/internal/identity"
)

// PeerConfig is the on-disk schema for one chat peer.
type PeerConfig struct {
	Name               string        `toml:"name"`
	IdentityKeyFile    string        `toml:"identity_key_file"`
	ListenAddrs        []string      `toml:"listen_addrs"`
	Peer               string        `toml:"peer"`
	PeerAddrs          []string      `toml:"peer_addrs"`
	ProtocolID         string        `toml:"protocol_id"`
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	MaxConnectDuration string        `toml:"max_connect_duration"`
	AttemptTimeout     string        `toml:"attempt_timeout"`
	MaxPayloadBytes    int64         `toml:"max_payload_bytes"`
	AnnouncePresence   *bool         `toml:"announce_presence"`
	ChatLogLimit       int           `toml:"chat_log_limit"`
	Backoff            BackoffConfig `toml:"backoff"`
	Admin              AdminConfig   `toml:"admin"`
}

type BackoffConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       *bool   `toml:"jitter"`
}

type AdminConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Token      string `toml:"token"`
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	var cfg PeerConfig
	if err := loadToml(path, &cfg); err != nil {
		return PeerConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "peerchat"
	}
	if err := ValidatePeerConfig(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidatePeerConfig(cfg PeerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("peer config missing name")
	}
	if id := strings.TrimSpace(cfg.ProtocolID); id != "" && !strings.HasPrefix(id, "/") {
		return fmt.Errorf("protocol_id must start with '/': %q", cfg.ProtocolID)
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("max_connect_attempts must be >= 0")
	}
	if cfg.MaxPayloadBytes < 0 {
		return fmt.Errorf("max_payload_bytes must be >= 0")
	}
	for field, raw := range map[string]string{
		"max_connect_duration":  cfg.MaxConnectDuration,
		"attempt_timeout":       cfg.AttemptTimeout,
		"backoff.initial_delay": cfg.Backoff.InitialDelay,
		"backoff.max_delay":     cfg.Backoff.MaxDelay,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("%s invalid: %w", field, err)
		}
	}
	if cfg.Backoff.Multiplier != 0 && cfg.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff.multiplier must be >= 1")
	}
	if strings.TrimSpace(cfg.Peer) != "" || len(cfg.PeerAddrs) > 0 {
		if _, err := identity.ParsePeerAddresses(cfg.Peer, cfg.PeerAddrs); err != nil {
			return fmt.Errorf("peer invalid: %w", err)
		}
	}
	for i, addr := range cfg.ListenAddrs {
		if !strings.HasPrefix(strings.TrimSpace(addr), "/") {
			return fmt.Errorf("listen_addrs[%d] is not a multiaddr: %q", i, addr)
		}
	}
	return nil
}

// ParseDuration accepts an empty string as zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
