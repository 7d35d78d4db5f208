package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/peerchat/internal/service"
)

type fileConfig struct {
	Name               string      `toml:"name"`
	IdentityKeyFile    string      `toml:"identity_key_file"`
	ListenAddrs        []string    `toml:"listen_addrs"`
	Peer               string      `toml:"peer"`
	PeerAddrs          []string    `toml:"peer_addrs"`
	ProtocolID         string      `toml:"protocol_id"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	MaxConnectDuration string      `toml:"max_connect_duration"`
	AttemptTimeout     string      `toml:"attempt_timeout"`
	MaxPayloadBytes    int64       `toml:"max_payload_bytes"`
	AnnouncePresence   bool        `toml:"announce_presence"`
	ChatLogLimit       int         `toml:"chat_log_limit"`
	Backoff            fileBackoff `toml:"backoff"`
	Admin              fileAdmin   `toml:"admin"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type fileAdmin struct {
	ListenAddr string `toml:"listen_addr"`
	Token      string `toml:"token"`
}

func loadServiceConfig(path string) (service.ServiceConfig, error) {
	cfg := service.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.ServiceConfig{}, fmt.Errorf("load peerchat config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("identity_key_file") {
		cfg.IdentityKeyFile = strings.TrimSpace(raw.IdentityKeyFile)
	}
	if meta.IsDefined("listen_addrs") {
		cfg.ListenAddrs = normalizeList(raw.ListenAddrs)
	}
	if meta.IsDefined("peer") {
		cfg.Peer = strings.TrimSpace(raw.Peer)
	}
	if meta.IsDefined("peer_addrs") {
		cfg.PeerAddrs = normalizeList(raw.PeerAddrs)
	}
	if meta.IsDefined("protocol_id") {
		cfg.Session.ProtocolID = strings.TrimSpace(raw.ProtocolID)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("max_connect_duration") {
		d, err := parseDuration("max_connect_duration", raw.MaxConnectDuration)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg.Session.MaxConnectDuration = d
	}
	if meta.IsDefined("attempt_timeout") {
		d, err := parseDuration("attempt_timeout", raw.AttemptTimeout)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg.Session.AttemptTimeout = d
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Session.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("announce_presence") {
		cfg.AnnouncePresence = raw.AnnouncePresence
	}
	if meta.IsDefined("chat_log_limit") {
		cfg.ChatLogLimit = raw.ChatLogLimit
	}

	if meta.IsDefined("backoff", "initial_delay") {
		d, err := parseDuration("backoff.initial_delay", raw.Backoff.InitialDelay)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "max_delay") {
		d, err := parseDuration("backoff.max_delay", raw.Backoff.MaxDelay)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg.Session.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}

	if meta.IsDefined("admin", "listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.Admin.ListenAddr)
	}
	if meta.IsDefined("admin", "token") {
		cfg.AdminToken = strings.TrimSpace(raw.Admin.Token)
	}

	if err := cfg.Validate(); err != nil {
		return service.ServiceConfig{}, err
	}
	return cfg, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
