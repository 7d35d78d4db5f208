package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/identity"
	"github.com/danmuck/peerchat/internal/testutil/testlog"
)

func TestTemplateLoadsAndValidates(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, "peer", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "peer", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}

	cfg, err := LoadPeerConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Name != "peerchat" || cfg.ProtocolID != "/peerchat/0" || cfg.MaxPayloadBytes != 8192 {
		t.Fatalf("unexpected template values: %+v", cfg)
	}
	if cfg.Backoff.Multiplier != 2.0 || cfg.Backoff.Jitter == nil || !*cfg.Backoff.Jitter {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
	if len(cfg.ListenAddrs) != 2 {
		t.Fatalf("unexpected listen addrs: %+v", cfg.ListenAddrs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"protocol":   `protocol_id = "peerchat"`,
		"duration":   `attempt_timeout = "soon"`,
		"negative":   `max_connect_attempts = -1`,
		"peer":       `peer = "not-a-peer"`,
		"listen":     `listen_addrs = ["0.0.0.0:4001"]`,
		"multiplier": "[backoff]\nmultiplier = 0.5",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), name+".toml")
		if err := os.WriteFile(path, []byte(body+"\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadPeerConfig(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateAcceptsPeerMultiaddr(t *testing.T) {
	testlog.Start(t)
	priv, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := identity.PeerID(priv)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	cfg := PeerConfig{Name: "a", Peer: "/ip4/127.0.0.1/tcp/4001/p2p/" + id}
	if err := ValidatePeerConfig(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	testlog.Start(t)
	if d, err := ParseDuration(""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDuration(" 1500ms "); err != nil || d != 1500*time.Millisecond {
		t.Fatalf("1500ms: %v %v", d, err)
	}
	if _, err := ParseDuration("-1s"); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("expected negative duration error, got %v", err)
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("relay"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
