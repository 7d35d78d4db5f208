package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/danmuck/peerchat/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterStaysBounded(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for attempt := 1; attempt <= 20; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		if got <= 0 || got > time.Second {
			t.Fatalf("attempt%d got=%v outside (0, 1s]", attempt, got)
		}
	}
}

func TestNextBackoffDelayZeroInitialIsBusyRetry(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{Multiplier: 2.0, MaxDelay: time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := NextBackoffDelay(cfg, attempt, nil); got != 0 {
			t.Fatalf("attempt%d got=%v want 0", attempt, got)
		}
	}
}

func TestBackoffCountsAttempts(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2.0})
	if d := b.Next(); d != 10*time.Millisecond {
		t.Fatalf("first delay=%v", d)
	}
	if d := b.Next(); d != 20*time.Millisecond {
		t.Fatalf("second delay=%v", d)
	}
	if b.Attempts() != 2 {
		t.Fatalf("attempts=%d", b.Attempts())
	}
	b.Reset()
	if b.Attempts() != 0 {
		t.Fatalf("reset attempts=%d", b.Attempts())
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if cfg.ProtocolID != DefaultProtocolID {
		t.Fatalf("protocol id=%q", cfg.ProtocolID)
	}
	if cfg.Limits.MaxPayloadBytes != frame.DefaultMaxPayloadBytes {
		t.Fatalf("limits=%+v", cfg.Limits)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("validate DefaultConfig: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	testlog.Start(t)
	mutate := []func(*Config){
		func(c *Config) { c.ProtocolID = "peerchat" },
		func(c *Config) { c.MaxConnectAttempts = -1 },
		func(c *Config) { c.MaxConnectDuration = -time.Second },
		func(c *Config) { c.Backoff.InitialDelay = 10 * time.Second },
		func(c *Config) { c.Limits.MaxPayloadBytes = -1 },
	}
	for i, m := range mutate {
		cfg := DefaultConfig()
		m(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}
