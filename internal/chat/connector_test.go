package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/protocol/session"
	"github.com/danmuck/peerchat/internal/testutil/testlog"
	"github.com/danmuck/peerchat/internal/transport"
	"github.com/danmuck/peerchat/internal/transport/memory"
)

var errRefused = errors.New("connection refused")

// flakyDialer fails the first n attempts and then hands out one side of an
// in-memory pair.
type flakyDialer struct {
	mu    sync.Mutex
	fail  int
	calls int
}

func (d *flakyDialer) Connect(ctx context.Context, addr transport.PeerAddress, protocolID string) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.fail {
		return nil, errRefused
	}
	local, _ := memory.Pair("A", addr.ID)
	return local, nil
}

func fastConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	return cfg
}

func newTestConnector(t *testing.T, d transport.Dialer, cfg session.Config) (*Connector, *[]time.Duration) {
	t.Helper()
	c, err := NewConnector(d, cfg)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func TestConnectSucceedsAfterFailures(t *testing.T) {
	testlog.Start(t)
	for _, failures := range []int{0, 1, 4} {
		d := &flakyDialer{fail: failures}
		c, slept := newTestConnector(t, d, fastConfig())

		s, err := c.Connect(context.Background(), transport.PeerAddress{ID: "B"})
		if err != nil {
			t.Fatalf("failures=%d: connect: %v", failures, err)
		}
		if s == nil {
			t.Fatalf("failures=%d: nil session", failures)
		}
		if c.Attempts() != failures+1 || d.calls != failures+1 {
			t.Fatalf("failures=%d: attempts=%d calls=%d", failures, c.Attempts(), d.calls)
		}
		if len(*slept) != failures {
			t.Fatalf("failures=%d: expected %d backoff sleeps, got %d", failures, failures, len(*slept))
		}
		for i := 1; i < len(*slept); i++ {
			if (*slept)[i] < (*slept)[i-1] {
				t.Fatalf("backoff shrank: %v", *slept)
			}
		}
	}
}

func TestConnectStopsAtAttemptCap(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	cfg.MaxConnectAttempts = 3
	d := &flakyDialer{fail: 100}
	c, _ := newTestConnector(t, d, cfg)

	_, err := c.Connect(context.Background(), transport.PeerAddress{ID: "B"})
	if !errors.Is(err, ErrConnectExhausted) {
		t.Fatalf("expected ErrConnectExhausted, got %v", err)
	}
	if !errors.Is(err, errRefused) {
		t.Fatalf("expected last dial error wrapped, got %v", err)
	}
	if c.Attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", c.Attempts())
	}
}

func TestConnectStopsAtDurationCap(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	cfg.Backoff = session.BackoffConfig{InitialDelay: 300 * time.Millisecond, Multiplier: 1, MaxDelay: time.Second}
	cfg.MaxConnectDuration = time.Second
	d := &flakyDialer{fail: 100}
	c, err := NewConnector(d, cfg)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	clock := time.Unix(0, 0)
	c.now = func() time.Time { return clock }
	c.sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}

	_, err = c.Connect(context.Background(), transport.PeerAddress{ID: "B"})
	if !errors.Is(err, ErrConnectDeadline) {
		t.Fatalf("expected ErrConnectDeadline, got %v", err)
	}
	// Dials at 0, 300, 600, 900 and 1000ms; the last sleep is clipped.
	if c.Attempts() != 5 {
		t.Fatalf("expected 5 attempts, got %d", c.Attempts())
	}
	if elapsed := clock.Sub(time.Unix(0, 0)); elapsed != time.Second {
		t.Fatalf("expected to stop at the cap, elapsed %s", elapsed)
	}
}

func TestConnectHonorsCancellation(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	dialer := transport.DialFunc(func(ctx context.Context, addr transport.PeerAddress, protocolID string) (transport.Session, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil, errRefused
	})
	c, _ := newTestConnector(t, dialer, fastConfig())

	_, err := c.Connect(ctx, transport.PeerAddress{ID: "B"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Attempts() != 2 {
		t.Fatalf("expected 2 attempts, got %d", c.Attempts())
	}
}

func TestConnectPassesProtocolAndTimeout(t *testing.T) {
	testlog.Start(t)
	cfg := fastConfig()
	cfg.ProtocolID = "/peerchat/test"
	cfg.AttemptTimeout = time.Minute
	var gotProto string
	var hadDeadline bool
	dialer := transport.DialFunc(func(ctx context.Context, addr transport.PeerAddress, protocolID string) (transport.Session, error) {
		gotProto = protocolID
		_, hadDeadline = ctx.Deadline()
		local, _ := memory.Pair("A", "B")
		return local, nil
	})
	c, _ := newTestConnector(t, dialer, cfg)
	if _, err := c.Connect(context.Background(), transport.PeerAddress{ID: "B"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if gotProto != "/peerchat/test" || !hadDeadline {
		t.Fatalf("unexpected dial: proto=%q deadline=%v", gotProto, hadDeadline)
	}
}

func TestNewConnectorValidates(t *testing.T) {
	testlog.Start(t)
	if _, err := NewConnector(nil, session.DefaultConfig()); !errors.Is(err, ErrDialerRequired) {
		t.Fatalf("expected ErrDialerRequired, got %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.MaxConnectAttempts = -1
	if _, err := NewConnector(&flakyDialer{}, cfg); !errors.Is(err, session.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
