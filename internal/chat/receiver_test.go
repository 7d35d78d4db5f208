package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/protocol/event"
	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/danmuck/peerchat/internal/testutil/testlog"
	"github.com/danmuck/peerchat/internal/transport"
	"github.com/danmuck/peerchat/internal/transport/memory"
)

type recordingObserver struct {
	mu       sync.Mutex
	chats    []string
	presence []string
}

func (o *recordingObserver) OnChat(sessionID, content string) {
	o.mu.Lock()
	o.chats = append(o.chats, sessionID+":"+content)
	o.mu.Unlock()
}

func (o *recordingObserver) OnPresence(sessionID string, online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	o.mu.Lock()
	o.presence = append(o.presence, sessionID+":"+state)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() ([]string, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.chats...), append([]string(nil), o.presence...)
}

func startReceiver(t *testing.T, r *Receiver) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	return done
}

func waitReceived(t *testing.T, r *Receiver, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.Received() < n {
		if time.Now().After(deadline) {
			t.Fatalf("received %d events, want %d", r.Received(), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("receiver did not stop")
		return nil
	}
}

func TestReceiverDispatchesEvents(t *testing.T) {
	testlog.Start(t)
	a, b := memory.Pair("A", "B")
	obs := &recordingObserver{}
	r := NewReceiver(a, obs, frame.DefaultLimits())
	done := startReceiver(t, r)

	for _, ev := range []event.Event{event.Connected(b.ID()), event.Chat(b.ID(), "hello"), event.Disconnected(b.ID())} {
		if err := Send(context.Background(), b, ev, frame.DefaultLimits()); err != nil {
			t.Fatalf("send %s: %v", ev, err)
		}
	}
	waitReceived(t, r, 3)

	chats, presence := obs.snapshot()
	if len(chats) != 1 || chats[0] != b.ID()+":hello" {
		t.Fatalf("unexpected chats: %v", chats)
	}
	if len(presence) != 2 || presence[0] != b.ID()+":online" || presence[1] != b.ID()+":offline" {
		t.Fatalf("unexpected presence: %v", presence)
	}

	_ = b.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("expected orderly stop after remote close, got %v", err)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", r.State())
	}
}

func TestReceiverStopsWhenLocalSessionCloses(t *testing.T) {
	testlog.Start(t)
	a, _ := memory.Pair("A", "B")
	r := NewReceiver(a, nil, frame.DefaultLimits())
	done := startReceiver(t, r)

	deadline := time.Now().Add(2 * time.Second)
	for r.State() != StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("receiver never listened")
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.Run(context.Background()); !errors.Is(err, ErrReceiverAlreadyStart) {
		t.Fatalf("expected ErrReceiverAlreadyStart, got %v", err)
	}

	_ = a.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("expected nil on close, got %v", err)
	}
}

func TestReceiverStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	a, _ := memory.Pair("A", "B")
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReceiver(a, nil, frame.DefaultLimits())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
}

// chatPayload builds a valid chat event encoding exactly size bytes long.
func chatPayload(t *testing.T, sessionID string, size int) []byte {
	t.Helper()
	empty, err := event.Encode(event.Chat(sessionID, ""))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload, err := event.Encode(event.Chat(sessionID, strings.Repeat("x", size-len(empty))))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(payload) != size {
		t.Fatalf("payload is %d bytes, want %d", len(payload), size)
	}
	return payload
}

func TestReceiverSizeBoundary(t *testing.T) {
	testlog.Start(t)
	a, _ := memory.Pair("A", "B")
	defer a.Close()
	obs := &recordingObserver{}
	r := NewReceiver(a, obs, frame.DefaultLimits())
	done := startReceiver(t, r)

	if err := memory.Inject(a, chatPayload(t, "B-9", frame.DefaultMaxPayloadBytes)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	waitReceived(t, r, 1)

	if err := memory.Inject(a, chatPayload(t, "B-9", frame.DefaultMaxPayloadBytes+1)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	err := waitDone(t, done)
	fault, ok := IsFault(err)
	if !ok || fault.Kind != FaultTooLarge || !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("expected too_large fault, got %v", err)
	}
	if chats, _ := obs.snapshot(); len(chats) != 1 {
		t.Fatalf("oversize event must not be dispatched: %d chats", len(chats))
	}
}

func TestReceiverDecodeFault(t *testing.T) {
	testlog.Start(t)
	a, _ := memory.Pair("A", "B")
	defer a.Close()
	r := NewReceiver(a, nil, frame.DefaultLimits())
	done := startReceiver(t, r)

	if err := memory.Inject(a, []byte(`{"type":"shout","session_id":"B-1"}`)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	err := waitDone(t, done)
	fault, ok := IsFault(err)
	if !ok || fault.Kind != FaultDecode || fault.SessionID != a.ID() {
		t.Fatalf("expected decode fault, got %v", err)
	}
	if !errors.Is(err, event.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent cause, got %v", err)
	}
}

func TestReceiverSkipsRemoteResetStream(t *testing.T) {
	testlog.Start(t)
	a, b := memory.Pair("A", "B")
	obs := &recordingObserver{}
	r := NewReceiver(a, obs, frame.DefaultLimits())
	done := startReceiver(t, r)

	if err := memory.InjectReset(a); err != nil {
		t.Fatalf("inject reset: %v", err)
	}
	if err := Send(context.Background(), b, event.Chat(b.ID(), "after reset"), frame.DefaultLimits()); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitReceived(t, r, 1)
	if chats, _ := obs.snapshot(); len(chats) != 1 || chats[0] != b.ID()+":after reset" {
		t.Fatalf("unexpected chats: %v", chats)
	}

	_ = b.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("a reset stream must not fault the session, got %v", err)
	}
}

// brokenSession fails every accept with a non-close error.
type brokenSession struct {
	done chan struct{}
}

func (s *brokenSession) ID() string         { return "X-1" }
func (s *brokenSession) RemotePeer() string { return "X" }
func (s *brokenSession) OpenStream(context.Context) (transport.SendStream, error) {
	return nil, errors.New("unsupported")
}
func (s *brokenSession) AcceptStream(context.Context) (transport.RecvStream, error) {
	return nil, errors.New("connection reset by peer")
}
func (s *brokenSession) Close() error          { return nil }
func (s *brokenSession) Done() <-chan struct{} { return s.done }

func TestReceiverTransportFault(t *testing.T) {
	testlog.Start(t)
	r := NewReceiver(&brokenSession{done: make(chan struct{})}, nil, frame.DefaultLimits())
	err := r.Run(context.Background())
	fault, ok := IsFault(err)
	if !ok || fault.Kind != FaultTransport || fault.SessionID != "X-1" {
		t.Fatalf("expected transport fault, got %v", err)
	}
}
