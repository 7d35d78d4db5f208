package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/peerchat/internal/transport"
)

// Session is the chat session with one remote peer under one protocol id.
type Session struct {
	ep      *Endpoint
	key     sessionKey
	id      string
	streams chan network.Stream
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// deliverTimeout bounds how long a libp2p handler goroutine waits for room in
// the session backlog before the stream is reset.
var deliverTimeout = 5 * time.Second

var _ transport.Session = (*Session)(nil)

func newSession(ep *Endpoint, key sessionKey, id string) *Session {
	return &Session{
		ep:      ep,
		key:     key,
		id:      id,
		streams: make(chan network.Stream, streamBacklog),
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) RemotePeer() string    { return s.key.peer.String() }
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) OpenStream(ctx context.Context) (transport.SendStream, error) {
	if s.isClosed() {
		return nil, transport.ErrSessionClosed
	}
	st, err := s.ep.host.NewStream(ctx, s.key.peer, s.key.proto)
	if err != nil {
		if s.isClosed() {
			return nil, transport.ErrSessionClosed
		}
		return nil, err
	}
	return st, nil
}

func (s *Session) AcceptStream(ctx context.Context) (transport.RecvStream, error) {
	if s.isClosed() {
		return nil, transport.ErrSessionClosed
	}
	select {
	case st := <-s.streams:
		return inboundStream{Stream: st}, nil
	case <-s.done:
		return nil, transport.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns the number of inbound streams reset because nobody was
// draining the session.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// deliver hands an inbound stream to AcceptStream. It runs on the libp2p
// handler goroutine, so it waits at most deliverTimeout and resets the
// stream when the session ends or stays full.
func (s *Session) deliver(st network.Stream) {
	select {
	case s.streams <- st:
		return
	case <-s.done:
		_ = st.Reset()
		return
	default:
	}
	timer := time.NewTimer(deliverTimeout)
	defer timer.Stop()
	select {
	case s.streams <- st:
	case <-s.done:
		_ = st.Reset()
	case <-timer.C:
		s.dropped.Add(1)
		_ = st.Reset()
		log.Warn().Str("session_id", s.id).Str("peer_id", s.RemotePeer()).
			Msg("p2p.Session inbound backlog full; stream reset")
	}
}

// inboundStream reports a remote reset as transport.ErrStreamReset.
type inboundStream struct {
	network.Stream
}

func (st inboundStream) Read(p []byte) (int, error) {
	n, err := st.Stream.Read(p)
	if err != nil && errors.Is(err, network.ErrReset) {
		return n, fmt.Errorf("%w: %v", transport.ErrStreamReset, err)
	}
	return n, err
}

// Close ends the session and drops the connection to the remote peer, which
// the remote observes as an orderly close.
func (s *Session) Close() error {
	return s.shutdown(true)
}

func (s *Session) shutdown(hangup bool) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.ep.forget(s)
	drain:
		for {
			select {
			case st := <-s.streams:
				_ = st.Reset()
			default:
				break drain
			}
		}
		if hangup {
			err = s.ep.host.Network().ClosePeer(s.key.peer)
		}
	})
	return err
}
