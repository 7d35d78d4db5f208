// Package p2p implements the chat transport on a libp2p host. Peers are
// addressed by the id derived from their public key; every chat event rides
// its own libp2p stream tagged with the chat protocol id.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/peerchat/internal/transport"
)

const (
	streamBacklog  = 64
	sessionBacklog = 16
)

var (
	ErrIdentityRequired = errors.New("p2p: identity key required")
	ErrNoConnection     = errors.New("p2p: no connection to peer")
	ErrSelfDial         = errors.New("p2p: refusing to dial self")
)

type EndpointConfig struct {
	PrivateKey  ic.PrivKey
	ListenAddrs []string
	// ProtocolIDs are registered at bind time so remote peers can open
	// sessions before any local Connect.
	ProtocolIDs []string
}

type sessionKey struct {
	peer  peer.ID
	proto protocol.ID
}

// Endpoint is a bound libp2p host serving chat sessions.
type Endpoint struct {
	host host.Host

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	handlers map[protocol.ID]chan *Session

	done chan struct{}
	once sync.Once
}

var _ transport.Endpoint = (*Endpoint)(nil)

// Bind creates the libp2p host and starts listening.
func Bind(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.PrivateKey == nil {
		return nil, ErrIdentityRequired
	}
	opts := []libp2p.Option{libp2p.Identity(cfg.PrivateKey)}
	if len(cfg.ListenAddrs) == 0 {
		opts = append(opts, libp2p.NoListenAddrs)
	} else {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}
	e := &Endpoint{
		host:     h,
		sessions: make(map[sessionKey]*Session),
		handlers: make(map[protocol.ID]chan *Session),
		done:     make(chan struct{}),
	}
	h.Network().Notify(&network.NotifyBundle{
		DisconnectedF: e.handleDisconnected,
	})
	for _, id := range cfg.ProtocolIDs {
		e.ensureHandler(protocol.ID(id))
	}
	log.Info().
		Str("peer_id", h.ID().String()).
		Strs("addrs", e.AddrStrings()).
		Msg("p2p.Endpoint bound")
	return e, nil
}

func (e *Endpoint) Host() host.Host { return e.host }

func (e *Endpoint) LocalPeer() string { return e.host.ID().String() }

// AddrStrings returns full dialable multiaddrs including the /p2p component.
func (e *Endpoint) AddrStrings() []string {
	suffix, err := ma.NewMultiaddr("/p2p/" + e.host.ID().String())
	if err != nil {
		return nil
	}
	addrs := e.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Encapsulate(suffix).String())
	}
	return out
}

func (e *Endpoint) ensureHandler(proto protocol.ID) chan *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.handlers[proto]; ok {
		return q
	}
	q := make(chan *Session, sessionBacklog)
	e.handlers[proto] = q
	e.host.SetStreamHandler(proto, func(s network.Stream) {
		e.handleStream(proto, s)
	})
	return q
}

// sessionFor returns the live session for (remote, proto), creating one over
// conn when none exists.
func (e *Endpoint) sessionFor(remote peer.ID, proto protocol.ID, conn network.Conn) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := sessionKey{peer: remote, proto: proto}
	if s, ok := e.sessions[key]; ok && !s.isClosed() {
		return s, false
	}
	s := newSession(e, key, conn.ID())
	e.sessions[key] = s
	return s, true
}

func (e *Endpoint) forget(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.sessions[s.key]; ok && cur == s {
		delete(e.sessions, s.key)
	}
}

func (e *Endpoint) handleStream(proto protocol.ID, st network.Stream) {
	remote := st.Conn().RemotePeer()
	s, created := e.sessionFor(remote, proto, st.Conn())
	if created {
		q := e.ensureHandler(proto)
		select {
		case q <- s:
		default:
			// Nobody will ever accept this session; refuse it instead of
			// parking streams on it.
			log.Warn().Str("peer_id", remote.String()).Str("protocol", string(proto)).
				Msg("p2p.Endpoint inbound session backlog full; refusing session")
			_ = st.Reset()
			_ = s.shutdown(false)
			return
		}
	}
	s.deliver(st)
}

func (e *Endpoint) handleDisconnected(n network.Network, c network.Conn) {
	remote := c.RemotePeer()
	if len(n.ConnsToPeer(remote)) > 0 {
		return
	}
	e.mu.Lock()
	var closing []*Session
	for key, s := range e.sessions {
		if key.peer == remote {
			closing = append(closing, s)
		}
	}
	e.mu.Unlock()
	for _, s := range closing {
		log.Debug().Str("peer_id", remote.String()).Str("session_id", s.ID()).
			Msg("p2p.Endpoint remote disconnected")
		s.shutdown(false)
	}
}

// Connect dials addr and returns the session for it under protocolID. An
// existing live session with the same peer and protocol is reused.
func (e *Endpoint) Connect(ctx context.Context, addr transport.PeerAddress, protocolID string) (transport.Session, error) {
	info, err := addrInfo(addr)
	if err != nil {
		return nil, err
	}
	if info.ID == e.host.ID() {
		return nil, ErrSelfDial
	}
	if len(info.Addrs) > 0 {
		e.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	}
	if err := e.host.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", info.ID, err)
	}
	conns := e.host.Network().ConnsToPeer(info.ID)
	if len(conns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, info.ID)
	}
	proto := protocol.ID(protocolID)
	e.ensureHandler(proto)
	s, _ := e.sessionFor(info.ID, proto, conns[0])
	log.Debug().Str("peer_id", info.ID.String()).Str("session_id", s.ID()).
		Msg("p2p.Endpoint session established")
	return s, nil
}

// Accept waits for a remote peer to open a session under protocolID.
func (e *Endpoint) Accept(ctx context.Context, protocolID string) (transport.Session, error) {
	q := e.ensureHandler(protocol.ID(protocolID))
	select {
	case s := <-q:
		return s, nil
	case <-e.done:
		return nil, transport.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Endpoint) Close() error {
	var err error
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		sessions := make([]*Session, 0, len(e.sessions))
		for _, s := range e.sessions {
			sessions = append(sessions, s)
		}
		e.mu.Unlock()
		for _, s := range sessions {
			s.shutdown(false)
		}
		err = e.host.Close()
	})
	return err
}

func addrInfo(addr transport.PeerAddress) (peer.AddrInfo, error) {
	raw := strings.TrimSpace(addr.ID)
	if raw == "" {
		return peer.AddrInfo{}, transport.ErrNoPeer
	}
	id, err := peer.Decode(raw)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid peer id %q: %w", raw, err)
	}
	info := peer.AddrInfo{ID: id}
	for _, s := range addr.Addrs {
		m, err := ma.NewMultiaddr(strings.TrimSpace(s))
		if err != nil {
			return peer.AddrInfo{}, fmt.Errorf("invalid multiaddr %q: %w", s, err)
		}
		transportAddr, tail := peer.SplitAddr(m)
		if tail != "" && tail != id {
			return peer.AddrInfo{}, fmt.Errorf("multiaddr %q targets %s but expected %s", s, tail, id)
		}
		if transportAddr != nil {
			info.Addrs = append(info.Addrs, transportAddr)
		}
	}
	return info, nil
}
