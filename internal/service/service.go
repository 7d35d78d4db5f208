// Package service supervises one chat peer: it binds the endpoint, obtains a
// session, runs the sender, receiver loop and shutdown coordinator on shared
// handles of that session, and decides what a receiver fault means for the
// process.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/peerchat/internal/admin"
	"github.com/danmuck/peerchat/internal/chat"
	"github.com/danmuck/peerchat/internal/identity"
	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/protocol/event"
	"github.com/danmuck/peerchat/internal/protocol/session"
	"github.com/danmuck/peerchat/internal/transport"
	"github.com/danmuck/peerchat/internal/transport/p2p"
)

var ErrInvalidConfig = errors.New("service: invalid config")

// ServiceConfig configures one chat peer process.
type ServiceConfig struct {
	Name            string
	IdentityKeyFile string
	ListenAddrs     []string

	// Peer is the remote public identity (peer id or /.../p2p/<id>). Empty
	// means wait for a remote peer to connect.
	Peer             string
	PeerAddrs        []string
	Session          session.Config
	AdminListenAddr  string
	AdminToken       string
	ChatLogLimit     int
	AnnouncePresence bool
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:             "peerchat",
		ListenAddrs:      []string{"/ip4/0.0.0.0/tcp/4001", "/ip6/::/tcp/4001"},
		Session:          session.DefaultConfig(),
		ChatLogLimit:     1000,
		AnnouncePresence: true,
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return nil
}

// Service runs the chat peer lifecycle as a standalone process.
type Service struct {
	cfg      ServiceConfig
	instance string
	logger   zerolog.Logger
	chatLog  *chat.ChatLog

	in       io.Reader
	out      io.Writer
	endpoint transport.Endpoint
	resolve  func(peer string, addrs []string) (transport.PeerAddress, error)

	mu       sync.RWMutex
	current  transport.Session
	local    string
	receiver *chat.Receiver
}

func NewService(cfg ServiceConfig) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	instance := uuid.NewString()
	return &Service{
		cfg:      cfg,
		instance: instance,
		logger:   observability.Logger("service", instance),
		chatLog:  chat.NewChatLog(cfg.ChatLogLimit),
		in:       os.Stdin,
		out:      os.Stdout,
		resolve:  identity.ParsePeerAddresses,
	}
}

// UseEndpoint replaces the libp2p endpoint, e.g. with an in-memory one. Peer
// names are then passed to the endpoint as-is.
func (s *Service) UseEndpoint(ep transport.Endpoint) {
	s.endpoint = ep
	s.resolve = func(peer string, addrs []string) (transport.PeerAddress, error) {
		if strings.TrimSpace(peer) == "" {
			return transport.PeerAddress{}, transport.ErrNoPeer
		}
		return transport.PeerAddress{ID: peer, Addrs: addrs}, nil
	}
}

// UseConsole replaces stdin/stdout for the interactive line loop. A nil
// reader disables the input loop.
func (s *Service) UseConsole(in io.Reader, out io.Writer) {
	s.in = in
	s.out = out
}

func (s *Service) ChatLog() *chat.ChatLog { return s.chatLog }

// Run blocks until SIGINT/SIGTERM or the session ends. A nil error means a
// clean shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext is Run with interrupt delivered by cancelling ctx.
func (s *Service) RunContext(interrupt context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ep, err := s.bind()
	if err != nil {
		return err
	}
	defer ep.Close()

	sess, err := s.establish(interrupt, ep)
	if err != nil {
		if interrupt.Err() != nil {
			s.logger.Info().Msg("interrupted before a session was established")
			return nil
		}
		return err
	}
	return s.serve(interrupt, ep, sess)
}

func (s *Service) bind() (transport.Endpoint, error) {
	if s.endpoint != nil {
		return s.endpoint, nil
	}
	priv, created, err := identity.LoadOrGenerate(s.cfg.IdentityKeyFile)
	if err != nil {
		return nil, err
	}
	if created && s.cfg.IdentityKeyFile != "" {
		s.logger.Info().Str("path", s.cfg.IdentityKeyFile).Msg("generated new identity key")
	}
	return p2p.Bind(p2p.EndpointConfig{
		PrivateKey:  priv,
		ListenAddrs: s.cfg.ListenAddrs,
		ProtocolIDs: []string{s.cfg.Session.ProtocolID},
	})
}

func (s *Service) establish(ctx context.Context, ep transport.Endpoint) (transport.Session, error) {
	s.logger.Info().Str("local_peer", ep.LocalPeer()).Str("protocol", s.cfg.Session.ProtocolID).
		Msg("endpoint ready")
	if strings.TrimSpace(s.cfg.Peer) == "" && len(s.cfg.PeerAddrs) == 0 {
		s.logger.Info().Msg("no peer configured; waiting for an inbound session")
		return ep.Accept(ctx, s.cfg.Session.ProtocolID)
	}
	addr, err := s.resolve(s.cfg.Peer, s.cfg.PeerAddrs)
	if err != nil {
		return nil, err
	}
	connector, err := chat.NewConnector(ep, s.cfg.Session)
	if err != nil {
		return nil, err
	}
	return connector.Connect(ctx, addr)
}

func (s *Service) serve(interrupt context.Context, ep transport.Endpoint, sess transport.Session) error {
	shared := transport.Share(sess)
	defer shared.Release()

	senderHandle := shared.Clone()
	receiverHandle := shared.Clone()
	closerHandle := shared.Clone()
	defer senderHandle.Release()
	defer receiverHandle.Release()
	defer closerHandle.Release()

	sid := sess.ID()
	sender := chat.NewSender(senderHandle, s.cfg.Session.Limits)

	observers := chat.Observers{s.chatLog}
	var console *chat.Console
	if s.in != nil {
		console = chat.NewConsole(s.in, s.out, func(ctx context.Context, content string) error {
			if err := sender.Send(ctx, event.Chat(sid, content)); err != nil {
				return err
			}
			s.chatLog.AppendLocal(sid, content)
			return nil
		})
		observers = append(observers, console)
	}

	var adminSrv *admin.Server
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		adminSrv = admin.NewServer(admin.Config{
			ListenAddr: s.cfg.AdminListenAddr,
			Token:      s.cfg.AdminToken,
			Node:       s.cfg.Name,
		}, s.chatLog, s.Status, s.logger)
		if err := adminSrv.Start(); err != nil {
			return fmt.Errorf("start admin listener: %w", err)
		}
		observers = append(observers, adminSrv.Hub())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(ctx)
		}()
	}

	receiver := chat.NewReceiver(receiverHandle, observers, s.cfg.Session.Limits)
	s.mu.Lock()
	s.current = sess
	s.local = ep.LocalPeer()
	s.receiver = receiver
	s.mu.Unlock()

	s.logger.Info().Str("session_id", sid).Str("remote_peer", sess.RemotePeer()).Msg("session established")

	// quit ends the session the same way an interrupt does.
	quitCtx, quit := context.WithCancel(interrupt)
	defer quit()

	coordinator := chat.NewCoordinator(closerHandle)
	if s.cfg.AnnouncePresence {
		coordinator.BeforeClose = func(ctx context.Context) {
			if err := sender.Send(ctx, event.Disconnected(sid)); err != nil {
				s.logger.Debug().Err(err).Msg("disconnect announcement failed")
			}
		}
	}
	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		coordinator.Await(quitCtx)
	}()

	recvCtx, stopRecv := context.WithCancel(context.Background())
	defer stopRecv()
	recvDone := make(chan error, 1)
	go func() {
		recvDone <- receiver.Run(recvCtx)
	}()

	if s.cfg.AnnouncePresence {
		if err := sender.Send(interrupt, event.Connected(sid)); err != nil {
			s.logger.Warn().Err(err).Msg("presence announcement failed")
		}
	}

	if console != nil {
		go func() {
			err := console.Run(quitCtx)
			switch {
			case errors.Is(err, chat.ErrQuit):
				s.logger.Info().Msg("quit requested from console")
				quit()
			case err != nil:
				s.logger.Warn().Err(err).Msg("console input failed")
			}
		}()
	}

	err := <-recvDone
	if fault, ok := chat.IsFault(err); ok {
		s.logger.Error().Str("session_id", fault.SessionID).Str("kind", string(fault.Kind)).Err(fault.Err).
			Msg("receiver fault; closing session")
		_ = shared.Close()
		<-coordDone
		return fault
	}
	if err != nil {
		_ = shared.Close()
		<-coordDone
		return err
	}
	// Orderly: either our coordinator closed the session or the remote did.
	_ = shared.Close()
	<-coordDone
	s.logger.Info().Str("session_id", sid).Bool("interrupted", coordinator.Interrupted()).
		Msg("session ended")
	return nil
}

// Status reports the live session for the admin surface.
func (s *Service) Status() admin.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := admin.Status{LocalPeer: s.local}
	if s.current != nil {
		st.SessionID = s.current.ID()
		st.RemotePeer = s.current.RemotePeer()
	}
	if s.receiver != nil {
		st.ReceiverState = s.receiver.State().String()
		st.Received = s.receiver.Received()
	}
	return st
}
