// Package transport describes the peer session the chat core runs on: one
// logical connection to a remote peer that can open and accept any number of
// independent single-use streams.
package transport

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	// ErrSessionClosed reports an orderly close, local or remote. It is the
	// expected way for a blocked AcceptStream to return at shutdown.
	ErrSessionClosed = errors.New("transport: session closed")
	// ErrStreamReset reports that the remote aborted one stream. The session
	// itself may still be usable.
	ErrStreamReset   = errors.New("transport: stream reset")
	ErrNoPeer        = errors.New("transport: peer address missing peer id")
)

// SendStream is the write half of one outbound stream.
type SendStream interface {
	io.Writer
	// CloseWrite signals end-of-stream so the remote read completes.
	CloseWrite() error
	// Reset aborts the stream; the remote sees an error instead of EOF.
	Reset() error
	// Close releases the stream after CloseWrite. Every opened stream must
	// end in Close or Reset.
	Close() error
}

// RecvStream is the read half of one inbound stream.
type RecvStream interface {
	io.Reader
	Close() error
}

// Session is a logical connection to one remote peer. Implementations are
// safe for concurrent OpenStream, AcceptStream and Close calls.
type Session interface {
	// ID is a process-local identifier assigned by the transport, stable for
	// the life of this session.
	ID() string
	RemotePeer() string
	OpenStream(ctx context.Context) (SendStream, error)
	AcceptStream(ctx context.Context) (RecvStream, error)
	// Close ends the session for every holder. Idempotent.
	Close() error
	Done() <-chan struct{}
}

// PeerAddress identifies a remote peer by its public-key derived id plus
// optional dialable addresses.
type PeerAddress struct {
	ID    string
	Addrs []string
}

func (a PeerAddress) String() string {
	if len(a.Addrs) == 0 {
		return a.ID
	}
	return a.ID + "@" + strings.Join(a.Addrs, ",")
}

// Dialer opens a session with a peer under the given protocol token.
type Dialer interface {
	Connect(ctx context.Context, addr PeerAddress, protocolID string) (Session, error)
}

// DialFunc adapts a function into a Dialer.
type DialFunc func(ctx context.Context, addr PeerAddress, protocolID string) (Session, error)

func (f DialFunc) Connect(ctx context.Context, addr PeerAddress, protocolID string) (Session, error) {
	return f(ctx, addr, protocolID)
}

// Endpoint is a bound local transport that can both dial and accept sessions.
type Endpoint interface {
	Dialer
	// Accept waits for a remote peer to open a session under protocolID.
	Accept(ctx context.Context, protocolID string) (Session, error)
	LocalPeer() string
	Close() error
}

// IsOrderlyClose reports whether err is the session-closed condition rather
// than a transport fault.
func IsOrderlyClose(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}
