package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/peerchat/internal/transport"
)

var ErrUnknownPeer = errors.New("memory: unknown peer")

// Network routes Connect calls between named in-process endpoints.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// Endpoint binds a named endpoint on the network.
func (n *Network) Endpoint(name string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[name]; ok {
		return ep
	}
	ep := &Endpoint{
		name:    name,
		net:     n,
		pending: make(map[string]chan transport.Session),
		done:    make(chan struct{}),
	}
	n.endpoints[name] = ep
	return ep
}

func (n *Network) lookup(name string) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[name]
	return ep, ok
}

func (n *Network) remove(name string) {
	n.mu.Lock()
	delete(n.endpoints, name)
	n.mu.Unlock()
}

// Endpoint is one named peer on a Network.
type Endpoint struct {
	name string
	net  *Network

	mu      sync.Mutex
	pending map[string]chan transport.Session
	done    chan struct{}
	once    sync.Once
}

var _ transport.Endpoint = (*Endpoint)(nil)

func (e *Endpoint) LocalPeer() string { return e.name }

func (e *Endpoint) queue(protocolID string) chan transport.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.pending[protocolID]
	if !ok {
		q = make(chan transport.Session, acceptBacklog)
		e.pending[protocolID] = q
	}
	return q
}

func (e *Endpoint) Connect(ctx context.Context, addr transport.PeerAddress, protocolID string) (transport.Session, error) {
	if addr.ID == "" {
		return nil, transport.ErrNoPeer
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	remote, ok := e.net.lookup(addr.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, addr.ID)
	}
	local, peer := Pair(e.name, remote.name)
	select {
	case remote.queue(protocolID) <- peer:
		return local, nil
	case <-remote.done:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, addr.ID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Endpoint) Accept(ctx context.Context, protocolID string) (transport.Session, error) {
	select {
	case s := <-e.queue(protocolID):
		return s, nil
	case <-e.done:
		return nil, transport.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.net.remove(e.name)
	})
	return nil
}
