package transport

import (
	"context"
	"sync"
)

// Shared is a reference-counted handle over one Session. Every component
// that reads or writes the session holds its own clone. Release drops one
// reference and closes the session when the last one goes; Close through any
// clone ends the session for all holders immediately.
type Shared struct {
	state    *sharedState
	released sync.Once
}

type sharedState struct {
	session Session
	mu      sync.Mutex
	refs    int
	once    sync.Once
	err     error
}

var _ Session = (*Shared)(nil)

// Share wraps s with a single reference.
func Share(s Session) *Shared {
	return &Shared{state: &sharedState{session: s, refs: 1}}
}

// Clone returns a new holder of the same session.
func (h *Shared) Clone() *Shared {
	h.state.mu.Lock()
	h.state.refs++
	h.state.mu.Unlock()
	return &Shared{state: h.state}
}

// Refs returns the number of live holders.
func (h *Shared) Refs() int {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return h.state.refs
}

// Release drops this holder. The session closes when the count reaches zero.
// Calling Release twice on the same clone is a no-op.
func (h *Shared) Release() {
	h.released.Do(func() {
		h.state.mu.Lock()
		h.state.refs--
		last := h.state.refs == 0
		h.state.mu.Unlock()
		if last {
			_ = h.state.close()
		}
	})
}

func (s *sharedState) close() error {
	s.once.Do(func() {
		s.err = s.session.Close()
	})
	return s.err
}

func (h *Shared) ID() string         { return h.state.session.ID() }
func (h *Shared) RemotePeer() string { return h.state.session.RemotePeer() }

func (h *Shared) OpenStream(ctx context.Context) (SendStream, error) {
	return h.state.session.OpenStream(ctx)
}

func (h *Shared) AcceptStream(ctx context.Context) (RecvStream, error) {
	return h.state.session.AcceptStream(ctx)
}

func (h *Shared) Close() error {
	return h.state.close()
}

func (h *Shared) Done() <-chan struct{} {
	return h.state.session.Done()
}
