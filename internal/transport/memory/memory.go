// Package memory is an in-process transport. Sessions come in connected
// pairs; a stream is delivered to the remote accept queue when the sender
// finishes it, so a reader always sees the complete payload followed by EOF.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/peerchat/internal/transport"
)

const acceptBacklog = 128

var sessionSeq atomic.Uint64

// Session is one side of an in-memory connection.
type Session struct {
	id     string
	local  string
	remote string
	peer   *Session
	inbox  chan *recvStream
	conn   *conn
}

// conn is shared by both sides; closing either side closes both.
type conn struct {
	done chan struct{}
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

var _ transport.Session = (*Session)(nil)

// Pair returns two connected sessions for peers a and b.
func Pair(a, b string) (*Session, *Session) {
	c := &conn{done: make(chan struct{})}
	n := sessionSeq.Add(1)
	sa := &Session{
		id:     fmt.Sprintf("%s-%d", a, n),
		local:  a,
		remote: b,
		inbox:  make(chan *recvStream, acceptBacklog),
		conn:   c,
	}
	sb := &Session{
		id:     fmt.Sprintf("%s-%d", b, n),
		local:  b,
		remote: a,
		inbox:  make(chan *recvStream, acceptBacklog),
		conn:   c,
	}
	sa.peer, sb.peer = sb, sa
	return sa, sb
}

func (s *Session) ID() string            { return s.id }
func (s *Session) RemotePeer() string    { return s.remote }
func (s *Session) Done() <-chan struct{} { return s.conn.done }

func (s *Session) Close() error {
	s.conn.close()
	return nil
}

func (s *Session) closed() bool {
	select {
	case <-s.conn.done:
		return true
	default:
		return false
	}
}

func (s *Session) OpenStream(ctx context.Context) (transport.SendStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed() {
		return nil, transport.ErrSessionClosed
	}
	return &sendStream{ctx: ctx, to: s.peer}, nil
}

func (s *Session) AcceptStream(ctx context.Context) (transport.RecvStream, error) {
	select {
	case <-s.conn.done:
		return nil, transport.ErrSessionClosed
	default:
	}
	select {
	case st := <-s.inbox:
		return st, nil
	case <-s.conn.done:
		return nil, transport.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) deliver(ctx context.Context, st *recvStream) error {
	select {
	case s.inbox <- st:
		return nil
	case <-s.conn.done:
		return transport.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sendStream struct {
	ctx context.Context
	to  *Session
	mu  sync.Mutex
	buf bytes.Buffer
	fin bool
}

func (w *sendStream) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fin {
		return 0, io.ErrClosedPipe
	}
	if w.to.closed() {
		return 0, transport.ErrSessionClosed
	}
	return w.buf.Write(p)
}

func (w *sendStream) CloseWrite() error {
	w.mu.Lock()
	if w.fin {
		w.mu.Unlock()
		return io.ErrClosedPipe
	}
	w.fin = true
	payload := append([]byte(nil), w.buf.Bytes()...)
	w.mu.Unlock()
	return w.to.deliver(w.ctx, &recvStream{r: bytes.NewReader(payload)})
}

func (w *sendStream) Close() error {
	w.mu.Lock()
	w.fin = true
	w.buf = bytes.Buffer{}
	w.mu.Unlock()
	return nil
}

func (w *sendStream) Reset() error {
	w.mu.Lock()
	w.fin = true
	w.buf.Reset()
	w.mu.Unlock()
	return nil
}

type recvStream struct {
	r io.Reader
}

func (r *recvStream) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r *recvStream) Close() error               { return nil }

type resetReader struct{}

func (resetReader) Read([]byte) (int, error) { return 0, transport.ErrStreamReset }

// InjectReset queues a stream on s that the remote aborted mid-write.
func InjectReset(s *Session) error {
	return s.deliver(context.Background(), &recvStream{r: resetReader{}})
}

// Inject queues raw bytes on s as if the remote had sent one stream. Tests
// use it to feed payloads the sender would refuse to produce.
func Inject(s *Session, payload []byte) error {
	return s.deliver(context.Background(), &recvStream{r: bytes.NewReader(payload)})
}
