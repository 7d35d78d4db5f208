package chat

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/protocol/event"
	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/danmuck/peerchat/internal/transport"
)

// ReceiverState is the loop position, exported for health reporting.
type ReceiverState int32

const (
	StateIdle ReceiverState = iota
	StateListening
	StateDecoding
	StateDispatching
	StateStopped
)

func (s ReceiverState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDecoding:
		return "decoding"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Receiver accepts inbound streams one at a time, decodes each into an event
// and dispatches it to the observer.
type Receiver struct {
	session  transport.Session
	observer Observer
	limits   frame.Limits

	state    atomic.Int32
	running  atomic.Bool
	received atomic.Uint64
}

func NewReceiver(s transport.Session, observer Observer, limits frame.Limits) *Receiver {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	if observer == nil {
		observer = Observers(nil)
	}
	return &Receiver{session: s, observer: observer, limits: limits}
}

func (r *Receiver) State() ReceiverState {
	return ReceiverState(r.state.Load())
}

// Received returns the number of events dispatched so far.
func (r *Receiver) Received() uint64 {
	return r.received.Load()
}

func (r *Receiver) setState(s ReceiverState) {
	r.state.Store(int32(s))
}

// Run processes inbound events until the session ends. It returns nil when
// the session is closed (by either side) or ctx is cancelled, and a *Fault
// for anything that leaves the protocol in an unknown state. It never exits
// the process; that decision belongs to the caller.
func (r *Receiver) Run(ctx context.Context) error {
	if r.session == nil {
		return ErrSessionRequired
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrReceiverAlreadyStart
	}
	defer r.running.Store(false)
	defer r.setState(StateStopped)

	sid := r.session.ID()
	for {
		r.setState(StateListening)
		st, err := r.session.AcceptStream(ctx)
		if err != nil {
			if r.orderly(ctx, err) {
				log.Debug().Str("session_id", sid).Msg("chat.Receiver session closed")
				return nil
			}
			return r.fault(FaultTransport, err)
		}

		r.setState(StateDecoding)
		payload, err := frame.ReadAll(st, r.limits)
		_ = st.Close()
		if err != nil {
			if errors.Is(err, frame.ErrPayloadTooLarge) {
				return r.fault(FaultTooLarge, err)
			}
			if r.orderly(ctx, err) {
				return nil
			}
			if errors.Is(err, transport.ErrStreamReset) {
				// The remote abandoned this one message; the session is fine.
				observability.RecordEventDropped("reset")
				log.Warn().Str("session_id", sid).Err(err).Msg("chat.Receiver stream reset by remote; message dropped")
				continue
			}
			return r.fault(FaultTransport, err)
		}
		ev, err := event.Decode(payload)
		if err != nil {
			return r.fault(FaultDecode, err)
		}

		r.setState(StateDispatching)
		r.dispatch(ev)
	}
}

// orderly reports whether err is a shutdown rather than a fault: an explicit
// session close, or the session/ctx already being done when err surfaced.
func (r *Receiver) orderly(ctx context.Context, err error) bool {
	if transport.IsOrderlyClose(err) {
		return true
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return true
	}
	select {
	case <-r.session.Done():
		return true
	default:
		return false
	}
}

func (r *Receiver) fault(kind FaultKind, err error) error {
	observability.RecordReceiverFault(string(kind))
	f := &Fault{Kind: kind, SessionID: r.session.ID(), Err: err}
	log.Error().Str("session_id", f.SessionID).Str("kind", string(kind)).Err(err).
		Msg("chat.Receiver protocol fault")
	return f
}

func (r *Receiver) dispatch(ev event.Event) {
	r.received.Add(1)
	observability.RecordEventReceived(string(ev.Kind))
	log.Debug().Str("session_id", r.session.ID()).Str("event", ev.String()).
		Msg("chat.Receiver event dispatched")
	switch ev.Kind {
	case event.KindChat:
		r.observer.OnChat(ev.SessionID, ev.Content)
	case event.KindConnected:
		r.observer.OnPresence(ev.SessionID, true)
	case event.KindDisconnected:
		r.observer.OnPresence(ev.SessionID, false)
	}
}
