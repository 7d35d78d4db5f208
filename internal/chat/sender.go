package chat

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/protocol/event"
	"github.com/danmuck/peerchat/internal/protocol/frame"
	"github.com/danmuck/peerchat/internal/transport"
)

// Sender writes one event per outbound stream. Safe for concurrent use: each
// call opens its own stream.
type Sender struct {
	session transport.Session
	limits  frame.Limits
}

func NewSender(s transport.Session, limits frame.Limits) *Sender {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return &Sender{session: s, limits: limits}
}

func (s *Sender) Send(ctx context.Context, e event.Event) error {
	return Send(ctx, s.session, e, s.limits)
}

// Send encodes e, opens a stream on sess, writes the payload and finishes
// the stream so the remote read completes. Failures are not retried.
func Send(ctx context.Context, sess transport.Session, e event.Event, limits frame.Limits) error {
	if sess == nil {
		return &SendError{Op: "open", Err: ErrSessionRequired}
	}
	payload, err := event.Encode(e)
	if err != nil {
		observability.RecordEventSent(string(e.Kind), false)
		return &SendError{Op: "encode", Err: err}
	}
	if int64(len(payload)) > limits.MaxPayloadBytes {
		observability.RecordEventSent(string(e.Kind), false)
		return &SendError{Op: "encode", Err: frame.ErrPayloadTooLarge}
	}
	st, err := sess.OpenStream(ctx)
	if err != nil {
		observability.RecordEventSent(string(e.Kind), false)
		return &SendError{Op: "open", Err: err}
	}
	if err := frame.WriteAll(st, payload, limits); err != nil {
		_ = st.Reset()
		observability.RecordEventSent(string(e.Kind), false)
		return &SendError{Op: "write", Err: err}
	}
	if err := st.CloseWrite(); err != nil {
		_ = st.Reset()
		observability.RecordEventSent(string(e.Kind), false)
		return &SendError{Op: "finish", Err: err}
	}
	// The payload is already finished; a close error only affects cleanup.
	if err := st.Close(); err != nil {
		log.Debug().Str("session_id", sess.ID()).Err(err).Msg("chat.Sender stream close failed")
	}
	observability.RecordEventSent(string(e.Kind), true)
	log.Debug().Str("session_id", sess.ID()).Str("event", e.String()).Int("bytes", len(payload)).
		Msg("chat.Sender event sent")
	return nil
}
