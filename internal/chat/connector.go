package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/protocol/session"
	"github.com/danmuck/peerchat/internal/transport"
)

// Connector produces a live session, retrying failed attempts with backoff.
type Connector struct {
	dialer   transport.Dialer
	cfg      session.Config
	attempts atomic.Int64
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func NewConnector(dialer transport.Dialer, cfg session.Config) (*Connector, error) {
	if dialer == nil {
		return nil, ErrDialerRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connector{
		dialer: dialer,
		cfg:    cfg,
		sleep:  sleepContext,
		now:    time.Now,
	}, nil
}

// Attempts returns the number of dial attempts made by the last Connect.
func (c *Connector) Attempts() int {
	return int(c.attempts.Load())
}

// Connect blocks until a session is established with addr, the configured
// attempt or duration cap is hit, or ctx is cancelled. With no caps set it
// keeps trying for as long as ctx lives.
func (c *Connector) Connect(ctx context.Context, addr transport.PeerAddress) (transport.Session, error) {
	c.attempts.Store(0)
	backoff := session.NewBackoff(c.cfg.Backoff)
	start := c.now()
	var deadline time.Time
	if c.cfg.MaxConnectDuration > 0 {
		deadline = start.Add(c.cfg.MaxConnectDuration)
	}

	for {
		attempt := int(c.attempts.Add(1))
		s, err := c.dialOnce(ctx, addr)
		if err == nil {
			observability.RecordConnectAttempt("success")
			log.Info().
				Int("attempt", attempt).
				Str("peer", addr.ID).
				Str("session_id", s.ID()).
				Dur("elapsed", c.now().Sub(start)).
				Msg("chat.Connector session established")
			return s, nil
		}
		observability.RecordConnectAttempt("failure")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Debug().Int("attempt", attempt).Str("peer", addr.ID).Err(err).
			Msg("chat.Connector dial failed")

		if c.cfg.MaxConnectAttempts > 0 && attempt >= c.cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectExhausted, attempt, err)
		}
		delay := backoff.Next()
		if !deadline.IsZero() {
			remaining := deadline.Sub(c.now())
			if remaining <= 0 {
				return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectDeadline, attempt, err)
			}
			if delay > remaining {
				delay = remaining
			}
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Connector) dialOnce(ctx context.Context, addr transport.PeerAddress) (transport.Session, error) {
	attemptCtx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}
	s, err := c.dialer.Connect(attemptCtx, addr, c.cfg.ProtocolID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("chat: dialer returned nil session")
	}
	return s, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
