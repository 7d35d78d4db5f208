package chat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/peerchat/internal/transport"
)

// Coordinator turns an interrupt into an orderly session close.
type Coordinator struct {
	session     transport.Session
	interrupted atomic.Bool

	// BeforeClose runs once with a short deadline before the session closes on
	// interrupt, e.g. to announce departure to the remote peer.
	BeforeClose func(ctx context.Context)
	GracePeriod time.Duration
}

func NewCoordinator(s transport.Session) *Coordinator {
	return &Coordinator{session: s, GracePeriod: 2 * time.Second}
}

// Await blocks until interrupt is done or the session ends on its own. On
// interrupt it closes the session and reports true; every other holder of
// the session then sees an orderly close.
func (c *Coordinator) Await(interrupt context.Context) bool {
	select {
	case <-interrupt.Done():
	case <-c.session.Done():
		return false
	}
	log.Info().Str("session_id", c.session.ID()).Msg("chat.Coordinator interrupt received; closing session")
	if c.BeforeClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.GracePeriod)
		c.BeforeClose(ctx)
		cancel()
	}
	if err := c.session.Close(); err != nil {
		log.Warn().Str("session_id", c.session.ID()).Err(err).Msg("chat.Coordinator close failed")
	}
	c.interrupted.Store(true)
	return true
}

// Interrupted reports whether the last Await closed the session.
func (c *Coordinator) Interrupted() bool {
	return c.interrupted.Load()
}
