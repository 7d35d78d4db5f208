package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/peerchat/internal/protocol/frame"
)

// DefaultProtocolID is the token that separates chat streams from any other
// protocol multiplexed on the same endpoint.
const DefaultProtocolID = "/peerchat/0"

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connect and stream defaults for one chat session.
//
// MaxConnectAttempts and MaxConnectDuration at zero leave the connector
// retrying until the peer is reachable or the caller cancels.
type Config struct {
	ProtocolID         string
	Backoff            BackoffConfig
	MaxConnectAttempts int
	MaxConnectDuration time.Duration
	AttemptTimeout     time.Duration
	Limits             frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ProtocolID:     DefaultProtocolID,
		AttemptTimeout: 10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Limits: frame.DefaultLimits(),
	}
}

// WithDefaults fills zero-valued fields that have no meaningful zero.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ProtocolID) == "" {
		c.ProtocolID = def.ProtocolID
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	return c
}

func (c Config) Validate() error {
	if !strings.HasPrefix(strings.TrimSpace(c.ProtocolID), "/") {
		return fmt.Errorf("%w: protocol_id must start with '/': %q", ErrInvalidConfig, c.ProtocolID)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: max_connect_attempts=%d", ErrInvalidConfig, c.MaxConnectAttempts)
	}
	if c.MaxConnectDuration < 0 {
		return fmt.Errorf("%w: max_connect_duration=%s", ErrInvalidConfig, c.MaxConnectDuration)
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("%w: attempt_timeout=%s", ErrInvalidConfig, c.AttemptTimeout)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative backoff delay", ErrInvalidConfig)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("%w: backoff initial delay %s exceeds max %s", ErrInvalidConfig, c.Backoff.InitialDelay, c.Backoff.MaxDelay)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
