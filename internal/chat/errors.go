package chat

import (
	"errors"
	"fmt"
)

var (
	ErrDialerRequired       = errors.New("chat: dialer required")
	ErrSessionRequired      = errors.New("chat: session required")
	ErrConnectExhausted     = errors.New("chat: connect attempts exhausted")
	ErrConnectDeadline      = errors.New("chat: connect deadline exceeded")
	ErrReceiverAlreadyStart = errors.New("chat: receiver already running")
)

// FaultKind classifies an unrecoverable receive-side failure.
type FaultKind string

const (
	FaultTransport FaultKind = "transport"
	FaultTooLarge  FaultKind = "too_large"
	FaultDecode    FaultKind = "decode"
)

// Fault is returned by the receiver loop when the session can no longer be
// trusted. Orderly close is never a Fault.
type Fault struct {
	Kind      FaultKind
	SessionID string
	Err       error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("chat: %s fault on session %s: %v", f.Kind, f.SessionID, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// IsFault reports whether err carries a receiver Fault and returns it.
func IsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// SendError reports which step of a send failed.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("chat: send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
