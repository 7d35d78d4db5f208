// Package frame bounds the payload carried by one stream. A stream holds
// exactly one message terminated by end-of-stream, so there is no length
// prefix: the reader consumes to EOF and enforces the limit itself.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxPayloadBytes is the largest single message accepted.
const DefaultMaxPayloadBytes = 8 * 1024

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrInvalidLimits   = errors.New("frame: invalid limits")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: DefaultMaxPayloadBytes,
	}
}

func (l Limits) Validate() error {
	if l.MaxPayloadBytes <= 0 {
		return fmt.Errorf("%w: max_payload_bytes=%d", ErrInvalidLimits, l.MaxPayloadBytes)
	}
	return nil
}

// ReadAll reads r to end-of-stream. A payload of exactly MaxPayloadBytes is
// accepted; anything longer returns ErrPayloadTooLarge without buffering
// past the limit.
func ReadAll(r io.Reader, limits Limits) ([]byte, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, limits.MaxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if n > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limits.MaxPayloadBytes)
	}
	return buf.Bytes(), nil
}

// WriteAll writes payload in full, refusing payloads the remote would reject.
func WriteAll(w io.Writer, payload []byte, limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	if int64(len(payload)) > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), limits.MaxPayloadBytes)
	}
	_, err := w.Write(payload)
	return err
}
