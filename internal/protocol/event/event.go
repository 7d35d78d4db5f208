// Package event defines the chat events exchanged between peers and their
// wire encoding. One encoded event fills exactly one stream.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind tags the variant carried by an Event.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindChat         Kind = "chat"
)

var ErrInvalidEvent = errors.New("event: invalid event")

// Event is one wire message. Content is only meaningful for KindChat.
type Event struct {
	Kind      Kind
	SessionID string
	Content   string
}

// Connected announces a newly established session.
func Connected(sessionID string) Event {
	return Event{Kind: KindConnected, SessionID: sessionID}
}

// Disconnected announces session teardown.
func Disconnected(sessionID string) Event {
	return Event{Kind: KindDisconnected, SessionID: sessionID}
}

// Chat is a user-authored message attributed to the sender's session.
func Chat(sessionID, content string) Event {
	return Event{Kind: KindChat, SessionID: sessionID, Content: content}
}

func (e Event) Validate() error {
	switch e.Kind {
	case KindConnected, KindDisconnected:
		if e.Content != "" {
			return fmt.Errorf("%w: %s carries content", ErrInvalidEvent, e.Kind)
		}
	case KindChat:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEvent)
	}
	return nil
}

func (e Event) String() string {
	if e.Kind == KindChat {
		return fmt.Sprintf("chat(%s, %q)", e.SessionID, e.Content)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.SessionID)
}

type envelope struct {
	Type      Kind    `json:"type"`
	SessionID string  `json:"session_id"`
	Content   *string `json:"content,omitempty"`
}

// Encode serializes e into its wire form.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	env := envelope{Type: e.Kind, SessionID: e.SessionID}
	if e.Kind == KindChat {
		content := e.Content
		env.Content = &content
	}
	return json.Marshal(env)
}

// Decode parses one complete wire payload.
func Decode(payload []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Event{}, fmt.Errorf("%w: trailing data after event", ErrInvalidEvent)
	}
	e := Event{Kind: env.Type, SessionID: env.SessionID}
	switch env.Type {
	case KindChat:
		if env.Content == nil {
			return Event{}, fmt.Errorf("%w: chat missing content", ErrInvalidEvent)
		}
		e.Content = *env.Content
	default:
		if env.Content != nil {
			return Event{}, fmt.Errorf("%w: %s carries content", ErrInvalidEvent, env.Type)
		}
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
