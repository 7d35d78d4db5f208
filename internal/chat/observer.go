package chat

import (
	"sort"
	"sync"
	"time"
)

// Observer receives decoded events from the receiver loop. Implementations
// are owned by the presentation layer and must do their own locking if they
// are read from other goroutines.
type Observer interface {
	OnChat(sessionID, content string)
	OnPresence(sessionID string, online bool)
}

// Observers fans one event out to every member in order.
type Observers []Observer

func (o Observers) OnChat(sessionID, content string) {
	for _, obs := range o {
		if obs != nil {
			obs.OnChat(sessionID, content)
		}
	}
}

func (o Observers) OnPresence(sessionID string, online bool) {
	for _, obs := range o {
		if obs != nil {
			obs.OnPresence(sessionID, online)
		}
	}
}

// Entry is one chat line attributed to the session that sent it.
type Entry struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
	Local     bool      `json:"local"`
}

// PeerStatus is the last presence announcement seen for a session.
type PeerStatus struct {
	SessionID string    `json:"session_id"`
	Online    bool      `json:"online"`
	Since     time.Time `json:"since"`
}

// ChatLog keeps the in-process chat history and presence table.
type ChatLog struct {
	mu       sync.RWMutex
	entries  []Entry
	presence map[string]PeerStatus
	limit    int
	now      func() time.Time
}

// NewChatLog keeps at most limit entries; limit <= 0 keeps everything.
func NewChatLog(limit int) *ChatLog {
	return &ChatLog{
		presence: make(map[string]PeerStatus),
		limit:    limit,
		now:      time.Now,
	}
}

func (l *ChatLog) OnChat(sessionID, content string) {
	l.append(Entry{SessionID: sessionID, Content: content})
}

// AppendLocal records a line composed on this side.
func (l *ChatLog) AppendLocal(sessionID, content string) {
	l.append(Entry{SessionID: sessionID, Content: content, Local: true})
}

func (l *ChatLog) append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.At = l.now()
	l.entries = append(l.entries, e)
	if l.limit > 0 && len(l.entries) > l.limit {
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-l.limit:]...)
	}
}

func (l *ChatLog) OnPresence(sessionID string, online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.presence[sessionID] = PeerStatus{SessionID: sessionID, Online: online, Since: l.now()}
}

func (l *ChatLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Presence returns a snapshot sorted by session id.
func (l *ChatLog) Presence() []PeerStatus {
	l.mu.RLock()
	out := make([]PeerStatus, 0, len(l.presence))
	for _, p := range l.presence {
		out = append(out, p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (l *ChatLog) Online(sessionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.presence[sessionID].Online
}
