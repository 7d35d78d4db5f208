package admin

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/peerchat/internal/chat"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// FeedMessage is one live-feed frame pushed to websocket clients.
type FeedMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content,omitempty"`
	Online    *bool     `json:"online,omitempty"`
	At        time.Time `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub fans decoded events out to websocket subscribers. It is a chat.Observer.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	now     func() time.Time
}

var _ chat.Observer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		now:     time.Now,
	}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	c := newClient(conn)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) OnChat(sessionID, content string) {
	h.broadcast(FeedMessage{Type: "chat", SessionID: sessionID, Content: content, At: h.now()})
}

func (h *Hub) OnPresence(sessionID string, online bool) {
	h.broadcast(FeedMessage{Type: "presence", SessionID: sessionID, Online: &online, At: h.now()})
}

func (h *Hub) broadcast(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Msg("admin.Hub marshal failed")
		return
	}

	// Sends happen under the read lock so remove cannot close a channel
	// mid-send.
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Msg("admin.Hub client too slow, disconnecting")
		h.remove(c)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
