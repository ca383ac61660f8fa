// Package wsfeed pushes readings to browser clients over WebSocket and
// accepts raw command text from them.
package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	clientBuffer   = 16
)

// Frame is the JSON document written for each reading.
type Frame struct {
	Type    string       `json:"type"`
	Reading twin.Reading `json:"reading"`
}

// Reply is written back to a client after it sends a command.
type Reply struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Sent    bool   `json:"sent"`
	Error   string `json:"error,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the set of connected clients.
type Hub struct {
	sink twin.Sink

	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped uint64

	upgrader websocket.Upgrader
}

func NewHub(sink twin.Sink) *Hub {
	return &Hub{
		sink:       sink,
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run forwards readings from src to every client until ctx is done or the
// source closes the subscription. Clients are disconnected on return.
func (h *Hub) Run(ctx context.Context, src twin.Source) {
	id, readings := src.Subscribe()
	defer src.Unsubscribe(id)
	defer h.closeAll()
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			monitoring.Infof("wsfeed: client %s connected, %d total", c.id, n)

			// new clients get the current state straight away
			if r := src.LatestReading(); r.Valid() {
				if b, err := json.Marshal(Frame{Type: "reading", Reading: r}); err == nil {
					h.offer(c, b)
				}
			}

		case c := <-h.unregister:
			h.remove(c)

		case r, ok := <-readings:
			if !ok {
				return
			}
			b, err := json.Marshal(Frame{Type: "reading", Reading: r})
			if err != nil {
				monitoring.Errorf("wsfeed: marshal reading: %v", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				h.offerLocked(c, b)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) offer(c *client, b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offerLocked(c, b)
}

func (h *Hub) offerLocked(c *client, b []byte) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
		h.dropped++
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		monitoring.Infof("wsfeed: client %s disconnected, %d total", c.id, n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts frames not queued because a client was too slow.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// HandleWebSocket upgrades the request and serves the client until it goes
// away. Run must be active for the client to be registered.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Warnf("wsfeed: upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				monitoring.Warnf("wsfeed: client %s: %v", c.id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		command := strings.TrimSpace(string(data))
		if command == "" {
			continue
		}

		reply := Reply{Type: "sent", Command: command, Sent: true}
		if err := h.sink.SendDefault(command); err != nil {
			reply.Sent = false
			reply.Error = err.Error()
		}
		if b, err := json.Marshal(reply); err == nil {
			h.offer(c, b)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
