// Package stream pushes live detections and state changes to websocket
// clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Message is the envelope every client receives.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub keeps the set of connected clients. Broadcast never blocks the
// caller: when the hub's queue is full the message is dropped, and a client
// whose send buffer is full is disconnected.
type Hub struct {
	logger     *slog.Logger
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	greeting func() Message

	dropped atomic.Uint64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// SetGreeting installs a message sent to each client right after it
// connects, typically the current alert state.
func (h *Hub) SetGreeting(fn func() Message) {
	h.mu.Lock()
	h.greeting = fn
	h.mu.Unlock()
}

// Run owns the client set until ctx is done. It must be called once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return nil
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("stream client connected", "remote", c.conn.RemoteAddr().String())
			}
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					if h.logger != nil {
						h.logger.Warn("stream client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
					}
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues {type, payload} for every connected client.
func (h *Hub) Broadcast(kind string, payload any) {
	data, err := json.Marshal(Message{Type: kind, Payload: payload})
	if err != nil {
		if h.logger != nil {
			h.logger.Error("stream encode failed", "type", kind, "err", err)
		}
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}

	h.mu.RLock()
	greeting := h.greeting
	h.mu.RUnlock()
	if greeting != nil {
		if data, err := json.Marshal(greeting()); err == nil {
			c.send <- data
		}
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
