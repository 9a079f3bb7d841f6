// Package wspublish fans progress events out to WebSocket subscribers.
// The hub is an event sink only: the embedding application upgrades the
// HTTP connection and hands it over via Subscribe.
package wspublish

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/on-par/agent-ops/internal/domain"
)

// defaultBufferSize is the per-client outbound queue depth.
const defaultBufferSize = 64

// Conn is the subset of *websocket.Conn the hub writes through.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Hub delivers progress events to subscribed WebSocket clients. Each client
// gets a bounded outbound queue; when a slow client falls behind, the
// oldest undelivered event is dropped so publishers never block.
type Hub struct {
	bufferSize int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn Conn
	send chan domain.ProgressEvent
	done chan struct{}
	stop sync.Once
}

func (c *client) close() {
	c.stop.Do(func() { close(c.done) })
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-client outbound queue depth.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		bufferSize: defaultBufferSize,
		clients:    make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a connection and starts its writer. The connection is
// closed and forgotten when a write fails or the hub shuts down.
func (h *Hub) Subscribe(conn Conn) {
	c := &client{
		conn: conn,
		send: make(chan domain.ProgressEvent, h.bufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Warn("websocket write failed, dropping subscriber", "error", err)
				h.unsubscribe(c)
				return
			}
		}
	}
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Publish enqueues the event for every subscriber. Never blocks: a full
// client queue sheds its oldest event first.
func (h *Hub) Publish(event domain.ProgressEvent) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- event:
		default:
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Upgrader returns a websocket.Upgrader sized for progress events, for the
// embedding application's HTTP handler.
func Upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}
