package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// client owns the outbound queue of one connection. Its writePump is the
// only goroutine that writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans telemetry messages out to connected websocket clients. It
// satisfies the occupancy publisher interface. Publishing never waits on a
// client: messages for a client whose queue is full are dropped.
type Hub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewHub creates a new hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		logger:  logger.Named("ws"),
	}
}

// Register adds a connection and starts its writer
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[conn] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client registered", zap.Int("total", total))

	go h.writePump(c)
}

// Unregister removes a connection and stops its writer
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		c.stop()
	}
	h.mu.Unlock()
	if ok {
		h.logger.Debug("client unregistered")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded for slow clients
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish wraps payload in a Message and queues it for every client.
// Delivery is never reported as an error to the caller.
func (h *Hub) Publish(_ context.Context, topic string, payload any) error {
	if h.ClientCount() == 0 {
		return nil
	}

	data, err := json.Marshal(NewMessage(topic, payload))
	if err != nil {
		return fmt.Errorf("failed to encode ws message: %w", err)
	}
	h.Broadcast(data)
	return nil
}

// Broadcast queues a raw text message for all clients without blocking
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		c.stop()
		conn.Close()
		delete(h.clients, conn)
	}
	return nil
}

// writePump drains the client's queue and keeps the connection alive with
// pings until the queue is closed or a write fails.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("send failed", zap.Error(err))
				h.Unregister(c.conn)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(c.conn)
				return
			}
		}
	}
}
