// Package wsfeed serves the controller's live Snapshot to any connected
// browser over a websocket, grounded on the akwiatkowski-battery_storage_simulator
// example's internal/ws package: a Hub holding registered clients behind a
// mutex, each Client with its own buffered send channel and write pump, and
// a non-blocking Broadcast that drops a message rather than block on a slow
// client (the same fan-out-with-drop idiom the teacher's own
// broadcast_worker.go uses for its downstream worker channels).
package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/libresolar/powerctl/internal/system"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected dashboard websocket, with its own buffered
// outbound queue so one slow reader can't stall the others.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks every connected Client and fans out snapshot broadcasts.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	log     *logrus.Entry
}

// NewHub creates an empty Hub.
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{clients: make(map[*Client]bool), log: log}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends msg to every connected client, dropping it for clients
// whose send buffer is already full instead of blocking the tick that
// called this.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("wsfeed: client buffer full, dropping snapshot")
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// Inbound messages are ignored: this feed is read-only, unlike the
		// command-accepting mqttglue/debugconsole surfaces.
	}
}

// Handler upgrades incoming HTTP connections to websockets and registers
// them with hub.
type Handler struct {
	hub *Hub
	sys *system.System
}

// NewHandler builds the /ws HTTP handler, sending the caller's current
// snapshot immediately on connect.
func NewHandler(hub *Hub, sys *system.System) *Handler {
	return &Handler{hub: hub, sys: sys}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.WithError(err).Warn("wsfeed: upgrade failed")
		return
	}

	client := &Client{hub: h.hub, conn: conn, send: make(chan []byte, 16)}
	h.hub.register(client)
	go client.writePump()

	if payload, err := json.Marshal(h.sys.Snapshot()); err == nil {
		select {
		case client.send <- payload:
		default:
		}
	}

	client.readPump()
}

// Run publishes the latest snapshot to every connected client every period,
// until ctx is done.
func Run(ctx context.Context, hub *Hub, sys *system.System, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(sys.Snapshot())
			if err != nil {
				hub.log.WithError(err).Error("wsfeed: encoding snapshot")
				continue
			}
			hub.Broadcast(payload)
		}
	}
}
