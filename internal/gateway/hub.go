package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/trblnoew/realtime-chat-server/internal/metrics"
	"github.com/trblnoew/realtime-chat-server/internal/presence"
)

// Hub owns the live connection set, the per-room subscription index, and
// all fan-out. One hub serves the process; it is constructed at startup
// and injected into the gateway and the notifier.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client            // conn id → client
	rooms    map[string]map[string]*Client // room id → conn id → client
	registry *presence.Registry
	logger   zerolog.Logger
}

// NewHub creates an empty hub around the given presence registry.
func NewHub(registry *presence.Registry, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		registry: registry,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// Registry exposes the presence registry the hub was built around.
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// Accept attaches an established websocket connection to the hub and
// starts its write loop, returning the connection id. The caller still
// owns the read side.
func (h *Hub) Accept(connID string, conn *websocket.Conn) string {
	c := newClient(connID, h, conn)
	h.Register(c)
	go c.writePump()
	return c.id
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketConnections.Set(float64(total))
	h.logger.Debug().Str("conn_id", c.id).Int("total", total).Msg("client connected")
}

// Unregister removes a client, its room subscriptions, and its presence
// binding, then closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for roomID := range c.rooms {
		if subs, ok := h.rooms[roomID]; ok {
			delete(subs, c.id)
			if len(subs) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	if userID := c.UserID(); userID != "" {
		h.registry.Unbind(userID, c.id)
	}
	c.markClosed()
	close(c.send)

	metrics.WebsocketConnections.Set(float64(total))
	h.logger.Debug().Str("conn_id", c.id).Int("total", total).Msg("client disconnected")
}

// Subscribe adds a client to a room's broadcast set. It reports whether
// the client was newly subscribed; rejoining is a no-op.
func (h *Hub) Subscribe(c *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := c.rooms[roomID]; ok {
		return false
	}
	c.rooms[roomID] = struct{}{}

	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[string]*Client)
		h.rooms[roomID] = subs
	}
	subs[c.id] = c
	return true
}

// BroadcastRoom delivers a frame to every connection subscribed to a room,
// including the sender's.
func (h *Hub) BroadcastRoom(roomID string, frame Frame) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
	metrics.BroadcastsSent.Add(float64(len(targets)))
}

// BroadcastAll delivers a frame to every live connection.
func (h *Hub) BroadcastAll(frame Frame) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// SendTo delivers a frame to one connection id. It reports whether the
// connection was live.
func (h *Hub) SendTo(connID string, frame Frame) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(frame)
	return true
}

// Close drops every client, ending their write loops.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
