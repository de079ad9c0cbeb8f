package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trblnoew/realtime-chat-server/internal/metrics"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Inline file payloads are capped at 5 MiB
	// before base64 expansion, so allow headroom for the envelope.
	maxFrameSize = 8 << 20

	// Outbound buffer per connection. A connection that cannot drain this
	// is dropped; resync is its recovery path after reconnecting.
	sendBufferSize = 64
)

// Client is one websocket connection. The read loop is the only writer of
// userID and the only dispatcher of inbound events, preserving per-connection
// causal order; rooms is guarded by the hub's lock.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Frame

	rooms map[string]struct{} // guarded by hub.mu

	mu     sync.RWMutex
	userID string
	closed bool
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:    id,
		hub:   hub,
		conn:  conn,
		send:  make(chan Frame, sendBufferSize),
		rooms: make(map[string]struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the bound user id, or "" while anonymous.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// markClosed stops further enqueues. Called by the hub before it closes
// the send channel.
func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// enqueue queues a frame for delivery. A full buffer drops the connection
// rather than blocking the caller.
func (c *Client) enqueue(frame Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		metrics.SlowConsumersDropped.Inc()
		// Closing the transport ends the read loop, which unregisters
		// the client properly.
		c.conn.Close()
	}
}

// writePump pumps frames from the send channel to the websocket, keeping
// the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
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
