// Package gateway implements the realtime messaging protocol over
// websockets: identity binding, room joins, the idempotent send pipeline
// (validate, sequence, persist, acknowledge, broadcast), and resync.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/trblnoew/realtime-chat-server/internal/chat"
	"github.com/trblnoew/realtime-chat-server/internal/metrics"
	"github.com/trblnoew/realtime-chat-server/internal/store"
)

// ResyncPageSize caps one resync response.
const ResyncPageSize = 100

// Gateway serves the websocket endpoint and runs the per-connection
// protocol state machine.
type Gateway struct {
	hub        *Hub
	store      store.DataStore
	cache      *store.RedisStore // optional, best-effort write-through
	normalizer *chat.Normalizer
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// New creates a gateway. cache may be nil.
func New(hub *Hub, dataStore store.DataStore, cache *store.RedisStore, allowedOrigins []string, logger zerolog.Logger) *Gateway {
	allowAll := false
	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return &Gateway{
		hub:        hub,
		store:      dataStore,
		cache:      cache,
		normalizer: chat.NewNormalizer(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeHTTP handles GET /ws: upgrades the connection and runs its read
// loop until disconnect.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), g.hub, conn)
	g.hub.Register(c)
	go c.writePump()

	// Every connection sees the presence snapshot immediately.
	g.broadcastOnlineUsers()

	g.readLoop(c)
}

// readLoop dispatches inbound frames one at a time. Any parse or handler
// failure is reported to this connection only; transport errors end the
// loop and unregister the client.
func (g *Gateway) readLoop(c *Client) {
	defer func() {
		g.hub.Unregister(c)
		c.conn.Close()
		g.broadcastOnlineUsers()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug().Str("conn_id", c.id).Err(err).Msg("read failed")
			}
			return
		}
		g.dispatch(c, frame)
	}
}

func (g *Gateway) dispatch(c *Client, frame Frame) {
	ctx := context.Background()

	var err error
	switch frame.Event {
	case EventIdentify:
		err = g.handleIdentify(ctx, c, frame.Data)
	case EventJoinRoom:
		err = g.handleJoinRoom(ctx, c, frame.Data)
	case EventSendMessage:
		err = g.handleSendMessage(ctx, c, frame.Data)
	case EventResync:
		err = g.handleResync(ctx, c, frame.Data)
	case EventLegacyMessage:
		err = g.handleLegacyMessage(ctx, c, frame.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", chat.ErrValidation, frame.Event)
	}

	if err != nil {
		g.logger.Debug().
			Str("conn_id", c.id).
			Str("event", frame.Event).
			Err(err).
			Msg("operation rejected")
		c.enqueue(NewFrame(EventError, ErrorPayload{
			Event:   frame.Event,
			Code:    errorCode(err),
			Message: err.Error(),
		}))
	}
}

// handleIdentify binds, rebinds, or clears the connection's identity and
// pushes the refreshed presence snapshot to everyone.
func (g *Gateway) handleIdentify(ctx context.Context, c *Client, data json.RawMessage) error {
	var payload IdentifyPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%w: malformed identify payload", chat.ErrValidation)
		}
	}

	previous := c.UserID()
	next := strings.TrimSpace(payload.UserID)

	if next == "" {
		if previous != "" {
			g.hub.Registry().Unbind(previous, c.id)
			c.setUserID("")
		}
		g.broadcastOnlineUsers()
		c.enqueue(NewFrame(EventUserCleared, nil))
		return nil
	}

	exists, err := g.store.UserExists(ctx, next)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrTransport, err)
	}
	if !exists {
		return fmt.Errorf("%w: user not found", chat.ErrAuth)
	}

	switch {
	case previous == "":
		g.hub.Registry().Bind(next, c.id)
	case previous != next:
		g.hub.Registry().Rebind(previous, next, c.id)
	}
	c.setUserID(next)

	g.broadcastOnlineUsers()
	c.enqueue(NewFrame(EventUserUpdated, IdentifyPayload{UserID: next}))
	return nil
}

// handleJoinRoom subscribes an identified member to a room's broadcasts.
func (g *Gateway) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var payload JoinRoomPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%w: malformed join_room payload", chat.ErrValidation)
		}
	}

	userID := c.UserID()
	if userID == "" {
		return fmt.Errorf("%w: login required", chat.ErrAuth)
	}

	roomID := chat.NormalizeRoomID(payload.RoomID)
	if err := g.requireMembership(ctx, roomID, userID); err != nil {
		return err
	}

	g.hub.Subscribe(c, roomID)
	c.enqueue(NewFrame(EventRoomJoined, JoinRoomPayload{RoomID: roomID}))
	return nil
}

// handleSendMessage runs the full ingestion pipeline and always answers
// the sender with exactly one ack.
func (g *Gateway) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var sub chat.Submission
	if len(data) > 0 {
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("%w: malformed send_message payload", chat.ErrValidation)
		}
	}

	result, err := g.ingest(ctx, c, sub)
	if err != nil {
		return err
	}

	c.enqueue(NewFrame(EventMessageAck, AckPayload{
		ClientMsgID: result.Message.ClientMsgID,
		ServerMsgID: result.Message.ID,
		RoomID:      result.Message.RoomID,
		Seq:         result.Message.Seq,
		Status:      result.Status,
	}))
	return nil
}

// handleLegacyMessage supports the pre-ack single-shot form: a fresh
// clientMsgId and current timestamp are synthesized, the standard
// pipeline runs, and the broadcast goes out under both the legacy and the
// current event names. No ack is sent.
func (g *Gateway) handleLegacyMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var payload LegacyMessagePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%w: malformed message payload", chat.ErrValidation)
		}
	}

	result, err := g.ingest(ctx, c, chat.Submission{
		RoomID:       payload.RoomID,
		Text:         payload.Text,
		File:         payload.File,
		ClientMsgID:  uuid.NewString(),
		SentAtClient: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	if result.Status == store.StatusAccepted {
		g.hub.BroadcastRoom(result.Message.RoomID, NewFrame(EventLegacyMessage, result.Message))
	}
	return nil
}

// ingest is the shared pipeline: normalize, verify membership, auto-join,
// persist idempotently, and on first acceptance broadcast to the room.
func (g *Gateway) ingest(ctx context.Context, c *Client, sub chat.Submission) (*store.SaveResult, error) {
	userID := c.UserID()
	if userID == "" {
		return nil, fmt.Errorf("%w: login required", chat.ErrAuth)
	}

	msg, err := g.normalizer.BuildMessage(userID, sub)
	if err != nil {
		return nil, err
	}

	if err := g.requireMembership(ctx, msg.RoomID, userID); err != nil {
		return nil, err
	}

	// Sending implies joining: the sender starts receiving the room's
	// broadcasts, including the one for this message.
	g.hub.Subscribe(c, msg.RoomID)

	result, err := g.store.SaveMessageIdempotent(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrTransport, err)
	}

	metrics.MessagesIngested.WithLabelValues(result.Status).Inc()

	if result.Status == store.StatusAccepted {
		g.hub.BroadcastRoom(result.Message.RoomID, NewFrame(EventMessageNew, result.Message))
		if g.cache != nil {
			if err := g.cache.CacheMessage(ctx, result.Message); err != nil {
				g.logger.Debug().Err(err).Msg("message cache write failed")
			}
		}
	}
	return result, nil
}

// handleResync subscribes the connection, then returns the messages
// above the caller's cursor so live broadcasts and the backlog cover the
// room's history without a gap.
func (g *Gateway) handleResync(ctx context.Context, c *Client, data json.RawMessage) error {
	var payload ResyncPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%w: malformed resync payload", chat.ErrValidation)
		}
	}

	userID := c.UserID()
	if userID == "" {
		return fmt.Errorf("%w: login required", chat.ErrAuth)
	}

	roomID := chat.NormalizeRoomID(payload.RoomID)
	if err := g.requireMembership(ctx, roomID, userID); err != nil {
		return err
	}

	// Subscribe before reading the backlog. A message accepted in between
	// then arrives as a broadcast instead of falling into neither channel;
	// clients drop the overlap by seq.
	g.hub.Subscribe(c, roomID)

	messages, err := g.store.MessagesAfterSeq(ctx, roomID, payload.AfterSeqValue(), ResyncPageSize)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrTransport, err)
	}

	metrics.ResyncRequests.Inc()

	c.enqueue(NewFrame(EventResyncResult, ResyncResultPayload{
		RoomID:   roomID,
		Messages: messages,
	}))
	return nil
}

func (g *Gateway) requireMembership(ctx context.Context, roomID, userID string) error {
	member, err := g.store.IsRoomMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrTransport, err)
	}
	if !member {
		return chat.ErrMembership
	}
	return nil
}

// broadcastOnlineUsers pushes the full presence snapshot to every
// connection. Full state, not a delta: clients stay consistent even after
// missed events.
func (g *Gateway) broadcastOnlineUsers() {
	users := g.hub.Registry().DistinctUsers()
	payload := make([]OnlineUser, 0, len(users))
	for _, userID := range users {
		payload = append(payload, OnlineUser{UserID: userID})
	}

	metrics.OnlineUsers.Set(float64(len(users)))
	g.hub.BroadcastAll(NewFrame(EventOnlineUsers, payload))
}
