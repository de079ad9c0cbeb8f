package gateway

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/trblnoew/realtime-chat-server/internal/chat"
	"github.com/trblnoew/realtime-chat-server/internal/models"
)

// Inbound event names.
const (
	EventIdentify      = "identify"
	EventJoinRoom      = "join_room"
	EventSendMessage   = "send_message"
	EventResync        = "resync"
	EventLegacyMessage = "message" // legacy single-shot form
)

// Outbound event names.
const (
	EventMessageAck   = "message_ack"
	EventMessageNew   = "message_new"
	EventResyncResult = "resync_result"
	EventOnlineUsers  = "online_users"
	EventInviteAlarm  = "invite_alarm"
	EventRoomJoined   = "room_joined"
	EventUserUpdated  = "user_updated"
	EventUserCleared  = "user_cleared"
	EventError        = "error"
)

// Error codes carried in error frames.
const (
	CodeValidation = "validation"
	CodeAuth       = "auth"
	CodeMembership = "membership"
	CodeTransport  = "transport"
)

// Frame is the wire envelope for every event in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame, panicking only on unmarshalable payloads
// (a programming error, not an input error).
func NewFrame(event string, payload any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("gateway: unmarshalable frame payload: " + err.Error())
	}
	return Frame{Event: event, Data: data}
}

// IdentifyPayload binds or clears a connection's identity.
type IdentifyPayload struct {
	UserID string `json:"userId"`
}

// JoinRoomPayload subscribes a connection to a room's broadcasts.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// ResyncPayload requests messages above a sequence cursor. AfterSeq is
// deliberately loose: absent, negative, or non-numeric values clamp to 0.
type ResyncPayload struct {
	RoomID   string `json:"roomId"`
	AfterSeq any    `json:"afterSeq"`
}

// AfterSeqValue clamps the cursor to a non-negative int64.
func (p ResyncPayload) AfterSeqValue() int64 {
	var seq int64
	switch v := p.AfterSeq.(type) {
	case float64:
		seq = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		seq = parsed
	default:
		return 0
	}
	if seq < 0 {
		return 0
	}
	return seq
}

// LegacyMessagePayload is the legacy send form: no clientMsgId, no
// sentAtClient, no ack.
type LegacyMessagePayload struct {
	RoomID string                 `json:"roomId"`
	Text   string                 `json:"text"`
	File   *models.FileAttachment `json:"file,omitempty"`
}

// AckPayload is the per-sender result of send_message.
type AckPayload struct {
	ClientMsgID string `json:"clientMsgId"`
	ServerMsgID string `json:"serverMsgId"`
	RoomID      string `json:"roomId"`
	Seq         int64  `json:"seq"`
	Status      string `json:"status"`
}

// ResyncResultPayload answers a resync request.
type ResyncResultPayload struct {
	RoomID   string           `json:"roomId"`
	Messages []models.Message `json:"messages"`
}

// OnlineUser is one entry of the online_users snapshot.
type OnlineUser struct {
	UserID string `json:"userId"`
}

// ErrorPayload reports a failed operation to the originating connection.
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps pipeline errors onto wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return CodeValidation
	case errors.Is(err, chat.ErrAuth):
		return CodeAuth
	case errors.Is(err, chat.ErrMembership):
		return CodeMembership
	default:
		return CodeTransport
	}
}
