package store

import (
	"context"
	"errors"

	"github.com/trblnoew/realtime-chat-server/internal/models"
)

// ErrExists is returned when creating an entity that is already present.
var ErrExists = errors.New("already exists")

// Save statuses for the idempotent message append.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// SaveResult reports the outcome of an idempotent save. On duplicate the
// Message is the originally stored row, id and seq unchanged.
type SaveResult struct {
	Status  string
	Message *models.Message
}

// DataStore defines persistent storage for users, rooms, memberships,
// messages, friendships, invites, and read state. SQLiteStore and
// PostgresStore implement this interface.
//
// SaveMessageIdempotent is the sequencing authority: it must run the
// duplicate lookup and the per-room sequence allocation as one atomic unit,
// backed by a unique constraint on (room_id, client_msg_id), so concurrent
// submissions of the same clientMsgId yield exactly one accepted row.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, userID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
	ListUsers(ctx context.Context) ([]string, error)

	// Room and membership operations
	CreateRoom(ctx context.Context, roomID, ownerUserID string) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	AddRoomMember(ctx context.Context, roomID, userID, role string) error
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
	RoomsForUser(ctx context.Context, userID string) ([]models.RoomSummary, error)
	IsRoomMember(ctx context.Context, roomID, userID string) (bool, error)

	// Message operations
	SaveMessageIdempotent(ctx context.Context, msg *models.Message) (*SaveResult, error)
	MessagesAfterSeq(ctx context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	LastMessage(ctx context.Context, roomID string) (*models.Message, error)

	// Friendship operations (symmetric)
	AddFriend(ctx context.Context, userID, friendID string) error
	Friends(ctx context.Context, userID string) ([]string, error)
	AreFriends(ctx context.Context, userID, friendID string) (bool, error)

	// Invite operations
	CreateInvite(ctx context.Context, invite *models.Invite) error
	GetInvite(ctx context.Context, inviteID string) (*models.Invite, error)
	SetInviteStatus(ctx context.Context, inviteID, status string) error
	PendingInvitesFor(ctx context.Context, userID string) ([]models.Invite, error)

	// Read-state operations (direct rooms)
	MarkRoomRead(ctx context.Context, roomID, userID string) error
	UnreadCount(ctx context.Context, roomID, userID string) (int, error)
}
