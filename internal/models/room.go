package models

import (
	"sort"
	"strings"
	"time"
)

// DirectRoomPrefix marks room ids that belong to a two-party direct room.
const DirectRoomPrefix = "dm:"

// Room is a named channel or a direct room.
type Room struct {
	ID          string    `json:"roomId"`
	OwnerUserID string    `json:"ownerUserId"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomSummary lists a room a user belongs to.
type RoomSummary struct {
	RoomID string `json:"roomId"`
	Type   string `json:"type"` // "channel" or "dm"
}

// DirectRoomSummary is the DM-list view for one user.
type DirectRoomSummary struct {
	RoomID             string     `json:"roomId"`
	PeerUserID         string     `json:"peerUserId"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview"`
	UnreadCount        int        `json:"unreadCount"`
}

// IsDirectRoomID reports whether a room id names a direct room.
func IsDirectRoomID(roomID string) bool {
	return strings.HasPrefix(roomID, DirectRoomPrefix)
}

// DirectRoomID builds the canonical direct-room id for two users.
// The participants are sorted so both sides derive the same id.
func DirectRoomID(userA, userB string) string {
	pair := []string{strings.TrimSpace(userA), strings.TrimSpace(userB)}
	sort.Strings(pair)
	return DirectRoomPrefix + pair[0] + ":" + pair[1]
}

// DirectRoomPeer returns the other participant of a direct room id,
// or "" if the id is malformed or the user is not a participant.
func DirectRoomPeer(roomID, userID string) string {
	parts := strings.Split(roomID, ":")
	if len(parts) != 3 || parts[0]+":" != DirectRoomPrefix {
		return ""
	}
	switch userID {
	case parts[1]:
		return parts[2]
	case parts[2]:
		return parts[1]
	}
	return ""
}
