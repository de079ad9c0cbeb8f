package models

import "time"

// Invite statuses.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRejected = "rejected"
)

// Invite asks a user to join a room. Accepting adds the membership.
type Invite struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}
