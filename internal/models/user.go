package models

import "time"

// User is a chat identity. There are no credentials; identity is an
// opaque user id bound via the auth cookie or the websocket identify event.
type User struct {
	ID        string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
