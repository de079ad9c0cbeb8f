package models

import "time"

// FileAttachment describes an inline file carried by a message.
// The payload travels as a data URL; only the declared size is validated here.
type FileAttachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	DataURL  string `json:"dataUrl"`
}

// Message is a stored chat message. Seq is assigned by the store at
// acceptance time and is unique and strictly increasing within a room.
type Message struct {
	ID           string          `json:"id"`          // ULID
	ClientMsgID  string          `json:"clientMsgId"` // sender-generated, dedup key
	RoomID       string          `json:"roomId"`
	UserID       string          `json:"userId"`
	Seq          int64           `json:"seq"`
	Text         string          `json:"text"`
	File         *FileAttachment `json:"file,omitempty"`
	SentAtClient time.Time       `json:"sentAtClient"`
	SentAt       time.Time       `json:"sentAt"`
}
