package chat

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trblnoew/realtime-chat-server/internal/models"
)

const (
	// DefaultRoomID receives submissions that name no room.
	DefaultRoomID = "lobby"

	// MaxFileBytes caps the declared attachment size.
	MaxFileBytes = 5 * 1024 * 1024
)

// clientMsgIDPattern accepts canonical UUID tokens only. The token is the
// sole deduplication key, so malformed values are rejected rather than coerced.
var clientMsgIDPattern = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Submission is a raw send request as received from a connection.
type Submission struct {
	RoomID       string                 `json:"roomId"`
	Text         string                 `json:"text"`
	File         *models.FileAttachment `json:"file,omitempty"`
	ClientMsgID  string                 `json:"clientMsgId"`
	SentAtClient string                 `json:"sentAtClient"`
}

// Normalizer validates and shapes submissions into canonical messages.
// It is pure apart from the injected clock and id generator.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// NewNormalizer returns a Normalizer using the wall clock and ULID ids.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
}

// NormalizeRoomID trims a room id, falling back to the default room.
func NormalizeRoomID(roomID string) string {
	if trimmed := strings.TrimSpace(roomID); trimmed != "" {
		return trimmed
	}
	return DefaultRoomID
}

// BuildMessage produces a canonical message draft for the given sender.
// The sender id always comes from the bound connection identity, never from
// the submission payload. Seq stays zero until the store accepts the message.
func (n *Normalizer) BuildMessage(senderID string, sub Submission) (*models.Message, error) {
	text := strings.TrimSpace(sub.Text)
	roomID := NormalizeRoomID(sub.RoomID)
	clientMsgID := strings.TrimSpace(sub.ClientMsgID)
	sentAtClient := strings.TrimSpace(sub.SentAtClient)

	file, err := normalizeFile(sub.File)
	if err != nil {
		return nil, err
	}

	if text == "" && file == nil {
		return nil, fmt.Errorf("%w: message text or file is required", ErrValidation)
	}
	if clientMsgID == "" || !clientMsgIDPattern.MatchString(strings.ToLower(clientMsgID)) {
		return nil, fmt.Errorf("%w: invalid clientMsgId", ErrValidation)
	}
	sentAt, err := time.Parse(time.RFC3339Nano, sentAtClient)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sentAtClient", ErrValidation)
	}

	if text == "" {
		text = "[file]"
	}

	return &models.Message{
		ID:           n.newID(),
		ClientMsgID:  strings.ToLower(clientMsgID),
		RoomID:       roomID,
		UserID:       senderID,
		Text:         text,
		File:         file,
		SentAtClient: sentAt,
		SentAt:       n.now(),
	}, nil
}

func normalizeFile(file *models.FileAttachment) (*models.FileAttachment, error) {
	if file == nil {
		return nil, nil
	}

	name := strings.TrimSpace(file.Name)
	mimeType := strings.TrimSpace(file.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	dataURL := strings.TrimSpace(file.DataURL)

	if name == "" || dataURL == "" || file.Size <= 0 {
		return nil, fmt.Errorf("%w: invalid file payload", ErrValidation)
	}
	if file.Size > MaxFileBytes {
		return nil, fmt.Errorf("%w: file size exceeds 5MB", ErrValidation)
	}

	return &models.FileAttachment{
		Name:     name,
		MimeType: mimeType,
		Size:     file.Size,
		DataURL:  dataURL,
	}, nil
}
