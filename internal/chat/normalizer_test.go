package chat

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trblnoew/realtime-chat-server/internal/models"
)

const validClientMsgID = "9f48fdf7-8d36-4d9d-8ff8-3476f42da57e"

func fixedNormalizer() *Normalizer {
	return &Normalizer{
		now:   func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		newID: func() string { return "01JWMSGFIXEDIDFIXEDIDFIXED" },
	}
}

func TestBuildMessageNormalizes(t *testing.T) {
	n := fixedNormalizer()

	msg, err := n.BuildMessage("alice", Submission{
		RoomID:       " lobby ",
		Text:         "  hi  ",
		ClientMsgID:  validClientMsgID,
		SentAtClient: "2025-06-01T11:59:58.000Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "lobby", msg.RoomID)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "alice", msg.UserID)
	assert.Equal(t, validClientMsgID, msg.ClientMsgID)
	assert.Equal(t, "01JWMSGFIXEDIDFIXEDIDFIXED", msg.ID)
	assert.Equal(t, int64(0), msg.Seq)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), msg.SentAt)
}

func TestBuildMessageDefaultsRoom(t *testing.T) {
	n := fixedNormalizer()

	msg, err := n.BuildMessage("alice", Submission{
		Text:         "hello",
		ClientMsgID:  validClientMsgID,
		SentAtClient: time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultRoomID, msg.RoomID)
}

func TestBuildMessageValidationFailures(t *testing.T) {
	n := fixedNormalizer()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tests := []struct {
		name string
		sub  Submission
	}{
		{"empty text and file", Submission{ClientMsgID: validClientMsgID, SentAtClient: now}},
		{"whitespace text only", Submission{Text: "   ", ClientMsgID: validClientMsgID, SentAtClient: now}},
		{"missing clientMsgId", Submission{Text: "hi", SentAtClient: now}},
		{"malformed clientMsgId", Submission{Text: "hi", ClientMsgID: "not-a-uuid", SentAtClient: now}},
		{"missing sentAtClient", Submission{Text: "hi", ClientMsgID: validClientMsgID}},
		{"garbage sentAtClient", Submission{Text: "hi", ClientMsgID: validClientMsgID, SentAtClient: "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.BuildMessage("alice", tt.sub)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestBuildMessageFilePayload(t *testing.T) {
	n := fixedNormalizer()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	valid := &models.FileAttachment{
		Name:    "photo.png",
		Size:    1024,
		DataURL: "data:image/png;base64,AAAA",
	}

	msg, err := n.BuildMessage("alice", Submission{
		ClientMsgID:  validClientMsgID,
		SentAtClient: now,
		File:         valid,
	})
	require.NoError(t, err)
	assert.Equal(t, "[file]", msg.Text)
	assert.Equal(t, "application/octet-stream", msg.File.MimeType)

	_, err = n.BuildMessage("alice", Submission{
		ClientMsgID:  validClientMsgID,
		SentAtClient: now,
		File:         &models.FileAttachment{Name: "x", Size: MaxFileBytes + 1, DataURL: "data:"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "5MB")

	_, err = n.BuildMessage("alice", Submission{
		ClientMsgID:  validClientMsgID,
		SentAtClient: now,
		File:         &models.FileAttachment{Name: "", Size: 10, DataURL: "data:"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestBuildMessageLowercasesClientMsgID(t *testing.T) {
	n := fixedNormalizer()

	msg, err := n.BuildMessage("alice", Submission{
		Text:         "hi",
		ClientMsgID:  strings.ToUpper(validClientMsgID),
		SentAtClient: time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	assert.Equal(t, validClientMsgID, msg.ClientMsgID)
}
