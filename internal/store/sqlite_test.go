package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trblnoew/realtime-chat-server/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func seedRoom(t *testing.T, s *SQLiteStore) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, "alice"))
	require.NoError(t, s.CreateUser(ctx, "bob"))
	require.NoError(t, s.AddRoomMember(ctx, "lobby", "alice", "member"))
	require.NoError(t, s.AddRoomMember(ctx, "lobby", "bob", "member"))
}

func testMessage(roomID, userID, clientMsgID string) *models.Message {
	now := time.Now().UTC()
	return &models.Message{
		ID:           ulid.Make().String(),
		ClientMsgID:  clientMsgID,
		RoomID:       roomID,
		UserID:       userID,
		Text:         "hello",
		SentAtClient: now,
		SentAt:       now,
	}
}

func TestSaveMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedRoom(t, s)
	ctx := context.Background()

	first, err := s.SaveMessageIdempotent(ctx, testMessage("lobby", "alice", "11111111-1111-4111-8111-111111111111"))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, first.Status)
	assert.Equal(t, int64(1), first.Message.Seq)

	// Same clientMsgId, different server id and text: the stored row wins.
	retry := testMessage("lobby", "alice", "11111111-1111-4111-8111-111111111111")
	retry.Text = "hello again"
	second, err := s.SaveMessageIdempotent(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, first.Message.Seq, second.Message.Seq)
	assert.Equal(t, "hello", second.Message.Text)
}

func TestSequenceMonotonicPerRoom(t *testing.T) {
	s := newTestStore(t)
	seedRoom(t, s)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := s.SaveMessageIdempotent(ctx, testMessage("lobby", "alice", uuid.NewString()))
		require.NoError(t, err)
		assert.Equal(t, int64(i), res.Message.Seq)
	}

	// A different room starts its own counter.
	_, err := s.CreateRoom(ctx, "side", "alice")
	require.NoError(t, err)
	res, err := s.SaveMessageIdempotent(ctx, testMessage("side", "alice", uuid.NewString()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Message.Seq)
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	s := newTestStore(t)
	seedRoom(t, s)

	const writers = 8
	clientMsgID := uuid.NewString()

	results := make([]*SaveResult, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.SaveMessageIdempotent(context.Background(), testMessage("lobby", "alice", clientMsgID))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	accepted := 0
	var storedID string
	var storedSeq int64
	for _, res := range results {
		if res.Status == StatusAccepted {
			accepted++
			storedID = res.Message.ID
			storedSeq = res.Message.Seq
		}
	}
	require.Equal(t, 1, accepted)
	for _, res := range results {
		assert.Equal(t, storedID, res.Message.ID)
		assert.Equal(t, storedSeq, res.Message.Seq)
	}

	// Exactly one row, one sequence number consumed.
	rows, err := s.MessagesAfterSeq(context.Background(), "lobby", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Seq)
}

func TestConcurrentDistinctSubmissions(t *testing.T) {
	s := newTestStore(t)
	seedRoom(t, s)

	const writers = 16
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.SaveMessageIdempotent(context.Background(), testMessage("lobby", "alice", uuid.NewString()))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rows, err := s.MessagesAfterSeq(context.Background(), "lobby", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, writers)
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.Seq)
	}
}

func TestMessagesAfterSeq(t *testing.T) {
	s := newTestStore(t)
	seedRoom(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.SaveMessageIdempotent(ctx, testMessage("lobby", "alice", uuid.NewString()))
		require.NoError(t, err)
	}

	after, err := s.MessagesAfterSeq(ctx, "lobby", 2, 100)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, int64(3), after[0].Seq)
	assert.Equal(t, int64(5), after[2].Seq)

	// The cap bounds the page.
	capped, err := s.MessagesAfterSeq(ctx, "lobby", 0, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, int64(1), capped[0].Seq)

	// Empty result is an empty slice, not nil.
	none, err := s.MessagesAfterSeq(ctx, "lobby", 99, 100)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecentMessagesAscending(t *testing.T) {
	s := newTestStore(t)
	seedRoom(t, s)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.SaveMessageIdempotent(ctx, testMessage("lobby", "alice", uuid.NewString()))
		require.NoError(t, err)
	}

	recent, err := s.RecentMessages(ctx, "lobby", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(2), recent[0].Seq)
	assert.Equal(t, int64(4), recent[2].Seq)
}

func TestFileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedRoom(t, s)
	ctx := context.Background()

	msg := testMessage("lobby", "alice", uuid.NewString())
	msg.File = &models.FileAttachment{
		Name:     "photo.png",
		MimeType: "image/png",
		Size:     2048,
		DataURL:  "data:image/png;base64,AAAA",
	}

	res, err := s.SaveMessageIdempotent(ctx, msg)
	require.NoError(t, err)

	stored, err := s.LastMessage(ctx, "lobby")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.File)
	assert.Equal(t, msg.File.Name, stored.File.Name)
	assert.Equal(t, msg.File.Size, stored.File.Size)
	assert.Equal(t, res.Message.Seq, stored.Seq)
}

func TestUsersAndMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice"))
	assert.ErrorIs(t, s.CreateUser(ctx, "alice"), ErrExists)

	exists, err := s.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.UserExists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, exists)

	room, err := s.CreateRoom(ctx, "project-alpha", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", room.OwnerUserID)

	_, err = s.CreateRoom(ctx, "project-alpha", "alice")
	assert.ErrorIs(t, err, ErrExists)

	member, err := s.IsRoomMember(ctx, "project-alpha", "alice")
	require.NoError(t, err)
	assert.True(t, member)

	member, err = s.IsRoomMember(ctx, "project-alpha", "bob")
	require.NoError(t, err)
	assert.False(t, member)

	// Idempotent re-add.
	require.NoError(t, s.CreateUser(ctx, "bob"))
	require.NoError(t, s.AddRoomMember(ctx, "project-alpha", "bob", "member"))
	require.NoError(t, s.AddRoomMember(ctx, "project-alpha", "bob", "member"))

	members, err := s.RoomMembers(ctx, "project-alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	rooms, err := s.RoomsForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "channel", rooms[0].Type)
}

func TestFriendsAndInvites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice"))
	require.NoError(t, s.CreateUser(ctx, "bob"))

	ok, err := s.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))
	require.NoError(t, s.AddFriend(ctx, "alice", "bob")) // idempotent

	ok, err = s.AreFriends(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	friends, err := s.Friends(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, friends)

	invite := &models.Invite{
		ID:         uuid.NewString(),
		RoomID:     "lobby",
		FromUserID: "alice",
		ToUserID:   "bob",
		Status:     models.InviteStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateInvite(ctx, invite))

	pending, err := s.PendingInvitesFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, invite.ID, pending[0].ID)

	require.NoError(t, s.SetInviteStatus(ctx, invite.ID, models.InviteStatusAccepted))
	got, err := s.GetInvite(ctx, invite.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusAccepted, got.Status)

	pending, err = s.PendingInvitesFor(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReadStateWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice"))
	require.NoError(t, s.CreateUser(ctx, "bob"))
	dmRoom := models.DirectRoomID("alice", "bob")
	_, err := s.CreateRoom(ctx, dmRoom, "alice")
	require.NoError(t, err)
	require.NoError(t, s.AddRoomMember(ctx, dmRoom, "bob", "member"))

	for i := 0; i < 3; i++ {
		_, err := s.SaveMessageIdempotent(ctx, testMessage(dmRoom, "alice", uuid.NewString()))
		require.NoError(t, err)
	}

	// Own messages never count as unread.
	count, err := s.UnreadCount(ctx, dmRoom, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = s.UnreadCount(ctx, dmRoom, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, s.MarkRoomRead(ctx, dmRoom, "bob"))
	count, err = s.UnreadCount(ctx, dmRoom, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = s.SaveMessageIdempotent(ctx, testMessage(dmRoom, "alice", uuid.NewString()))
	require.NoError(t, err)
	count, err = s.UnreadCount(ctx, dmRoom, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
