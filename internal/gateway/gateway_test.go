package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trblnoew/realtime-chat-server/internal/models"
	"github.com/trblnoew/realtime-chat-server/internal/presence"
	"github.com/trblnoew/realtime-chat-server/internal/store"
)

const frameTimeout = 3 * time.Second

func newTestServer(t *testing.T) (*httptest.Server, store.DataStore) {
	t.Helper()
	return newTestServerWith(t, func(st store.DataStore) store.DataStore { return st })
}

// newTestServerWith lets a test interpose on the gateway's store.
func newTestServerWith(t *testing.T, wrap func(store.DataStore) store.DataStore) (*httptest.Server, store.DataStore) {
	t.Helper()

	ctx := context.Background()
	st, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := NewHub(presence.NewRegistry(), zerolog.Nop())
	t.Cleanup(hub.Close)

	gw := New(hub, wrap(st), nil, []string{"*"}, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	t.Cleanup(srv.Close)

	return srv, st
}

func seedLobbyMember(t *testing.T, st store.DataStore, userID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, userID))
	require.NoError(t, st.AddRoomMember(ctx, "lobby", userID, "member"))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: data}))
}

// expect reads frames until one matches the wanted event, skipping
// interleaved presence snapshots and other traffic.
func expect(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %q", event)
		if frame.Event == event {
			return frame.Data
		}
	}
}

func identify(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	send(t, conn, EventIdentify, IdentifyPayload{UserID: userID})
	expect(t, conn, EventUserUpdated)
}

func submission(roomID, text string) map[string]any {
	return map[string]any{
		"roomId":       roomID,
		"text":         text,
		"clientMsgId":  uuid.NewString(),
		"sentAtClient": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func TestIdentifyUnknownUser(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, EventIdentify, IdentifyPayload{UserID: "ghost"})

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventError), &errPayload))
	assert.Equal(t, CodeAuth, errPayload.Code)
	assert.Equal(t, EventIdentify, errPayload.Event)
}

func TestIdentifyAndPresence(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")

	conn := dial(t, srv)
	send(t, conn, EventIdentify, IdentifyPayload{UserID: "alice"})
	expect(t, conn, EventUserUpdated)

	// A second connection sees alice in its presence snapshot.
	observer := dial(t, srv)
	var online []OnlineUser
	require.NoError(t, json.Unmarshal(expect(t, observer, EventOnlineUsers), &online))
	require.Len(t, online, 1)
	assert.Equal(t, "alice", online[0].UserID)
}

func TestIdentifyClear(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")

	conn := dial(t, srv)
	identify(t, conn, "alice")

	send(t, conn, EventIdentify, IdentifyPayload{})
	expect(t, conn, EventUserCleared)

	observer := dial(t, srv)
	var online []OnlineUser
	require.NoError(t, json.Unmarshal(expect(t, observer, EventOnlineUsers), &online))
	assert.Empty(t, online)
}

func TestJoinRoomRequiresIdentity(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, EventJoinRoom, JoinRoomPayload{RoomID: "lobby"})

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventError), &errPayload))
	assert.Equal(t, CodeAuth, errPayload.Code)
}

func TestJoinRoomRequiresMembership(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateUser(context.Background(), "alice"))

	conn := dial(t, srv)
	identify(t, conn, "alice")

	send(t, conn, EventJoinRoom, JoinRoomPayload{RoomID: "lobby"})

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventError), &errPayload))
	assert.Equal(t, CodeMembership, errPayload.Code)
}

func TestSendMessageAckAndBroadcast(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")
	seedLobbyMember(t, st, "bob")

	alice := dial(t, srv)
	identify(t, alice, "alice")

	bob := dial(t, srv)
	identify(t, bob, "bob")
	send(t, bob, EventJoinRoom, JoinRoomPayload{RoomID: "lobby"})
	expect(t, bob, EventRoomJoined)

	send(t, alice, EventSendMessage, submission("lobby", "hello"))

	var ack AckPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, EventMessageAck), &ack))
	assert.Equal(t, store.StatusAccepted, ack.Status)
	assert.Equal(t, int64(1), ack.Seq)
	assert.Equal(t, "lobby", ack.RoomID)
	assert.NotEmpty(t, ack.ServerMsgID)

	// Sender and joined peer both receive the broadcast.
	var got models.Message
	require.NoError(t, json.Unmarshal(expect(t, bob, EventMessageNew), &got))
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, ack.ServerMsgID, got.ID)

	require.NoError(t, json.Unmarshal(expect(t, alice, EventMessageNew), &got))
	assert.Equal(t, ack.ServerMsgID, got.ID)
}

func TestDuplicateSendAckedOnceBroadcastOnce(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")
	seedLobbyMember(t, st, "bob")

	alice := dial(t, srv)
	identify(t, alice, "alice")

	bob := dial(t, srv)
	identify(t, bob, "bob")
	send(t, bob, EventJoinRoom, JoinRoomPayload{RoomID: "lobby"})
	expect(t, bob, EventRoomJoined)

	first := submission("lobby", "retry me")
	send(t, alice, EventSendMessage, first)

	var ack AckPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, EventMessageAck), &ack))
	assert.Equal(t, store.StatusAccepted, ack.Status)

	// Resend the same submission: same identity, duplicate status.
	send(t, alice, EventSendMessage, first)

	var dup AckPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, EventMessageAck), &dup))
	assert.Equal(t, store.StatusDuplicate, dup.Status)
	assert.Equal(t, ack.ServerMsgID, dup.ServerMsgID)
	assert.Equal(t, ack.Seq, dup.Seq)

	// The duplicate produced no second broadcast: the next message bob
	// sees is a fresh one.
	send(t, alice, EventSendMessage, submission("lobby", "second"))

	var got models.Message
	require.NoError(t, json.Unmarshal(expect(t, bob, EventMessageNew), &got))
	assert.Equal(t, "retry me", got.Text)
	require.NoError(t, json.Unmarshal(expect(t, bob, EventMessageNew), &got))
	assert.Equal(t, "second", got.Text)
	assert.Equal(t, int64(2), got.Seq)
}

func TestSendMessageValidationError(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")

	conn := dial(t, srv)
	identify(t, conn, "alice")

	sub := submission("lobby", "")
	send(t, conn, EventSendMessage, sub)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventError), &errPayload))
	assert.Equal(t, CodeValidation, errPayload.Code)

	// The connection survives the rejection.
	send(t, conn, EventSendMessage, submission("lobby", "still here"))
	var ack AckPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventMessageAck), &ack))
	assert.Equal(t, store.StatusAccepted, ack.Status)
}

func TestResync(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")
	seedLobbyMember(t, st, "bob")

	alice := dial(t, srv)
	identify(t, alice, "alice")
	for _, text := range []string{"one", "two", "three"} {
		send(t, alice, EventSendMessage, submission("lobby", text))
		expect(t, alice, EventMessageAck)
	}

	bob := dial(t, srv)
	identify(t, bob, "bob")
	send(t, bob, EventResync, map[string]any{"roomId": "lobby", "afterSeq": 1})

	var result ResyncResultPayload
	require.NoError(t, json.Unmarshal(expect(t, bob, EventResyncResult), &result))
	assert.Equal(t, "lobby", result.RoomID)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, int64(2), result.Messages[0].Seq)
	assert.Equal(t, "two", result.Messages[0].Text)
	assert.Equal(t, int64(3), result.Messages[1].Seq)

	// Resync subscribed bob: live traffic now reaches him.
	send(t, alice, EventSendMessage, submission("lobby", "four"))
	var got models.Message
	require.NoError(t, json.Unmarshal(expect(t, bob, EventMessageNew), &got))
	assert.Equal(t, "four", got.Text)
}

// stallingStore holds every MessagesAfterSeq call until released, so a
// test can interleave an acceptance between a resync's subscription and
// its backlog read.
type stallingStore struct {
	store.DataStore
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) MessagesAfterSeq(ctx context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.DataStore.MessagesAfterSeq(ctx, roomID, afterSeq, limit)
}

func TestResyncCoversConcurrentAcceptance(t *testing.T) {
	stall := &stallingStore{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	srv, st := newTestServerWith(t, func(st store.DataStore) store.DataStore {
		stall.DataStore = st
		return stall
	})
	seedLobbyMember(t, st, "alice")
	seedLobbyMember(t, st, "bob")

	alice := dial(t, srv)
	identify(t, alice, "alice")

	bob := dial(t, srv)
	identify(t, bob, "bob")
	send(t, bob, EventResync, map[string]any{"roomId": "lobby", "afterSeq": 0})

	// Bob's backlog read is now stalled. A message accepted in this window
	// is above the snapshot, so only the subscription can carry it.
	select {
	case <-stall.entered:
	case <-time.After(frameTimeout):
		t.Fatal("backlog read never started")
	}

	send(t, alice, EventSendMessage, submission("lobby", "during resync"))
	expect(t, alice, EventMessageAck)

	close(stall.release)

	var got models.Message
	require.NoError(t, json.Unmarshal(expect(t, bob, EventMessageNew), &got))
	assert.Equal(t, "during resync", got.Text)
	assert.Equal(t, int64(1), got.Seq)

	// The resync answer still arrives; any overlap with the broadcast is
	// the client's to drop by seq.
	var result ResyncResultPayload
	require.NoError(t, json.Unmarshal(expect(t, bob, EventResyncResult), &result))
	assert.Equal(t, "lobby", result.RoomID)
}

func TestResyncClampsNegativeCursor(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")

	conn := dial(t, srv)
	identify(t, conn, "alice")
	send(t, conn, EventSendMessage, submission("lobby", "hello"))
	expect(t, conn, EventMessageAck)

	send(t, conn, EventResync, map[string]any{"roomId": "lobby", "afterSeq": -5})

	var result ResyncResultPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventResyncResult), &result))
	require.Len(t, result.Messages, 1)
	assert.Equal(t, int64(1), result.Messages[0].Seq)
}

func TestLegacyMessageDualBroadcast(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")
	seedLobbyMember(t, st, "bob")

	alice := dial(t, srv)
	identify(t, alice, "alice")

	bob := dial(t, srv)
	identify(t, bob, "bob")
	send(t, bob, EventJoinRoom, JoinRoomPayload{RoomID: "lobby"})
	expect(t, bob, EventRoomJoined)

	send(t, alice, EventLegacyMessage, map[string]any{"roomId": "lobby", "text": "old style"})

	var legacy, current models.Message
	require.NoError(t, json.Unmarshal(expect(t, bob, EventMessageNew), &current))
	require.NoError(t, json.Unmarshal(expect(t, bob, EventLegacyMessage), &legacy))
	assert.Equal(t, "old style", current.Text)
	assert.Equal(t, current.ID, legacy.ID)
	assert.Equal(t, int64(1), legacy.Seq)
}

func TestDisconnectClearsPresence(t *testing.T) {
	srv, st := newTestServer(t)
	seedLobbyMember(t, st, "alice")
	seedLobbyMember(t, st, "bob")

	alice := dial(t, srv)
	identify(t, alice, "alice")

	bob := dial(t, srv)
	identify(t, bob, "bob")

	require.NoError(t, alice.Close())

	// Bob eventually receives a snapshot without alice.
	deadline := time.Now().Add(frameTimeout)
	for {
		require.NoError(t, bob.SetReadDeadline(deadline))
		var frame Frame
		require.NoError(t, bob.ReadJSON(&frame))
		if frame.Event != EventOnlineUsers {
			continue
		}
		var online []OnlineUser
		require.NoError(t, json.Unmarshal(frame.Data, &online))
		if len(online) == 1 && online[0].UserID == "bob" {
			return
		}
	}
}

func TestUnknownEventRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, "teleport", map[string]any{})

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventError), &errPayload))
	assert.Equal(t, CodeValidation, errPayload.Code)
	assert.Equal(t, "teleport", errPayload.Event)
}
