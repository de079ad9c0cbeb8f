package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/trblnoew/realtime-chat-server/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the default
// backend when no DATABASE_URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// _txlock=immediate serializes write transactions up front, so the
	// duplicate check and the sequence allocation in SaveMessageIdempotent
	// run without deadlocking on lock upgrades.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT,
		is_private INTEGER DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		client_msg_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		file_name TEXT,
		file_mime_type TEXT,
		file_size INTEGER,
		file_data_url TEXT,
		sent_at_client DATETIME NOT NULL,
		sent_at DATETIME NOT NULL,
		UNIQUE (room_id, client_msg_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room_id, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);

	CREATE TABLE IF NOT EXISTS room_sequences (
		room_id TEXT PRIMARY KEY,
		next_seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS friendships (
		user_id TEXT NOT NULL,
		friend_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, friend_id)
	);

	CREATE TABLE IF NOT EXISTS invites (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		from_user_id TEXT NOT NULL,
		to_user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_invites_to_user ON invites(to_user_id, status);

	CREATE TABLE IF NOT EXISTS room_read_states (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		last_read_seq INTEGER NOT NULL DEFAULT 0,
		last_read_at DATETIME,
		PRIMARY KEY (room_id, user_id)
	);

	-- Seed default room if not exists
	INSERT OR IGNORE INTO rooms (id, owner_user_id, is_private) VALUES ('lobby', NULL, 0);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at) VALUES (?, ?)
	`, userID, time.Now())
	if isSQLiteUniqueViolation(err) {
		return ErrExists
	}
	return err
}

// UserExists reports whether a user id is known.
func (s *SQLiteStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)
	`, userID).Scan(&exists)
	return exists, err
}

// ListUsers returns all user ids in ascending order.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// CreateRoom creates a room and makes the owner its first member.
func (s *SQLiteStore) CreateRoom(ctx context.Context, roomID, ownerUserID string) (*models.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, owner_user_id, is_private, created_at)
		VALUES (?, ?, 1, ?)
	`, roomID, ownerUserID, now)
	if isSQLiteUniqueViolation(err) {
		return nil, ErrExists
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_members (room_id, user_id, role, joined_at)
		VALUES (?, ?, 'owner', ?)
	`, roomID, ownerUserID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Room{ID: roomID, OwnerUserID: ownerUserID, IsPrivate: true, CreatedAt: now}, nil
}

// GetRoom retrieves a room by id.
func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room := &models.Room{}
	var owner sql.NullString
	var isPrivateInt int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, is_private, created_at FROM rooms WHERE id = ?
	`, roomID).Scan(&room.ID, &owner, &isPrivateInt, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.OwnerUserID = owner.String
	room.IsPrivate = isPrivateInt == 1
	return room, nil
}

// AddRoomMember adds a membership. Re-adding an existing member is a no-op.
func (s *SQLiteStore) AddRoomMember(ctx context.Context, roomID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_members (room_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`, roomID, userID, role, time.Now())
	return err
}

// RoomMembers returns user ids of a room's members in join order.
func (s *SQLiteStore) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM room_members WHERE room_id = ? ORDER BY joined_at ASC, user_id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// RoomsForUser lists the rooms a user belongs to, oldest membership first.
func (s *SQLiteStore) RoomsForUser(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id FROM room_members WHERE user_id = ? ORDER BY joined_at ASC, room_id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, err
		}
		kind := "channel"
		if models.IsDirectRoomID(roomID) {
			kind = "dm"
		}
		summaries = append(summaries, models.RoomSummary{RoomID: roomID, Type: kind})
	}
	return summaries, rows.Err()
}

// IsRoomMember reports whether a user is a member of a room.
func (s *SQLiteStore) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

const messageColumns = `id, room_id, client_msg_id, user_id, seq, text,
	file_name, file_mime_type, file_size, file_data_url, sent_at_client, sent_at`

// SaveMessageIdempotent appends a message with the next per-room sequence
// number, or returns the previously stored row for a resubmitted
// clientMsgId. The lookup and the allocation share one transaction; the
// UNIQUE(room_id, client_msg_id) index backstops concurrent writers.
func (s *SQLiteStore) SaveMessageIdempotent(ctx context.Context, msg *models.Message) (*SaveResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := scanMessage(tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE room_id = ? AND client_msg_id = ?
	`, msg.RoomID, msg.ClientMsgID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &SaveResult{Status: StatusDuplicate, Message: existing}, nil
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO room_sequences (room_id, next_seq) VALUES (?, 1)
		ON CONFLICT(room_id) DO UPDATE SET next_seq = next_seq + 1
		RETURNING next_seq
	`, msg.RoomID).Scan(&seq)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.ClientMsgID, msg.UserID, seq, msg.Text,
		fileColumn(msg.File, func(f *models.FileAttachment) any { return f.Name }),
		fileColumn(msg.File, func(f *models.FileAttachment) any { return f.MimeType }),
		fileColumn(msg.File, func(f *models.FileAttachment) any { return f.Size }),
		fileColumn(msg.File, func(f *models.FileAttachment) any { return f.DataURL }),
		msg.SentAtClient, msg.SentAt)
	if isSQLiteUniqueViolation(err) {
		// A concurrent writer committed the same clientMsgId first.
		tx.Rollback()
		stored, readErr := scanMessage(s.db.QueryRowContext(ctx, `
			SELECT `+messageColumns+` FROM messages WHERE room_id = ? AND client_msg_id = ?
		`, msg.RoomID, msg.ClientMsgID))
		if readErr != nil {
			return nil, readErr
		}
		return &SaveResult{Status: StatusDuplicate, Message: stored}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	accepted := *msg
	accepted.Seq = seq
	return &SaveResult{Status: StatusAccepted, Message: &accepted}, nil
}

// MessagesAfterSeq returns messages with seq strictly greater than
// afterSeq, ascending, capped at limit.
func (s *SQLiteStore) MessagesAfterSeq(ctx context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, roomID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// RecentMessages returns the newest limit messages in ascending order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// LastMessage returns the highest-seq message of a room, or nil.
func (s *SQLiteStore) LastMessage(ctx context.Context, roomID string) (*models.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, roomID))
}

// AddFriend records a symmetric friendship.
func (s *SQLiteStore) AddFriend(ctx context.Context, userID, friendID string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO friendships (user_id, friend_id, created_at) VALUES
		(?, ?, ?), (?, ?, ?)
	`, userID, friendID, now, friendID, userID, now)
	return err
}

// Friends returns a user's friends in ascending order.
func (s *SQLiteStore) Friends(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY friend_id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
}

// AreFriends reports whether two users are friends.
func (s *SQLiteStore) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?)
	`, userID, friendID).Scan(&exists)
	return exists, err
}

// CreateInvite persists a room invite.
func (s *SQLiteStore) CreateInvite(ctx context.Context, invite *models.Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (id, room_id, from_user_id, to_user_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, invite.ID, invite.RoomID, invite.FromUserID, invite.ToUserID, invite.Status, invite.CreatedAt)
	return err
}

// GetInvite retrieves an invite by id, or nil.
func (s *SQLiteStore) GetInvite(ctx context.Context, inviteID string) (*models.Invite, error) {
	invite := &models.Invite{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, from_user_id, to_user_id, status, created_at
		FROM invites WHERE id = ?
	`, inviteID).Scan(&invite.ID, &invite.RoomID, &invite.FromUserID,
		&invite.ToUserID, &invite.Status, &invite.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return invite, nil
}

// SetInviteStatus updates an invite's status.
func (s *SQLiteStore) SetInviteStatus(ctx context.Context, inviteID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE invites SET status = ? WHERE id = ?
	`, status, inviteID)
	return err
}

// PendingInvitesFor returns the pending invites addressed to a user.
func (s *SQLiteStore) PendingInvitesFor(ctx context.Context, userID string) ([]models.Invite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, from_user_id, to_user_id, status, created_at
		FROM invites WHERE to_user_id = ? AND status = 'pending'
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []models.Invite
	for rows.Next() {
		var invite models.Invite
		if err := rows.Scan(&invite.ID, &invite.RoomID, &invite.FromUserID,
			&invite.ToUserID, &invite.Status, &invite.CreatedAt); err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

// MarkRoomRead advances the user's read watermark to the room's latest
// sequence number.
func (s *SQLiteStore) MarkRoomRead(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_read_states (room_id, user_id, last_read_seq, last_read_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) FROM messages WHERE room_id = ?), ?)
		ON CONFLICT(room_id, user_id) DO UPDATE SET
			last_read_seq = excluded.last_read_seq,
			last_read_at = excluded.last_read_at
	`, roomID, userID, roomID, time.Now())
	return err
}

// UnreadCount counts messages from other senders above the user's read
// watermark.
func (s *SQLiteStore) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND user_id != ? AND seq > COALESCE(
			(SELECT last_read_seq FROM room_read_states WHERE room_id = ? AND user_id = ?), 0)
	`, roomID, userID, roomID, userID).Scan(&count)
	return count, err
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanMessage reads one message row, returning nil for sql.ErrNoRows.
func scanMessage(row scanner) (*models.Message, error) {
	msg := &models.Message{}
	var fileName, fileMimeType, fileDataURL sql.NullString
	var fileSize sql.NullInt64

	err := row.Scan(&msg.ID, &msg.RoomID, &msg.ClientMsgID, &msg.UserID, &msg.Seq, &msg.Text,
		&fileName, &fileMimeType, &fileSize, &fileDataURL, &msg.SentAtClient, &msg.SentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if fileName.Valid && fileDataURL.Valid {
		msg.File = &models.FileAttachment{
			Name:     fileName.String,
			MimeType: fileMimeType.String,
			Size:     fileSize.Int64,
			DataURL:  fileDataURL.String,
		}
	}
	return msg, nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func fileColumn(file *models.FileAttachment, pick func(*models.FileAttachment) any) any {
	if file == nil {
		return nil
	}
	return pick(file)
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
