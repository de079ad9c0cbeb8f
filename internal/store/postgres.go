package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trblnoew/realtime-chat-server/internal/models"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist. Statements run one at a
// time; pgx's extended protocol rejects multi-statement strings.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			owner_user_id TEXT,
			is_private BOOLEAN DEFAULT true,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at TIMESTAMPTZ DEFAULT now(),
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			client_msg_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			text TEXT NOT NULL,
			file_name TEXT,
			file_mime_type TEXT,
			file_size BIGINT,
			file_data_url TEXT,
			sent_at_client TIMESTAMPTZ NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL,
			UNIQUE (room_id, client_msg_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id)`,
		`CREATE TABLE IF NOT EXISTS room_sequences (
			room_id TEXT PRIMARY KEY,
			next_seq BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_id TEXT NOT NULL,
			friend_id TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now(),
			PRIMARY KEY (user_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS invites (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invites_to_user ON invites(to_user_id, status)`,
		`CREATE TABLE IF NOT EXISTS room_read_states (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			last_read_seq BIGINT NOT NULL DEFAULT 0,
			last_read_at TIMESTAMPTZ,
			PRIMARY KEY (room_id, user_id)
		)`,
		`INSERT INTO rooms (id, owner_user_id, is_private) VALUES ('lobby', NULL, false)
		 ON CONFLICT (id) DO NOTHING`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id) VALUES ($1)
	`, userID)
	if isPgUniqueViolation(err) {
		return ErrExists
	}
	return err
}

// UserExists reports whether a user id is known.
func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)
	`, userID).Scan(&exists)
	return exists, err
}

// ListUsers returns all user ids in ascending order.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CreateRoom creates a room and makes the owner its first member.
func (s *PostgresStore) CreateRoom(ctx context.Context, roomID, ownerUserID string) (*models.Room, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO rooms (id, owner_user_id, is_private) VALUES ($1, $2, true)
		RETURNING created_at
	`, roomID, ownerUserID).Scan(&createdAt)
	if isPgUniqueViolation(err) {
		return nil, ErrExists
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, 'owner')
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, ownerUserID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &models.Room{ID: roomID, OwnerUserID: ownerUserID, IsPrivate: true, CreatedAt: createdAt}, nil
}

// GetRoom retrieves a room by id.
func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room := &models.Room{}
	var owner *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, is_private, created_at FROM rooms WHERE id = $1
	`, roomID).Scan(&room.ID, &owner, &room.IsPrivate, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if owner != nil {
		room.OwnerUserID = *owner
	}
	return room, nil
}

// AddRoomMember adds a membership. Re-adding an existing member is a no-op.
func (s *PostgresStore) AddRoomMember(ctx context.Context, roomID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID, role)
	return err
}

// RoomMembers returns user ids of a room's members in join order.
func (s *PostgresStore) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY joined_at ASC, user_id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// RoomsForUser lists the rooms a user belongs to, oldest membership first.
func (s *PostgresStore) RoomsForUser(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_id FROM room_members WHERE user_id = $1 ORDER BY joined_at ASC, room_id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	roomIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	var summaries []models.RoomSummary
	for _, roomID := range roomIDs {
		kind := "channel"
		if models.IsDirectRoomID(roomID) {
			kind = "dm"
		}
		summaries = append(summaries, models.RoomSummary{RoomID: roomID, Type: kind})
	}
	return summaries, nil
}

// IsRoomMember reports whether a user is a member of a room.
func (s *PostgresStore) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

const pgMessageColumns = `id, room_id, client_msg_id, user_id, seq, text,
	file_name, file_mime_type, file_size, file_data_url, sent_at_client, sent_at`

// SaveMessageIdempotent appends a message with the next per-room sequence
// number, or returns the previously stored row for a resubmitted
// clientMsgId. Concurrent submissions of the same clientMsgId collide on
// the unique index; the loser re-reads the winner's row.
func (s *PostgresStore) SaveMessageIdempotent(ctx context.Context, msg *models.Message) (*SaveResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	existing, err := s.scanPgMessage(tx.QueryRow(ctx, `
		SELECT `+pgMessageColumns+` FROM messages WHERE room_id = $1 AND client_msg_id = $2
	`, msg.RoomID, msg.ClientMsgID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &SaveResult{Status: StatusDuplicate, Message: existing}, nil
	}

	// The counter row upsert takes a row lock, serializing sequence
	// allocation per room for the rest of the transaction.
	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO room_sequences (room_id, next_seq) VALUES ($1, 1)
		ON CONFLICT (room_id) DO UPDATE SET next_seq = room_sequences.next_seq + 1
		RETURNING next_seq
	`, msg.RoomID).Scan(&seq)
	if err != nil {
		return nil, err
	}

	var fileName, fileMimeType, fileDataURL *string
	var fileSize *int64
	if msg.File != nil {
		fileName = &msg.File.Name
		fileMimeType = &msg.File.MimeType
		fileSize = &msg.File.Size
		fileDataURL = &msg.File.DataURL
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (`+pgMessageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, msg.ID, msg.RoomID, msg.ClientMsgID, msg.UserID, seq, msg.Text,
		fileName, fileMimeType, fileSize, fileDataURL, msg.SentAtClient, msg.SentAt)
	if isPgUniqueViolation(err) {
		tx.Rollback(ctx)
		stored, readErr := s.scanPgMessage(s.pool.QueryRow(ctx, `
			SELECT `+pgMessageColumns+` FROM messages WHERE room_id = $1 AND client_msg_id = $2
		`, msg.RoomID, msg.ClientMsgID))
		if readErr != nil {
			return nil, readErr
		}
		return &SaveResult{Status: StatusDuplicate, Message: stored}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	accepted := *msg
	accepted.Seq = seq
	return &SaveResult{Status: StatusAccepted, Message: &accepted}, nil
}

// MessagesAfterSeq returns messages with seq strictly greater than
// afterSeq, ascending, capped at limit.
func (s *PostgresStore) MessagesAfterSeq(ctx context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM messages
		WHERE room_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, roomID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return s.collectPgMessages(rows)
}

// RecentMessages returns the newest limit messages in ascending order.
func (s *PostgresStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM messages
		WHERE room_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	messages, err := s.collectPgMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// LastMessage returns the highest-seq message of a room, or nil.
func (s *PostgresStore) LastMessage(ctx context.Context, roomID string) (*models.Message, error) {
	return s.scanPgMessage(s.pool.QueryRow(ctx, `
		SELECT `+pgMessageColumns+` FROM messages
		WHERE room_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, roomID))
}

// AddFriend records a symmetric friendship.
func (s *PostgresStore) AddFriend(ctx context.Context, userID, friendID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO friendships (user_id, friend_id) VALUES ($1, $2), ($2, $1)
		ON CONFLICT (user_id, friend_id) DO NOTHING
	`, userID, friendID)
	return err
}

// Friends returns a user's friends in ascending order.
func (s *PostgresStore) Friends(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT friend_id FROM friendships WHERE user_id = $1 ORDER BY friend_id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// AreFriends reports whether two users are friends.
func (s *PostgresStore) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)
	`, userID, friendID).Scan(&exists)
	return exists, err
}

// CreateInvite persists a room invite.
func (s *PostgresStore) CreateInvite(ctx context.Context, invite *models.Invite) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invites (id, room_id, from_user_id, to_user_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, invite.ID, invite.RoomID, invite.FromUserID, invite.ToUserID, invite.Status, invite.CreatedAt)
	return err
}

// GetInvite retrieves an invite by id, or nil.
func (s *PostgresStore) GetInvite(ctx context.Context, inviteID string) (*models.Invite, error) {
	invite := &models.Invite{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, from_user_id, to_user_id, status, created_at
		FROM invites WHERE id = $1
	`, inviteID).Scan(&invite.ID, &invite.RoomID, &invite.FromUserID,
		&invite.ToUserID, &invite.Status, &invite.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return invite, nil
}

// SetInviteStatus updates an invite's status.
func (s *PostgresStore) SetInviteStatus(ctx context.Context, inviteID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE invites SET status = $1 WHERE id = $2
	`, status, inviteID)
	return err
}

// PendingInvitesFor returns the pending invites addressed to a user.
func (s *PostgresStore) PendingInvitesFor(ctx context.Context, userID string) ([]models.Invite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, from_user_id, to_user_id, status, created_at
		FROM invites WHERE to_user_id = $1 AND status = 'pending'
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
func (s *PostgresStore) MarkRoomRead(ctx context.Context, roomID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_read_states (room_id, user_id, last_read_seq, last_read_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) FROM messages WHERE room_id = $1), now())
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			last_read_seq = EXCLUDED.last_read_seq,
			last_read_at = EXCLUDED.last_read_at
	`, roomID, userID)
	return err
}

// UnreadCount counts messages from other senders above the user's read
// watermark.
func (s *PostgresStore) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = $1 AND user_id != $2 AND seq > COALESCE(
			(SELECT last_read_seq FROM room_read_states WHERE room_id = $1 AND user_id = $2), 0)
	`, roomID, userID).Scan(&count)
	return count, err
}

// pgRow matches pgx.Row for single-row scans.
type pgRow interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanPgMessage(row pgRow) (*models.Message, error) {
	msg := &models.Message{}
	var fileName, fileMimeType, fileDataURL *string
	var fileSize *int64

	err := row.Scan(&msg.ID, &msg.RoomID, &msg.ClientMsgID, &msg.UserID, &msg.Seq, &msg.Text,
		&fileName, &fileMimeType, &fileSize, &fileDataURL, &msg.SentAtClient, &msg.SentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if fileName != nil && fileDataURL != nil {
		msg.File = &models.FileAttachment{Name: *fileName, DataURL: *fileDataURL}
		if fileMimeType != nil {
			msg.File.MimeType = *fileMimeType
		}
		if fileSize != nil {
			msg.File.Size = *fileSize
		}
	}
	return msg, nil
}

func (s *PostgresStore) collectPgMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := s.scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
