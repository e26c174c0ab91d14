package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/courier/internal/store"
	"github.com/vovakirdan/courier/internal/utils"
)

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock *store.MonotonicClock
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file, or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup creates a new SQLite store, applies the schema and then runs setup.
// Useful for tests that need to seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" to one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return &SQLiteStore{db: db, clock: store.NewMonotonicClock(time.Nanosecond)}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(prefix []any, ids []string) []any {
	args := make([]any, 0, len(prefix)+len(ids))
	args = append(args, prefix...)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

var (
	maxNanoTime = time.Unix(0, math.MaxInt64)
	minNanoTime = time.Unix(0, math.MinInt64)
)

// cursorNanos converts a pagination bound, clamping times outside the int64 nanosecond range.
func cursorNanos(t time.Time) int64 {
	switch {
	case t.After(maxNanoTime):
		return math.MaxInt64
	case t.Before(minNanoTime):
		return math.MinInt64
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ==== UserStore implementation ====

const userColumns = `id, username, display_name, role, password_hash, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		user      store.User
		role      string
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &role, &user.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	user.Role = store.Role(role)
	user.CreatedAt = fromNanos(createdAt)
	return &user, nil
}

// CreateUser persists a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = utils.NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock.Now()
	}
	if u.Role == "" {
		u.Role = store.RoleUser
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}

	query := `
		INSERT INTO users (id, username, display_name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.DisplayName, string(u.Role), u.PasswordHash, toNanos(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user %q: %w", u.Username, store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUsersByIDs returns the users that exist among ids.
func (s *SQLiteStore) GetUsersByIDs(ctx context.Context, ids []string) ([]*store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + placeholders(len(ids)) + `)`
	return s.queryUsers(ctx, query, stringArgs(nil, ids)...)
}

// ListUsers returns every user ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ==== ConversationStore implementation ====

const conversationColumns = `c.id, c.title, c.type, c.created_by, c.last_message_id, c.last_message_at, c.created_at, c.updated_at`

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		conv          store.Conversation
		title         sql.NullString
		convType      string
		lastMessageID sql.NullString
		lastMessageAt sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(&conv.ID, &title, &convType, &conv.CreatedBy, &lastMessageID, &lastMessageAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	conv.Type = store.ConversationType(convType)
	if title.Valid {
		conv.Title = &title.String
	}
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.String
	}
	if lastMessageAt.Valid {
		t := fromNanos(lastMessageAt.Int64)
		conv.LastMessageAt = &t
	}
	conv.CreatedAt = fromNanos(createdAt)
	conv.UpdatedAt = fromNanos(updatedAt)
	return &conv, nil
}

// CreateConversation persists a conversation and its participants in one transaction.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *store.Conversation) error {
	if c.ID == "" {
		c.ID = utils.NewID()
	}
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO conversations (id, title, type, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, c.ID, c.Title, string(c.Type), c.CreatedBy, toNanos(c.CreatedAt), toNanos(c.UpdatedAt)); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	participants := make([]string, 0, len(c.Participants))
	for _, userID := range c.Participants {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
			c.ID, userID, toNanos(s.clock.Now()))
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			participants = append(participants, userID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.Participants = participants
	return nil
}

// GetConversation retrieves a conversation with its participants.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = ?`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	participants, err := loadParticipants(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	conv.Participants = participants[id]
	return conv, nil
}

// ListConversations returns conversations containing userID, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*store.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var (
		convs []*store.Conversation
		ids   []string
	)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
		ids = append(ids, conv.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	participants, err := loadParticipants(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		conv.Participants = participants[conv.ID]
	}
	return convs, nil
}

func loadParticipants(ctx context.Context, q queryer, conversationIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT conversation_id, user_id
		FROM conversation_participants
		WHERE conversation_id IN (` + placeholders(len(conversationIDs)) + `)
		ORDER BY joined_at, user_id
	`
	rows, err := q.QueryContext(ctx, query, stringArgs(nil, conversationIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, userID string
		if err := rows.Scan(&convID, &userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out[convID] = append(out[convID], userID)
	}
	return out, rows.Err()
}

// AddParticipant appends userID to the conversation, ignoring duplicates.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
		conversationID, userID, toNanos(s.clock.Now()))
	if err != nil {
		return false, fmt.Errorf("insert participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// IsParticipant checks if userID participates in the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query participant: %w", err)
	}
	return true, nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, conversation_id, sender_id, content, type, created_at`

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg       store.Message
		msgType   string
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msgType, &createdAt); err != nil {
		return nil, err
	}
	msg.Type = store.MessageType(msgType)
	msg.CreatedAt = fromNanos(createdAt)
	return &msg, nil
}

// AppendMessage persists a message, its sender read receipt and the projection update atomically.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = utils.NewID()
	}
	if m.Type == "" {
		m.Type = store.MessageText
	}
	m.CreatedAt = s.clock.Now()
	at := toNanos(m.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// All SET expressions see the pre-update row, so both CASEs agree.
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_id = CASE WHEN last_message_at IS NULL OR last_message_at < ? THEN ? ELSE last_message_id END,
			last_message_at = CASE WHEN last_message_at IS NULL OR last_message_at < ? THEN ? ELSE last_message_at END,
			updated_at      = MAX(updated_at, ?)
		WHERE id = ?
	`, at, m.ID, at, at, at, m.ConversationID)
	if err != nil {
		return fmt.Errorf("update projection: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, store.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Type), at); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)`,
		m.ID, m.SenderID, at); err != nil {
		return fmt.Errorf("insert sender read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	m.ReadBy = []string{m.SenderID}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	msgs, err := s.GetMessagesByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	return msgs[0], nil
}

// GetMessagesByIDs returns the messages that exist among ids.
func (s *SQLiteStore) GetMessagesByIDs(ctx context.Context, ids []string) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id IN (` + placeholders(len(ids)) + `)`
	return s.queryMessages(ctx, query, stringArgs(nil, ids)...)
}

// ListMessages returns a page of messages, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, q store.MessageQuery) ([]*store.Message, error) {
	var (
		query string
		args  []any
	)

	if q.Before != nil {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = ? AND created_at < ?
			ORDER BY created_at DESC
			LIMIT ?
		`
		args = []any{conversationID, cursorNanos(*q.Before), q.Limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?
		`
		args = []any{conversationID, q.Limit, q.Offset}
	}

	return s.queryMessages(ctx, query, args...)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var (
		messages []*store.Message
		ids      []string
	)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
		ids = append(ids, msg.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	reads, err := loadReads(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		msg.ReadBy = reads[msg.ID]
	}
	return messages, nil
}

func loadReads(ctx context.Context, q queryer, messageIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT message_id, user_id
		FROM message_reads
		WHERE message_id IN (` + placeholders(len(messageIDs)) + `)
		ORDER BY read_at, user_id
	`
	rows, err := q.QueryContext(ctx, query, stringArgs(nil, messageIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query reads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, userID string
		if err := rows.Scan(&msgID, &userID); err != nil {
			return nil, fmt.Errorf("scan read: %w", err)
		}
		out[msgID] = append(out[msgID], userID)
	}
	return out, rows.Err()
}

// MarkRead records userID as a reader of the conversation's messages. Already-read messages are skipped.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int, error) {
	query := `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages WHERE conversation_id = ?
	`
	args := []any{userID, toNanos(s.clock.Now()), conversationID}
	if len(messageIDs) > 0 {
		query += ` AND id IN (` + placeholders(len(messageIDs)) + `)`
		args = stringArgs(args, messageIDs)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
