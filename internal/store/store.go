package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user, conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique key (e.g. username) is already taken.
var ErrConflict = errors.New("conflict")

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents a user in the system.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// ConversationType defines different kinds of conversations.
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// Conversation is a set of participants exchanging messages.
type Conversation struct {
	ID           string
	Participants []string // in join order, no duplicates
	Title        *string  // nil for 1:1 conversations
	Type         ConversationType
	CreatedBy    string

	// LastMessageID and LastMessageAt form the last-message projection.
	// They only ever move to a message with a later CreatedAt.
	LastMessageID *string
	LastMessageAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasParticipant reports whether userID is in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// MessageType defines the content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Message represents a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Type           MessageType
	ReadBy         []string
	CreatedAt      time.Time
}

// MessageQuery selects a page of messages, newest first.
// When Before is set only messages created strictly earlier are returned and Offset is ignored.
type MessageQuery struct {
	Limit  int
	Offset int
	Before *time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser persists u, assigning ID and CreatedAt when empty.
	CreateUser(ctx context.Context, u *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUsersByIDs returns the users that exist among ids, in no particular order.
	GetUsersByIDs(ctx context.Context, ids []string) ([]*User, error)

	// ListUsers returns every user ordered by username.
	ListUsers(ctx context.Context) ([]*User, error)
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation persists c, assigning ID and timestamps when empty.
	CreateConversation(ctx context.Context, c *Conversation) error

	// GetConversation retrieves a conversation with its participants.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns the conversations userID participates in, most recently updated first.
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error)

	// AddParticipant appends userID to the conversation. It returns false if already present.
	AddParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// IsParticipant checks if userID participates in the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// AppendMessage persists m with ReadBy={sender}, assigns ID and CreatedAt, and
	// advances the owning conversation's projection when m is newer than the current one.
	AppendMessage(ctx context.Context, m *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetMessagesByIDs returns the messages that exist among ids, in no particular order.
	GetMessagesByIDs(ctx context.Context, ids []string) ([]*Message, error)

	// ListMessages returns messages of a conversation ordered by CreatedAt descending.
	ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]*Message, error)

	// MarkRead adds userID to ReadBy of every message in the conversation, or only of
	// messageIDs when given. It returns how many messages changed.
	MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
