package mongodb

import (
	"time"

	"github.com/vovakirdan/courier/internal/store"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	DisplayName  string    `bson:"display_name"`
	Role         string    `bson:"role"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d userDoc) toUser() *store.User {
	return &store.User{
		ID:           d.ID,
		Username:     d.Username,
		DisplayName:  d.DisplayName,
		Role:         store.Role(d.Role),
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

type conversationDoc struct {
	ID            string     `bson:"_id"`
	Participants  []string   `bson:"participants"`
	Title         *string    `bson:"title"`
	Type          string     `bson:"type"`
	CreatedBy     string     `bson:"created_by"`
	LastMessageID *string    `bson:"last_message_id"`
	LastMessageAt *time.Time `bson:"last_message_at"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

func (d conversationDoc) toConversation() *store.Conversation {
	c := &store.Conversation{
		ID:            d.ID,
		Participants:  d.Participants,
		Title:         d.Title,
		Type:          store.ConversationType(d.Type),
		CreatedBy:     d.CreatedBy,
		LastMessageID: d.LastMessageID,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.LastMessageAt != nil {
		t := d.LastMessageAt.UTC()
		c.LastMessageAt = &t
	}
	return c
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	Type           string    `bson:"type"`
	ReadBy         []string  `bson:"read_by"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (d messageDoc) toMessage() *store.Message {
	return &store.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Type:           store.MessageType(d.Type),
		ReadBy:         d.ReadBy,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}
