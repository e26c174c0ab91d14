package messaging

import (
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/courier/internal/store"
)

// UserView is the display data attached to participants and senders.
type UserView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// MessageView is a message with its sender resolved.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         UserView  `json:"sender"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	ReadBy         []string  `json:"readBy"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationView is a conversation with participants and last message resolved.
type ConversationView struct {
	ID           string       `json:"id"`
	Participants []UserView   `json:"participants"`
	Title        *string      `json:"title"`
	Type         string       `json:"type"`
	CreatedBy    string       `json:"createdBy"`
	LastMessage  *MessageView `json:"lastMessage"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// directory resolves user ids to display data. Unknown ids resolve to a bare id.
type directory map[string]*store.User

func newDirectory(users []*store.User) directory {
	return lo.KeyBy(users, func(u *store.User) string { return u.ID })
}

func (d directory) view(id string) UserView {
	u, ok := d[id]
	if !ok {
		return UserView{ID: id}
	}
	return UserView{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

func (d directory) messageView(m *store.Message) MessageView {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         d.view(m.SenderID),
		Content:        m.Content,
		Type:           string(m.Type),
		ReadBy:         readBy,
		CreatedAt:      m.CreatedAt,
	}
}

func (d directory) conversationView(c *store.Conversation, last *store.Message) ConversationView {
	v := ConversationView{
		ID:           c.ID,
		Participants: lo.Map(c.Participants, func(id string, _ int) UserView { return d.view(id) }),
		Title:        c.Title,
		Type:         string(c.Type),
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if last != nil {
		mv := d.messageView(last)
		v.LastMessage = &mv
	}
	return v
}
