package core

import "strings"

// RoomKind distinguishes the two room namespaces.
type RoomKind uint8

const (
	// RoomConversation is a chat room scoped to one conversation.
	RoomConversation RoomKind = iota + 1
	// RoomUser is the personal channel of one user.
	RoomUser
)

const (
	conversationPrefix = "conversation_"
	userPrefix         = "user_"
)

// RoomKey addresses a room. Build it with ConversationRoom or UserRoom; the zero value addresses nothing.
type RoomKey struct {
	kind RoomKind
	id   string
}

// ConversationRoom returns the room of a conversation.
func ConversationRoom(conversationID string) RoomKey {
	return RoomKey{kind: RoomConversation, id: conversationID}
}

// UserRoom returns the personal channel of a user.
func UserRoom(userID string) RoomKey {
	return RoomKey{kind: RoomUser, id: userID}
}

// ParseRoomKey reverses String. It returns false for unknown prefixes or empty ids.
func ParseRoomKey(s string) (RoomKey, bool) {
	switch {
	case strings.HasPrefix(s, conversationPrefix) && len(s) > len(conversationPrefix):
		return ConversationRoom(strings.TrimPrefix(s, conversationPrefix)), true
	case strings.HasPrefix(s, userPrefix) && len(s) > len(userPrefix):
		return UserRoom(strings.TrimPrefix(s, userPrefix)), true
	default:
		return RoomKey{}, false
	}
}

func (k RoomKey) Kind() RoomKind { return k.kind }
func (k RoomKey) ID() string     { return k.id }

// IsZero reports whether the key addresses no room.
func (k RoomKey) IsZero() bool { return k.kind == 0 || k.id == "" }

// String renders the key in its wire form, e.g. conversation_42.
func (k RoomKey) String() string {
	switch k.kind {
	case RoomConversation:
		return conversationPrefix + k.id
	case RoomUser:
		return userPrefix + k.id
	default:
		return ""
	}
}

// members is the set of clients joined to a single room.
type members map[*Client]struct{}

func (m members) snapshot(except *Client) []*Client {
	out := make([]*Client, 0, len(m))
	for c := range m {
		if c == except {
			continue
		}
		out = append(out, c)
	}
	return out
}
