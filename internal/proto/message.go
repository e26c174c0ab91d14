package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoinChat   = "join_chat"
	InboundTypeLeaveChat  = "leave_chat"
	InboundTypeTyping     = "typing"
	InboundTypeStopTyping = "stop_typing"
	InboundTypeMarkRead   = "mark_read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// ConversationData names the conversation a control event targets.
type ConversationData struct {
	ConversationID string `json:"conversationId"`
}

// MarkReadData marks one message as read by the sender.
type MarkReadData struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Room  string `json:"room,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// RoomAck confirms join_chat / leave_chat to the requesting connection.
type RoomAck struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload is carried by typing and stop_typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName,omitempty"`
}

// MessageReadPayload is the ephemeral read receipt.
type MessageReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReaderID       string `json:"readerId"`
}

// Notification audiences.
const (
	AudienceUser = "user"
	AudienceAll  = "all"
)

// SystemNotification is an announcement pushed by admins.
type SystemNotification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Audience  string    `json:"audience"`
	CreatedAt time.Time `json:"createdAt"`
}

// ForceLogout tells the client its session is gone.
type ForceLogout struct {
	Message string `json:"message"`
}

// ListingStatusChanged tells a listing owner about a moderation decision.
type ListingStatusChanged struct {
	ListingID string `json:"listingId"`
	Status    string `json:"status"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
