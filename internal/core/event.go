package core

// Server-to-client event names.
const (
	EventNewMessage           = "new_message"
	EventTyping               = "typing"
	EventStopTyping           = "stop_typing"
	EventMessageRead          = "message_read"
	EventSystemNotification   = "system_notification"
	EventForceLogout          = "force_logout"
	EventListingStatusChanged = "listing_status_changed"
	EventJoined               = "joined"
	EventLeft                 = "left"
)

// Event is sent to clients to describe what happened in the system.
// A single Event value is shared by every recipient of a broadcast and must not be mutated after submission.
type Event struct {
	Name string
	// Room is the room the event was addressed to; zero for direct and global events.
	Room    RoomKey
	Payload any
	// Error is set instead of Name for error replies to one connection.
	Error *CoreError
}

// NewEvent builds a named event.
func NewEvent(name string, payload any) *Event {
	return &Event{Name: name, Payload: payload}
}

// ErrorEvent builds an error reply.
func ErrorEvent(err *CoreError) *Event {
	return &Event{Error: err}
}
