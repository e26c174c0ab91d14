package presence

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/proto"
)

// Router is the subset of *core.Router used for ephemeral events.
type Router interface {
	BroadcastExcept(room core.RoomKey, ev *core.Event, except *core.Client) int
}

// ReadMarker persists a single read receipt. *messaging.Service satisfies it.
type ReadMarker interface {
	MarkMessageRead(ctx context.Context, userID, conversationID, messageID string) (int, error)
}

// Service relays typing indicators and read receipts. Nothing here is stored
// except the read receipt, which goes through ReadMarker.
type Service struct {
	router Router
	reads  ReadMarker
	log    *zerolog.Logger
}

// New creates a presence service.
func New(router Router, reads ReadMarker, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "presence").Logger()
	return &Service{router: router, reads: reads, log: &l}
}

func requireJoined(c *core.Client, conversationID string) (core.RoomKey, error) {
	if conversationID == "" {
		return core.RoomKey{}, fmt.Errorf("%w: conversationId is required", core.ErrInvalidArgument)
	}
	room := core.ConversationRoom(conversationID)
	if !c.InRoom(room) {
		return core.RoomKey{}, fmt.Errorf("%w: %s", core.ErrNotInRoom, room)
	}
	return room, nil
}

// Typing tells the other members of the room that c is typing.
func (s *Service) Typing(c *core.Client, conversationID string) error {
	return s.relayTyping(c, conversationID, core.EventTyping)
}

// StopTyping clears the typing indicator of c.
func (s *Service) StopTyping(c *core.Client, conversationID string) error {
	return s.relayTyping(c, conversationID, core.EventStopTyping)
}

func (s *Service) relayTyping(c *core.Client, conversationID, name string) error {
	room, err := requireJoined(c, conversationID)
	if err != nil {
		return err
	}
	s.router.BroadcastExcept(room, core.NewEvent(name, proto.TypingPayload{
		ConversationID: conversationID,
		UserID:         c.UserID,
		Username:       c.Username,
		DisplayName:    c.DisplayName,
	}), c)
	return nil
}

// MessageRead persists the receipt and then tells the rest of the room.
// Nothing is emitted when the message was already read by c.
func (s *Service) MessageRead(ctx context.Context, c *core.Client, conversationID, messageID string) error {
	room, err := requireJoined(c, conversationID)
	if err != nil {
		return err
	}

	changed, err := s.reads.MarkMessageRead(ctx, c.UserID, conversationID, messageID)
	if err != nil {
		return err
	}
	if changed == 0 {
		return nil
	}

	s.router.BroadcastExcept(room, core.NewEvent(core.EventMessageRead, proto.MessageReadPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		ReaderID:       c.UserID,
	}), c)

	s.log.Debug().
		Str("conversation_id", conversationID).
		Str("message_id", messageID).
		Str("user_id", c.UserID).
		Msg("message read")
	return nil
}
