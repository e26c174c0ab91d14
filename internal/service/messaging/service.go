package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	defaultWriteTimeout = 10 * time.Second
)

var validate = validator.New()

// Publisher delivers events to rooms. *core.Router satisfies it.
type Publisher interface {
	Broadcast(room core.RoomKey, ev *core.Event) int
}

// Service provides conversation and message business logic.
type Service struct {
	store        store.Store
	publisher    Publisher
	log          *zerolog.Logger
	writeTimeout time.Duration
}

// New creates a messaging service.
func New(st store.Store, publisher Publisher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "messaging").Logger()
	return &Service{
		store:        st,
		publisher:    publisher,
		log:          &l,
		writeTimeout: defaultWriteTimeout,
	}
}

// CreateConversationInput describes a new conversation.
type CreateConversationInput struct {
	CreatorID      string                 `validate:"required"`
	ParticipantIDs []string               `validate:"dive,required"`
	Title          *string                `validate:"omitempty,max=200"`
	Type           store.ConversationType `validate:"omitempty,oneof=private group"`
}

// ListMessagesInput selects a page of conversation history.
type ListMessagesInput struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
	Page           int
	Limit          int
	Before         *time.Time
}

// SendMessageInput describes a new message.
type SendMessageInput struct {
	SenderID       string            `validate:"required"`
	ConversationID string            `validate:"required"`
	Content        string            `validate:"max=10000"`
	Type           store.MessageType `validate:"omitempty,oneof=text image file"`
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %s", core.ErrInvalidArgument, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
}

// translate maps repository errors onto the core taxonomy.
func translate(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, what)
	}
	return err
}

// normalizePage turns a 1-based page and limit into limit/offset.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return limit, (page - 1) * limit
}

// detached keeps repository writes alive after the caller goes away.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
}

// CreateConversation unions the creator into the participants and persists the conversation.
func (s *Service) CreateConversation(ctx context.Context, in CreateConversationInput) (*ConversationView, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	participants := lo.Uniq(append([]string{in.CreatorID}, in.ParticipantIDs...))
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: at least one other participant is required", core.ErrInvalidArgument)
	}

	convType := in.Type
	if convType == "" {
		convType = store.ConversationGroup
		if len(participants) == 2 {
			convType = store.ConversationPrivate
		}
	}
	if convType == store.ConversationPrivate && len(participants) != 2 {
		return nil, fmt.Errorf("%w: private conversations have exactly two participants", core.ErrInvalidArgument)
	}

	var title *string
	if in.Title != nil && convType == store.ConversationGroup {
		if t := strings.TrimSpace(*in.Title); t != "" {
			title = &t
		}
	}

	users, err := s.store.GetUsersByIDs(ctx, participants)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	dir := newDirectory(users)
	if missing := lo.Filter(participants, func(id string, _ int) bool { _, ok := dir[id]; return !ok }); len(missing) > 0 {
		return nil, fmt.Errorf("%w: users %s", core.ErrNotFound, strings.Join(missing, ", "))
	}

	conv := &store.Conversation{
		Participants: participants,
		Title:        title,
		Type:         convType,
		CreatedBy:    in.CreatorID,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.log.Info().
		Str("conversation_id", conv.ID).
		Str("user_id", in.CreatorID).
		Int("participants", len(conv.Participants)).
		Msg("conversation created")

	view := dir.conversationView(conv, nil)
	return &view, nil
}

// loadForMember fetches a conversation and requires userID to participate.
func (s *Service) loadForMember(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, translate(err, "conversation "+conversationID)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant of %s", core.ErrForbidden, conversationID)
	}
	return conv, nil
}

// CanJoin reports whether userID may join the conversation room.
func (s *Service) CanJoin(ctx context.Context, userID, conversationID string) error {
	_, err := s.loadForMember(ctx, userID, conversationID)
	return err
}

// GetConversation returns one conversation for a participant.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationView, error) {
	conv, err := s.loadForMember(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	views, err := s.resolveConversations(ctx, []*store.Conversation{conv})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string, page, limit int) ([]ConversationView, error) {
	limit, offset := normalizePage(page, limit)
	convs, err := s.store.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return s.resolveConversations(ctx, convs)
}

func (s *Service) resolveConversations(ctx context.Context, convs []*store.Conversation) ([]ConversationView, error) {
	lastIDs := lo.FilterMap(convs, func(c *store.Conversation, _ int) (string, bool) {
		if c.LastMessageID == nil {
			return "", false
		}
		return *c.LastMessageID, true
	})
	lastMessages, err := s.store.GetMessagesByIDs(ctx, lastIDs)
	if err != nil {
		return nil, fmt.Errorf("get last messages: %w", err)
	}
	byID := lo.KeyBy(lastMessages, func(m *store.Message) string { return m.ID })

	userIDs := lo.FlatMap(convs, func(c *store.Conversation, _ int) []string { return c.Participants })
	userIDs = append(userIDs, lo.Map(lastMessages, func(m *store.Message, _ int) string { return m.SenderID })...)
	users, err := s.store.GetUsersByIDs(ctx, lo.Uniq(userIDs))
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	dir := newDirectory(users)

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		var last *store.Message
		if c.LastMessageID != nil {
			// Only attach a message that belongs to this conversation.
			if m, ok := byID[*c.LastMessageID]; ok && m.ConversationID == c.ID {
				last = m
			}
		}
		views = append(views, dir.conversationView(c, last))
	}
	return views, nil
}

// ListMessages returns conversation history newest first. Before, when set, replaces the page offset.
func (s *Service) ListMessages(ctx context.Context, in ListMessagesInput) ([]MessageView, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if _, err := s.loadForMember(ctx, in.UserID, in.ConversationID); err != nil {
		return nil, err
	}

	limit, offset := normalizePage(in.Page, in.Limit)
	msgs, err := s.store.ListMessages(ctx, in.ConversationID, store.MessageQuery{
		Limit:  limit,
		Offset: offset,
		Before: in.Before,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return s.resolveMessages(ctx, msgs)
}

func (s *Service) resolveMessages(ctx context.Context, msgs []*store.Message) ([]MessageView, error) {
	senders := lo.Uniq(lo.Map(msgs, func(m *store.Message, _ int) string { return m.SenderID }))
	users, err := s.store.GetUsersByIDs(ctx, senders)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	dir := newDirectory(users)
	return lo.Map(msgs, func(m *store.Message, _ int) MessageView { return dir.messageView(m) }), nil
}

// SendMessage persists a message and then publishes new_message to the conversation room.
// The room sees the event only after the projection update has committed.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*MessageView, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", core.ErrInvalidArgument)
	}
	msgType := in.Type
	if msgType == "" {
		msgType = store.MessageText
	}

	if _, err := s.loadForMember(ctx, in.SenderID, in.ConversationID); err != nil {
		return nil, err
	}

	writeCtx, cancel := s.detached(ctx)
	defer cancel()

	msg := &store.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           msgType,
	}
	if err := s.store.AppendMessage(writeCtx, msg); err != nil {
		return nil, translate(fmt.Errorf("append message: %w", err), "conversation "+in.ConversationID)
	}

	var view MessageView
	if views, err := s.resolveMessages(writeCtx, []*store.Message{msg}); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to resolve sender, sending bare id")
		view = directory{}.messageView(msg)
	} else {
		view = views[0]
	}

	delivered := s.publisher.Broadcast(core.ConversationRoom(in.ConversationID), core.NewEvent(core.EventNewMessage, view))

	s.log.Debug().
		Str("conversation_id", in.ConversationID).
		Str("message_id", msg.ID).
		Str("user_id", in.SenderID).
		Int("delivered", delivered).
		Msg("message sent")

	return &view, nil
}

// MarkRead adds userID to readBy for the given messages, or all of them when none are given.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string, messageIDs []string) (int, error) {
	if _, err := s.loadForMember(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	writeCtx, cancel := s.detached(ctx)
	defer cancel()

	n, err := s.store.MarkRead(writeCtx, conversationID, userID, lo.Uniq(lo.Compact(messageIDs)))
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// MarkMessageRead marks a single message read and checks it belongs to the conversation.
func (s *Service) MarkMessageRead(ctx context.Context, userID, conversationID, messageID string) (int, error) {
	if messageID == "" {
		return 0, fmt.Errorf("%w: messageId is required", core.ErrInvalidArgument)
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return 0, translate(err, "message "+messageID)
	}
	if msg.ConversationID != conversationID {
		return 0, fmt.Errorf("%w: message %s", core.ErrNotFound, messageID)
	}
	return s.MarkRead(ctx, userID, conversationID, []string{messageID})
}

// AddParticipant lets an existing participant add another user. Re-adding is a no-op.
func (s *Service) AddParticipant(ctx context.Context, requesterID, conversationID, participantID string) (*ConversationView, error) {
	if participantID == "" {
		return nil, fmt.Errorf("%w: participantId is required", core.ErrInvalidArgument)
	}
	if _, err := s.loadForMember(ctx, requesterID, conversationID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, participantID); err != nil {
		return nil, translate(err, "user "+participantID)
	}

	added, err := s.store.AddParticipant(ctx, conversationID, participantID)
	if err != nil {
		return nil, translate(err, "conversation "+conversationID)
	}
	if added {
		s.log.Info().
			Str("conversation_id", conversationID).
			Str("user_id", participantID).
			Str("added_by", requesterID).
			Msg("participant added")
	}

	return s.GetConversation(ctx, requesterID, conversationID)
}
