package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/service/messaging"
	"github.com/vovakirdan/courier/internal/store"
)

// ConversationHandlers provides the conversation REST endpoints.
type ConversationHandlers struct {
	messaging *messaging.Service
	log       *zerolog.Logger
}

// NewConversationHandlers creates a new conversation handlers instance.
func NewConversationHandlers(svc *messaging.Service, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		messaging: svc,
		log:       logger,
	}
}

// CreateConversationRequest represents the create conversation request body.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participantIds" binding:"required,min=1"`
	Title          *string  `json:"title"`
	Type           string   `json:"type" binding:"omitempty,oneof=private group"`
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Type    string `json:"type" binding:"omitempty,oneof=text image file"`
}

// MarkReadRequest lists the messages to mark; empty means all of them.
type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// AddParticipantRequest names the user to add.
type AddParticipantRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

// ConversationResponse wraps a single conversation.
type ConversationResponse struct {
	Conversation *messaging.ConversationView `json:"conversation"`
}

// ConversationsResponse wraps a page of conversations.
type ConversationsResponse struct {
	Conversations []messaging.ConversationView `json:"conversations"`
}

// MessageResponse wraps a single message.
type MessageResponse struct {
	Message *messaging.MessageView `json:"message"`
}

// MessagesResponse wraps a page of messages.
type MessagesResponse struct {
	Messages []messaging.MessageView `json:"messages"`
}

// MarkReadResponse reports how many messages changed.
type MarkReadResponse struct {
	UpdatedCount int `json:"updatedCount"`
}

func currentUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// pageParams reads the optional page and limit query parameters.
func pageParams(c *gin.Context) (page, limit int, ok bool) {
	var err error
	if raw := c.Query("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			return 0, 0, false
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, false
		}
	}
	return page, limit, true
}

// CreateConversation handles conversation creation.
// POST /conversations
func (h *ConversationHandlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create conversation request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	conv, err := h.messaging.CreateConversation(c.Request.Context(), messaging.CreateConversationInput{
		CreatorID:      currentUserID(c),
		ParticipantIDs: req.ParticipantIDs,
		Title:          req.Title,
		Type:           store.ConversationType(req.Type),
	})
	if err != nil {
		respondError(c, h.log, err, "failed to create conversation")
		return
	}

	c.JSON(http.StatusCreated, ConversationResponse{Conversation: conv})
}

// ListConversations lists the caller's conversations, most recently updated first.
// GET /conversations?page=&limit=
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	page, limit, ok := pageParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "page and limit must be integers"})
		return
	}

	convs, err := h.messaging.ListConversations(c.Request.Context(), currentUserID(c), page, limit)
	if err != nil {
		respondError(c, h.log, err, "failed to list conversations")
		return
	}

	c.JSON(http.StatusOK, ConversationsResponse{Conversations: convs})
}

// GetConversation returns one conversation the caller participates in.
// GET /conversations/:id
func (h *ConversationHandlers) GetConversation(c *gin.Context) {
	conv, err := h.messaging.GetConversation(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "failed to get conversation")
		return
	}
	c.JSON(http.StatusOK, ConversationResponse{Conversation: conv})
}

// ListMessages returns history newest first.
// GET /conversations/:id/messages?page=&limit=&before=
func (h *ConversationHandlers) ListMessages(c *gin.Context) {
	page, limit, ok := pageParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "page and limit must be integers"})
		return
	}

	in := messaging.ListMessagesInput{
		UserID:         currentUserID(c),
		ConversationID: c.Param("id"),
		Page:           page,
		Limit:          limit,
	}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "before must be an RFC3339 timestamp"})
			return
		}
		in.Before = &before
	}

	msgs, err := h.messaging.ListMessages(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err, "failed to list messages")
		return
	}

	c.JSON(http.StatusOK, MessagesResponse{Messages: msgs})
}

// SendMessage persists a message and publishes it to the conversation room.
// POST /conversations/:id/messages
func (h *ConversationHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.messaging.SendMessage(c.Request.Context(), messaging.SendMessageInput{
		SenderID:       currentUserID(c),
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Type:           store.MessageType(req.Type),
	})
	if err != nil {
		respondError(c, h.log, err, "failed to send message")
		return
	}

	c.JSON(http.StatusCreated, MessageResponse{Message: msg})
}

// MarkRead marks messages read by the caller. An empty body marks the whole conversation.
// PUT /conversations/:id/read
func (h *ConversationHandlers) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug().Err(err).Msg("invalid mark read request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	n, err := h.messaging.MarkRead(c.Request.Context(), currentUserID(c), c.Param("id"), req.MessageIDs)
	if err != nil {
		respondError(c, h.log, err, "failed to mark messages read")
		return
	}

	c.JSON(http.StatusOK, MarkReadResponse{UpdatedCount: n})
}

// AddParticipant adds a user to a conversation the caller belongs to.
// POST /conversations/:id/participants
func (h *ConversationHandlers) AddParticipant(c *gin.Context) {
	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid add participant request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	conv, err := h.messaging.AddParticipant(c.Request.Context(), currentUserID(c), c.Param("id"), req.ParticipantID)
	if err != nil {
		respondError(c, h.log, err, "failed to add participant")
		return
	}

	c.JSON(http.StatusOK, ConversationResponse{Conversation: conv})
}
