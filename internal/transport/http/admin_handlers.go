package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/auth"
	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/proto"
	"github.com/vovakirdan/courier/internal/service/notify"
)

const defaultBanMessage = "your account has been suspended"

// AdminHandlers exposes the notification fan-out to administrators.
type AdminHandlers struct {
	authService *auth.Service
	notify      *notify.Service
	registry    core.Registry
	log         *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(authService *auth.Service, notifier *notify.Service, registry core.Registry, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		authService: authService,
		notify:      notifier,
		registry:    registry,
		log:         logger,
	}
}

// NotificationRequest represents a system notification. An empty UserID targets everyone.
type NotificationRequest struct {
	Title   string `json:"title" binding:"required,max=200"`
	Message string `json:"message" binding:"required"`
	Type    string `json:"type"`
	UserID  string `json:"userId"`
}

// BanRequest carries the text shown to the banned user.
type BanRequest struct {
	Message string `json:"message"`
}

// ListingStatusRequest represents a moderation decision.
type ListingStatusRequest struct {
	OwnerID string `json:"ownerId" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

// NotificationResponse wraps the notification that was sent.
type NotificationResponse struct {
	Notification proto.SystemNotification `json:"notification"`
}

// BanResponse reports how many live connections were closed.
type BanResponse struct {
	Disconnected int `json:"disconnected"`
}

// ConnectionsResponse reports live websocket connections.
type ConnectionsResponse struct {
	Connections int `json:"connections"`
}

// SendNotification pushes a system_notification to one user or to everyone.
// POST /admin/notifications
func (h *AdminHandlers) SendNotification(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid notification request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	n := h.notify.SystemNotification(req.UserID, req.Title, req.Message, req.Type)
	h.log.Info().
		Str("admin_id", currentUserID(c)).
		Str("notification_id", n.ID).
		Str("audience", n.Audience).
		Msg("system notification sent")
	c.JSON(http.StatusAccepted, NotificationResponse{Notification: n})
}

// BanUser revokes every session, emits force_logout and closes live connections.
// POST /admin/users/:id/ban
func (h *AdminHandlers) BanUser(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug().Err(err).Msg("invalid ban request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Message == "" {
		req.Message = defaultBanMessage
	}
	userID := c.Param("id")

	// Connections are untouched until every session is gone.
	revoked, err := h.authService.RevokeUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err, "failed to revoke sessions")
		return
	}
	h.notify.ForceLogout(userID, req.Message)
	disconnected := h.notify.DisconnectUser(userID, "banned")

	h.log.Info().
		Str("admin_id", currentUserID(c)).
		Str("user_id", userID).
		Int("sessions", revoked).
		Int("disconnected", disconnected).
		Msg("user banned")
	c.JSON(http.StatusAccepted, BanResponse{Disconnected: disconnected})
}

// ListingStatus notifies a listing owner about a moderation decision.
// POST /admin/listings/:id/status
func (h *AdminHandlers) ListingStatus(c *gin.Context) {
	var req ListingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid listing status request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	h.notify.ListingStatusChanged(req.OwnerID, c.Param("id"), req.Status)
	c.Status(http.StatusAccepted)
}

// Connections reports the number of live websocket connections.
// GET /admin/connections
func (h *AdminHandlers) Connections(c *gin.Context) {
	c.JSON(http.StatusOK, ConnectionsResponse{Connections: h.registry.Count()})
}
