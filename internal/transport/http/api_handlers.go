package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/auth"
	"github.com/vovakirdan/courier/internal/config"
	"github.com/vovakirdan/courier/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal errors are logged and hidden.
func respondError(c *gin.Context, logger *zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	logger.Debug().Err(err).Int("status", status).Msg(msg)
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// APIHandlers serves the session endpoints.
type APIHandlers struct {
	authService *auth.Service
	session     config.SessionConfig
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, session config.SessionConfig, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		session:     session,
		log:         logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse represents the authenticated user in API responses.
type UserResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// LoginResponse carries the user and the session token for non-cookie clients.
type LoginResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// MeResponse wraps the current user.
type MeResponse struct {
	User UserResponse `json:"user"`
}

// Login handles user login.
// POST /auth/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, h.log, err, "failed to login user")
		return
	}

	h.setSessionCookie(c, token, int(h.session.TTL.Seconds()))
	c.JSON(http.StatusOK, LoginResponse{
		User: UserResponse{
			ID:          user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			Role:        string(user.Role),
		},
		Token: token,
	})
}

// Logout deletes the caller's session.
// POST /auth/logout
func (h *APIHandlers) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), sessionToken(c.Request, h.session.CookieName)); err != nil {
		respondError(c, h.log, err, "failed to logout")
		return
	}
	h.setSessionCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

// Me returns the authenticated user.
// GET /auth/me
func (h *APIHandlers) Me(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, MeResponse{User: UserResponse{
		ID:          identity.UserID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
	}})
}

func (h *APIHandlers) setSessionCookie(c *gin.Context, value string, maxAge int) {
	if h.session.CookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.session.CookieName, value, maxAge, "/", "", h.session.CookieSecure, true)
}
