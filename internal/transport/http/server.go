package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/auth"
	"github.com/vovakirdan/courier/internal/config"
	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/service/messaging"
	"github.com/vovakirdan/courier/internal/service/notify"
	"github.com/vovakirdan/courier/internal/service/presence"
)

// Services groups what the transport layer dispatches to.
type Services struct {
	Auth      *auth.Service
	Messaging *messaging.Service
	Presence  *presence.Service
	Notify    *notify.Service
	Registry  core.Registry
}

// NewServer builds the HTTP server with REST, admin and websocket routes.
func NewServer(svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(svc, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine. Split out so tests can mount it on httptest.
func NewRouter(svc Services, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(svc.Auth, cfg.Session, logger)
	convHandlers := NewConversationHandlers(svc.Messaging, logger)
	adminHandlers := NewAdminHandlers(svc.Auth, svc.Notify, svc.Registry, logger)
	requireSession := SessionMiddleware(svc.Auth, cfg.Session.CookieName, logger)

	authGroup := router.Group("/auth")
	authGroup.POST("/login", apiHandlers.Login)
	authGroup.POST("/logout", apiHandlers.Logout)
	authGroup.GET("/me", requireSession, apiHandlers.Me)

	conversations := router.Group("/conversations", requireSession)
	conversations.POST("", convHandlers.CreateConversation)
	conversations.GET("", convHandlers.ListConversations)
	conversations.GET("/:id", convHandlers.GetConversation)
	conversations.GET("/:id/messages", convHandlers.ListMessages)
	conversations.POST("/:id/messages", convHandlers.SendMessage)
	conversations.PUT("/:id/read", convHandlers.MarkRead)
	conversations.POST("/:id/participants", convHandlers.AddParticipant)

	admin := router.Group("/admin", requireSession, AdminOnly(logger))
	admin.POST("/notifications", adminHandlers.SendNotification)
	admin.POST("/users/:id/ban", adminHandlers.BanUser)
	admin.POST("/listings/:id/status", adminHandlers.ListingStatus)
	admin.GET("/connections", adminHandlers.Connections)

	ws := NewWSHandler(svc, cfg.Session.CookieName, cfg.Realtime, logger)
	router.GET("/ws", gin.WrapH(ws))

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
