package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/caseflowhq/caseflow/internal/auth"
	"github.com/caseflowhq/caseflow/internal/handlers"
	"github.com/caseflowhq/caseflow/internal/middleware"
	"github.com/caseflowhq/caseflow/internal/realtime"
	"github.com/caseflowhq/caseflow/internal/services"
)

// Dependencies carries the wired services the router mounts. RateStore is
// optional; when nil an in-memory limiter is used.
type Dependencies struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Hub           *realtime.Hub
	Notifications *services.NotificationService
	Messages      *services.MessageService
	Preferences   *services.PreferenceService
	RateStore     middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers the
// delivery API routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}
	if deps.Notifications == nil || deps.Messages == nil || deps.Preferences == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Basic rate limiting: 300 requests/minute per IP+path
	r.Use(middleware.RateLimitWithStore(deps.RateStore, 300, time.Minute))

	// Health endpoint (public)
	r.GET("/health", handlers.Health(deps.DB))

	notificationHandler, err := handlers.NewNotificationHandler(deps.Notifications)
	if err != nil {
		return nil, err
	}
	messageHandler, err := handlers.NewMessageHandler(deps.Messages)
	if err != nil {
		return nil, err
	}
	preferenceHandler, err := handlers.NewPreferenceHandler(deps.Preferences)
	if err != nil {
		return nil, err
	}
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.JWT)

	// Websocket entry point; authenticates from the query token itself.
	r.GET("/ws", realtimeHandler.Stream)

	requireAuth := middleware.Auth(deps.JWT)

	api := r.Group("/api")
	api.Use(requireAuth)

	notifications := api.Group("/notifications")
	{
		notifications.POST("", notificationHandler.Publish)
		notifications.GET("/unread", notificationHandler.ListUnread)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/read_all", notificationHandler.MarkAllRead)
	}

	threads := api.Group("/threads")
	{
		threads.POST("", messageHandler.CreateThread)
		threads.POST("/:id/messages", messageHandler.SendMessage)
		threads.GET("/:id/messages", messageHandler.ListMessages)
		threads.POST("/:id/read_cursor", messageHandler.AdvanceReadCursor)
	}

	preferences := api.Group("/preferences")
	{
		preferences.GET("", preferenceHandler.List)
		preferences.PUT("", preferenceHandler.Update)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
