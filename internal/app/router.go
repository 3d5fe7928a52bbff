// internal/app/router.go
package app

import (
	sessionHandler "mindwell-service/internal/handlers/session"
	subscriptionHandler "mindwell-service/internal/handlers/subscription"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	SessionHandler      *sessionHandler.SessionHandler
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "session_access"})
	})

	// ==================== Subscriptions ====================
	subscriptions := api.Group("/subscriptions")
	{
		subscriptions.POST("", h.SubscriptionHandler.CreateSubscription)
		subscriptions.POST("/redeem", h.SubscriptionHandler.RedeemAccessCode)
	}

	// ==================== Sessions ====================
	sessions := api.Group("/sessions")
	{
		sessions.POST("/:session_identifier/link", h.SessionHandler.LinkSession)
		sessions.POST("/:session_identifier/unlink", h.SessionHandler.UnlinkSession)
		sessions.GET("/:session_identifier/usage", h.SessionHandler.GetUsage)
		sessions.POST("/:session_identifier/messages", h.SessionHandler.RecordMessage)
	}
}
