package routes

import (
	"net/http"
	"time"

	"shutterbook/handlers"
	"shutterbook/middleware"
	"shutterbook/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterReservationRoutes registers the reservation lifecycle endpoints.
func RegisterReservationRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/reservations")
	{
		api.POST("", hb.CreateReservation)
		api.GET("/:id", hb.GetReservation)
		api.GET("/:id/history", hb.GetSettlementHistory)
		api.POST("/:id/deposit", hb.CreateDeposit)

		// Cancellation is attributed to the calling party.
		protected := api.Group("")
		protected.Use(middleware.RequireActor())
		protected.POST("/:id/cancel", hb.CancelReservation)
	}
}

// RegisterUserRoutes registers per-user endpoints.
func RegisterUserRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/users")
	{
		api.Use(middleware.RequireActor())
		api.GET("/:id/notifications", hb.ListNotifications)
	}
}

// RegisterWebhookRoutes registers processor callbacks.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.POST("/api/webhooks/stripe", hb.StripeWebhook)
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, monitor *utils.HealthMonitor) {
	r.GET("/health", func(c *gin.Context) {
		if monitor == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dependencies": monitor.Status()})
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle, monitor *utils.HealthMonitor) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", middleware.ActorHeader, "Stripe-Signature"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterReservationRoutes(r, hb)
	RegisterUserRoutes(r, hb)
	RegisterWebhookRoutes(r, hb)
	RegisterHealthRoute(r, monitor)
}
