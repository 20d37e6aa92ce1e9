package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/neurolancer/backend/internal/config"
	"github.com/neurolancer/backend/internal/http/handlers"
	"github.com/neurolancer/backend/internal/http/middleware"
	"github.com/neurolancer/backend/internal/models"
)

// Handlers набор хэндлеров, которые подключает роутер.
type Handlers struct {
	Health        *handlers.HealthHandler
	Payments      *handlers.PaymentHandler
	Orders        *handlers.OrderHandler
	Withdrawals   *handlers.WithdrawalHandler
	Conversations *handlers.ConversationHandler
	Notifications *handlers.NotificationHandler
	Referrals     *handlers.ReferralHandler
	WS            *handlers.WSHandler
}

// SetupRouter собирает gin.Engine со всеми маршрутами /api.
func SetupRouter(cfg *config.Config, h Handlers, tokens middleware.TokenParser, limits limiter.Store) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.StaticFS("/media", http.Dir(cfg.MediaStoragePath))

	api := r.Group("/api")

	// Публичные маршруты
	api.GET("/ws", h.WS.Handle)
	api.POST("/payments/webhook",
		middleware.RateLimitMiddleware(limits, "webhook", 10*cfg.RateLimitLimit, cfg.RateLimitPeriod),
		h.Payments.Webhook)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))
	{
		sensitive := middleware.RateLimitMiddleware(limits, "money", cfg.RateLimitLimit, cfg.RateLimitPeriod)

		protected.POST("/payments/initialize", sensitive, h.Payments.Initialize)
		protected.GET("/payments/verify/:reference", h.Payments.Verify)
		protected.GET("/payments/balance", h.Payments.GetBalance)
		protected.GET("/payments/transactions", h.Payments.ListTransactions)

		protected.GET("/orders/my", h.Orders.ListMyOrders)
		protected.GET("/orders/:id", middleware.UUIDValidator("id"), h.Orders.GetOrder)
		protected.POST("/orders/:id/status", middleware.UUIDValidator("id"), h.Orders.UpdateStatus)
		protected.POST("/orders/:id/mark-paid", middleware.RequireRole(models.RoleAdmin), middleware.UUIDValidator("id"), h.Orders.MarkPaid)

		protected.GET("/withdrawals/banks", h.Withdrawals.ListBanks)
		protected.GET("/withdrawals/resolve", h.Withdrawals.ResolveAccount)
		protected.POST("/withdrawals", sensitive, h.Withdrawals.CreateWithdrawal)
		protected.GET("/withdrawals", h.Withdrawals.ListWithdrawals)
		protected.GET("/withdrawals/:id", middleware.UUIDValidator("id"), h.Withdrawals.GetWithdrawal)

		protected.POST("/conversations", h.Conversations.CreateGroup)
		protected.POST("/conversations/join/:code", h.Conversations.JoinByInvite)
		protected.GET("/conversations/:conversationId", middleware.UUIDValidator("conversationId"), h.Conversations.GetConversation)
		protected.POST("/conversations/:conversationId/join", middleware.UUIDValidator("conversationId"), h.Conversations.Join)
		protected.GET("/conversations/:conversationId/messages", middleware.UUIDValidator("conversationId"), h.Conversations.ListMessages)
		protected.POST("/conversations/:conversationId/messages", middleware.UUIDValidator("conversationId"), h.Conversations.SendMessage)
		protected.POST("/conversations/:conversationId/read", middleware.UUIDValidator("conversationId"), h.Conversations.MarkRead)
		protected.POST("/conversations/:conversationId/attachments", middleware.UUIDValidator("conversationId"), h.Conversations.UploadAttachment)

		protected.GET("/notifications", h.Notifications.ListNotifications)
		protected.GET("/notifications/unread-count", h.Notifications.CountUnread)
		protected.POST("/notifications/read-all", h.Notifications.MarkAllAsRead)
		protected.GET("/notifications/preferences", h.Notifications.ListPreferences)
		protected.PUT("/notifications/preferences", h.Notifications.UpdatePreference)
		protected.POST("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notifications.MarkAsRead)

		protected.GET("/referrals/me", h.Referrals.Me)
		protected.POST("/referrals/apply", h.Referrals.Apply)
	}

	return r
}
