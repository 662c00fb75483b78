package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/api/handlers"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/api/middleware"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/config"
)

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, pipeline handlers.Pipeline, webhooks middleware.WebhookLedger, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(customRecovery(logger))
	router.Use(loggingMiddleware(logger))

	// Root: friendly response so GET / returns 200 instead of 404
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "Shopify Order Relay",
			"endpoints": []string{
				"GET /health",
				"POST /webhooks/orders/paid",
				"POST /webhooks/orders/updated",
				"POST /webhooks/orders/cancelled",
				"POST /orders/process-confirmed",
				"POST /orders/:id/process",
				"POST /orders/:id/cancel",
				"GET /orders/pending",
				"GET /orders/:id",
			},
		})
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"fiscal_receipts": cfg.Fiscal.Enabled(),
			"receipt_policy":  receiptPolicy(cfg.RequireFiscalReceipt),
		})
	})

	if cfg.Shopify.WebhookSecret == "" {
		logger.Warn("SHOPIFY_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	// Shopify webhooks: signature check, then fingerprint reservation per topic
	hooks := router.Group("/webhooks/orders")
	hooks.Use(middleware.VerifyShopifyWebhook(cfg.Shopify.WebhookSecret, logger))
	{
		hooks.POST("/paid",
			middleware.WebhookDedupe(webhooks, handlers.TopicOrdersPaid, logger),
			handlers.HandleOrdersPaidWebhook(pipeline, logger))
		hooks.POST("/updated",
			middleware.WebhookDedupe(webhooks, handlers.TopicOrdersUpdated, logger),
			handlers.HandleOrdersUpdatedWebhook(pipeline, logger))
		hooks.POST("/cancelled",
			middleware.WebhookDedupe(webhooks, handlers.TopicOrdersCancelled, logger),
			handlers.HandleOrdersCancelledWebhook(pipeline, logger))
	}

	// Manual triggers and status (admin key required)
	orders := router.Group("/orders")
	orders.Use(middleware.AdminAuth(cfg.API.AdminKeyHash, logger))
	{
		orders.POST("/process-confirmed", handlers.HandleProcessConfirmed(pipeline, logger))
		orders.GET("/pending", handlers.HandleListPending(pipeline, logger))
		orders.POST("/:id/process", handlers.HandleProcessOrder(pipeline, logger))
		orders.POST("/:id/cancel", handlers.HandleCancelOrder(pipeline, logger))
		orders.GET("/:id", handlers.HandleGetOrder(pipeline, logger))
	}

	return router
}

func receiptPolicy(required bool) string {
	if required {
		return "required"
	}
	return "best-effort"
}

// customRecovery is a custom recovery middleware that logs panics
func customRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": fmt.Sprintf("internal server error: %v", recovered),
		})
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
		)
	}
}
