package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/api/middleware"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/service"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

// Shopify webhook topics handled by the relay
const (
	TopicOrdersPaid      = "orders/paid"
	TopicOrdersUpdated   = "orders/updated"
	TopicOrdersCancelled = "orders/cancelled"
)

type webhookAction func(c *gin.Context, order *domain.Order) (*service.Result, error)

// HandleOrdersPaidWebhook handles POST /webhooks/orders/paid
func HandleOrdersPaidWebhook(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return handleOrderWebhook(TopicOrdersPaid, logger, func(c *gin.Context, order *domain.Order) (*service.Result, error) {
		return p.HandlePaid(c.Request.Context(), order, domain.TriggerWebhook)
	})
}

// HandleOrdersUpdatedWebhook handles POST /webhooks/orders/updated. A "confirmed" tag starts
// processing; a cancellation tag requests the refund.
func HandleOrdersUpdatedWebhook(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return handleOrderWebhook(TopicOrdersUpdated, logger, func(c *gin.Context, order *domain.Order) (*service.Result, error) {
		return p.HandleUpdated(c.Request.Context(), order, domain.TriggerWebhook)
	})
}

// HandleOrdersCancelledWebhook handles POST /webhooks/orders/cancelled
func HandleOrdersCancelledWebhook(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return handleOrderWebhook(TopicOrdersCancelled, logger, func(c *gin.Context, order *domain.Order) (*service.Result, error) {
		return p.Cancel(c.Request.Context(), order.ID, order, domain.TriggerWebhook)
	})
}

// handleOrderWebhook runs after WebhookDedupe reserved the fingerprint. Genuine failures
// release it and answer with an error status so the storefront retries.
func handleOrderWebhook(topic string, logger *zap.Logger, action webhookAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		var order domain.Order
		if err := json.NewDecoder(c.Request.Body).Decode(&order); err != nil {
			middleware.ReleaseWebhook(c)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid JSON: " + err.Error()})
			return
		}

		logger := logger.With(zap.String("topic", topic), zap.String("order_id", order.ID.String()))
		if fp, ok := middleware.GetWebhookFingerprint(c); ok {
			logger = logger.With(zap.String("fingerprint", fp))
		}
		res, err := action(c, &order)
		if err != nil {
			switch {
			case errors.IsNoReceiptFound(err), errors.IsNoReversalHandle(err):
				// retrying cannot produce a receipt; acknowledge and keep the fingerprint
				logger.Warn("Webhook cannot be applied", zap.Error(err))
				c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
			default:
				logger.Error("Webhook processing failed", zap.Error(err))
				middleware.ReleaseWebhook(c)
				respondError(c, err)
			}
			return
		}

		logger.Info("Webhook processed", zap.String("outcome", string(res.Outcome)), zap.String("state", string(res.State)))
		if res.Outcome == service.OutcomeAlreadyProcessing {
			// another trigger owns the order; the delivery itself was handled
			c.JSON(http.StatusOK, gin.H{"success": true, "message": res.Message, "result": res})
			return
		}
		respondResult(c, res)
	}
}
