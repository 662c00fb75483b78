package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/shopify"
)

const (
	TopicHeader = "X-Shopify-Topic"

	fingerprintKey    = "webhook_fingerprint"
	releaseWebhookKey = "webhook_release"
)

// WebhookLedger is the fingerprint half of the ledger
type WebhookLedger interface {
	MarkWebhookSeen(ctx context.Context, rec domain.WebhookRecord) (bool, error)
	ForgetWebhook(ctx context.Context, fingerprint string) error
}

// VerifyShopifyWebhook rejects deliveries whose X-Shopify-Hmac-Sha256 does not match the
// raw body. An empty secret disables verification.
func VerifyShopifyWebhook(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, ok := readBody(c, logger)
		if !ok {
			return
		}
		if !shopify.VerifyWebhook(secret, body, c.GetHeader(shopify.HMACHeader)) {
			logger.Warn("Rejected webhook with invalid signature",
				zap.String("path", c.Request.URL.Path),
				zap.String("topic", c.GetHeader(TopicHeader)),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid webhook signature"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// WebhookDedupe reserves the delivery fingerprint before the handler runs. A delivery that
// was already reserved is acknowledged with 200 and not processed again. Handlers call
// ReleaseWebhook on a retriable failure so the upstream retry is let through.
func WebhookDedupe(l WebhookLedger, topic string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := readBody(c, logger)
		if !ok {
			return
		}

		// reject malformed payloads before anything is reserved
		var head struct {
			ID domain.OrderID `json:"id"`
		}
		if err := json.Unmarshal(body, &head); err != nil || head.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "payload must be an order with an id"})
			c.Abort()
			return
		}

		fingerprint := ledger.Fingerprint(topic, body)
		ctx := c.Request.Context()
		marked, err := l.MarkWebhookSeen(ctx, domain.WebhookRecord{
			Fingerprint: fingerprint,
			Topic:       topic,
			OrderID:     head.ID,
		})
		if err != nil {
			logger.Error("Failed to reserve webhook fingerprint", zap.String("topic", topic), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "ledger unavailable"})
			c.Abort()
			return
		}
		if !marked {
			logger.Info("Duplicate webhook ignored",
				zap.String("topic", topic),
				zap.String("order_id", head.ID.String()),
			)
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook already processed"})
			c.Abort()
			return
		}

		c.Set(fingerprintKey, fingerprint)
		c.Next()

		if c.GetBool(releaseWebhookKey) {
			if err := l.ForgetWebhook(context.WithoutCancel(ctx), fingerprint); err != nil {
				logger.Error("Failed to release webhook fingerprint", zap.String("topic", topic), zap.Error(err))
			}
		}
	}
}

// ReleaseWebhook marks the current delivery's fingerprint for release once the handler returns
func ReleaseWebhook(c *gin.Context) {
	c.Set(releaseWebhookKey, true)
}

// GetWebhookFingerprint retrieves the reserved fingerprint from context
func GetWebhookFingerprint(c *gin.Context) (string, bool) {
	fp, exists := c.Get(fingerprintKey)
	if !exists {
		return "", false
	}
	s, ok := fp.(string)
	return s, ok
}

// readBody buffers the request body and restores it for the next handler
func readBody(c *gin.Context, logger *zap.Logger) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		logger.Error("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "failed to read body"})
		c.Abort()
		return nil, false
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	return body, true
}
