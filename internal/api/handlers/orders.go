package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

func orderIDParam(c *gin.Context) (domain.OrderID, bool) {
	id := domain.OrderID(strings.TrimSpace(c.Param("id")))
	if id == "" {
		respondError(c, &errors.ErrValidation{Message: "order id is required"})
		return "", false
	}
	return id, true
}

// HandleProcessOrder handles POST /orders/:id/process. This is the explicit retry path for a
// FAILED order and processes regardless of the confirmation tag.
func HandleProcessOrder(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderIDParam(c)
		if !ok {
			return
		}

		res, err := p.Confirm(c.Request.Context(), id, domain.TriggerManual, true)
		if err != nil {
			logger.Error("Manual processing failed", zap.String("order_id", id.String()), zap.Error(err))
			respondError(c, err)
			return
		}
		respondResult(c, res)
	}
}

// HandleProcessConfirmed handles POST /orders/process-confirmed: one sweep over pending orders
func HandleProcessConfirmed(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := p.SweepPending(c.Request.Context(), domain.TriggerManual)
		if err != nil {
			logger.Error("Pending sweep failed", zap.Error(err))
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"message":         "Pending orders checked",
			"processed_count": res.Processed,
			"cancelled_count": res.Cancelled,
			"remaining_count": res.Remaining,
			"error_count":     res.Errors,
		})
	}
}

// HandleCancelOrder handles POST /orders/:id/cancel
func HandleCancelOrder(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderIDParam(c)
		if !ok {
			return
		}

		res, err := p.Cancel(c.Request.Context(), id, nil, domain.TriggerManual)
		if err != nil {
			logger.Warn("Manual cancellation failed", zap.String("order_id", id.String()), zap.Error(err))
			respondError(c, err)
			return
		}
		respondResult(c, res)
	}
}

// HandleListPending handles GET /orders/pending
func HandleListPending(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := p.PendingOrders(c.Request.Context())
		if err != nil {
			logger.Error("Failed to list pending orders", zap.Error(err))
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"pending_orders": ids,
			"count":          len(ids),
		})
	}
}

// HandleGetOrder handles GET /orders/:id
func HandleGetOrder(p Pipeline, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderIDParam(c)
		if !ok {
			return
		}

		rec, receipt, err := p.Status(c.Request.Context(), id)
		if err != nil {
			if !errors.IsNotFound(err) {
				logger.Error("Failed to load order record", zap.String("order_id", id.String()), zap.Error(err))
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"record":  rec,
			"receipt": receipt,
		})
	}
}
