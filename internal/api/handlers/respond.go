package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/service"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

// Pipeline is the orchestrator surface the handlers drive
type Pipeline interface {
	HandlePaid(ctx context.Context, order *domain.Order, trigger domain.Trigger) (*service.Result, error)
	HandleUpdated(ctx context.Context, order *domain.Order, trigger domain.Trigger) (*service.Result, error)
	Cancel(ctx context.Context, id domain.OrderID, order *domain.Order, trigger domain.Trigger) (*service.Result, error)
	Confirm(ctx context.Context, id domain.OrderID, trigger domain.Trigger, allowRetry bool) (*service.Result, error)
	SweepPending(ctx context.Context, trigger domain.Trigger) (*service.SweepResult, error)
	PendingOrders(ctx context.Context) ([]domain.OrderID, error)
	Status(ctx context.Context, id domain.OrderID) (*domain.ProcessingRecord, *domain.ReceiptRecord, error)
}

// statusForError maps the error taxonomy onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsConflict(err), errors.IsInvalidStateTransition(err):
		return http.StatusConflict
	case errors.IsNoReceiptFound(err), errors.IsNoReversalHandle(err):
		return http.StatusUnprocessableEntity
	case errors.IsLedgerUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// statusForOutcome reports a lost race as a conflict; every other outcome is a handled request
func statusForOutcome(o service.Outcome) int {
	if o == service.OutcomeAlreadyProcessing {
		return http.StatusConflict
	}
	return http.StatusOK
}

func succeeded(o service.Outcome) bool {
	return o != service.OutcomeAlreadyProcessing && o != service.OutcomeFailed
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"success": false, "message": err.Error()})
}

func respondResult(c *gin.Context, res *service.Result) {
	c.JSON(statusForOutcome(res.Outcome), gin.H{
		"success": succeeded(res.Outcome),
		"message": res.Message,
		"result":  res,
	})
}
