package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/courier"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/fiscal"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/resolver"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

// DefaultProcessTimeout bounds one confirmation or refund run once it is detached from its caller
const DefaultProcessTimeout = 3 * time.Minute

// Storefront is the storefront gateway the orchestrator writes back through
type Storefront interface {
	FetchOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	UpdateTags(ctx context.Context, id domain.OrderID, add, remove []string) error
	CreateFulfillment(ctx context.Context, id domain.OrderID, f domain.Fulfillment) error
	AppendOrderNote(ctx context.Context, id domain.OrderID, text string) error
}

// Courier creates shipments
type Courier interface {
	CreateShipment(ctx context.Context, req courier.ShipmentRequest) (*courier.Shipment, error)
}

// Fiscal issues and reverses receipts
type Fiscal interface {
	IssueReceipt(ctx context.Context, req fiscal.ReceiptRequest) (*domain.ReceiptRecord, error)
	ReverseReceipt(ctx context.Context, orderID domain.OrderID, items []domain.LineItem) (*domain.ReversalRecord, error)
}

// Options configures the orchestrator
type Options struct {
	// RequireReceipt aborts processing before shipment when no receipt could be issued
	RequireReceipt bool
	CourierCompany string
	// TrackingURL is a printf pattern with one %s for the tracking number
	TrackingURL  string
	WatchEvery   time.Duration
	WatchCeiling time.Duration
	// PollConcurrency bounds parallel order checks during a pending sweep
	PollConcurrency int
	ProcessTimeout  time.Duration
}

// Outcome summarizes what a trigger did to an order
type Outcome string

const (
	OutcomePending           Outcome = "pending_confirmation"
	OutcomeFulfilled         Outcome = "fulfilled"
	OutcomeAlreadyProcessing Outcome = "already_processing"
	OutcomeAlreadyFulfilled  Outcome = "already_fulfilled"
	OutcomeFailed            Outcome = "failed"
	OutcomeCancelRequested   Outcome = "cancel_requested"
	OutcomeRefunded          Outcome = "refunded"
	OutcomeAlreadyRefunded   Outcome = "already_refunded"
	OutcomeNoAction          Outcome = "no_action"
)

// Result reports the order state after a trigger ran
type Result struct {
	OrderID        domain.OrderID         `json:"order_id"`
	Outcome        Outcome                `json:"outcome"`
	State          domain.ProcessingState `json:"state"`
	TrackingNumber string                 `json:"tracking_number,omitempty"`
	ReceiptID      string                 `json:"receipt_id,omitempty"`
	ReceiptLink    string                 `json:"receipt_link,omitempty"`
	Message        string                 `json:"message"`
}

// Orchestrator drives orders through the confirmation-gated pipeline. Every trigger
// (webhook, poll, watcher, manual) funnels through the ledger's compare-and-swap.
type Orchestrator struct {
	ledger   ledger.Ledger
	shop     Storefront
	courier  Courier
	fiscal   Fiscal
	resolver *resolver.Resolver
	opts     Options
	logger   *zap.Logger

	// background watchers live until Shutdown
	baseCtx  context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	watchMu  sync.Mutex
	watching map[domain.OrderID]struct{}
	sweepMu  sync.Mutex
}

// NewOrchestrator wires the pipeline. fiscalClient may be nil when no receipt service is configured.
func NewOrchestrator(l ledger.Ledger, shop Storefront, courierClient Courier, fiscalClient Fiscal, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CourierCompany == "" {
		opts.CourierCompany = "TransImpex Express"
	}
	if opts.TrackingURL == "" {
		opts.TrackingURL = "https://transimpexexpress.am/tracking/%s"
	}
	if opts.WatchEvery <= 0 {
		opts.WatchEvery = 30 * time.Second
	}
	if opts.WatchCeiling <= 0 {
		opts.WatchCeiling = 30 * time.Minute
	}
	if opts.PollConcurrency <= 0 {
		opts.PollConcurrency = 4
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = DefaultProcessTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		ledger:   l,
		shop:     shop,
		courier:  courierClient,
		fiscal:   fiscalClient,
		resolver: resolver.New(logger),
		opts:     opts,
		logger:   logger,
		baseCtx:  ctx,
		stop:     cancel,
		watching: make(map[domain.OrderID]struct{}),
	}
}

// Shutdown cancels confirmation watchers and waits for them to exit
func (o *Orchestrator) Shutdown() {
	o.stop()
	o.wg.Wait()
}

func validateOrder(order *domain.Order) error {
	if order == nil || order.ID == "" {
		return &errors.ErrValidation{Message: "order id is required", Fields: map[string]string{"id": "required"}}
	}
	return nil
}

// HandlePaid registers a paid order as pending confirmation. An order that already
// carries the confirmation tag is processed immediately; otherwise a watcher waits for it.
func (o *Orchestrator) HandlePaid(ctx context.Context, order *domain.Order, trigger domain.Trigger) (*Result, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	if order.IsCancelled() {
		return o.Cancel(ctx, order.ID, order, trigger)
	}

	created, err := o.ledger.RegisterPaid(ctx, order.ID, trigger)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(zap.String("order_id", order.ID.String()), zap.String("trigger", string(trigger)))
	if created {
		logger.Info("Paid order registered, awaiting confirmation")
		if !order.HasTag(domain.TagPendingConfirmation) {
			if err := o.shop.UpdateTags(ctx, order.ID, []string{domain.TagPendingConfirmation}, nil); err != nil {
				logger.Warn("Failed to tag order as pending confirmation", zap.Error(err))
			}
		}
	}

	if order.IsConfirmed() {
		return o.Confirm(ctx, order.ID, trigger, false)
	}

	rec, err := o.ledger.Get(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if rec.State != domain.StatePendingConfirmation {
		return lostRace(rec), nil
	}
	o.Watch(order.ID)
	return resultFor(rec, OutcomePending, "Order is waiting for confirmation"), nil
}

// HandleUpdated reacts to tag changes: "confirmed" starts processing, a cancellation
// requests a refund. Anything else is a no-op. A confirmed order the relay never saw paid
// is registered first when the storefront reports it paid, and ignored otherwise.
func (o *Orchestrator) HandleUpdated(ctx context.Context, order *domain.Order, trigger domain.Trigger) (*Result, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	if order.IsCancelled() {
		return o.Cancel(ctx, order.ID, order, trigger)
	}

	rec, err := o.ledger.Get(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !order.IsConfirmed() {
		return resultFor(rec, OutcomeNoAction, "No confirmation or cancellation tag on order"), nil
	}
	if rec.State == domain.StateUnseen {
		if !order.IsPaid() {
			o.logger.Info("Ignoring confirmation of unpaid order",
				zap.String("order_id", order.ID.String()),
				zap.String("financial_status", order.FinancialStatus),
			)
			return resultFor(rec, OutcomeNoAction, "Order has not been paid"), nil
		}
		return o.HandlePaid(ctx, order, trigger)
	}
	return o.Confirm(ctx, order.ID, trigger, false)
}

// Confirm runs the pipeline for an order if this caller wins the compare-and-swap.
// allowRetry lets an explicit manual call resume a FAILED order.
func (o *Orchestrator) Confirm(ctx context.Context, id domain.OrderID, trigger domain.Trigger, allowRetry bool) (*Result, error) {
	rec, won, err := o.ledger.TryBeginProcessing(ctx, id, trigger, allowRetry)
	if err != nil {
		return nil, err
	}
	if !won {
		return lostRace(rec), nil
	}

	// the run must finish (or fail into FAILED) even if the caller goes away
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ProcessTimeout)
	defer cancel()
	return o.process(runCtx, rec, trigger)
}

func lostRace(rec *domain.ProcessingRecord) *Result {
	switch rec.State {
	case domain.StateConfirmedProcessing:
		return resultFor(rec, OutcomeAlreadyProcessing, "Order is already being processed")
	case domain.StateFulfilled:
		return resultFor(rec, OutcomeAlreadyFulfilled, "Order already fulfilled")
	case domain.StateRefunded:
		return resultFor(rec, OutcomeAlreadyRefunded, "Order already refunded")
	case domain.StateCancelRequested:
		return resultFor(rec, OutcomeCancelRequested, "Order was cancelled")
	case domain.StateFailed:
		return resultFor(rec, OutcomeFailed, "Order failed previously; retry it explicitly")
	default:
		return resultFor(rec, OutcomeNoAction, "Order cannot be processed in state "+string(rec.State))
	}
}

func (o *Orchestrator) process(ctx context.Context, rec *domain.ProcessingRecord, trigger domain.Trigger) (*Result, error) {
	id := rec.OrderID
	logger := o.logger.With(
		zap.String("order_id", id.String()),
		zap.String("trigger", string(trigger)),
		zap.Int("attempt", rec.Attempts),
	)
	logger.Info("Processing confirmed order")

	order, err := o.shop.FetchOrder(ctx, id)
	if err != nil {
		return o.fail(ctx, logger, id, fmt.Errorf("fetch order: %w", err))
	}
	if order.IsCancelled() {
		res, err := o.fail(ctx, logger, id, fmt.Errorf("order was cancelled before shipment"))
		commitCtx, done := ledger.CommitContext(ctx)
		defer done()
		if _, cancelErr := o.ledger.MarkCancelRequested(commitCtx, id, trigger); cancelErr != nil {
			logger.Error("Failed to mark cancelled order", zap.Error(cancelErr))
		}
		return res, err
	}

	profile := o.resolver.Resolve(order)

	receipt, err := o.issueReceipt(ctx, logger, order)
	if err != nil {
		return o.fail(ctx, logger, id, err)
	}

	tracking := rec.TrackingNumber
	if tracking != "" {
		logger.Info("Reusing recorded shipment", zap.String("tracking_number", tracking))
	} else {
		shipment, err := o.courier.CreateShipment(ctx, courier.ShipmentRequest{
			OrderID:     id,
			OrderNumber: order.DisplayNumber(),
			Profile:     profile,
			Items:       order.LineItems,
		})
		if err != nil {
			return o.fail(ctx, logger, id, fmt.Errorf("create shipment: %w", err))
		}
		tracking = shipment.TrackingNumber
		if err := o.recordShipment(ctx, id, shipment); err != nil {
			// the shipment exists at the courier; an operator must reconcile before any retry
			logger.Error("Shipment created but not recorded",
				zap.String("tracking_number", tracking),
				zap.String("reference", shipment.Reference),
				zap.Error(err),
			)
			return o.fail(ctx, logger, id, fmt.Errorf("record shipment %s: %w", tracking, err))
		}
	}

	err = o.shop.CreateFulfillment(ctx, id, domain.Fulfillment{
		TrackingNumber: tracking,
		Company:        o.opts.CourierCompany,
		URL:            fmt.Sprintf(o.opts.TrackingURL, tracking),
		NotifyCustomer: true,
	})
	if err != nil {
		return o.fail(ctx, logger, id, fmt.Errorf("write back fulfillment: %w", err))
	}

	receiptID := ""
	if receipt != nil && (receipt.ReceiptID != "" || receipt.Link != "") {
		receiptID = receipt.ReceiptID
		if err := o.shop.AppendOrderNote(ctx, id, receiptNote(receipt)); err != nil {
			return o.fail(ctx, logger, id, fmt.Errorf("write back receipt link: %w", err))
		}
	}

	if err := o.shop.UpdateTags(ctx, id, []string{domain.TagFulfilled}, []string{domain.TagPendingConfirmation}); err != nil {
		logger.Warn("Failed to update fulfillment tags", zap.Error(err))
	}

	commitCtx, done := ledger.CommitContext(ctx)
	defer done()
	if err := o.ledger.RecordFulfillment(commitCtx, id, tracking, receiptID); err != nil {
		logger.Error("Order fulfilled but ledger commit failed", zap.String("tracking_number", tracking), zap.Error(err))
		return nil, err
	}

	logger.Info("Order fulfilled",
		zap.String("tracking_number", tracking),
		zap.String("receipt_id", receiptID),
	)
	final, err := o.ledger.Get(commitCtx, id)
	if err != nil {
		return nil, err
	}
	return resultFor(final, OutcomeFulfilled, "Order fulfilled"), nil
}

// issueReceipt applies the receipt policy: a failure is fatal only when receipts are required
func (o *Orchestrator) issueReceipt(ctx context.Context, logger *zap.Logger, order *domain.Order) (*domain.ReceiptRecord, error) {
	if o.fiscal == nil {
		if o.opts.RequireReceipt {
			return nil, fmt.Errorf("fiscal receipt required but no receipt service is configured")
		}
		logger.Debug("Fiscal receipts disabled, skipping")
		return nil, nil
	}

	receipt, err := o.fiscal.IssueReceipt(ctx, fiscal.ReceiptRequest{
		OrderID:      order.ID,
		Items:        order.LineItems,
		Total:        order.TotalPrice,
		PaymentHints: order.PaymentHints(),
	})
	if err == nil {
		return receipt, nil
	}
	if o.opts.RequireReceipt || errors.IsLedgerUnavailable(err) {
		return nil, fmt.Errorf("issue fiscal receipt: %w", err)
	}

	logger.Warn("Fiscal receipt failed, continuing without receipt", zap.Bool("auth_error", errors.IsAuth(err)), zap.Error(err))
	commitCtx, done := ledger.CommitContext(ctx)
	defer done()
	if recErr := o.ledger.RecordReceiptError(commitCtx, order.ID, err); recErr != nil {
		return nil, recErr
	}
	return nil, nil
}

func receiptNote(r *domain.ReceiptRecord) string {
	switch {
	case r.Link == "":
		return fmt.Sprintf("Fiscal receipt %s", r.ReceiptID)
	case r.ReceiptID == "":
		return "Fiscal receipt: " + r.Link
	}
	return fmt.Sprintf("Fiscal receipt %s: %s", r.ReceiptID, r.Link)
}

func (o *Orchestrator) recordShipment(ctx context.Context, id domain.OrderID, shipment *courier.Shipment) error {
	commitCtx, done := ledger.CommitContext(ctx)
	defer done()
	return o.ledger.RecordShipment(commitCtx, id, shipment.Reference, shipment.TrackingNumber)
}

// fail records FAILED even when the run's own deadline caused the failure
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, id domain.OrderID, cause error) (*Result, error) {
	logger.Error("Order processing failed", zap.Error(cause))
	commitCtx, done := ledger.CommitContext(ctx)
	defer done()
	if err := o.ledger.RecordFailure(commitCtx, id, cause); err != nil {
		logger.Error("Failed to record processing failure", zap.Error(err))
		return nil, err
	}
	return nil, cause
}

// Cancel handles a storefront cancellation. Orders that never shipped are marked cancelled;
// shipped orders have their fiscal receipt reversed. order may be nil; it is fetched when
// line items are needed.
func (o *Orchestrator) Cancel(ctx context.Context, id domain.OrderID, order *domain.Order, trigger domain.Trigger) (*Result, error) {
	if id == "" {
		return nil, &errors.ErrValidation{Message: "order id is required"}
	}
	logger := o.logger.With(zap.String("order_id", id.String()), zap.String("trigger", string(trigger)))

	rec, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case domain.StateRefunded:
		return resultFor(rec, OutcomeAlreadyRefunded, "Order already refunded"), nil
	case domain.StateConfirmedProcessing:
		return nil, &errors.ErrConflict{Message: "order is being processed; retry the cancellation later"}
	case domain.StateUnseen, domain.StatePendingConfirmation:
		return o.cancelUnshipped(ctx, logger, id, trigger)
	}

	receipt, err := o.ledger.GetReceiptRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		switch rec.State {
		case domain.StateFailed:
			return o.cancelUnshipped(ctx, logger, id, trigger)
		case domain.StateCancelRequested:
			return resultFor(rec, OutcomeCancelRequested, "Order already cancelled"), nil
		}
		return nil, &errors.ErrNoReceiptFound{OrderID: id.String()}
	}
	return o.refund(ctx, logger, id, order, trigger)
}

func (o *Orchestrator) cancelUnshipped(ctx context.Context, logger *zap.Logger, id domain.OrderID, trigger domain.Trigger) (*Result, error) {
	changed, err := o.ledger.MarkCancelRequested(ctx, id, trigger)
	if err != nil {
		return nil, err
	}
	if changed {
		logger.Info("Order cancelled before shipment")
		if err := o.shop.UpdateTags(ctx, id, []string{domain.TagCancelled}, []string{domain.TagPendingConfirmation}); err != nil {
			logger.Warn("Failed to tag cancelled order", zap.Error(err))
		}
	}
	rec, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return resultFor(rec, OutcomeCancelRequested, "Order cancelled"), nil
}

func (o *Orchestrator) refund(ctx context.Context, logger *zap.Logger, id domain.OrderID, order *domain.Order, trigger domain.Trigger) (*Result, error) {
	if o.fiscal == nil {
		return nil, fmt.Errorf("order %s has a fiscal receipt but no receipt service is configured", id)
	}

	rec, won, err := o.ledger.BeginRefund(ctx, id, trigger)
	if err != nil {
		return nil, err
	}
	if !won {
		if rec.State == domain.StateRefunded {
			return resultFor(rec, OutcomeAlreadyRefunded, "Order already refunded"), nil
		}
		return nil, &errors.ErrConflict{Message: "refund already in progress"}
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ProcessTimeout)
	defer cancel()

	if order == nil || len(order.LineItems) == 0 {
		fetched, err := o.shop.FetchOrder(runCtx, id)
		if err != nil {
			return nil, o.refundFailed(runCtx, logger, id, fmt.Errorf("fetch order: %w", err))
		}
		order = fetched
	}

	reversal, err := o.fiscal.ReverseReceipt(runCtx, id, order.LineItems)
	if err != nil {
		return nil, o.refundFailed(runCtx, logger, id, err)
	}
	commitCtx, done := ledger.CommitContext(runCtx)
	defer done()
	if err := o.ledger.RecordRefund(commitCtx, id, *reversal); err != nil {
		logger.Error("Receipt reversed but ledger commit failed", zap.String("receipt_id", reversal.ReceiptID), zap.Error(err))
		return nil, err
	}
	logger.Info("Fiscal receipt reversed", zap.String("receipt_id", reversal.ReceiptID))

	note := fmt.Sprintf("Fiscal receipt %s reversed", reversal.ReceiptID)
	if reversal.Link != "" {
		note += ": " + reversal.Link
	}
	if err := o.shop.AppendOrderNote(runCtx, id, note); err != nil {
		logger.Warn("Failed to write refund note", zap.Error(err))
	}
	if err := o.shop.UpdateTags(runCtx, id, []string{domain.TagRefunded}, nil); err != nil {
		logger.Warn("Failed to tag refunded order", zap.Error(err))
	}

	final, err := o.ledger.Get(commitCtx, id)
	if err != nil {
		return nil, err
	}
	return resultFor(final, OutcomeRefunded, "Fiscal receipt reversed"), nil
}

func (o *Orchestrator) refundFailed(ctx context.Context, logger *zap.Logger, id domain.OrderID, cause error) error {
	logger.Error("Refund failed", zap.Error(cause))
	commitCtx, done := ledger.CommitContext(ctx)
	defer done()
	if err := o.ledger.RecordRefundFailure(commitCtx, id, cause); err != nil {
		logger.Error("Failed to release refund claim", zap.Error(err))
	}
	return cause
}

// Status returns the processing record and, when issued, its receipt
func (o *Orchestrator) Status(ctx context.Context, id domain.OrderID) (*domain.ProcessingRecord, *domain.ReceiptRecord, error) {
	rec, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.State == domain.StateUnseen {
		return nil, nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	receipt, err := o.ledger.GetReceiptRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, receipt, nil
}

// PendingOrders lists orders waiting for confirmation
func (o *Orchestrator) PendingOrders(ctx context.Context) ([]domain.OrderID, error) {
	recs, err := o.ledger.List(ctx, domain.StatePendingConfirmation)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.OrderID, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.OrderID)
	}
	return ids, nil
}

func resultFor(rec *domain.ProcessingRecord, outcome Outcome, message string) *Result {
	return &Result{
		OrderID:        rec.OrderID,
		Outcome:        outcome,
		State:          rec.State,
		TrackingNumber: rec.TrackingNumber,
		ReceiptID:      rec.ReceiptID,
		ReceiptLink:    rec.ReceiptLink,
		Message:        message,
	}
}
