package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

type harness struct {
	orch    *Orchestrator
	store   *ledger.Store
	shop    *fakeShop
	courier *fakeCourier
	fiscal  *fakeFiscal
}

func newHarness(t *testing.T, opts Options, orders ...*domain.Order) *harness {
	t.Helper()
	store := ledger.NewMemory()
	h := &harness{
		store:   store,
		shop:    newFakeShop(orders...),
		courier: &fakeCourier{},
		fiscal:  &fakeFiscal{store: store},
	}
	if opts.WatchEvery == 0 {
		opts.WatchEvery = time.Hour
	}
	h.orch = NewOrchestrator(store, h.shop, h.courier, h.fiscal, opts, zap.NewNop())
	t.Cleanup(h.orch.Shutdown)
	return h
}

func (h *harness) state(t *testing.T, id domain.OrderID) domain.ProcessingState {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec.State
}

func TestHandlePaid_RegistersPendingOnce(t *testing.T) {
	order := sampleOrder("5001", "")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	res, err := h.orch.HandlePaid(ctx, order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, domain.StatePendingConfirmation, res.State)
	assert.True(t, h.orch.Watching("5001"))

	res, err = h.orch.HandlePaid(ctx, order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)

	assert.Equal(t, 1, h.shop.tagUpdates, "pending tag applied once")
	assert.Equal(t, []string{domain.TagPendingConfirmation}, h.shop.tagAdds["5001"])
	assert.Zero(t, h.courier.calls.Load())
	assert.Zero(t, h.fiscal.issued.Load())
}

func TestHandlePaid_TagFailureIsNotFatal(t *testing.T) {
	order := sampleOrder("5002", "")
	h := newHarness(t, Options{}, order)
	h.shop.tagErr = stderrors.New("storefront down")

	res, err := h.orch.HandlePaid(context.Background(), order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingConfirmation, res.State)
}

func TestHandlePaid_ValidatesOrderID(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.orch.HandlePaid(context.Background(), &domain.Order{}, domain.TriggerWebhook)
	assert.True(t, errors.IsValidation(err))

	_, err = h.orch.HandleUpdated(context.Background(), nil, domain.TriggerWebhook)
	assert.True(t, errors.IsValidation(err))
}

func TestHandlePaid_AlreadyConfirmedProcessesImmediately(t *testing.T) {
	order := sampleOrder("5003", "confirmed")
	h := newHarness(t, Options{}, order)

	res, err := h.orch.HandlePaid(context.Background(), order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, domain.StateFulfilled, res.State)
	assert.Equal(t, "TRK-5003-1", res.TrackingNumber)
	assert.Equal(t, "R1", res.ReceiptID)
}

func TestConfirm_FullPipeline(t *testing.T) {
	order := sampleOrder("5004", "pending-confirmation, Confirmed")
	h := newHarness(t, Options{
		CourierCompany: "TransImpex Express",
		TrackingURL:    "https://track.test/%s",
	}, order)
	ctx := context.Background()

	_, err := h.store.RegisterPaid(ctx, "5004", domain.TriggerWebhook)
	require.NoError(t, err)

	res, err := h.orch.HandleUpdated(ctx, order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)

	require.Len(t, h.shop.fulfillments, 1)
	f := h.shop.fulfillments[0]
	assert.Equal(t, "TRK-5004-1", f.TrackingNumber)
	assert.Equal(t, "TransImpex Express", f.Company)
	assert.Equal(t, "https://track.test/TRK-5004-1", f.URL)
	assert.True(t, f.NotifyCustomer)

	assert.Equal(t, []string{"Fiscal receipt R1: https://receipts.test/R1"}, h.shop.notes["5004"])
	assert.Contains(t, h.shop.tagAdds["5004"], domain.TagFulfilled)

	rec, err := h.store.Get(ctx, "5004")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFulfilled, rec.State)
	assert.Equal(t, "R1", rec.ReceiptID)
	assert.Equal(t, "H1", rec.HistoryID)
	assert.NotNil(t, rec.FulfilledAt)

	again, err := h.orch.Confirm(ctx, "5004", domain.TriggerManual, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyFulfilled, again.Outcome)
	assert.EqualValues(t, 1, h.courier.calls.Load())
}

func TestConfirm_ConcurrentTriggersProcessOnce(t *testing.T) {
	order := sampleOrder("5005", "confirmed")
	h := newHarness(t, Options{}, order)
	h.courier.delay = 20 * time.Millisecond
	ctx := context.Background()

	_, err := h.store.RegisterPaid(ctx, "5005", domain.TriggerWebhook)
	require.NoError(t, err)

	triggers := []domain.Trigger{domain.TriggerWebhook, domain.TriggerPoll, domain.TriggerWatcher, domain.TriggerManual}
	var wg sync.WaitGroup
	outcomes := make([]Outcome, len(triggers)*4)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.Confirm(ctx, "5005", triggers[i%len(triggers)], false)
			if assert.NoError(t, err) {
				outcomes[i] = res.Outcome
			}
		}()
	}
	wg.Wait()

	fulfilled := 0
	for _, o := range outcomes {
		if o == OutcomeFulfilled {
			fulfilled++
		} else {
			assert.Contains(t, []Outcome{OutcomeAlreadyProcessing, OutcomeAlreadyFulfilled}, o)
		}
	}
	assert.Equal(t, 1, fulfilled)
	assert.EqualValues(t, 1, h.courier.calls.Load())
	assert.EqualValues(t, 1, h.fiscal.issued.Load())
	assert.Equal(t, 1, h.shop.fulfillmentCount())
}

func TestConfirm_ReceiptFailureIsBestEffort(t *testing.T) {
	order := sampleOrder("5006", "confirmed")
	h := newHarness(t, Options{}, order)
	h.fiscal.issueErr = &errors.ErrAuth{Message: "bad credentials"}

	res, err := h.orch.Confirm(context.Background(), "5006", domain.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Empty(t, res.ReceiptID)
	assert.Empty(t, h.shop.notes["5006"])

	rec, err := h.store.Get(context.Background(), "5006")
	require.NoError(t, err)
	assert.Contains(t, rec.ReceiptError, "bad credentials")
}

func TestConfirm_RequiredReceiptBlocksShipment(t *testing.T) {
	order := sampleOrder("5007", "confirmed")
	h := newHarness(t, Options{RequireReceipt: true}, order)
	h.fiscal.issueErr = &errors.ErrAuth{Message: "bad credentials"}

	_, err := h.orch.Confirm(context.Background(), "5007", domain.TriggerManual, false)
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))
	assert.Zero(t, h.courier.calls.Load())
	assert.Equal(t, domain.StateFailed, h.state(t, "5007"))
}

func TestConfirm_RequiredReceiptWithoutService(t *testing.T) {
	order := sampleOrder("5008", "confirmed")
	store := ledger.NewMemory()
	c := &fakeCourier{}
	orch := NewOrchestrator(store, newFakeShop(order), c, nil, Options{RequireReceipt: true}, zap.NewNop())
	t.Cleanup(orch.Shutdown)

	_, err := orch.Confirm(context.Background(), "5008", domain.TriggerManual, false)
	require.Error(t, err)
	assert.Zero(t, c.calls.Load())
}

func TestConfirm_NoFiscalServiceSkipsReceipt(t *testing.T) {
	order := sampleOrder("5009", "confirmed")
	store := ledger.NewMemory()
	shop := newFakeShop(order)
	orch := NewOrchestrator(store, shop, &fakeCourier{}, nil, Options{}, zap.NewNop())
	t.Cleanup(orch.Shutdown)

	res, err := orch.Confirm(context.Background(), "5009", domain.TriggerManual, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Empty(t, shop.notes["5009"])
}

func TestConfirm_FailedRetryReusesShipment(t *testing.T) {
	order := sampleOrder("5010", "confirmed")
	h := newHarness(t, Options{}, order)
	h.shop.fulfillErr = stderrors.New("storefront unavailable")
	ctx := context.Background()

	_, err := h.orch.Confirm(ctx, "5010", domain.TriggerWebhook, false)
	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, h.state(t, "5010"))

	// automatic triggers leave FAILED alone
	res, err := h.orch.Confirm(ctx, "5010", domain.TriggerPoll, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	h.shop.fulfillErr = nil
	res, err = h.orch.Confirm(ctx, "5010", domain.TriggerManual, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, "TRK-5010-1", res.TrackingNumber)

	assert.EqualValues(t, 1, h.courier.calls.Load(), "shipment created once")
	assert.EqualValues(t, 1, h.fiscal.issued.Load(), "receipt issued once")

	rec, err := h.store.Get(ctx, "5010")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
}

func TestConfirm_CourierFailureMarksFailed(t *testing.T) {
	order := sampleOrder("5011", "confirmed")
	h := newHarness(t, Options{}, order)
	h.courier.err = &errors.ErrDuplicateReference{Reference: "x", Attempts: 3}

	_, err := h.orch.Confirm(context.Background(), "5011", domain.TriggerManual, false)
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateReference(err))

	rec, err := h.store.Get(context.Background(), "5011")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Contains(t, rec.LastError, "create shipment")
	assert.Zero(t, h.shop.fulfillmentCount())
}

func TestConfirm_CancelledBeforeShipment(t *testing.T) {
	order := sampleOrder("5012", "confirmed")
	now := time.Now()
	order.CancelledAt = &now
	h := newHarness(t, Options{}, order)

	_, err := h.orch.Confirm(context.Background(), "5012", domain.TriggerManual, false)
	require.Error(t, err)
	assert.Zero(t, h.courier.calls.Load())
	assert.Equal(t, domain.StateCancelRequested, h.state(t, "5012"))
}

func TestCancel_UnshippedOrder(t *testing.T) {
	order := sampleOrder("5013", "")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	_, err := h.orch.HandlePaid(ctx, order, domain.TriggerWebhook)
	require.NoError(t, err)

	cancelled := *order
	cancelled.Tags = "cancelled"
	res, err := h.orch.HandleUpdated(ctx, &cancelled, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelRequested, res.Outcome)
	assert.Equal(t, domain.StateCancelRequested, res.State)
	assert.Contains(t, h.shop.tagAdds["5013"], domain.TagCancelled)
	assert.Zero(t, h.fiscal.reversed.Load())

	// a late confirmation does nothing
	res, err = h.orch.Confirm(ctx, "5013", domain.TriggerPoll, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelRequested, res.Outcome)
	assert.Zero(t, h.courier.calls.Load())
}

func TestCancel_RefundsFulfilledOrderOnce(t *testing.T) {
	order := sampleOrder("5014", "confirmed")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	_, err := h.orch.Confirm(ctx, "5014", domain.TriggerWebhook, false)
	require.NoError(t, err)

	res, err := h.orch.Cancel(ctx, "5014", nil, domain.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, res.Outcome)
	assert.Equal(t, domain.StateRefunded, res.State)
	assert.Contains(t, h.shop.tagAdds["5014"], domain.TagRefunded)
	assert.Contains(t, h.shop.notes["5014"], "Fiscal receipt REV-R1 reversed: https://receipts.test/REV-R1")

	receipt, err := h.store.GetReceiptRecord(ctx, "5014")
	require.NoError(t, err)
	assert.True(t, receipt.Reversed)

	res, err = h.orch.Cancel(ctx, "5014", nil, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyRefunded, res.Outcome)
	assert.EqualValues(t, 1, h.fiscal.reversed.Load())
}

func TestCancel_ConcurrentRefundsReverseOnce(t *testing.T) {
	order := sampleOrder("5015", "confirmed")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	_, err := h.orch.Confirm(ctx, "5015", domain.TriggerWebhook, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.Cancel(ctx, "5015", nil, domain.TriggerWebhook)
			if err != nil {
				assert.True(t, errors.IsConflict(err), "unexpected error: %v", err)
				return
			}
			assert.Contains(t, []Outcome{OutcomeRefunded, OutcomeAlreadyRefunded}, res.Outcome)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, h.fiscal.reversed.Load())
	assert.Equal(t, domain.StateRefunded, h.state(t, "5015"))
}

func TestCancel_FulfilledWithoutReceipt(t *testing.T) {
	order := sampleOrder("5016", "confirmed")
	h := newHarness(t, Options{}, order)
	h.fiscal.issueErr = stderrors.New("fiscal down")
	ctx := context.Background()

	_, err := h.orch.Confirm(ctx, "5016", domain.TriggerWebhook, false)
	require.NoError(t, err)

	_, err = h.orch.Cancel(ctx, "5016", nil, domain.TriggerWebhook)
	assert.True(t, errors.IsNoReceiptFound(err))
	assert.Equal(t, domain.StateFulfilled, h.state(t, "5016"))
}

func TestCancel_RefundFailureReleasesClaim(t *testing.T) {
	order := sampleOrder("5017", "confirmed")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	_, err := h.orch.Confirm(ctx, "5017", domain.TriggerWebhook, false)
	require.NoError(t, err)

	h.fiscal.reverseErr = stderrors.New("fiscal down")
	_, err = h.orch.Cancel(ctx, "5017", nil, domain.TriggerWebhook)
	require.Error(t, err)

	rec, err := h.store.Get(ctx, "5017")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelRequested, rec.State)
	assert.False(t, rec.RefundInFlight)

	h.fiscal.reverseErr = nil
	res, err := h.orch.Cancel(ctx, "5017", nil, domain.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, res.Outcome)
}

func TestCancel_DuringProcessingConflicts(t *testing.T) {
	order := sampleOrder("5018", "confirmed")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	_, won, err := h.store.TryBeginProcessing(ctx, "5018", domain.TriggerWebhook, false)
	require.NoError(t, err)
	require.True(t, won)

	_, err = h.orch.Cancel(ctx, "5018", nil, domain.TriggerWebhook)
	assert.True(t, errors.IsConflict(err))
}

func TestHandleUpdated_NoTagsIsNoAction(t *testing.T) {
	order := sampleOrder("5019", "vip")
	h := newHarness(t, Options{}, order)

	res, err := h.orch.HandleUpdated(context.Background(), order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoAction, res.Outcome)
	assert.Equal(t, domain.StateUnseen, res.State)
}

func TestHandlePaid_SettledOrderReportsItsState(t *testing.T) {
	order := sampleOrder("5021", "confirmed")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	_, err := h.orch.HandlePaid(ctx, order, domain.TriggerWebhook)
	require.NoError(t, err)

	replay := *order
	replay.Tags = ""
	res, err := h.orch.HandlePaid(ctx, &replay, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyFulfilled, res.Outcome)
	assert.Equal(t, domain.StateFulfilled, res.State)
	assert.False(t, h.orch.Watching("5021"))
}

func TestHandleUpdated_UnpaidConfirmationIsIgnored(t *testing.T) {
	order := sampleOrder("5022", "confirmed")
	order.FinancialStatus = "pending"
	h := newHarness(t, Options{}, order)

	res, err := h.orch.HandleUpdated(context.Background(), order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoAction, res.Outcome)
	assert.Equal(t, domain.StateUnseen, h.state(t, "5022"))
	assert.Zero(t, h.courier.calls.Load())
	assert.Zero(t, h.fiscal.issued.Load())
}

func TestHandleUpdated_PaidConfirmationRegistersFirst(t *testing.T) {
	order := sampleOrder("5023", "confirmed")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	res, err := h.orch.HandleUpdated(ctx, order, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)

	rec, err := h.store.Get(ctx, "5023")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rec.History), 2)
	assert.Equal(t, domain.StatePendingConfirmation, rec.History[0].To, "paid gate is recorded before processing")
	assert.Equal(t, domain.StateConfirmedProcessing, rec.History[1].To)
}

func TestConfirm_RunDeadlineMarksFailed(t *testing.T) {
	order := sampleOrder("5024", "confirmed")
	store := ledger.NewMemory()
	shop := newFakeShop(order)
	c := &stallingCourier{}
	c.stall.Store(true)
	orch := NewOrchestrator(store, shop, c, &fakeFiscal{store: store}, Options{
		WatchEvery:     time.Hour,
		ProcessTimeout: 50 * time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(orch.Shutdown)
	ctx := context.Background()

	_, err := orch.Confirm(ctx, "5024", domain.TriggerWebhook, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, err := store.Get(ctx, "5024")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State, "a timed-out run never stays in processing")
	assert.Contains(t, rec.LastError, "create shipment")

	receipt, err := store.GetReceiptRecord(ctx, "5024")
	require.NoError(t, err)
	require.NotNil(t, receipt, "receipt issued before the deadline is kept")

	c.stall.Store(false)
	res, err := orch.Confirm(ctx, "5024", domain.TriggerManual, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, receipt.ReceiptID, res.ReceiptID)
}

func TestConfirm_RunDeadlineAllowsCancellation(t *testing.T) {
	order := sampleOrder("5025", "confirmed")
	store := ledger.NewMemory()
	c := &stallingCourier{}
	c.stall.Store(true)
	orch := NewOrchestrator(store, newFakeShop(order), c, nil, Options{
		WatchEvery:     time.Hour,
		ProcessTimeout: 50 * time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(orch.Shutdown)
	ctx := context.Background()

	_, err := orch.Confirm(ctx, "5025", domain.TriggerWebhook, false)
	require.Error(t, err)

	res, err := orch.Cancel(ctx, "5025", nil, domain.TriggerWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelRequested, res.Outcome)
}

func TestCancel_RefundDeadlineReleasesClaim(t *testing.T) {
	order := sampleOrder("5026", "confirmed")
	h := newHarness(t, Options{ProcessTimeout: 50 * time.Millisecond}, order)
	ctx := context.Background()

	_, err := h.orch.Confirm(ctx, "5026", domain.TriggerWebhook, false)
	require.NoError(t, err)

	h.fiscal.stallReverse.Store(true)
	_, err = h.orch.Cancel(ctx, "5026", nil, domain.TriggerWebhook)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, err := h.store.Get(ctx, "5026")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelRequested, rec.State)
	assert.False(t, rec.RefundInFlight, "a timed-out reversal releases its claim")

	h.fiscal.stallReverse.Store(false)
	res, err := h.orch.Cancel(ctx, "5026", nil, domain.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, res.Outcome)
}

func TestStatus(t *testing.T) {
	order := sampleOrder("5020", "confirmed")
	h := newHarness(t, Options{}, order)
	ctx := context.Background()

	_, _, err := h.orch.Status(ctx, "5020")
	assert.True(t, errors.IsNotFound(err))

	_, err = h.orch.Confirm(ctx, "5020", domain.TriggerManual, false)
	require.NoError(t, err)

	rec, receipt, err := h.orch.Status(ctx, "5020")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFulfilled, rec.State)
	require.NotNil(t, receipt)
	assert.Equal(t, "R1", receipt.ReceiptID)
}
