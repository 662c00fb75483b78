// Package ledger is the idempotency ledger: webhook fingerprints, per-order processing
// records and issued fiscal receipts.
//
// All state transitions run inside a single backend write transaction, which is the only
// serialization point between concurrent triggers (webhook, poll, manual). Callers must not
// hold anything across the slow network calls that follow a successful transition.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

// DefaultWebhookRetention bounds how long a fingerprint suppresses duplicates
const DefaultWebhookRetention = 72 * time.Hour

// CommitTimeout bounds a ledger write made on behalf of work that already happened remotely
const CommitTimeout = 10 * time.Second

// CommitContext detaches ctx from its caller's cancellation and deadline. Use it to record
// the outcome of a remote call: a shipment or receipt created just before a timeout must still
// reach the ledger, and a failed run must still leave CONFIRMED_PROCESSING.
func CommitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), CommitTimeout)
}

// Ledger defines the idempotency ledger operations used by the orchestrator and adapters
type Ledger interface {
	SeenWebhook(ctx context.Context, fingerprint string) (bool, error)
	MarkWebhookSeen(ctx context.Context, rec domain.WebhookRecord) (bool, error)
	ForgetWebhook(ctx context.Context, fingerprint string) error
	PruneWebhooks(ctx context.Context, olderThan time.Time) (int, error)

	Get(ctx context.Context, orderID domain.OrderID) (*domain.ProcessingRecord, error)
	List(ctx context.Context, states ...domain.ProcessingState) ([]*domain.ProcessingRecord, error)

	RegisterPaid(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger) (bool, error)
	TryBeginProcessing(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger, allowRetry bool) (*domain.ProcessingRecord, bool, error)
	RecordShipment(ctx context.Context, orderID domain.OrderID, reference, trackingNumber string) error
	RecordReceiptError(ctx context.Context, orderID domain.OrderID, cause error) error
	RecordFulfillment(ctx context.Context, orderID domain.OrderID, trackingNumber, receiptID string) error
	RecordFailure(ctx context.Context, orderID domain.OrderID, cause error) error
	IsAlreadyFulfilled(ctx context.Context, orderID domain.OrderID) (bool, error)

	MarkCancelRequested(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger) (bool, error)
	BeginRefund(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger) (*domain.ProcessingRecord, bool, error)
	RecordRefund(ctx context.Context, orderID domain.OrderID, reversal domain.ReversalRecord) error
	RecordRefundFailure(ctx context.Context, orderID domain.OrderID, cause error) error
	RecoverInterrupted(ctx context.Context, olderThan time.Time) ([]domain.OrderID, error)

	SaveReceiptRecord(ctx context.Context, rec domain.ReceiptRecord) (*domain.ReceiptRecord, bool, error)
	GetReceiptRecord(ctx context.Context, orderID domain.OrderID) (*domain.ReceiptRecord, error)

	Compact(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWebhookRetention sets how long a fingerprint counts as seen
func WithWebhookRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLogger attaches a logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store implements Ledger on top of a transactional backend (memory or BoltDB)
type Store struct {
	backend   backend
	now       func() time.Time
	retention time.Duration
	logger    *zap.Logger
}

func newStore(b backend, opts ...Option) *Store {
	s := &Store{
		backend:   b,
		now:       time.Now,
		retention: DefaultWebhookRetention,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) clock() time.Time { return s.now().UTC() }

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.close()
}

// unavailable wraps backend/corruption failures so they can never be mistaken for "not seen"
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *errors.ErrInvalidStateTransition, *errors.ErrNotFound, *errors.ErrLedgerUnavailable:
		return err
	}
	return &errors.ErrLedgerUnavailable{Op: op, Err: err}
}

func (s *Store) view(ctx context.Context, op string, fn func(tx txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return unavailable(op, s.backend.view(fn))
}

func (s *Store) update(ctx context.Context, op string, fn func(tx txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return unavailable(op, s.backend.update(fn))
}

// SeenWebhook reports whether the fingerprint was handled within the retention window
func (s *Store) SeenWebhook(ctx context.Context, fingerprint string) (bool, error) {
	seen := false
	err := s.view(ctx, "seen_webhook", func(tx txn) error {
		rec, err := tx.webhook(fingerprint)
		if err != nil {
			return err
		}
		seen = rec != nil && s.fresh(rec)
		return nil
	})
	return seen, err
}

// MarkWebhookSeen atomically reserves the fingerprint. It returns false when the
// fingerprint was already reserved, so exactly one delivery proceeds.
func (s *Store) MarkWebhookSeen(ctx context.Context, rec domain.WebhookRecord) (bool, error) {
	marked := false
	err := s.update(ctx, "mark_webhook_seen", func(tx txn) error {
		existing, err := tx.webhook(rec.Fingerprint)
		if err != nil {
			return err
		}
		if existing != nil && s.fresh(existing) {
			return nil
		}
		rec.SeenAt = s.clock()
		marked = true
		return tx.putWebhook(&rec)
	})
	return marked, err
}

// ForgetWebhook releases a reservation so the upstream retry of a failed delivery is processed
func (s *Store) ForgetWebhook(ctx context.Context, fingerprint string) error {
	return s.update(ctx, "forget_webhook", func(tx txn) error {
		return tx.deleteWebhook(fingerprint)
	})
}

// PruneWebhooks removes fingerprints seen before olderThan
func (s *Store) PruneWebhooks(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	err := s.update(ctx, "prune_webhooks", func(tx txn) error {
		var stale []string
		if err := tx.forEachWebhook(func(rec *domain.WebhookRecord) error {
			if rec.SeenAt.Before(olderThan) {
				stale = append(stale, rec.Fingerprint)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, fp := range stale {
			if err := tx.deleteWebhook(fp); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *Store) fresh(rec *domain.WebhookRecord) bool {
	return s.clock().Sub(rec.SeenAt) < s.retention
}

// Get returns the processing record, or an UNSEEN placeholder when none exists
func (s *Store) Get(ctx context.Context, orderID domain.OrderID) (*domain.ProcessingRecord, error) {
	var out *domain.ProcessingRecord
	err := s.view(ctx, "get", func(tx txn) error {
		rec, err := tx.record(orderID)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &domain.ProcessingRecord{OrderID: orderID, State: domain.StateUnseen}
	}
	return out, nil
}

// List returns records in the given states (all records when no state is given)
func (s *Store) List(ctx context.Context, states ...domain.ProcessingState) ([]*domain.ProcessingRecord, error) {
	want := make(map[domain.ProcessingState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	out := []*domain.ProcessingRecord{}
	err := s.view(ctx, "list", func(tx txn) error {
		return tx.forEachRecord(func(rec *domain.ProcessingRecord) error {
			if len(want) == 0 || want[rec.State] {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutateFn inspects the current record (State UNSEEN when absent) and returns whether to persist it
type mutateFn func(rec *domain.ProcessingRecord, exists bool) (bool, error)

func (s *Store) mutate(ctx context.Context, op string, orderID domain.OrderID, fn mutateFn) (*domain.ProcessingRecord, bool, error) {
	var out *domain.ProcessingRecord
	changed := false
	err := s.update(ctx, op, func(tx txn) error {
		rec, err := tx.record(orderID)
		if err != nil {
			return err
		}
		exists := rec != nil
		if !exists {
			now := s.clock()
			rec = &domain.ProcessingRecord{OrderID: orderID, State: domain.StateUnseen, CreatedAt: now, UpdatedAt: now}
		}
		changed, err = fn(rec, exists)
		if err != nil {
			return err
		}
		out = rec
		if !changed {
			return nil
		}
		rec.UpdatedAt = s.clock()
		return tx.putRecord(rec)
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// transition moves rec to next and appends an audit entry
func (s *Store) transition(rec *domain.ProcessingRecord, next domain.ProcessingState, trigger domain.Trigger, note string) error {
	if rec.State != next && !rec.State.CanTransitionTo(next) {
		return &errors.ErrInvalidStateTransition{From: rec.State, To: next}
	}
	rec.History = append(rec.History, domain.HistoryEntry{
		ID:      uuid.NewString(),
		From:    rec.State,
		To:      next,
		Trigger: trigger,
		Note:    note,
		At:      s.clock(),
	})
	rec.State = next
	if trigger != "" {
		rec.LastTrigger = trigger
	}
	return nil
}

func in(state domain.ProcessingState, allowed ...domain.ProcessingState) bool {
	for _, a := range allowed {
		if state == a {
			return true
		}
	}
	return false
}

// RegisterPaid creates the record in PENDING_CONFIRMATION. False when a record already exists.
func (s *Store) RegisterPaid(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger) (bool, error) {
	_, created, err := s.mutate(ctx, "register_paid", orderID, func(rec *domain.ProcessingRecord, exists bool) (bool, error) {
		if exists {
			return false, nil
		}
		return true, s.transition(rec, domain.StatePendingConfirmation, trigger, "paid")
	})
	return created, err
}

// TryBeginProcessing is the compare-and-swap into CONFIRMED_PROCESSING. Only UNSEEN and
// PENDING_CONFIRMATION qualify, plus FAILED when allowRetry is set for an explicit retry.
// Exactly one concurrent caller observes true.
func (s *Store) TryBeginProcessing(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger, allowRetry bool) (*domain.ProcessingRecord, bool, error) {
	return s.mutate(ctx, "try_begin_processing", orderID, func(rec *domain.ProcessingRecord, _ bool) (bool, error) {
		allowed := []domain.ProcessingState{domain.StateUnseen, domain.StatePendingConfirmation}
		if allowRetry {
			allowed = append(allowed, domain.StateFailed)
		}
		if !in(rec.State, allowed...) {
			return false, nil
		}
		rec.Attempts++
		return true, s.transition(rec, domain.StateConfirmedProcessing, trigger, fmt.Sprintf("attempt %d", rec.Attempts))
	})
}

func (s *Store) requireState(rec *domain.ProcessingRecord, want domain.ProcessingState, next domain.ProcessingState) error {
	if rec.State != want {
		return &errors.ErrInvalidStateTransition{From: rec.State, To: next}
	}
	return nil
}

// RecordShipment commits the courier tracking ID as soon as the shipment exists, so a
// retry after a failed write-back never creates a second shipment.
func (s *Store) RecordShipment(ctx context.Context, orderID domain.OrderID, reference, trackingNumber string) error {
	_, _, err := s.mutate(ctx, "record_shipment", orderID, func(rec *domain.ProcessingRecord, _ bool) (bool, error) {
		if err := s.requireState(rec, domain.StateConfirmedProcessing, domain.StateConfirmedProcessing); err != nil {
			return false, err
		}
		rec.ShipmentRef = reference
		rec.TrackingNumber = trackingNumber
		rec.ShipmentAttempts++
		return true, s.transition(rec, domain.StateConfirmedProcessing, "", "shipment "+trackingNumber)
	})
	return err
}

// RecordReceiptError notes a best-effort receipt failure without changing state
func (s *Store) RecordReceiptError(ctx context.Context, orderID domain.OrderID, cause error) error {
	_, _, err := s.mutate(ctx, "record_receipt_error", orderID, func(rec *domain.ProcessingRecord, exists bool) (bool, error) {
		if !exists {
			return false, &errors.ErrNotFound{Resource: "processing record", ID: orderID.String()}
		}
		rec.ReceiptError = errString(cause)
		return true, nil
	})
	return err
}

// RecordFulfillment commits CONFIRMED_PROCESSING -> FULFILLED
func (s *Store) RecordFulfillment(ctx context.Context, orderID domain.OrderID, trackingNumber, receiptID string) error {
	_, _, err := s.mutate(ctx, "record_fulfillment", orderID, func(rec *domain.ProcessingRecord, _ bool) (bool, error) {
		if err := s.requireState(rec, domain.StateConfirmedProcessing, domain.StateFulfilled); err != nil {
			return false, err
		}
		if trackingNumber != "" {
			rec.TrackingNumber = trackingNumber
		}
		if receiptID != "" {
			rec.ReceiptID = receiptID
		}
		now := s.clock()
		rec.FulfilledAt = &now
		rec.LastError = ""
		return true, s.transition(rec, domain.StateFulfilled, "", "tracking "+rec.TrackingNumber)
	})
	return err
}

// RecordFailure moves CONFIRMED_PROCESSING -> FAILED, keeping shipment and receipt identifiers
func (s *Store) RecordFailure(ctx context.Context, orderID domain.OrderID, cause error) error {
	_, _, err := s.mutate(ctx, "record_failure", orderID, func(rec *domain.ProcessingRecord, _ bool) (bool, error) {
		if err := s.requireState(rec, domain.StateConfirmedProcessing, domain.StateFailed); err != nil {
			return false, err
		}
		rec.LastError = errString(cause)
		return true, s.transition(rec, domain.StateFailed, "", rec.LastError)
	})
	return err
}

// IsAlreadyFulfilled reports whether a shipment was written back for the order
func (s *Store) IsAlreadyFulfilled(ctx context.Context, orderID domain.OrderID) (bool, error) {
	rec, err := s.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	switch rec.State {
	case domain.StateFulfilled, domain.StateRefunded:
		return true, nil
	case domain.StateCancelRequested:
		return rec.FulfilledAt != nil, nil
	default:
		return false, nil
	}
}

// MarkCancelRequested cancels an order that never shipped. False when the order is
// processing, fulfilled or already cancelled.
func (s *Store) MarkCancelRequested(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger) (bool, error) {
	_, changed, err := s.mutate(ctx, "mark_cancel_requested", orderID, func(rec *domain.ProcessingRecord, _ bool) (bool, error) {
		if !in(rec.State, domain.StateUnseen, domain.StatePendingConfirmation, domain.StateFailed) {
			return false, nil
		}
		return true, s.transition(rec, domain.StateCancelRequested, trigger, "cancelled before shipment")
	})
	return changed, err
}

// BeginRefund claims the reversal of a shipped (or failed-after-receipt) order. Only one
// caller may hold the claim; a failed reversal releases it for an explicit retry.
func (s *Store) BeginRefund(ctx context.Context, orderID domain.OrderID, trigger domain.Trigger) (*domain.ProcessingRecord, bool, error) {
	return s.mutate(ctx, "begin_refund", orderID, func(rec *domain.ProcessingRecord, _ bool) (bool, error) {
		if rec.RefundInFlight || !in(rec.State, domain.StateFulfilled, domain.StateFailed, domain.StateCancelRequested) {
			return false, nil
		}
		rec.RefundInFlight = true
		rec.RefundAttempts++
		return true, s.transition(rec, domain.StateCancelRequested, trigger, fmt.Sprintf("refund attempt %d", rec.RefundAttempts))
	})
}

// RecordRefund commits CANCEL_REQUESTED -> REFUNDED and flags the receipt as reversed
func (s *Store) RecordRefund(ctx context.Context, orderID domain.OrderID, reversal domain.ReversalRecord) error {
	return s.update(ctx, "record_refund", func(tx txn) error {
		rec, err := tx.record(orderID)
		if err != nil {
			return err
		}
		if rec == nil {
			return &errors.ErrNotFound{Resource: "processing record", ID: orderID.String()}
		}
		if !rec.RefundInFlight {
			return &errors.ErrInvalidStateTransition{From: rec.State, To: domain.StateRefunded}
		}
		if err := s.requireState(rec, domain.StateCancelRequested, domain.StateRefunded); err != nil {
			return err
		}
		now := s.clock()
		rec.RefundInFlight = false
		rec.RefundedAt = &now
		rec.ReversalLink = reversal.Link
		rec.LastError = ""
		if err := s.transition(rec, domain.StateRefunded, "", "receipt reversed"); err != nil {
			return err
		}
		rec.UpdatedAt = now
		if err := tx.putRecord(rec); err != nil {
			return err
		}

		receipt, err := tx.receipt(orderID)
		if err != nil {
			return err
		}
		if receipt != nil {
			receipt.Reversed = true
			receipt.ReversedAt = &now
			return tx.putReceipt(receipt)
		}
		return nil
	})
}

// RecordRefundFailure releases the refund claim and stores the cause
func (s *Store) RecordRefundFailure(ctx context.Context, orderID domain.OrderID, cause error) error {
	_, _, err := s.mutate(ctx, "record_refund_failure", orderID, func(rec *domain.ProcessingRecord, exists bool) (bool, error) {
		if !exists || !rec.RefundInFlight {
			return false, nil
		}
		rec.RefundInFlight = false
		rec.LastError = errString(cause)
		return true, nil
	})
	return err
}

// RecoverInterrupted releases work abandoned by a crashed or timed-out run: records stuck in
// CONFIRMED_PROCESSING move to FAILED (retryable explicitly) and stale refund claims are dropped.
// Only records last updated before olderThan are touched, so a live run is left alone.
func (s *Store) RecoverInterrupted(ctx context.Context, olderThan time.Time) ([]domain.OrderID, error) {
	var recovered []domain.OrderID
	err := s.update(ctx, "recover_interrupted", func(tx txn) error {
		var stuck []*domain.ProcessingRecord
		if err := tx.forEachRecord(func(rec *domain.ProcessingRecord) error {
			if !rec.UpdatedAt.Before(olderThan) {
				return nil
			}
			if rec.State == domain.StateConfirmedProcessing || rec.RefundInFlight {
				stuck = append(stuck, rec)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, rec := range stuck {
			if rec.RefundInFlight {
				rec.RefundInFlight = false
				rec.LastError = "refund interrupted"
			}
			if rec.State == domain.StateConfirmedProcessing {
				rec.LastError = "processing interrupted"
				if err := s.transition(rec, domain.StateFailed, "", rec.LastError); err != nil {
					return err
				}
			}
			rec.UpdatedAt = s.clock()
			if err := tx.putRecord(rec); err != nil {
				return err
			}
			recovered = append(recovered, rec.OrderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(recovered) > 0 {
		s.logger.Warn("Recovered interrupted orders", zap.Int("orders", len(recovered)))
	}
	return recovered, nil
}

// SaveReceiptRecord persists a receipt once per order and mirrors its identifiers onto the
// processing record. A second save returns the stored receipt unchanged.
func (s *Store) SaveReceiptRecord(ctx context.Context, receipt domain.ReceiptRecord) (*domain.ReceiptRecord, bool, error) {
	var out *domain.ReceiptRecord
	created := false
	err := s.update(ctx, "save_receipt", func(tx txn) error {
		existing, err := tx.receipt(receipt.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		if receipt.IssuedAt.IsZero() {
			receipt.IssuedAt = s.clock()
		}
		if err := tx.putReceipt(&receipt); err != nil {
			return err
		}
		created = true
		out = &receipt

		rec, err := tx.record(receipt.OrderID)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		rec.ReceiptID = receipt.ReceiptID
		rec.HistoryID = receipt.HistoryID
		rec.ReceiptLink = receipt.Link
		rec.ReceiptError = ""
		rec.UpdatedAt = s.clock()
		return tx.putRecord(rec)
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GetReceiptRecord returns the stored receipt, or nil when none was issued
func (s *Store) GetReceiptRecord(ctx context.Context, orderID domain.OrderID) (*domain.ReceiptRecord, error) {
	var out *domain.ReceiptRecord
	err := s.view(ctx, "get_receipt", func(tx txn) error {
		rec, err := tx.receipt(orderID)
		out = rec
		return err
	})
	return out, err
}

// Compact shrinks FULFILLED/REFUNDED records last updated before olderThan: history keeps
// its first and last entries, refunded receipts drop their raw response. Identifiers stay.
func (s *Store) Compact(ctx context.Context, olderThan time.Time) (int, error) {
	compacted := 0
	err := s.update(ctx, "compact", func(tx txn) error {
		var targets []*domain.ProcessingRecord
		if err := tx.forEachRecord(func(rec *domain.ProcessingRecord) error {
			if rec.CompactedAt == nil &&
				in(rec.State, domain.StateFulfilled, domain.StateRefunded) &&
				rec.UpdatedAt.Before(olderThan) {
				targets = append(targets, rec)
			}
			return nil
		}); err != nil {
			return err
		}

		now := s.clock()
		for _, rec := range targets {
			if n := len(rec.History); n > 2 {
				rec.History = []domain.HistoryEntry{rec.History[0], rec.History[n-1]}
			}
			rec.CompactedAt = &now
			if err := tx.putRecord(rec); err != nil {
				return err
			}
			if rec.State != domain.StateRefunded {
				continue
			}
			receipt, err := tx.receipt(rec.OrderID)
			if err != nil {
				return err
			}
			if receipt != nil && len(receipt.RawResponse) > 0 {
				receipt.RawResponse = nil
				if err := tx.putReceipt(receipt); err != nil {
					return err
				}
			}
		}
		compacted = len(targets)
		return nil
	})
	if err == nil && compacted > 0 {
		s.logger.Info("Compacted ledger records", zap.Int("records", compacted))
	}
	return compacted, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
