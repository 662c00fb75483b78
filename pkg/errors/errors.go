package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
)

// ErrNotFound is returned when a resource is not found
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when authentication fails
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict is returned when another caller already owns the order or the order is past the requested step
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "conflict"
}

// ErrValidation is returned when an inbound payload is malformed. No state is mutated.
type ErrValidation struct {
	Message string
	Fields  map[string]string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// ErrInvalidStateTransition is returned when an invalid state transition is attempted
type ErrInvalidStateTransition struct {
	From domain.ProcessingState
	To   domain.ProcessingState
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// ErrTransientNetwork wraps timeouts, connection failures, 429 and 5xx responses.
// Callers may retry with backoff.
type ErrTransientNetwork struct {
	Op     string
	Status int
	Err    error
}

func (e *ErrTransientNetwork) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *ErrTransientNetwork) Unwrap() error { return e.Err }

// ErrAuth is returned when the fiscal receipt service rejects the credentials or cannot be reached for login.
type ErrAuth struct {
	Message string
	Err     error
}

func (e *ErrAuth) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "fiscal service authentication failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ErrAuth) Unwrap() error { return e.Err }

// ErrCourier is returned for non-success courier responses.
type ErrCourier struct {
	Status int
	Body   string
}

func (e *ErrCourier) Error() string {
	return fmt.Sprintf("courier API error: status %d, body: %s", e.Status, e.Body)
}

// ErrDuplicateReference is returned when the courier rejects a shipment reference as already used.
type ErrDuplicateReference struct {
	Reference string
	Attempts  int
	Err       error
}

func (e *ErrDuplicateReference) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("shipment reference %s already taken after %d attempts", e.Reference, e.Attempts)
	}
	return fmt.Sprintf("shipment reference %s already taken", e.Reference)
}

func (e *ErrDuplicateReference) Unwrap() error { return e.Err }

// ErrNoReceiptFound is returned when a reversal is requested for an order without an issued receipt.
type ErrNoReceiptFound struct {
	OrderID string
}

func (e *ErrNoReceiptFound) Error() string {
	return fmt.Sprintf("no fiscal receipt to reverse for order %s", e.OrderID)
}

// ErrNoReversalHandle is returned when the stored receipt lacks the history ID required for reversal.
type ErrNoReversalHandle struct {
	OrderID   string
	ReceiptID string
}

func (e *ErrNoReversalHandle) Error() string {
	return fmt.Sprintf("fiscal receipt %s for order %s has no reversal handle", e.ReceiptID, e.OrderID)
}

// ErrLedgerUnavailable is fatal for the current operation and must never be bypassed.
type ErrLedgerUnavailable struct {
	Op  string
	Err error
}

func (e *ErrLedgerUnavailable) Error() string {
	return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Err)
}

func (e *ErrLedgerUnavailable) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target *ErrNotFound
	return stderrors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ErrConflict
	return stderrors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ErrValidation
	return stderrors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *ErrTransientNetwork
	return stderrors.As(err, &target)
}

func IsAuth(err error) bool {
	var target *ErrAuth
	return stderrors.As(err, &target)
}

func IsDuplicateReference(err error) bool {
	var target *ErrDuplicateReference
	return stderrors.As(err, &target)
}

func IsNoReceiptFound(err error) bool {
	var target *ErrNoReceiptFound
	return stderrors.As(err, &target)
}

func IsNoReversalHandle(err error) bool {
	var target *ErrNoReversalHandle
	return stderrors.As(err, &target)
}

func IsLedgerUnavailable(err error) bool {
	var target *ErrLedgerUnavailable
	return stderrors.As(err, &target)
}

func IsUnauthorized(err error) bool {
	var target *ErrUnauthorized
	return stderrors.As(err, &target)
}

func IsInvalidStateTransition(err error) bool {
	var target *ErrInvalidStateTransition
	return stderrors.As(err, &target)
}
