package domain

// ProcessingState represents where an order is in the relay pipeline
type ProcessingState string

const (
	// UNSEEN - no ledger record exists for the order yet
	StateUnseen ProcessingState = "UNSEEN"
	// PENDING_CONFIRMATION - paid, waiting for a human-applied "confirmed" tag
	StatePendingConfirmation ProcessingState = "PENDING_CONFIRMATION"
	// CONFIRMED_PROCESSING - exactly one trigger owns the order and is creating receipt + shipment
	StateConfirmedProcessing ProcessingState = "CONFIRMED_PROCESSING"
	// FULFILLED - shipment created and written back to the storefront
	StateFulfilled ProcessingState = "FULFILLED"
	// CANCEL_REQUESTED - cancellation observed; refund may be in flight
	StateCancelRequested ProcessingState = "CANCEL_REQUESTED"
	// REFUNDED - fiscal receipt reversed
	StateRefunded ProcessingState = "REFUNDED"
	// FAILED - a processing step failed; an explicit retry may re-attempt
	StateFailed ProcessingState = "FAILED"
)

// AllStates lists every processing state in pipeline order
var AllStates = []ProcessingState{
	StateUnseen,
	StatePendingConfirmation,
	StateConfirmedProcessing,
	StateFulfilled,
	StateCancelRequested,
	StateRefunded,
	StateFailed,
}

// IsValid checks if the processing state is known
func (s ProcessingState) IsValid() bool {
	switch s {
	case StateUnseen,
		StatePendingConfirmation,
		StateConfirmedProcessing,
		StateFulfilled,
		StateCancelRequested,
		StateRefunded,
		StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further automatic transition can happen
func (s ProcessingState) IsTerminal() bool {
	return s == StateRefunded
}

// CanTransitionTo checks if a state transition is valid
func (s ProcessingState) CanTransitionTo(next ProcessingState) bool {
	switch s {
	case StateUnseen:
		return next == StatePendingConfirmation ||
			next == StateConfirmedProcessing ||
			next == StateCancelRequested
	case StatePendingConfirmation:
		return next == StateConfirmedProcessing ||
			next == StateCancelRequested
	case StateConfirmedProcessing:
		return next == StateFulfilled ||
			next == StateFailed
	case StateFailed:
		// explicit retry, or cancellation of an order that never shipped
		return next == StateConfirmedProcessing ||
			next == StateCancelRequested
	case StateFulfilled:
		return next == StateCancelRequested ||
			next == StateRefunded
	case StateCancelRequested:
		return next == StateRefunded
	case StateRefunded:
		return false // Terminal
	default:
		return false
	}
}

// Trigger names the caller that asked for a transition
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerPoll    Trigger = "poll"
	TriggerWatcher Trigger = "watcher"
	TriggerManual  Trigger = "manual"
	TriggerSystem  Trigger = "system"
)

// Well-known order tags used as the status channel on the storefront
const (
	TagPendingConfirmation = "pending-confirmation"
	TagConfirmed           = "confirmed"
	TagCancelled           = "cancelled"
	TagCanceled            = "canceled"
	TagFulfilled           = "fulfilled"
	TagRefunded            = "refunded"
)
