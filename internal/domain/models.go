package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ShippingProfile is the normalized recipient data derived from an order. Every field except
// Email carries a non-empty default, so adapters never receive blanks.
type ShippingProfile struct {
	Name     string
	Address  string
	Phone    string
	City     string
	Province string
	Email    string
	// Sources names the order field that satisfied each profile field (diagnostics only)
	Sources map[string]string
}

// ProcessingRecord is the ledger entry for one order. Created on the first paid event,
// mutated only by the orchestrator, never deleted.
type ProcessingRecord struct {
	OrderID          OrderID         `json:"order_id"`
	State            ProcessingState `json:"state"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	ShipmentRef      string          `json:"shipment_ref,omitempty"`
	ReceiptID        string          `json:"receipt_id,omitempty"`
	HistoryID        string          `json:"history_id,omitempty"`
	ReceiptLink      string          `json:"receipt_link,omitempty"`
	ReceiptError     string          `json:"receipt_error,omitempty"`
	ReversalLink     string          `json:"reversal_link,omitempty"`
	RefundInFlight   bool            `json:"refund_in_flight,omitempty"`
	Attempts         int             `json:"attempts"`
	ShipmentAttempts int             `json:"shipment_attempts"`
	RefundAttempts   int             `json:"refund_attempts"`
	LastError        string          `json:"last_error,omitempty"`
	LastTrigger      Trigger         `json:"last_trigger,omitempty"`
	History          []HistoryEntry  `json:"history,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	FulfilledAt      *time.Time      `json:"fulfilled_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	CompactedAt      *time.Time      `json:"compacted_at,omitempty"`
}

// HistoryEntry is an audit event appended on every ledger transition
type HistoryEntry struct {
	ID      string          `json:"id"`
	From    ProcessingState `json:"from"`
	To      ProcessingState `json:"to"`
	Trigger Trigger         `json:"trigger,omitempty"`
	Note    string          `json:"note,omitempty"`
	At      time.Time       `json:"at"`
}

// ReceiptRecord stores an issued fiscal receipt. HistoryID is the reversal handle and must never be dropped.
type ReceiptRecord struct {
	OrderID     OrderID         `json:"order_id"`
	ReceiptID   string          `json:"receipt_id"`
	HistoryID   string          `json:"history_id"`
	Link        string          `json:"link,omitempty"`
	UniqueCode  string          `json:"unique_code,omitempty"`
	CashAmount  decimal.Decimal `json:"cash_amount"`
	CardAmount  decimal.Decimal `json:"card_amount"`
	IssuedAt    time.Time       `json:"issued_at"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	Reversed    bool            `json:"reversed,omitempty"`
	ReversedAt  *time.Time      `json:"reversed_at,omitempty"`
}

// ReversalRecord is the outcome of reversing a receipt (full-order refund only)
type ReversalRecord struct {
	OrderID    OrderID         `json:"order_id"`
	ReceiptID  string          `json:"receipt_id"`
	HistoryID  string          `json:"history_id"`
	Link       string          `json:"link,omitempty"`
	Items      []LineItem      `json:"items"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	CardAmount decimal.Decimal `json:"card_amount"`
	ReversedAt time.Time       `json:"reversed_at"`
}

// WebhookRecord marks a webhook fingerprint as handled
type WebhookRecord struct {
	Fingerprint string    `json:"fingerprint"`
	Topic       string    `json:"topic,omitempty"`
	OrderID     OrderID   `json:"order_id,omitempty"`
	SeenAt      time.Time `json:"seen_at"`
}

// Fulfillment is the tracking write-back sent to the storefront
type Fulfillment struct {
	TrackingNumber string
	Company        string
	URL            string
	NotifyCustomer bool
}
