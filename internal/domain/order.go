package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderID is the storefront-assigned order identifier. Shopify sends it as a JSON number;
// manual callers and older payloads send a string.
type OrderID string

func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	*id = OrderID(n.String())
	return nil
}

func (id OrderID) String() string { return string(id) }

// Order is the storefront order snapshot delivered by webhooks and returned by the REST API.
// Owned by the storefront; the relay never persists a full copy.
type Order struct {
	ID                  OrderID         `json:"id"`
	Name                string          `json:"name"`
	OrderNumber         json.Number     `json:"order_number,omitempty"`
	Email               string          `json:"email"`
	ContactEmail        string          `json:"contact_email"`
	Phone               string          `json:"phone"`
	Tags                string          `json:"tags"`
	Note                string          `json:"note"`
	FinancialStatus     string          `json:"financial_status"`
	FulfillmentStatus   string          `json:"fulfillment_status"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	Currency            string          `json:"currency"`
	Gateway             string          `json:"gateway"`
	PaymentGatewayNames []string        `json:"payment_gateway_names"`
	LineItems           []LineItem      `json:"line_items"`
	ShippingAddress     *Address        `json:"shipping_address"`
	BillingAddress      *Address        `json:"billing_address"`
	Customer            *Customer       `json:"customer"`
	CancelledAt         *time.Time      `json:"cancelled_at"`
	CreatedAt           *time.Time      `json:"created_at"`
}

// LineItem is one purchased product on an order
type LineItem struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Title    string          `json:"title"`
	SKU      string          `json:"sku"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// DisplayName prefers the full line name ("Widget - Red") and falls back to the product title
func (li LineItem) DisplayName() string {
	if n := strings.TrimSpace(li.Name); n != "" {
		return n
	}
	return strings.TrimSpace(li.Title)
}

// Total returns unit price × quantity. A non-positive quantity counts as one unit.
func (li LineItem) Total() decimal.Decimal {
	qty := li.Quantity
	if qty <= 0 {
		qty = 1
	}
	return li.Price.Mul(decimal.NewFromInt(int64(qty)))
}

// Address is a storefront mailing address (shipping, billing or customer default)
type Address struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Name         string `json:"name"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	Province     string `json:"province"`
	ProvinceCode string `json:"province_code"`
	Zip          string `json:"zip"`
	Country      string `json:"country"`
	Phone        string `json:"phone"`
}

// Customer is the storefront customer attached to an order
type Customer struct {
	ID             json.Number `json:"id,omitempty"`
	FirstName      string      `json:"first_name"`
	LastName       string      `json:"last_name"`
	Email          string      `json:"email"`
	Phone          string      `json:"phone"`
	DefaultAddress *Address    `json:"default_address"`
}

// TagList splits the comma-separated tag string into trimmed, non-empty tags (original casing)
func (o *Order) TagList() []string {
	parts := strings.Split(o.Tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// HasTag reports whether the order carries tag, compared case-insensitively
func (o *Order) HasTag(tag string) bool {
	for _, t := range o.TagList() {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// IsConfirmed reports whether a human applied the confirmation tag
func (o *Order) IsConfirmed() bool {
	return o.HasTag(TagConfirmed)
}

// IsCancelled reports whether the order was cancelled on the storefront (tag or cancelled_at)
func (o *Order) IsCancelled() bool {
	return o.CancelledAt != nil || o.HasTag(TagCancelled) || o.HasTag(TagCanceled)
}

// IsPaid reports whether the storefront reports the order as fully paid
func (o *Order) IsPaid() bool {
	return strings.EqualFold(strings.TrimSpace(o.FinancialStatus), "paid")
}

// PaymentHints returns every payment-gateway hint on the order
func (o *Order) PaymentHints() []string {
	hints := make([]string, 0, len(o.PaymentGatewayNames)+1)
	if g := strings.TrimSpace(o.Gateway); g != "" {
		hints = append(hints, g)
	}
	for _, n := range o.PaymentGatewayNames {
		if n = strings.TrimSpace(n); n != "" {
			hints = append(hints, n)
		}
	}
	return hints
}

// DisplayNumber is the human order number used in courier notes ("#1001" style)
func (o *Order) DisplayNumber() string {
	if n := strings.TrimSpace(o.Name); n != "" {
		return n
	}
	if o.OrderNumber != "" {
		return "#" + o.OrderNumber.String()
	}
	return o.ID.String()
}
