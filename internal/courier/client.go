// Package courier creates draft shipments with the TransImpex Express courier API.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/textutil"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

// Field limits imposed by the courier API
const (
	MaxAddressLength  = 100
	MaxNameLength     = 50
	MaxPhoneLength    = 20
	MaxCityLength     = 50
	MaxItemNameLength = 50
)

const (
	// MaxAttempts bounds retries after "reference already taken" rejections
	MaxAttempts = 3

	defaultItemName  = "Online Order Items"
	defaultItemPrice = 100
	draftOrderPath   = "/api/create-draft-order"
)

// Config holds courier connection settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the courier adapter
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	refs       ReferenceSource
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithReferenceSource replaces the ULID reference generator
func WithReferenceSource(refs ReferenceSource) Option {
	return func(c *Client) { c.refs = refs }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new courier client
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		refs:       NewULIDReferences(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShipmentRequest is everything the courier needs for one order
type ShipmentRequest struct {
	OrderID     domain.OrderID
	OrderNumber string
	Profile     domain.ShippingProfile
	Items       []domain.LineItem
}

// Shipment is a created courier draft order
type Shipment struct {
	TrackingNumber string
	Reference      string
	Attempts       int
}

// DraftOrder is the create-draft-order payload
type DraftOrder struct {
	AddressTo      string         `json:"address_to"`
	ProvinceID     int            `json:"province_id"`
	City           string         `json:"city"`
	PackageType    string         `json:"package_type"`
	ParcelWeight   string         `json:"parcel_weight"`
	OrderProducts  []OrderProduct `json:"order_products"`
	RecipientType  string         `json:"recipient_type"`
	PersonName     string         `json:"person_name"`
	Phone          string         `json:"phone"`
	BarcodeID      string         `json:"barcode_id"`
	IsPayed        int            `json:"is_payed"`
	DeliveryMethod string         `json:"delivery_method"`
	ReturnReceipt  bool           `json:"return_receipt"`
	Notes          string         `json:"notes"`
	Label          int            `json:"label"`
}

// OrderProduct is one shipment line; Price is the line total in minor units
type OrderProduct struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// BuildDraftOrder maps a shipment request onto the courier payload using the given reference
func BuildDraftOrder(req ShipmentRequest, reference string) DraftOrder {
	p := req.Profile
	return DraftOrder{
		AddressTo:      textutil.Truncate(p.Address, MaxAddressLength),
		ProvinceID:     ProvinceID(p.Province),
		City:           textutil.Truncate(p.City, MaxCityLength),
		PackageType:    "Parcel",
		ParcelWeight:   "1.0",
		OrderProducts:  orderProducts(req.Items),
		RecipientType:  "Individual",
		PersonName:     textutil.Truncate(p.Name, MaxNameLength),
		Phone:          textutil.Truncate(p.Phone, MaxPhoneLength),
		BarcodeID:      reference,
		IsPayed:        1,
		DeliveryMethod: "home",
		ReturnReceipt:  false,
		Notes:          orderNotes(req),
		Label:          0,
	}
}

func orderProducts(items []domain.LineItem) []OrderProduct {
	hundred := decimal.NewFromInt(100)
	products := make([]OrderProduct, 0, len(items))
	for _, item := range items {
		name := textutil.Truncate(item.DisplayName(), MaxItemNameLength)
		if name == "" {
			name = defaultItemName
		}
		products = append(products, OrderProduct{
			Name:  name,
			Price: item.Total().Mul(hundred).Round(0).IntPart(),
		})
	}
	if len(products) == 0 {
		products = append(products, OrderProduct{Name: defaultItemName, Price: defaultItemPrice})
	}
	return products
}

func orderNotes(req ShipmentRequest) string {
	number := strings.TrimSpace(req.OrderNumber)
	if number == "" {
		number = req.OrderID.String()
	}
	return "Shopify Order #" + strings.TrimPrefix(number, "#")
}

// CreateShipment creates a draft order, generating a fresh reference per attempt. A
// duplicate-reference rejection is retried up to MaxAttempts; any other failure is
// returned at once, since a timed-out request may still have created the shipment.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error) {
	var lastErr error
	var reference string
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		reference = c.refs.Next(req.OrderID.String())
		logger := c.logger.With(
			zap.String("order_id", req.OrderID.String()),
			zap.String("reference", reference),
			zap.Int("attempt", attempt),
		)

		tracking, err := c.createDraftOrder(ctx, BuildDraftOrder(req, reference))
		if err == nil {
			logger.Info("Courier shipment created", zap.String("tracking_number", tracking))
			return &Shipment{TrackingNumber: tracking, Reference: reference, Attempts: attempt}, nil
		}
		if !errors.IsDuplicateReference(err) {
			logger.Error("Courier shipment failed", zap.Error(err))
			return nil, err
		}
		logger.Warn("Courier rejected shipment reference, retrying with a new one", zap.Error(err))
		lastErr = err
	}
	return nil, &errors.ErrDuplicateReference{Reference: reference, Attempts: MaxAttempts, Err: lastErr}
}

func (c *Client) createDraftOrder(ctx context.Context, payload DraftOrder) (string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal draft order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+draftOrderPath, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &errors.ErrTransientNetwork{Op: "courier create draft order", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &errors.ErrTransientNetwork{Op: "courier create draft order", Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return extractTracking(body, payload.BarcodeID), nil
	case isDuplicateReference(resp.StatusCode, body):
		return "", &errors.ErrDuplicateReference{
			Reference: payload.BarcodeID,
			Err:       &errors.ErrCourier{Status: resp.StatusCode, Body: string(body)},
		}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &errors.ErrTransientNetwork{
			Op:     "courier create draft order",
			Status: resp.StatusCode,
			Err:    &errors.ErrCourier{Status: resp.StatusCode, Body: string(body)},
		}
	default:
		return "", &errors.ErrCourier{Status: resp.StatusCode, Body: string(body)}
	}
}

// isDuplicateReference recognizes the courier's "barcode already taken" validation failure
func isDuplicateReference(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusConflict && status != http.StatusUnprocessableEntity {
		return false
	}
	text := strings.ToLower(string(body))
	if strings.Contains(text, "already") && strings.Contains(text, "taken") {
		return true
	}
	return strings.Contains(text, "barcode") &&
		(strings.Contains(text, "exist") || strings.Contains(text, "unique") || strings.Contains(text, "taken"))
}

// trackingFields lists response paths holding the tracking identifier, most specific first
var trackingFields = [][]string{
	{"order", "key"},
	{"order", "tracking_number"},
	{"order", "barcode"},
	{"order", "id"},
	{"key"},
	{"tracking_number"},
}

// extractTracking returns the first populated tracking field, or the reference itself
func extractTracking(body []byte, reference string) string {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return reference
	}
	for _, path := range trackingFields {
		if v := lookup(doc, path); v != "" {
			return v
		}
	}
	return reference
}

func lookup(doc map[string]any, path []string) string {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
