// Package fiscal issues and reverses fiscal receipts through the receipt service.
// Receipts are issued at most once per order: the ledger copy is authoritative.
package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

const (
	loginPath   = "/login"
	printPath   = "/print-receipt"
	reversePath = "/reverse-receipt"
)

// Config holds receipt service settings
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	PartnerTIN  string
	Dep         int
	TokenHeader string
	Timeout     time.Duration
}

// ReceiptStore is the part of the ledger the adapter needs
type ReceiptStore interface {
	GetReceiptRecord(ctx context.Context, orderID domain.OrderID) (*domain.ReceiptRecord, error)
	SaveReceiptRecord(ctx context.Context, rec domain.ReceiptRecord) (*domain.ReceiptRecord, bool, error)
}

// Client is the fiscal receipt adapter
type Client struct {
	cfg        Config
	httpClient *http.Client
	store      ReceiptStore
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	token string
	// issue serializes issuance so two callers cannot both miss the ledger and print twice
	issue sync.Mutex
}

// NewClient creates a new fiscal receipt client
func NewClient(cfg Config, store ReceiptStore, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "Authorization"
	}
	if cfg.Dep == 0 {
		cfg.Dep = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Authenticate logs in and caches the session token
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", &errors.ErrAuth{Message: "failed to marshal login request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", &errors.ErrAuth{Message: "failed to create login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &errors.ErrAuth{Message: "fiscal service unreachable", Err: &errors.ErrTransientNetwork{Op: "fiscal login", Err: err}}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &errors.ErrAuth{Message: fmt.Sprintf("fiscal login rejected: status %d, body: %s", resp.StatusCode, string(respBody))}
	}

	token := strings.TrimSpace(resp.Header.Get(c.cfg.TokenHeader))
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		token = tokenFromBody(respBody)
	}
	if token == "" {
		return "", &errors.ErrAuth{Message: "fiscal login returned no session token"}
	}
	c.token = token
	c.logger.Debug("Fiscal session established")
	return token, nil
}

func tokenFromBody(body []byte) string {
	var out struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	if out.Token != "" {
		return out.Token
	}
	return out.AccessToken
}

func (c *Client) session(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !refresh {
		return c.token, nil
	}
	return c.login(ctx)
}

// post sends an authorized request, logging in again once when the session expired
func (c *Client) post(ctx context.Context, op, path string, payload any, out any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.session(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if strings.EqualFold(c.cfg.TokenHeader, "Authorization") {
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			req.Header.Set(c.cfg.TokenHeader, token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &errors.ErrTransientNetwork{Op: op, Err: err}
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &errors.ErrTransientNetwork{Op: op, Status: resp.StatusCode, Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			c.logger.Info("Fiscal session expired, logging in again", zap.String("op", op))
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, &errors.ErrAuth{Message: fmt.Sprintf("%s unauthorized: status %d", op, resp.StatusCode)}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &errors.ErrTransientNetwork{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("body: %s", string(body))}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("%s failed: status %d, body: %s", op, resp.StatusCode, string(body))
		}

		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s response: %w, body: %s", op, err, string(body))
			}
		}
		return body, nil
	}
	return nil, &errors.ErrAuth{Message: op + " unauthorized after re-login"}
}

// ReceiptRequest carries what a receipt is built from
type ReceiptRequest struct {
	OrderID      domain.OrderID
	Items        []domain.LineItem
	Total        decimal.Decimal
	PaymentHints []string
}

type printResponse struct {
	Link      string `json:"link"`
	ReceiptID flexID `json:"receiptId"`
	HistoryID flexID `json:"historyId"`
}

// flexID accepts identifiers sent either as JSON numbers or strings
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// IssueReceipt prints a receipt for the order, or returns the one already in the ledger
func (c *Client) IssueReceipt(ctx context.Context, req ReceiptRequest) (*domain.ReceiptRecord, error) {
	c.issue.Lock()
	defer c.issue.Unlock()

	logger := c.logger.With(zap.String("order_id", req.OrderID.String()))

	existing, err := c.store.GetReceiptRecord(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info("Fiscal receipt already issued", zap.String("receipt_id", existing.ReceiptID))
		return existing, nil
	}

	products, total := buildProducts(req.Items, req.Total, c.cfg.Dep)
	cash, card := split(total, DetectPaymentMethod(req.PaymentHints))
	payload := PrintRequest{
		Products:         products,
		CashAmount:       amount(cash),
		CardAmount:       amount(card),
		PartialAmount:    amount(decimal.Zero),
		PrePaymentAmount: amount(decimal.Zero),
		PartnerTin:       c.cfg.PartnerTIN,
		UniqueCode:       newUniqueCode(req.OrderID),
	}

	var resp printResponse
	raw, err := c.post(ctx, "fiscal print receipt", printPath, payload, &resp)
	if err != nil {
		logger.Error("Failed to issue fiscal receipt", zap.Error(err))
		return nil, err
	}
	if resp.ReceiptID == "" && resp.HistoryID == "" {
		// the receipt may exist remotely; keep the raw response so it is never printed again
		logger.Error("Fiscal print receipt returned no identifiers", zap.String("body", string(raw)))
	}

	// printed is printed: record it even if the caller's deadline has passed
	commitCtx, done := ledger.CommitContext(ctx)
	defer done()
	saved, _, err := c.store.SaveReceiptRecord(commitCtx, domain.ReceiptRecord{
		OrderID:     req.OrderID,
		ReceiptID:   resp.ReceiptID.String(),
		HistoryID:   resp.HistoryID.String(),
		Link:        resp.Link,
		UniqueCode:  payload.UniqueCode,
		CashAmount:  cash,
		CardAmount:  card,
		IssuedAt:    c.now().UTC(),
		RawResponse: json.RawMessage(raw),
	})
	if err != nil {
		// the receipt exists remotely; surface loudly so an operator can record it by hand
		logger.Error("Fiscal receipt issued but not recorded in ledger",
			zap.String("receipt_id", resp.ReceiptID.String()),
			zap.String("history_id", resp.HistoryID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Info("Fiscal receipt issued",
		zap.String("receipt_id", saved.ReceiptID),
		zap.String("cash", cash.StringFixed(2)),
		zap.String("card", card.StringFixed(2)),
	)
	return saved, nil
}

type reverseResponse struct {
	Link string `json:"link"`
}

// ReverseReceipt reverses the order's receipt in full. It fails without any remote call
// when no receipt or no reversal handle is on record.
func (c *Client) ReverseReceipt(ctx context.Context, orderID domain.OrderID, items []domain.LineItem) (*domain.ReversalRecord, error) {
	receipt, err := c.store.GetReceiptRecord(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, &errors.ErrNoReceiptFound{OrderID: orderID.String()}
	}
	if strings.TrimSpace(receipt.HistoryID) == "" {
		return nil, &errors.ErrNoReversalHandle{OrderID: orderID.String(), ReceiptID: receipt.ReceiptID}
	}

	products, _ := buildProducts(items, receipt.CashAmount.Add(receipt.CardAmount), c.cfg.Dep)
	payload := ReverseRequest{
		HistoryID:  historyValue(receipt.HistoryID),
		Products:   products,
		CashAmount: amount(receipt.CashAmount),
		CardAmount: amount(receipt.CardAmount),
	}

	var resp reverseResponse
	if _, err := c.post(ctx, "fiscal reverse receipt", reversePath, payload, &resp); err != nil {
		c.logger.Error("Failed to reverse fiscal receipt", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, err
	}

	c.logger.Info("Fiscal receipt reversed",
		zap.String("order_id", orderID.String()),
		zap.String("receipt_id", receipt.ReceiptID),
	)
	return &domain.ReversalRecord{
		OrderID:    orderID,
		ReceiptID:  receipt.ReceiptID,
		HistoryID:  receipt.HistoryID,
		Link:       resp.Link,
		Items:      items,
		CashAmount: receipt.CashAmount,
		CardAmount: receipt.CardAmount,
		ReversedAt: c.now().UTC(),
	}, nil
}

// historyValue sends numeric handles as JSON numbers and anything else as a string
func historyValue(id string) any {
	if _, err := decimal.NewFromString(id); err == nil {
		return json.Number(id)
	}
	return id
}
