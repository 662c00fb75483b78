package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

type fiscalServer struct {
	mu        sync.Mutex
	logins    int
	calls     map[string]int
	printed   []PrintRequest
	reversed  []map[string]any
	authSeen  []string
	rejectPW  bool
	expireOne bool
	// anonymous prints succeed without returning any identifiers
	anonymous bool
}

func (s *fiscalServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.calls == nil {
			s.calls = make(map[string]int)
		}
		s.calls[r.URL.Path]++
		body, _ := io.ReadAll(r.Body)

		if r.URL.Path == loginPath {
			var creds map[string]string
			require.NoError(t, json.Unmarshal(body, &creds))
			if s.rejectPW || creds["password"] != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			s.logins++
			w.Header().Set("Authorization", fmt.Sprintf("Bearer tok-%d", s.logins))
			w.WriteHeader(http.StatusOK)
			return
		}

		s.authSeen = append(s.authSeen, r.Header.Get("Authorization"))
		if s.expireOne {
			s.expireOne = false
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case printPath:
			var p PrintRequest
			require.NoError(t, json.Unmarshal(body, &p))
			s.printed = append(s.printed, p)
			if s.anonymous {
				fmt.Fprint(w, `{"status":"printed"}`)
				return
			}
			fmt.Fprintf(w, `{"link":"https://fiscal.example/r/%d","receiptId":%d,"historyId":"%d"}`, len(s.printed), 500+len(s.printed), 900+len(s.printed))
		case reversePath:
			var p map[string]any
			require.NoError(t, json.Unmarshal(body, &p))
			s.reversed = append(s.reversed, p)
			fmt.Fprint(w, `{"link":"https://fiscal.example/rev/1"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (s *fiscalServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func newTestClient(t *testing.T, fs *fiscalServer) (*Client, *ledger.Store) {
	srv := httptest.NewServer(fs.handler(t))
	t.Cleanup(srv.Close)
	store := ledger.NewMemory()
	c := NewClient(Config{BaseURL: srv.URL, Username: "relay", Password: "pw", PartnerTIN: "01234567"}, store, nil)
	return c, store
}

func scenarioReceipt() ReceiptRequest {
	return ReceiptRequest{
		OrderID:      "1001",
		Items:        []domain.LineItem{{Name: "Widget", SKU: "TSH-RED", Price: decimal.RequireFromString("9.99"), Quantity: 2}},
		Total:        decimal.RequireFromString("19.98"),
		PaymentHints: []string{"shopify_payments"},
	}
}

func TestAuthenticateReadsTokenHeader(t *testing.T) {
	fs := &fiscalServer{}
	c, _ := newTestClient(t, fs)

	token, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestAuthenticateRejected(t *testing.T) {
	fs := &fiscalServer{rejectPW: true}
	c, _ := newTestClient(t, fs)

	_, err := c.Authenticate(context.Background())
	assert.True(t, errors.IsAuth(err))

	_, err = c.IssueReceipt(context.Background(), scenarioReceipt())
	assert.True(t, errors.IsAuth(err))
	assert.Zero(t, fs.count(printPath))
}

func TestAuthenticateUnreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Username: "relay", Password: "pw"}, ledger.NewMemory(), nil)
	_, err := c.Authenticate(context.Background())
	assert.True(t, errors.IsAuth(err))
	assert.True(t, errors.IsTransient(err))
}

func TestIssueReceiptScenario(t *testing.T) {
	fs := &fiscalServer{}
	c, store := newTestClient(t, fs)

	rec, err := c.IssueReceipt(context.Background(), scenarioReceipt())
	require.NoError(t, err)
	assert.Equal(t, "501", rec.ReceiptID)
	assert.Equal(t, "901", rec.HistoryID)
	assert.Equal(t, "https://fiscal.example/r/1", rec.Link)

	require.Len(t, fs.printed, 1)
	p := fs.printed[0]
	require.Len(t, p.Products, 1)
	line := p.Products[0]
	assert.Equal(t, json.Number("19.98"), line.Price)
	assert.Equal(t, "Widget", line.GoodName)
	assert.Equal(t, "TSH-RED", line.GoodCode)
	assert.Equal(t, "6109", line.ADGCode)
	assert.Equal(t, "pcs", line.Unit)
	assert.Equal(t, 1, line.Dep)
	q, err := decimal.NewFromString(line.Quantity.String())
	require.NoError(t, err)
	assert.True(t, q.Equal(decimal.NewFromInt(2)))

	assert.Equal(t, json.Number("19.98"), p.CardAmount)
	assert.Equal(t, json.Number("0.00"), p.CashAmount)
	assert.Equal(t, json.Number("0.00"), p.PartialAmount)
	assert.Equal(t, json.Number("0.00"), p.PrePaymentAmount)
	assert.Equal(t, "01234567", p.PartnerTin)
	assert.LessOrEqual(t, len(p.UniqueCode), MaxUniqueCodeLength)
	assert.Equal(t, []string{"Bearer tok-1"}, fs.authSeen)

	stored, err := store.GetReceiptRecord(context.Background(), "1001")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "901", stored.HistoryID)
	assert.NotEmpty(t, stored.RawResponse)
}

func TestIssueReceiptIsCachedPerOrder(t *testing.T) {
	fs := &fiscalServer{}
	c, _ := newTestClient(t, fs)
	ctx := context.Background()

	first, err := c.IssueReceipt(ctx, scenarioReceipt())
	require.NoError(t, err)
	second, err := c.IssueReceipt(ctx, scenarioReceipt())
	require.NoError(t, err)

	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.Equal(t, first.HistoryID, second.HistoryID)
	assert.Equal(t, first.UniqueCode, second.UniqueCode)
	assert.Equal(t, 1, fs.count(printPath), "no second remote call")
}

func TestIssueReceiptConcurrentCallersPrintOnce(t *testing.T) {
	fs := &fiscalServer{}
	c, _ := newTestClient(t, fs)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.IssueReceipt(context.Background(), scenarioReceipt())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fs.count(printPath))
}

func TestIssueReceiptRelogsInOnExpiredSession(t *testing.T) {
	fs := &fiscalServer{}
	c, _ := newTestClient(t, fs)
	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	fs.expireOne = true

	_, err = c.IssueReceipt(context.Background(), scenarioReceipt())
	require.NoError(t, err)
	assert.Equal(t, 2, fs.count(loginPath))
	assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-2"}, fs.authSeen)
}

func TestIssueReceiptCashOnDelivery(t *testing.T) {
	fs := &fiscalServer{}
	c, _ := newTestClient(t, fs)
	req := scenarioReceipt()
	req.PaymentHints = []string{"Cash on Delivery (COD)"}

	rec, err := c.IssueReceipt(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, rec.CashAmount.Equal(decimal.RequireFromString("19.98")))
	assert.True(t, rec.CardAmount.IsZero())
	assert.Equal(t, json.Number("19.98"), fs.printed[0].CashAmount)
}

func TestIssueReceiptWithoutIdentifiersIsNotReprinted(t *testing.T) {
	fs := &fiscalServer{anonymous: true}
	c, store := newTestClient(t, fs)
	ctx := context.Background()

	rec, err := c.IssueReceipt(ctx, scenarioReceipt())
	require.NoError(t, err)
	assert.Empty(t, rec.ReceiptID)
	assert.Empty(t, rec.HistoryID)
	assert.JSONEq(t, `{"status":"printed"}`, string(rec.RawResponse))

	_, err = c.IssueReceipt(ctx, scenarioReceipt())
	require.NoError(t, err)
	assert.Equal(t, 1, fs.count(printPath), "a receipt that may exist remotely is never printed twice")

	stored, err := store.GetReceiptRecord(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, stored)

	_, err = c.ReverseReceipt(ctx, "1001", scenarioReceipt().Items)
	assert.True(t, errors.IsNoReversalHandle(err))
	assert.Zero(t, fs.count(reversePath))
}

// cancelOnResponse cancels the caller's context as soon as the print response is in hand
type cancelOnResponse struct {
	base   http.RoundTripper
	cancel context.CancelFunc
}

func (rt cancelOnResponse) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(r)
	if err != nil || r.URL.Path != printPath {
		return resp, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	rt.cancel()
	return resp, nil
}

func TestIssueReceiptRecordedAfterCallerGivesUp(t *testing.T) {
	fs := &fiscalServer{}
	c, store := newTestClient(t, fs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.httpClient.Transport = cancelOnResponse{base: http.DefaultTransport, cancel: cancel}

	rec, err := c.IssueReceipt(ctx, scenarioReceipt())
	require.NoError(t, err)
	assert.Equal(t, "501", rec.ReceiptID)
	require.Error(t, ctx.Err())

	stored, err := store.GetReceiptRecord(context.Background(), "1001")
	require.NoError(t, err)
	require.NotNil(t, stored, "a printed receipt reaches the ledger even after the caller's context ended")
	assert.Equal(t, "901", stored.HistoryID)
}

func TestReverseWithoutReceiptMakesNoRemoteCall(t *testing.T) {
	fs := &fiscalServer{}
	c, _ := newTestClient(t, fs)

	_, err := c.ReverseReceipt(context.Background(), "1001", nil)
	assert.True(t, errors.IsNoReceiptFound(err))
	assert.Zero(t, fs.count(loginPath))
	assert.Zero(t, fs.count(reversePath))
}

func TestReverseWithoutHandle(t *testing.T) {
	fs := &fiscalServer{}
	c, store := newTestClient(t, fs)
	_, _, err := store.SaveReceiptRecord(context.Background(), domain.ReceiptRecord{OrderID: "1001", ReceiptID: "501"})
	require.NoError(t, err)

	_, err = c.ReverseReceipt(context.Background(), "1001", nil)
	assert.True(t, errors.IsNoReversalHandle(err))
	assert.Zero(t, fs.count(reversePath))
}

func TestReverseReceipt(t *testing.T) {
	fs := &fiscalServer{}
	c, _ := newTestClient(t, fs)
	ctx := context.Background()
	req := scenarioReceipt()
	_, err := c.IssueReceipt(ctx, req)
	require.NoError(t, err)

	rev, err := c.ReverseReceipt(ctx, "1001", req.Items)
	require.NoError(t, err)
	assert.Equal(t, "https://fiscal.example/rev/1", rev.Link)
	assert.Equal(t, "901", rev.HistoryID)
	assert.Len(t, rev.Items, 1)

	require.Len(t, fs.reversed, 1)
	body := fs.reversed[0]
	assert.Equal(t, float64(901), body["historyId"])
	assert.Equal(t, 19.98, body["cardAmount"])
	assert.Len(t, body["products"], 1)
}
