package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/courier"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/domain"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/fiscal"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

type fakeShop struct {
	mu           sync.Mutex
	orders       map[domain.OrderID]*domain.Order
	fulfillments []domain.Fulfillment
	notes        map[domain.OrderID][]string
	tagAdds      map[domain.OrderID][]string
	tagUpdates   int
	fulfillErr   error
	tagErr       error
	fetches      atomic.Int64
}

func newFakeShop(orders ...*domain.Order) *fakeShop {
	s := &fakeShop{
		orders:  make(map[domain.OrderID]*domain.Order),
		notes:   make(map[domain.OrderID][]string),
		tagAdds: make(map[domain.OrderID][]string),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeShop) FetchOrder(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	s.fetches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
	}
	cp := *o
	return &cp, nil
}

func (s *fakeShop) setTags(id domain.OrderID, tags string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[id].Tags = tags
}

func (s *fakeShop) UpdateTags(_ context.Context, id domain.OrderID, add, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tagErr != nil {
		return s.tagErr
	}
	s.tagUpdates++
	s.tagAdds[id] = append(s.tagAdds[id], add...)
	return nil
}

func (s *fakeShop) CreateFulfillment(_ context.Context, _ domain.OrderID, f domain.Fulfillment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fulfillErr != nil {
		return s.fulfillErr
	}
	s.fulfillments = append(s.fulfillments, f)
	return nil
}

func (s *fakeShop) AppendOrderNote(_ context.Context, id domain.OrderID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[id] = append(s.notes[id], text)
	return nil
}

func (s *fakeShop) fulfillmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fulfillments)
}

type fakeCourier struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (c *fakeCourier) CreateShipment(_ context.Context, req courier.ShipmentRequest) (*courier.Shipment, error) {
	n := c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &courier.Shipment{
		TrackingNumber: fmt.Sprintf("TRK-%s-%d", req.OrderID, n),
		Reference:      fmt.Sprintf("%s-ref%d", req.OrderID, n),
		Attempts:       1,
	}, nil
}

// stallingCourier hangs until the run's context ends while stall is set
type stallingCourier struct {
	fakeCourier
	stall atomic.Bool
}

func (c *stallingCourier) CreateShipment(ctx context.Context, req courier.ShipmentRequest) (*courier.Shipment, error) {
	if c.stall.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.fakeCourier.CreateShipment(ctx, req)
}

// fakeFiscal persists receipts through the ledger like the real client
type fakeFiscal struct {
	mu         sync.Mutex
	store      *ledger.Store
	issued     atomic.Int64
	reversed   atomic.Int64
	issueErr   error
	reverseErr error
	// stallReverse hangs reversals until the run's context ends
	stallReverse atomic.Bool
}

func (f *fakeFiscal) IssueReceipt(ctx context.Context, req fiscal.ReceiptRequest) (*domain.ReceiptRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, err := f.store.GetReceiptRecord(ctx, req.OrderID); err != nil || existing != nil {
		return existing, err
	}
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	n := f.issued.Add(1)
	rec, _, err := f.store.SaveReceiptRecord(ctx, domain.ReceiptRecord{
		OrderID:    req.OrderID,
		ReceiptID:  fmt.Sprintf("R%d", n),
		HistoryID:  fmt.Sprintf("H%d", n),
		Link:       fmt.Sprintf("https://receipts.test/R%d", n),
		CardAmount: req.Total,
		CashAmount: decimal.Zero,
	})
	return rec, err
}

func (f *fakeFiscal) ReverseReceipt(ctx context.Context, orderID domain.OrderID, items []domain.LineItem) (*domain.ReversalRecord, error) {
	rec, err := f.store.GetReceiptRecord(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &errors.ErrNoReceiptFound{OrderID: orderID.String()}
	}
	if f.reverseErr != nil {
		return nil, f.reverseErr
	}
	if f.stallReverse.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.reversed.Add(1)
	return &domain.ReversalRecord{
		OrderID:    orderID,
		ReceiptID:  "REV-" + rec.ReceiptID,
		HistoryID:  rec.HistoryID,
		Link:       "https://receipts.test/REV-" + rec.ReceiptID,
		Items:      items,
		CardAmount: rec.CardAmount,
		ReversedAt: time.Now(),
	}, nil
}

func sampleOrder(id domain.OrderID, tags string) *domain.Order {
	return &domain.Order{
		ID:              id,
		Name:            "#1001",
		Email:           "buyer@example.com",
		Tags:            tags,
		FinancialStatus: "paid",
		TotalPrice:      decimal.RequireFromString("19.98"),
		Gateway:         "shopify_payments",
		LineItems: []domain.LineItem{
			{ID: 1, Name: "Widget", SKU: "TSH-1", Price: decimal.RequireFromString("9.99"), Quantity: 2},
		},
		ShippingAddress: &domain.Address{
			FirstName: "Ani",
			LastName:  "Petrosyan",
			Address1:  "1 Abovyan St",
			City:      "Yerevan",
			Province:  "Yerevan",
			Phone:     "+37411111111",
		},
	}
}
