package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

var errTransport = errors.New("connection reset by peer")

// mockStore implements the product, sale and session repositories over
// in-memory maps, decrementing stock on SubmitSale like the real store.
type mockStore struct {
	mu sync.Mutex

	products []domain.Product
	sessions map[string]domain.RegisterSession
	sales    []domain.Sale

	listCalls     int
	barcodeCalls  int
	submitCalls   int
	findOpenCalls int
	submitKeys    []string

	listErr   error
	submitErr error
	// failNext fails only the next submission.
	failNext error
	// lostResponse commits the next submission, then returns this error.
	lostResponse error
	findKeyErr   error
}

func newMockStore(products ...domain.Product) *mockStore {
	return &mockStore{
		products: products,
		sessions: make(map[string]domain.RegisterSession),
	}
}

func (m *mockStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.barcodeCalls++
	for _, p := range m.products {
		if p.Barcode == barcode {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrProductNotFound
}

func (m *mockStore) setStock(id string, stock int) {
	for i := range m.products {
		if m.products[i].ID == id {
			m.products[i].StockQuantity = stock
		}
	}
}

func (m *mockStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ID == id {
			return p.StockQuantity
		}
	}
	return -1
}

func (m *mockStore) SubmitSale(ctx context.Context, req domain.CheckoutRequest) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCalls++
	m.submitKeys = append(m.submitKeys, req.IdempotencyKey)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}
	for _, s := range m.sales {
		if s.IdempotencyKey == req.IdempotencyKey {
			s := s
			return &s, nil
		}
	}

	for _, l := range req.Lines {
		for i := range m.products {
			if m.products[i].ID == l.ProductID && m.products[i].StockQuantity < l.Quantity {
				return nil, domain.ErrInsufficientStock
			}
		}
	}

	sale := domain.Sale{
		ID:                fmt.Sprintf("sale-%d", len(m.sales)+1),
		Number:            fmt.Sprintf("20260101-%04d", len(m.sales)+1),
		RegisterSessionID: req.RegisterSessionID,
		CashierID:         req.CashierID,
		CustomerID:        req.CustomerID,
		PaymentMethod:     req.PaymentMethod,
		Subtotal:          req.Subtotal,
		Discount:          req.Discount,
		Total:             req.Total,
		IdempotencyKey:    req.IdempotencyKey,
		CreatedAt:         time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	for _, l := range req.Lines {
		m.setStock(l.ProductID, m.stockLocked(l.ProductID)-l.Quantity)
		sale.Lines = append(sale.Lines, domain.SaleLine(l))
	}
	m.sales = append(m.sales, sale)
	if err := m.lostResponse; err != nil {
		m.lostResponse = nil
		return nil, err
	}
	return &sale, nil
}

func (m *mockStore) FindSaleByKey(ctx context.Context, key string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findKeyErr != nil {
		return nil, m.findKeyErr
	}
	for _, s := range m.sales {
		if s.IdempotencyKey == key {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *mockStore) stockLocked(id string) int {
	for _, p := range m.products {
		if p.ID == id {
			return p.StockQuantity
		}
	}
	return 0
}

func (m *mockStore) ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Sale
	for _, s := range m.sales {
		if s.RegisterSessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) addSale(sessionID string, method domain.PaymentMethod, total string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, domain.Sale{
		ID:                fmt.Sprintf("seed-%d", len(m.sales)+1),
		RegisterSessionID: sessionID,
		PaymentMethod:     method,
		Total:             decimal.RequireFromString(total),
		IdempotencyKey:    fmt.Sprintf("seed-%d", len(m.sales)+1),
	})
}

func (m *mockStore) FindOpenSession(ctx context.Context, cashierID string) (*domain.RegisterSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.findOpenCalls++
	for _, s := range m.sessions {
		if s.CashierID == cashierID && s.IsOpen() {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *mockStore) OpenSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.CashierID == session.CashierID && s.IsOpen() {
			return nil, domain.ErrSessionAlreadyOpen
		}
	}
	m.sessions[session.ID] = session
	return &session, nil
}

func (m *mockStore) CloseSession(ctx context.Context, c domain.SessionClose) (*domain.RegisterSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[c.SessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !s.IsOpen() {
		return nil, domain.ErrRegisterNotOpen
	}
	closedAt := c.ClosedAt
	s.Status = domain.SessionClosed
	s.ClosingAmount = c.ClosingAmount
	s.ExpectedAmount = c.ExpectedAmount
	s.Variance = c.Variance
	s.ClosedAt = &closedAt
	m.sessions[s.ID] = s
	return &s, nil
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*domain.RegisterSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (m *mockStore) GetPharmacyProfile(ctx context.Context) (*domain.PharmacyProfile, error) {
	return &domain.PharmacyProfile{Name: "Farmacia San Rafael", TaxID: "0614-010190-101-1"}, nil
}

func (m *mockStore) UpdatePharmacyProfile(ctx context.Context, profile domain.PharmacyProfile) error {
	return nil
}

type mockReceipts struct {
	mu       sync.Mutex
	receipts []domain.Receipt
	err      error
}

func (m *mockReceipts) Emit(ctx context.Context, r domain.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, r)
	return m.err
}

func (m *mockReceipts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receipts)
}

type mockCache struct {
	mu     sync.Mutex
	locks  map[string]string
	issued int
}

func newMockCache() *mockCache {
	return &mockCache{locks: make(map[string]string)}
}

func (m *mockCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	m.issued++
	token := fmt.Sprintf("token-%d", m.issued)
	m.locks[key] = token
	return token, true, nil
}

func (m *mockCache) ReleaseLock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

func product(id, barcode, name, price string, stock int) domain.Product {
	return domain.Product{
		ID:             id,
		Barcode:        barcode,
		CommercialName: name,
		UnitPrice:      decimal.RequireFromString(price),
		StockQuantity:  stock,
		MinStock:       5,
		Active:         true,
	}
}

func cashier() domain.User {
	return domain.User{ID: "u-1", Username: "caja1", FullName: "Ana Lucía Gómez", Role: domain.RoleCashier, Active: true}
}

func newTestTerminal(store *mockStore, receipts *mockReceipts, cache *mockCache) *Terminal {
	deps := Deps{
		Products: store,
		Sales:    store,
		Sessions: store,
		Profiles: store,
		Receipts: receipts,
	}
	if cache != nil {
		deps.Cache = cache
	}
	return NewTerminal(cashier(), deps)
}
