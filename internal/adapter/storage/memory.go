package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

// MemoryStore keeps everything in maps. It backs demo mode and the load
// test and follows the same rules as SQLAdapter.
type MemoryStore struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	order       []string
	customers   map[string]domain.Customer
	sessions    map[string]domain.RegisterSession
	openByUser  map[string]string
	sales       []domain.Sale
	salesByIdem map[string]int
	sequences   map[string]int
	profile     domain.PharmacyProfile
	users       map[string]domain.User
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:    make(map[string]domain.Product),
		customers:   make(map[string]domain.Customer),
		sessions:    make(map[string]domain.RegisterSession),
		openByUser:  make(map[string]string),
		salesByIdem: make(map[string]int),
		sequences:   make(map[string]int),
		users:       make(map[string]domain.User),
		now:         time.Now,
	}
}

func (m *MemoryStore) SaveProduct(ctx context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Barcode != "" {
		for id, existing := range m.products {
			if id != p.ID && existing.Barcode == p.Barcode {
				return fmt.Errorf("save product: barcode %s already used by %s", p.Barcode, id)
			}
		}
	}
	if _, ok := m.products[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	p.UpdatedAt = m.now().UTC()
	m.products[p.ID] = p
	return nil
}

// ListProducts returns active products ordered by name, like SQLAdapter.
func (m *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Product, 0, len(m.products))
	for _, id := range m.order {
		if p := m.products[id]; p.Active {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CommercialName != out[j].CommercialName {
			return out[i].CommercialName < out[j].CommercialName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.products {
		if p.Barcode != "" && p.Barcode == barcode {
			return &p, nil
		}
	}
	return nil, domain.ErrProductNotFound
}

func (m *MemoryStore) SubmitSale(ctx context.Context, req domain.CheckoutRequest) (*domain.Sale, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return nil, domain.ErrInvalidCheckout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.salesByIdem[req.IdempotencyKey]; ok {
		sale := m.sales[i]
		return &sale, nil
	}

	session, ok := m.sessions[req.RegisterSessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !session.IsOpen() {
		return nil, domain.ErrRegisterNotOpen
	}
	if session.CashierID != req.CashierID {
		return nil, domain.ErrForbidden
	}

	var customerName string
	if req.CustomerID != "" {
		c, ok := m.customers[req.CustomerID]
		if !ok {
			return nil, domain.ErrCustomerNotFound
		}
		customerName = c.Name
	}

	var shortages []domain.StockShortage
	for _, l := range req.Lines {
		p, ok := m.products[l.ProductID]
		available := 0
		if ok && p.Active {
			available = p.StockQuantity
		}
		if available < l.Quantity {
			shortages = append(shortages, domain.StockShortage{
				ProductID: l.ProductID,
				Name:      l.ProductName,
				Requested: l.Quantity,
				Available: available,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, &domain.StockShortageError{Lines: shortages}
	}

	now := m.now()
	for _, l := range req.Lines {
		p := m.products[l.ProductID]
		p.StockQuantity -= l.Quantity
		p.UpdatedAt = now.UTC()
		m.products[l.ProductID] = p
	}

	day := now.Format("20060102")
	m.sequences[day]++

	sale := domain.Sale{
		ID:                   uuid.NewString(),
		Number:               fmt.Sprintf("%s-%04d", day, m.sequences[day]),
		RegisterSessionID:    req.RegisterSessionID,
		CashierID:            req.CashierID,
		CustomerID:           req.CustomerID,
		CustomerName:         customerName,
		PaymentMethod:        req.PaymentMethod,
		PaymentReference:     req.PaymentReference,
		Subtotal:             req.Subtotal,
		Discount:             req.Discount,
		Total:                req.Total,
		PrescriptionVerified: req.PrescriptionVerified,
		IdempotencyKey:       req.IdempotencyKey,
		CreatedAt:            now.UTC(),
	}
	for _, l := range req.Lines {
		sale.Lines = append(sale.Lines, domain.SaleLine(l))
	}

	m.salesByIdem[sale.IdempotencyKey] = len(m.sales)
	m.sales = append(m.sales, sale)
	return &sale, nil
}

func (m *MemoryStore) FindSaleByKey(ctx context.Context, key string) (*domain.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.salesByIdem[key]
	if !ok {
		return nil, nil
	}
	sale := m.sales[i]
	return &sale, nil
}

func (m *MemoryStore) ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Sale
	for _, s := range m.sales {
		if s.RegisterSessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindOpenSession(ctx context.Context, cashierID string) (*domain.RegisterSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.openByUser[cashierID]
	if !ok {
		return nil, nil
	}
	s := m.sessions[id]
	return &s, nil
}

func (m *MemoryStore) OpenSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.openByUser[session.CashierID]; ok {
		return nil, domain.ErrSessionAlreadyOpen
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Status = domain.SessionOpen
	m.sessions[session.ID] = session
	m.openByUser[session.CashierID] = session.ID
	return &session, nil
}

func (m *MemoryStore) CloseSession(ctx context.Context, c domain.SessionClose) (*domain.RegisterSession, error) {
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
	delete(m.openByUser, s.CashierID)
	return &s, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*domain.RegisterSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.customers[c.ID] = c
	return &c, nil
}

func (m *MemoryStore) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return &c, nil
}

func (m *MemoryStore) GetPharmacyProfile(ctx context.Context) (*domain.PharmacyProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.profile
	return &p, nil
}

func (m *MemoryStore) UpdatePharmacyProfile(ctx context.Context, profile domain.PharmacyProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profile = profile
	return nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, user domain.User, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return nil, fmt.Errorf("insert user: username %q already exists", user.Username)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.PasswordHash = string(hash)
	m.users[user.Username] = user
	return &user, nil
}

func (m *MemoryStore) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	m.mu.RLock()
	u, ok := m.users[username]
	m.mu.RUnlock()

	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return &u, nil
}
