package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/port"
)

var tracer = otel.Tracer("github.com/rl1809/pharmacy-pos/internal/core/service")

const defaultSubmissionLockTTL = 30 * time.Second

// Deps are the store-facing collaborators shared by every terminal.
type Deps struct {
	Products port.ProductRepository
	Sales    port.SaleRepository
	Sessions port.SessionRepository
	Profiles port.ProfileRepository
	Cache    port.CacheRepository
	Receipts port.ReceiptEmitter
	Logger   *zap.Logger

	// SubmissionLockTTL bounds how long a crashed submission can hold the
	// per-session lock.
	SubmissionLockTTL time.Duration
}

// Terminal is one logged-in cashier's point of sale: cart, catalog cache
// and register. Mutating operations never overlap; a call made while
// another is in progress fails with domain.ErrTerminalBusy.
type Terminal struct {
	user     domain.User
	deps     Deps
	logger   *zap.Logger
	catalog  *Catalog
	register *Register

	mu         sync.Mutex
	cart       *domain.Cart
	attemptKey string
	// submitted is set once attemptKey has been sent to the store.
	submitted bool
}

func NewTerminal(user domain.User, deps Deps) *Terminal {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SubmissionLockTTL <= 0 {
		deps.SubmissionLockTTL = defaultSubmissionLockTTL
	}
	logger := deps.Logger.With(zap.String("cashier_id", user.ID))

	return &Terminal{
		user:     user,
		deps:     deps,
		logger:   logger,
		catalog:  NewCatalog(deps.Products),
		register: NewRegister(user.ID, deps.Sessions, deps.Sales, logger),
		cart:     domain.NewCart(),
	}
}

func (t *Terminal) User() domain.User {
	return t.user
}

func (t *Terminal) Catalog() *Catalog {
	return t.catalog
}

// Start loads the catalog and resolves the register state.
func (t *Terminal) Start(ctx context.Context) error {
	if err := t.acquire(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	if err := t.catalog.Refresh(ctx); err != nil {
		return err
	}
	_, err := t.register.Load(ctx)
	return err
}

func (t *Terminal) acquire() error {
	if !t.mu.TryLock() {
		return domain.ErrTerminalBusy
	}
	return nil
}

// CartView is a point-in-time copy of the cart.
type CartView struct {
	Lines    []domain.CartLine
	Subtotal decimal.Decimal
	Total    decimal.Decimal
}

func (t *Terminal) Cart() CartView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cartViewLocked()
}

func (t *Terminal) cartViewLocked() CartView {
	return CartView{
		Lines:    t.cart.Lines(),
		Subtotal: t.cart.Subtotal(),
		Total:    t.cart.Total(),
	}
}

// Scan resolves a barcode and adds one unit of the product.
func (t *Terminal) Scan(ctx context.Context, code string) (CartView, error) {
	if err := t.acquire(); err != nil {
		return CartView{}, err
	}
	defer t.mu.Unlock()

	product, err := t.catalog.FindByBarcode(ctx, code)
	if err != nil {
		return t.cartViewLocked(), err
	}
	return t.addLocked(product)
}

// AddProduct adds one unit of a product from the cached catalog.
func (t *Terminal) AddProduct(productID string) (CartView, error) {
	if err := t.acquire(); err != nil {
		return CartView{}, err
	}
	defer t.mu.Unlock()

	product, ok := t.catalog.Get(productID)
	if !ok {
		return t.cartViewLocked(), domain.ErrProductNotFound
	}
	return t.addLocked(product)
}

func (t *Terminal) addLocked(product domain.Product) (CartView, error) {
	if err := t.cart.AddItem(product); err != nil {
		return t.cartViewLocked(), err
	}
	t.touchLocked()
	return t.cartViewLocked(), nil
}

// touchLocked starts a new checkout attempt. A retry of an unchanged cart
// reuses the attempt key, so the store can recognise it.
func (t *Terminal) touchLocked() {
	t.attemptKey = uuid.NewString()
	t.submitted = false
}

// SetQuantity replaces a line's quantity, checking it against the latest
// cached stock for the product. A product no longer in the catalog has no
// stock. Quantities below 1 remove the line.
func (t *Terminal) SetQuantity(productID string, quantity int) (CartView, error) {
	if err := t.acquire(); err != nil {
		return CartView{}, err
	}
	defer t.mu.Unlock()

	available := 0
	if p, ok := t.catalog.Get(productID); ok && p.Active {
		available = p.StockQuantity
	}

	if err := t.cart.SetQuantity(productID, quantity, available); err != nil {
		return t.cartViewLocked(), err
	}
	t.touchLocked()
	return t.cartViewLocked(), nil
}

func (t *Terminal) RemoveItem(productID string) (CartView, error) {
	if err := t.acquire(); err != nil {
		return CartView{}, err
	}
	defer t.mu.Unlock()

	if _, ok := t.cart.Line(productID); ok {
		t.cart.RemoveItem(productID)
		t.touchLocked()
	}
	return t.cartViewLocked(), nil
}

// RegisterView is the register state plus its active session and, while
// closing, the pending reconciliation.
type RegisterView struct {
	State   RegisterState
	Session *domain.RegisterSession
	Pending *domain.Reconciliation
}

func (t *Terminal) Register(ctx context.Context) (RegisterView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.register.Load(ctx); err != nil {
		return RegisterView{State: t.register.State()}, err
	}
	return t.registerViewLocked(), nil
}

func (t *Terminal) registerViewLocked() RegisterView {
	view := RegisterView{State: t.register.State()}
	if s, ok := t.register.Active(); ok {
		view.Session = &s
	}
	if p, ok := t.register.Pending(); ok {
		view.Pending = &p
	}
	return view
}

func (t *Terminal) OpenRegister(ctx context.Context, openingFloat decimal.Decimal) (domain.RegisterSession, error) {
	if err := t.acquire(); err != nil {
		return domain.RegisterSession{}, err
	}
	defer t.mu.Unlock()

	return t.register.Open(ctx, openingFloat)
}

func (t *Terminal) BeginClose(ctx context.Context) (domain.Reconciliation, error) {
	if err := t.acquire(); err != nil {
		return domain.Reconciliation{}, err
	}
	defer t.mu.Unlock()

	return t.register.BeginClose(ctx)
}

func (t *Terminal) ConfirmClose(ctx context.Context, counted decimal.Decimal) (domain.RegisterSession, error) {
	if err := t.acquire(); err != nil {
		return domain.RegisterSession{}, err
	}
	defer t.mu.Unlock()

	return t.register.ConfirmClose(ctx, counted)
}

func (t *Terminal) CancelClose() error {
	if err := t.acquire(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	return t.register.CancelClose()
}

// SessionReport gathers a session and its sales for export. Only the
// session's owner or a role allowed to see stock alerts may read it.
func (t *Terminal) SessionReport(ctx context.Context, sessionID string) (domain.RegisterSession, domain.Reconciliation, []domain.Sale, error) {
	session, err := t.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.RegisterSession{}, domain.Reconciliation{}, nil, fmt.Errorf("get session: %w", err)
	}
	if session.CashierID != t.user.ID && !t.user.Role.Allows(domain.PermViewStockAlerts) {
		return domain.RegisterSession{}, domain.Reconciliation{}, nil, domain.ErrForbidden
	}

	sales, err := t.deps.Sales.ListSalesBySession(ctx, sessionID)
	if err != nil {
		return domain.RegisterSession{}, domain.Reconciliation{}, nil, fmt.Errorf("list session sales: %w", err)
	}
	return *session, domain.Reconcile(*session, sales), sales, nil
}

// Close releases the terminal. Pending cart contents are discarded.
func (t *Terminal) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cart.IsEmpty() {
		t.logger.Info("terminal closed with items in cart", zap.Int("lines", t.cart.Len()))
	}
	t.cart.Clear()
	t.attemptKey = ""
	t.submitted = false
}
