package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

// ConfirmFunc asks the operator to acknowledge that prescriptions for the
// controlled lines were verified.
type ConfirmFunc func(ctx context.Context, controlled []domain.CartLine) (bool, error)

// Confirmed answers every confirmation with answer.
func Confirmed(answer bool) ConfirmFunc {
	return func(context.Context, []domain.CartLine) (bool, error) {
		return answer, nil
	}
}

type CheckoutInput struct {
	PaymentMethod    domain.PaymentMethod
	PaymentReference string
	CustomerID       string

	// Confirm is only consulted when the cart holds controlled products.
	// A nil Confirm counts as declined.
	Confirm ConfirmFunc
}

// Checkout turns the cart into a committed sale. Checks run in order and
// stop at the first failure: empty cart, register not open, payment method,
// prescription confirmation, stock re-validation against a fresh catalog
// fetch. Nothing is sent to the store until all of them pass. On any error
// the cart is left as it was. A retry after a failed submission first asks
// the store for the earlier attempt and completes it if it was recorded.
func (t *Terminal) Checkout(ctx context.Context, in CheckoutInput) (*domain.Sale, error) {
	if err := t.acquire(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	ctx, span := tracer.Start(ctx, "checkout")
	defer span.End()

	sale, err := t.checkoutLocked(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.Kind(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("sale_number", sale.Number),
		attribute.Int("lines", len(sale.Lines)),
	)
	return sale, nil
}

func (t *Terminal) checkoutLocked(ctx context.Context, in CheckoutInput) (*domain.Sale, error) {
	if t.cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	session, err := t.register.RequireOpen()
	if err != nil {
		return nil, err
	}

	if t.submitted {
		sale, err := t.recoverLocked(ctx)
		if err != nil {
			return nil, err
		}
		if sale != nil {
			t.logger.Info("sale recovered from earlier attempt",
				zap.String("session_id", session.ID),
				zap.String("sale_number", sale.Number))
			t.completeLocked(ctx, *sale)
			return sale, nil
		}
	}

	if !in.PaymentMethod.Valid() {
		return nil, domain.ErrInvalidPaymentMethod
	}

	verified, err := t.confirmControlled(ctx, in.Confirm)
	if err != nil {
		return nil, err
	}

	if err := t.catalog.Refresh(ctx); err != nil {
		return nil, err
	}
	if err := t.revalidateLocked(); err != nil {
		return nil, err
	}

	if t.attemptKey == "" {
		t.touchLocked()
	}
	req := domain.NewCheckoutRequest(t.cart.Lines())
	req.IdempotencyKey = t.attemptKey
	req.RegisterSessionID = session.ID
	req.CashierID = t.user.ID
	req.PaymentMethod = in.PaymentMethod
	req.PaymentReference = in.PaymentReference
	req.CustomerID = in.CustomerID
	req.PrescriptionVerified = verified
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t.submitted = true
	sale, err := t.submit(ctx, req)
	if err != nil {
		t.logger.Warn("sale submission failed",
			zap.String("session_id", session.ID),
			zap.String("attempt", req.IdempotencyKey),
			zap.Error(err))
		return nil, err
	}

	t.logger.Info("sale committed",
		zap.String("session_id", session.ID),
		zap.String("sale_number", sale.Number),
		zap.String("payment_method", string(sale.PaymentMethod)),
		zap.String("total", sale.Total.StringFixed(2)))

	t.completeLocked(ctx, *sale)
	return sale, nil
}

// recoverLocked asks the store whether the current attempt was already
// recorded. A submission whose response was lost may have committed, and
// its stock is then gone from the catalog, so this runs before the stock
// re-check.
func (t *Terminal) recoverLocked(ctx context.Context) (*domain.Sale, error) {
	sale, err := t.deps.Sales.FindSaleByKey(ctx, t.attemptKey)
	if err != nil {
		return nil, fmt.Errorf("find earlier attempt: %w", err)
	}
	return sale, nil
}

// completeLocked prints the receipt, clears the cart and refetches stock.
func (t *Terminal) completeLocked(ctx context.Context, sale domain.Sale) {
	t.emitReceipt(ctx, sale)
	t.cart.Clear()
	t.attemptKey = ""
	t.submitted = false

	if err := t.catalog.Refresh(ctx); err != nil {
		t.logger.Warn("catalog refresh after sale failed", zap.Error(err))
	}
}

func (t *Terminal) confirmControlled(ctx context.Context, confirm ConfirmFunc) (bool, error) {
	controlled := t.cart.ControlledLines()
	if len(controlled) == 0 {
		return false, nil
	}
	if confirm == nil {
		return false, domain.ErrPrescriptionNotConfirmed
	}

	ok, err := confirm(ctx, controlled)
	if err != nil {
		return false, fmt.Errorf("prescription confirmation: %w", err)
	}
	if !ok {
		return false, domain.ErrPrescriptionNotConfirmed
	}
	return true, nil
}

// revalidateLocked checks every line against the catalog as last fetched.
// Products missing from the catalog count as having no stock.
func (t *Terminal) revalidateLocked() error {
	var shortages []domain.StockShortage
	for _, line := range t.cart.Lines() {
		available := 0
		if p, ok := t.catalog.Get(line.Product.ID); ok && p.Active {
			available = p.StockQuantity
		}
		if line.Quantity > available {
			shortages = append(shortages, domain.StockShortage{
				ProductID: line.Product.ID,
				Name:      line.Product.CommercialName,
				Requested: line.Quantity,
				Available: available,
			})
		}
	}

	if len(shortages) > 0 {
		return &domain.StockShortageError{Lines: shortages}
	}
	return nil
}

// submit sends the request under a per-session lock when a cache is
// configured, so two terminals on the same drawer never submit at once.
func (t *Terminal) submit(ctx context.Context, req domain.CheckoutRequest) (*domain.Sale, error) {
	if t.deps.Cache != nil {
		key := "checkout:lock:" + req.RegisterSessionID
		token, ok, err := t.deps.Cache.AcquireLock(ctx, key, t.deps.SubmissionLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire submission lock: %w", err)
		}
		if !ok {
			return nil, domain.ErrSubmissionInFlight
		}
		defer func() {
			if err := t.deps.Cache.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
				t.logger.Warn("release submission lock failed", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	sale, err := t.deps.Sales.SubmitSale(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit sale: %w", err)
	}
	return sale, nil
}

// emitReceipt prints the sale. Failures are logged; the sale stands.
func (t *Terminal) emitReceipt(ctx context.Context, sale domain.Sale) {
	if t.deps.Receipts == nil {
		return
	}

	receipt := domain.Receipt{
		Sale:        sale,
		CashierName: t.user.FirstName(),
	}
	if t.deps.Profiles != nil {
		profile, err := t.deps.Profiles.GetPharmacyProfile(ctx)
		if err != nil {
			t.logger.Warn("load pharmacy profile for receipt failed", zap.Error(err))
		} else if profile != nil {
			receipt.Profile = *profile
		}
	}

	if err := t.deps.Receipts.Emit(ctx, receipt); err != nil {
		t.logger.Warn("receipt emission failed", zap.String("sale_number", sale.Number), zap.Error(err))
	}
}
