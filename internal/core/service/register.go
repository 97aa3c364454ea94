package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/port"
)

type RegisterState string

const (
	RegisterNone    RegisterState = "NONE"
	RegisterClosed  RegisterState = "CLOSED"
	RegisterOpen    RegisterState = "OPEN"
	RegisterClosing RegisterState = "CLOSING"
)

// Register is the cash drawer state machine for one cashier:
//
//	NONE --Load--> CLOSED | OPEN
//	CLOSED --Open--> OPEN
//	OPEN --BeginClose--> CLOSING
//	CLOSING --ConfirmClose--> CLOSED
//	CLOSING --CancelClose--> OPEN
//
// It is not safe for concurrent use; the owning Terminal serializes calls.
type Register struct {
	cashierID string
	sessions  port.SessionRepository
	sales     port.SaleRepository
	logger    *zap.Logger
	now       func() time.Time

	state   RegisterState
	active  *domain.RegisterSession
	pending *domain.Reconciliation
}

func NewRegister(cashierID string, sessions port.SessionRepository, sales port.SaleRepository, logger *zap.Logger) *Register {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Register{
		cashierID: cashierID,
		sessions:  sessions,
		sales:     sales,
		logger:    logger,
		now:       time.Now,
		state:     RegisterNone,
	}
}

func (r *Register) State() RegisterState {
	return r.state
}

// Active returns the session the register is bound to, if any.
func (r *Register) Active() (domain.RegisterSession, bool) {
	if r.active == nil {
		return domain.RegisterSession{}, false
	}
	return *r.active, true
}

// Pending returns the reconciliation computed by BeginClose while CLOSING.
func (r *Register) Pending() (domain.Reconciliation, bool) {
	if r.pending == nil {
		return domain.Reconciliation{}, false
	}
	return *r.pending, true
}

// Load resolves NONE into CLOSED or OPEN with a single store lookup. Later
// calls return the current state without touching the store.
func (r *Register) Load(ctx context.Context) (RegisterState, error) {
	if r.state != RegisterNone {
		return r.state, nil
	}

	session, err := r.sessions.FindOpenSession(ctx, r.cashierID)
	if err != nil {
		return r.state, fmt.Errorf("find open session: %w", err)
	}

	if session != nil && session.IsOpen() {
		r.active = session
		r.state = RegisterOpen
	} else {
		r.state = RegisterClosed
	}
	return r.state, nil
}

// Open starts a new session with the given opening float. If the store
// already holds an open session for the cashier, the register adopts it
// and returns domain.ErrSessionAlreadyOpen.
func (r *Register) Open(ctx context.Context, openingFloat decimal.Decimal) (domain.RegisterSession, error) {
	ctx, span := tracer.Start(ctx, "register.open")
	defer span.End()

	if openingFloat.IsNegative() {
		return domain.RegisterSession{}, domain.ErrInvalidAmount
	}
	if _, err := r.Load(ctx); err != nil {
		return domain.RegisterSession{}, err
	}
	if r.state != RegisterClosed {
		return r.currentOrEmpty(), domain.ErrSessionAlreadyOpen
	}

	existing, err := r.sessions.FindOpenSession(ctx, r.cashierID)
	if err != nil {
		return domain.RegisterSession{}, fmt.Errorf("find open session: %w", err)
	}
	if existing != nil && existing.IsOpen() {
		r.active = existing
		r.state = RegisterOpen
		return *existing, domain.ErrSessionAlreadyOpen
	}

	session, err := r.sessions.OpenSession(ctx, domain.RegisterSession{
		ID:           uuid.NewString(),
		CashierID:    r.cashierID,
		OpeningFloat: openingFloat,
		OpenedAt:     r.now().UTC(),
		Status:       domain.SessionOpen,
	})
	if errors.Is(err, domain.ErrSessionAlreadyOpen) {
		// Another terminal won the race; bind to its session.
		if adopted, findErr := r.sessions.FindOpenSession(ctx, r.cashierID); findErr == nil && adopted != nil {
			r.active = adopted
			r.state = RegisterOpen
			return *adopted, domain.ErrSessionAlreadyOpen
		}
		return domain.RegisterSession{}, domain.ErrSessionAlreadyOpen
	}
	if err != nil {
		return domain.RegisterSession{}, fmt.Errorf("open session: %w", err)
	}

	r.active = session
	r.state = RegisterOpen
	span.SetAttributes(attribute.String("session_id", session.ID))
	r.logger.Info("register opened",
		zap.String("cashier_id", r.cashierID),
		zap.String("session_id", session.ID),
		zap.String("opening_float", openingFloat.StringFixed(2)))
	return *session, nil
}

// BeginClose computes the expected drawer cash from the session's sales
// and moves to CLOSING. Nothing is persisted.
func (r *Register) BeginClose(ctx context.Context) (domain.Reconciliation, error) {
	ctx, span := tracer.Start(ctx, "register.begin_close")
	defer span.End()

	if r.state != RegisterOpen || r.active == nil {
		return domain.Reconciliation{}, domain.ErrRegisterNotOpen
	}

	sales, err := r.sales.ListSalesBySession(ctx, r.active.ID)
	if err != nil {
		return domain.Reconciliation{}, fmt.Errorf("list session sales: %w", err)
	}

	rec := domain.Reconcile(*r.active, sales)
	r.pending = &rec
	r.state = RegisterClosing
	return rec, nil
}

// ConfirmClose persists the close with the counted amount and the variance
// against the expected figure. Any variance is accepted and recorded.
func (r *Register) ConfirmClose(ctx context.Context, counted decimal.Decimal) (domain.RegisterSession, error) {
	ctx, span := tracer.Start(ctx, "register.confirm_close")
	defer span.End()

	if r.state != RegisterClosing || r.pending == nil || r.active == nil {
		return domain.RegisterSession{}, domain.ErrRegisterNotClosing
	}
	if counted.IsNegative() {
		return domain.RegisterSession{}, domain.ErrInvalidAmount
	}

	variance := r.pending.Variance(counted)
	closed, err := r.sessions.CloseSession(ctx, domain.SessionClose{
		SessionID:      r.active.ID,
		ClosingAmount:  counted,
		ExpectedAmount: r.pending.Expected,
		Variance:       variance,
		ClosedAt:       r.now().UTC(),
	})
	if err != nil {
		return domain.RegisterSession{}, fmt.Errorf("close session: %w", err)
	}

	r.logger.Info("register closed",
		zap.String("cashier_id", r.cashierID),
		zap.String("session_id", closed.ID),
		zap.String("expected", r.pending.Expected.StringFixed(2)),
		zap.String("counted", counted.StringFixed(2)),
		zap.String("variance", variance.StringFixed(2)))

	r.active = nil
	r.pending = nil
	r.state = RegisterClosed
	return *closed, nil
}

// CancelClose drops the reconciliation view and returns to OPEN.
func (r *Register) CancelClose() error {
	if r.state != RegisterClosing {
		return domain.ErrRegisterNotClosing
	}
	r.pending = nil
	r.state = RegisterOpen
	return nil
}

// RequireOpen gates checkout.
func (r *Register) RequireOpen() (domain.RegisterSession, error) {
	if r.state != RegisterOpen || r.active == nil {
		return domain.RegisterSession{}, domain.ErrRegisterNotOpen
	}
	return *r.active, nil
}

func (r *Register) currentOrEmpty() domain.RegisterSession {
	if r.active == nil {
		return domain.RegisterSession{}
	}
	return *r.active
}
