package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/core/service"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserDTO   `json:"user"`
}

type ScanRequest struct {
	Barcode string `json:"barcode"`
}

type AddItemRequest struct {
	ProductID string `json:"product_id"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CheckoutHTTPRequest struct {
	PaymentMethod        string `json:"payment_method"`
	PaymentReference     string `json:"payment_reference"`
	CustomerID           string `json:"customer_id"`
	PrescriptionVerified bool   `json:"prescription_verified"`
}

// AmountRequest carries a drawer amount. A missing or null amount is
// rejected rather than read as zero.
type AmountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (r AmountRequest) value() (decimal.Decimal, error) {
	if r.Amount == nil {
		return decimal.Decimal{}, domain.ErrInvalidAmount
	}
	return *r.Amount, nil
}

type ErrorResponse struct {
	Error     string             `json:"error"`
	Kind      domain.ErrorKind   `json:"kind"`
	Shortages []StockShortageDTO `json:"shortages,omitempty"`
}

type StockShortageDTO struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func toUserDTO(u domain.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: string(u.Role)}
}

type ProductDTO struct {
	ID             string          `json:"id"`
	Barcode        string          `json:"barcode,omitempty"`
	CommercialName string          `json:"commercial_name"`
	GenericName    string          `json:"generic_name,omitempty"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	StockQuantity  int             `json:"stock_quantity"`
	MinStock       int             `json:"min_stock"`
	Controlled     bool            `json:"controlled"`
	LowStock       bool            `json:"low_stock"`
}

func toProductDTOs(products []domain.Product) []ProductDTO {
	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		out = append(out, toProductDTO(p))
	}
	return out
}

func toProductDTO(p domain.Product) ProductDTO {
	return ProductDTO{
		ID:             p.ID,
		Barcode:        p.Barcode,
		CommercialName: p.CommercialName,
		GenericName:    p.GenericName,
		UnitPrice:      p.UnitPrice,
		StockQuantity:  p.StockQuantity,
		MinStock:       p.MinStock,
		Controlled:     p.Controlled,
		LowStock:       p.IsLowStock(),
	}
}

type CartLineDTO struct {
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
	Controlled bool            `json:"controlled"`
}

type CartDTO struct {
	Lines    []CartLineDTO   `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
}

func toCartDTO(v service.CartView) CartDTO {
	lines := make([]CartLineDTO, 0, len(v.Lines))
	for _, l := range v.Lines {
		lines = append(lines, CartLineDTO{
			ProductID:  l.Product.ID,
			Name:       l.Product.CommercialName,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			LineTotal:  l.LineTotal(),
			Controlled: l.Product.Controlled,
		})
	}
	return CartDTO{Lines: lines, Subtotal: v.Subtotal, Total: v.Total}
}

type SaleLineDTO struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
}

type SaleDTO struct {
	ID                   string          `json:"id"`
	Number               string          `json:"number"`
	RegisterSessionID    string          `json:"register_session_id"`
	CustomerName         string          `json:"customer_name,omitempty"`
	Lines                []SaleLineDTO   `json:"lines"`
	PaymentMethod        string          `json:"payment_method"`
	PaymentReference     string          `json:"payment_reference,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Discount             decimal.Decimal `json:"discount"`
	Total                decimal.Decimal `json:"total"`
	PrescriptionVerified bool            `json:"prescription_verified"`
	CreatedAt            time.Time       `json:"created_at"`
}

func toSaleDTO(s domain.Sale) SaleDTO {
	lines := make([]SaleLineDTO, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, SaleLineDTO{
			ProductID:    l.ProductID,
			Name:         l.ProductName,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			LineSubtotal: l.LineSubtotal,
		})
	}
	return SaleDTO{
		ID:                   s.ID,
		Number:               s.Number,
		RegisterSessionID:    s.RegisterSessionID,
		CustomerName:         s.CustomerName,
		Lines:                lines,
		PaymentMethod:        string(s.PaymentMethod),
		PaymentReference:     s.PaymentReference,
		Subtotal:             s.Subtotal,
		Discount:             s.Discount,
		Total:                s.Total,
		PrescriptionVerified: s.PrescriptionVerified,
		CreatedAt:            s.CreatedAt,
	}
}

type SessionDTO struct {
	ID             string           `json:"id"`
	CashierID      string           `json:"cashier_id"`
	Status         string           `json:"status"`
	OpeningFloat   decimal.Decimal  `json:"opening_float"`
	OpenedAt       time.Time        `json:"opened_at"`
	ClosingAmount  *decimal.Decimal `json:"closing_amount,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	Variance       *decimal.Decimal `json:"variance,omitempty"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
}

func toSessionDTO(s domain.RegisterSession) SessionDTO {
	dto := SessionDTO{
		ID:           s.ID,
		CashierID:    s.CashierID,
		Status:       string(s.Status),
		OpeningFloat: s.OpeningFloat,
		OpenedAt:     s.OpenedAt,
		ClosedAt:     s.ClosedAt,
	}
	if s.Status == domain.SessionClosed {
		closing, expected, variance := s.ClosingAmount, s.ExpectedAmount, s.Variance
		dto.ClosingAmount = &closing
		dto.ExpectedAmount = &expected
		dto.Variance = &variance
	}
	return dto
}

type MethodTotalsDTO struct {
	Cash     decimal.Decimal `json:"EFECTIVO"`
	Card     decimal.Decimal `json:"TARJETA"`
	Transfer decimal.Decimal `json:"TRANSFERENCIA"`
	Mixed    decimal.Decimal `json:"MIXTO"`
}

type ReconciliationDTO struct {
	SessionID    string          `json:"session_id"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
	SalesCount   int             `json:"sales_count"`
	Totals       MethodTotalsDTO `json:"totals"`
	Expected     decimal.Decimal `json:"expected"`
}

func toReconciliationDTO(r domain.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		SessionID:    r.SessionID,
		OpeningFloat: r.OpeningFloat,
		SalesCount:   r.SalesCount,
		Totals: MethodTotalsDTO{
			Cash:     r.Totals.Cash,
			Card:     r.Totals.Card,
			Transfer: r.Totals.Transfer,
			Mixed:    r.Totals.Mixed,
		},
		Expected: r.Expected,
	}
}

type RegisterDTO struct {
	State   string             `json:"state"`
	Session *SessionDTO        `json:"session,omitempty"`
	Pending *ReconciliationDTO `json:"pending,omitempty"`
}

func toRegisterDTO(v service.RegisterView) RegisterDTO {
	dto := RegisterDTO{State: string(v.State)}
	if v.Session != nil {
		s := toSessionDTO(*v.Session)
		dto.Session = &s
	}
	if v.Pending != nil {
		p := toReconciliationDTO(*v.Pending)
		dto.Pending = &p
	}
	return dto
}

type PharmacyProfileDTO struct {
	Name             string `json:"name"`
	Address          string `json:"address"`
	TaxID            string `json:"tax_id"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	SanitaryRegistry string `json:"sanitary_registry"`
}

func toProfileDTO(p domain.PharmacyProfile) PharmacyProfileDTO {
	return PharmacyProfileDTO(p)
}

func (d PharmacyProfileDTO) toDomain() domain.PharmacyProfile {
	return domain.PharmacyProfile(d)
}
