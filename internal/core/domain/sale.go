package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "EFECTIVO"
	PaymentCard     PaymentMethod = "TARJETA"
	PaymentTransfer PaymentMethod = "TRANSFERENCIA"
	PaymentMixed    PaymentMethod = "MIXTO"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentMixed:
		return true
	}
	return false
}

// CheckoutLine is one priced line of a CheckoutRequest.
type CheckoutLine struct {
	ProductID    string
	ProductName  string
	Quantity     int
	UnitPrice    decimal.Decimal
	LineSubtotal decimal.Decimal
}

// CheckoutRequest is the payload submitted to the store to commit a sale.
type CheckoutRequest struct {
	IdempotencyKey       string
	RegisterSessionID    string
	CashierID            string
	Lines                []CheckoutLine
	PaymentMethod        PaymentMethod
	PaymentReference     string
	Subtotal             decimal.Decimal
	Discount             decimal.Decimal
	Total                decimal.Decimal
	CustomerID           string
	PrescriptionVerified bool
}

// Validate checks the request is internally consistent before it leaves
// the process.
func (r CheckoutRequest) Validate() error {
	if r.RegisterSessionID == "" || r.CashierID == "" || len(r.Lines) == 0 {
		return ErrInvalidCheckout
	}
	if !r.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}

	sum := decimal.Zero
	for _, l := range r.Lines {
		if l.ProductID == "" || l.Quantity < 1 || l.UnitPrice.IsNegative() {
			return ErrInvalidCheckout
		}
		if !l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Equal(l.LineSubtotal) {
			return ErrInvalidCheckout
		}
		sum = sum.Add(l.LineSubtotal)
	}
	if !sum.Equal(r.Subtotal) || r.Discount.IsNegative() || !r.Subtotal.Sub(r.Discount).Equal(r.Total) {
		return ErrInvalidCheckout
	}
	return nil
}

// SaleLine is a committed line of a Sale.
type SaleLine struct {
	ProductID    string
	ProductName  string
	Quantity     int
	UnitPrice    decimal.Decimal
	LineSubtotal decimal.Decimal
}

// Sale is the record created by the store from a CheckoutRequest.
type Sale struct {
	ID                   string
	Number               string
	RegisterSessionID    string
	CashierID            string
	CustomerID           string
	CustomerName         string
	Lines                []SaleLine
	PaymentMethod        PaymentMethod
	PaymentReference     string
	Subtotal             decimal.Decimal
	Discount             decimal.Decimal
	Total                decimal.Decimal
	PrescriptionVerified bool
	IdempotencyKey       string
	CreatedAt            time.Time
}

// NewCheckoutRequest builds the submission payload from cart lines using
// their captured unit prices.
func NewCheckoutRequest(lines []CartLine) CheckoutRequest {
	req := CheckoutRequest{
		Lines:    make([]CheckoutLine, 0, len(lines)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	for _, l := range lines {
		total := l.LineTotal()
		req.Lines = append(req.Lines, CheckoutLine{
			ProductID:    l.Product.ID,
			ProductName:  l.Product.CommercialName,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			LineSubtotal: total,
		})
		req.Subtotal = req.Subtotal.Add(total)
	}
	req.Total = req.Subtotal.Sub(req.Discount)
	return req
}
