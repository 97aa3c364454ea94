package domain

import "github.com/shopspring/decimal"

// MethodTotals are sale totals grouped by payment method.
type MethodTotals struct {
	Cash     decimal.Decimal
	Card     decimal.Decimal
	Transfer decimal.Decimal
	Mixed    decimal.Decimal
}

func (m MethodTotals) Sum() decimal.Decimal {
	return m.Cash.Add(m.Card).Add(m.Transfer).Add(m.Mixed)
}

// Reconciliation is the read-only projection shown while a session closes.
type Reconciliation struct {
	SessionID    string
	OpeningFloat decimal.Decimal
	SalesCount   int
	Totals       MethodTotals
	Expected     decimal.Decimal
}

// Reconcile computes expected drawer cash as opening float plus the totals
// of sales paid in cash. Card, transfer and mixed payments are reported in
// Totals but do not feed Expected. Sales from other sessions are ignored.
func Reconcile(session RegisterSession, sales []Sale) Reconciliation {
	r := Reconciliation{
		SessionID:    session.ID,
		OpeningFloat: session.OpeningFloat,
		Totals: MethodTotals{
			Cash:     decimal.Zero,
			Card:     decimal.Zero,
			Transfer: decimal.Zero,
			Mixed:    decimal.Zero,
		},
	}

	for _, s := range sales {
		if s.RegisterSessionID != session.ID {
			continue
		}
		r.SalesCount++
		switch s.PaymentMethod {
		case PaymentCash:
			r.Totals.Cash = r.Totals.Cash.Add(s.Total)
		case PaymentCard:
			r.Totals.Card = r.Totals.Card.Add(s.Total)
		case PaymentTransfer:
			r.Totals.Transfer = r.Totals.Transfer.Add(s.Total)
		case PaymentMixed:
			r.Totals.Mixed = r.Totals.Mixed.Add(s.Total)
		}
	}

	r.Expected = session.OpeningFloat.Add(r.Totals.Cash)
	return r
}

// Variance is counted minus expected. Negative means the drawer is short.
func (r Reconciliation) Variance(counted decimal.Decimal) decimal.Decimal {
	return counted.Sub(r.Expected)
}
