package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "ABIERTA"
	SessionClosed SessionStatus = "CERRADA"
)

// RegisterSession is one cashier's open-to-close drawer period. Closing
// fields are set once, when the session moves to CLOSED.
type RegisterSession struct {
	ID             string
	CashierID      string
	OpeningFloat   decimal.Decimal
	OpenedAt       time.Time
	Status         SessionStatus
	ClosingAmount  decimal.Decimal
	ExpectedAmount decimal.Decimal
	Variance       decimal.Decimal
	ClosedAt       *time.Time
}

func (s RegisterSession) IsOpen() bool {
	return s.Status == SessionOpen
}

// SessionClose carries the figures persisted when a session closes.
type SessionClose struct {
	SessionID      string
	ClosingAmount  decimal.Decimal
	ExpectedAmount decimal.Decimal
	Variance       decimal.Decimal
	ClosedAt       time.Time
}
