package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart                = errors.New("empty cart")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInvalidQuantity          = errors.New("invalid quantity")
	ErrInvalidAmount            = errors.New("amount must be a non-negative number")
	ErrInvalidPaymentMethod     = errors.New("invalid payment method")
	ErrPrescriptionNotConfirmed = errors.New("prescription verification declined")
	ErrInvalidCheckout          = errors.New("invalid checkout request")

	ErrRegisterNotOpen    = errors.New("register not open")
	ErrRegisterNotClosing = errors.New("register is not closing")
	ErrSessionAlreadyOpen = errors.New("register session already open")
	ErrTerminalBusy       = errors.New("terminal busy")
	ErrSubmissionInFlight = errors.New("sale submission already in flight")

	ErrProductNotFound  = errors.New("product not found")
	ErrSessionNotFound  = errors.New("register session not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrTerminalNotFound = errors.New("terminal not found")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginTimeout       = errors.New("login timed out")
)

// StockShortage is one cart line that no longer fits the available stock.
type StockShortage struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

// StockShortageError is returned by the final stock re-check before
// submission. It lists every failing line.
type StockShortageError struct {
	Lines []StockShortage
}

func (e *StockShortageError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", l.Name, l.Requested, l.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}

// ErrorKind groups errors the way operators see them.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindTimeout      ErrorKind = "timeout"
	KindTransport    ErrorKind = "transport"
)

// Kind classifies err. Anything not recognised is a transport failure.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, ErrPrescriptionNotConfirmed),
		errors.Is(err, ErrInvalidCheckout),
		errors.Is(err, ErrRegisterNotOpen),
		errors.Is(err, ErrRegisterNotClosing):
		return KindValidation
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrCustomerNotFound),
		errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionAlreadyOpen),
		errors.Is(err, ErrTerminalBusy),
		errors.Is(err, ErrSubmissionInFlight):
		return KindConflict
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTerminalNotFound):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrLoginTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransport
	}
}
