package port

import (
	"context"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

type ProductRepository interface {
	// ListProducts returns active products in a stable order
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// FindProductByBarcode returns domain.ErrProductNotFound on a miss
	FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
}

type SaleRepository interface {
	// SubmitSale decrements stock and records the sale in one transaction.
	// A repeated idempotency key returns the sale already recorded for it.
	SubmitSale(ctx context.Context, req domain.CheckoutRequest) (*domain.Sale, error)

	// FindSaleByKey returns nil, nil when no sale carries the idempotency key
	FindSaleByKey(ctx context.Context, key string) (*domain.Sale, error)

	// ListSalesBySession returns the sales tied to a register session
	ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error)
}

type SessionRepository interface {
	// FindOpenSession returns nil, nil when the cashier has no open session
	FindOpenSession(ctx context.Context, cashierID string) (*domain.RegisterSession, error)

	// OpenSession returns domain.ErrSessionAlreadyOpen if one is already open
	OpenSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error)

	// CloseSession moves an open session to closed with the given figures
	CloseSession(ctx context.Context, close domain.SessionClose) (*domain.RegisterSession, error)

	// GetSession returns domain.ErrSessionNotFound on a miss
	GetSession(ctx context.Context, sessionID string) (*domain.RegisterSession, error)
}

type ProfileRepository interface {
	GetPharmacyProfile(ctx context.Context) (*domain.PharmacyProfile, error)
	UpdatePharmacyProfile(ctx context.Context, profile domain.PharmacyProfile) error
}

type IdentityProvider interface {
	// Authenticate returns domain.ErrInvalidCredentials on a bad username or password
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
}
