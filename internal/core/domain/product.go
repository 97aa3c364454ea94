package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalog entry. The register only ever reads it;
// stock is decremented by the store inside sale submission.
type Product struct {
	ID             string
	Barcode        string
	CommercialName string
	GenericName    string
	UnitPrice      decimal.Decimal
	StockQuantity  int
	MinStock       int
	Controlled     bool
	Active         bool
	UpdatedAt      time.Time
}

// IsLowStock reports whether the product sits at or below its threshold.
func (p Product) IsLowStock() bool {
	return p.StockQuantity <= p.MinStock
}
