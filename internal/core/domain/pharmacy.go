package domain

// PharmacyProfile is the header data printed on receipts.
type PharmacyProfile struct {
	Name             string
	Address          string
	TaxID            string
	Phone            string
	Email            string
	SanitaryRegistry string
}

type Customer struct {
	ID    string
	Name  string
	TaxID string
}

// Receipt is everything the receipt emitter needs for one sale.
type Receipt struct {
	Sale        Sale
	Profile     PharmacyProfile
	CashierName string
}
