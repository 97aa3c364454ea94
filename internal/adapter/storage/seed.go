package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

// Seeder is implemented by both SQLAdapter and MemoryStore.
type Seeder interface {
	SaveProduct(ctx context.Context, p domain.Product) error
	CreateUser(ctx context.Context, user domain.User, password string) (*domain.User, error)
	CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	UpdatePharmacyProfile(ctx context.Context, profile domain.PharmacyProfile) error
}

// SeedPasswords are the initial passwords of the demo accounts.
type SeedPasswords struct {
	Admin      string
	Pharmacist string
	Cashier    string
}

func DemoProfile() domain.PharmacyProfile {
	return domain.PharmacyProfile{
		Name:             "Farmacia San Rafael",
		Address:          "Av. Central 123, San Salvador",
		TaxID:            "0614-010190-101-1",
		Phone:            "2222-0000",
		Email:            "ventas@farmaciasanrafael.com",
		SanitaryRegistry: "DNM-2024-0457",
	}
}

func DemoProducts() []domain.Product {
	p := func(id, barcode, name, generic, price string, stock, min int, controlled bool) domain.Product {
		return domain.Product{
			ID:             id,
			Barcode:        barcode,
			CommercialName: name,
			GenericName:    generic,
			UnitPrice:      decimal.RequireFromString(price),
			StockQuantity:  stock,
			MinStock:       min,
			Controlled:     controlled,
			Active:         true,
		}
	}
	return []domain.Product{
		p("prd-0001", "7410001000011", "Acetaminofén 500mg", "Paracetamol", "0.25", 500, 50, false),
		p("prd-0002", "7410001000028", "Ibuprofeno 400mg", "Ibuprofeno", "0.35", 300, 40, false),
		p("prd-0003", "7410001000035", "Amoxicilina 500mg", "Amoxicilina", "0.60", 120, 30, false),
		p("prd-0004", "7410001000042", "Loratadina 10mg", "Loratadina", "0.40", 8, 10, false),
		p("prd-0005", "7410001000059", "Omeprazol 20mg", "Omeprazol", "0.30", 200, 25, false),
		p("prd-0006", "7410001000066", "Suero Oral Fresa", "Sales de rehidratación", "1.10", 45, 15, false),
		p("prd-0007", "7410001000073", "Clonazepam 2mg", "Clonazepam", "0.90", 60, 10, true),
		p("prd-0008", "7410001000080", "Tramadol 50mg", "Tramadol", "0.75", 4, 10, true),
	}
}

// Seed loads the demo catalog, accounts, a customer and the pharmacy
// profile.
func Seed(ctx context.Context, s Seeder, passwords SeedPasswords) error {
	if err := s.UpdatePharmacyProfile(ctx, DemoProfile()); err != nil {
		return fmt.Errorf("seed profile: %w", err)
	}
	for _, p := range DemoProducts() {
		if err := s.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}

	users := []struct {
		user     domain.User
		password string
	}{
		{domain.User{ID: "usr-admin", Username: "admin", FullName: "Administrador General", Role: domain.RoleAdmin, Active: true}, passwords.Admin},
		{domain.User{ID: "usr-farma", Username: "farmacia", FullName: "María Fernanda López", Role: domain.RolePharmacist, Active: true}, passwords.Pharmacist},
		{domain.User{ID: "usr-caja1", Username: "caja1", FullName: "José Antonio Rivas", Role: domain.RoleCashier, Active: true}, passwords.Cashier},
	}
	for _, u := range users {
		if u.password == "" {
			continue
		}
		if _, err := s.CreateUser(ctx, u.user, u.password); err != nil {
			return fmt.Errorf("seed user %s: %w", u.user.Username, err)
		}
	}

	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "cli-0001", Name: "Clínica Santa Ana", TaxID: "0614-200585-102-3"}); err != nil {
		return fmt.Errorf("seed customer: %w", err)
	}
	return nil
}
