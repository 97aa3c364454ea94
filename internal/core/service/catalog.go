package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/port"
)

// Catalog is the register's local copy of the product list. Lookups hit
// the cached list first; only FindByBarcode falls back to the store.
type Catalog struct {
	products port.ProductRepository

	mu        sync.RWMutex
	items     []domain.Product
	folded    []string
	byID      map[string]int
	fetchedAt time.Time
}

func NewCatalog(products port.ProductRepository) *Catalog {
	return &Catalog{
		products: products,
		byID:     make(map[string]int),
	}
}

// Refresh replaces the cached list with a full fetch from the store.
func (c *Catalog) Refresh(ctx context.Context) error {
	items, err := c.products.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}

	folded := make([]string, len(items))
	byID := make(map[string]int, len(items))
	for i, p := range items {
		folded[i] = foldName(p.CommercialName)
		byID[p.ID] = i
	}

	c.mu.Lock()
	c.items = items
	c.folded = folded
	c.byID = byID
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// FindByBarcode matches code exactly against the cached list, then asks the
// store. A miss returns domain.ErrProductNotFound; store failures are
// returned wrapped.
func (c *Catalog) FindByBarcode(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, domain.ErrProductNotFound
	}

	c.mu.RLock()
	for _, p := range c.items {
		if p.Barcode == code {
			c.mu.RUnlock()
			return p, nil
		}
	}
	c.mu.RUnlock()

	p, err := c.products.FindProductByBarcode(ctx, code)
	if errors.Is(err, domain.ErrProductNotFound) || (err == nil && p == nil) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("lookup barcode: %w", err)
	}
	if !p.Active {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return *p, nil
}

// FindByNameOrCode returns the first cached product, in fetch order, whose
// commercial name contains term (ignoring case and accents) or whose
// barcode equals term.
func (c *Catalog) FindByNameOrCode(term string) (domain.Product, error) {
	matches := c.Search(term, 1)
	if len(matches) == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return matches[0], nil
}

// Search returns up to limit matches in fetch order. A limit below 1 means
// no limit; an empty term matches everything.
func (c *Catalog) Search(term string, limit int) []domain.Product {
	term = strings.TrimSpace(term)
	needle := foldName(term)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.Product
	for i, p := range c.items {
		if term == "" || p.Barcode == term || strings.Contains(c.folded[i], needle) {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

// Get returns the cached entry for id.
func (c *Catalog) Get(id string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return domain.Product{}, false
	}
	return c.items[i], true
}

// Products returns a copy of the cached list.
func (c *Catalog) Products() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Product, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// LowStock fetches every active product and keeps those at or below their
// minimum stock. Cost is one full fetch plus O(n) filtering; the store has
// no predicate query for it.
func (c *Catalog) LowStock(ctx context.Context) ([]domain.Product, error) {
	items, err := c.products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}

	var out []domain.Product
	for _, p := range items {
		if p.Active && p.IsLowStock() {
			out = append(out, p)
		}
	}
	return out, nil
}

// foldName lowercases s and strips combining marks, so "ÁCIDO" matches "acido".
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
