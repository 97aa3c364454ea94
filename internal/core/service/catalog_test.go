package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

func TestCatalog_FindByBarcode(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(
		product("p-1", "7401", "Acetaminofén 500mg", "0.50", 40),
		product("p-2", "7402", "Ibuprofeno 400mg", "0.75", 12),
	)
	catalog := NewCatalog(store)
	require.NoError(t, catalog.Refresh(ctx))

	t.Run("cached hit skips the store", func(t *testing.T) {
		p, err := catalog.FindByBarcode(ctx, " 7402 ")
		require.NoError(t, err)
		assert.Equal(t, "p-2", p.ID)
		assert.Equal(t, 0, store.barcodeCalls)
	})

	t.Run("falls back to the store", func(t *testing.T) {
		store.mu.Lock()
		store.products = append(store.products, product("p-3", "7403", "Loratadina 10mg", "1.20", 8))
		store.mu.Unlock()

		p, err := catalog.FindByBarcode(ctx, "7403")
		require.NoError(t, err)
		assert.Equal(t, "p-3", p.ID)
		assert.Equal(t, 1, store.barcodeCalls)
	})

	t.Run("inactive product is not found", func(t *testing.T) {
		inactive := product("p-4", "7404", "Descontinuado", "2.00", 3)
		inactive.Active = false
		store.mu.Lock()
		store.products = append(store.products, inactive)
		store.mu.Unlock()

		_, err := catalog.FindByBarcode(ctx, "7404")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := catalog.FindByBarcode(ctx, "0000")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})

	t.Run("blank code", func(t *testing.T) {
		_, err := catalog.FindByBarcode(ctx, "  ")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})
}

type failingProducts struct{ *mockStore }

func (f *failingProducts) FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return nil, errTransport
}

func TestCatalog_FindByBarcodeTransportError(t *testing.T) {
	catalog := NewCatalog(&failingProducts{mockStore: newMockStore()})

	_, err := catalog.FindByBarcode(context.Background(), "7401")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errTransport))
	assert.False(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestCatalog_Search(t *testing.T) {
	store := newMockStore(
		product("p-1", "7401", "ÁCIDO FÓLICO 5mg", "0.30", 20),
		product("p-2", "7402", "Acetaminofén 500mg", "0.50", 40),
		product("p-3", "7403", "Amoxicilina 500mg", "0.90", 15),
	)
	catalog := NewCatalog(store)
	require.NoError(t, catalog.Refresh(context.Background()))

	tests := []struct {
		name string
		term string
		want []string
	}{
		{"case and accent insensitive", "acido folico", []string{"p-1"}},
		{"accented term", "ACETAMINOFÉN", []string{"p-2"}},
		{"substring across products", "500", []string{"p-2", "p-3"}},
		{"exact barcode", "7403", []string{"p-3"}},
		{"empty term matches all", "", []string{"p-1", "p-2", "p-3"}},
		{"no match", "insulina", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, p := range catalog.Search(tt.term, 0) {
				got = append(got, p.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	first, err := catalog.FindByNameOrCode("500")
	require.NoError(t, err)
	assert.Equal(t, "p-2", first.ID, "first match in fetch order")

	_, err = catalog.FindByNameOrCode("insulina")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCatalog_LowStock(t *testing.T) {
	low := product("p-1", "7401", "Salbutamol inhalador", "4.50", 5)
	ok := product("p-2", "7402", "Suero oral", "0.80", 6)
	empty := product("p-3", "7403", "Omeprazol 20mg", "0.40", 0)
	store := newMockStore(low, ok, empty)

	items, err := NewCatalog(store).LowStock(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, p := range items {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p-1", "p-3"}, ids)
	assert.Equal(t, 1, store.listCalls)
}

func TestCatalog_RefreshError(t *testing.T) {
	store := newMockStore(product("p-1", "7401", "Acetaminofén", "0.50", 4))
	catalog := NewCatalog(store)
	require.NoError(t, catalog.Refresh(context.Background()))

	store.listErr = errTransport
	err := catalog.Refresh(context.Background())
	assert.ErrorIs(t, err, errTransport)

	_, found := catalog.Get("p-1")
	assert.True(t, found, "failed refresh keeps the previous list")
}
