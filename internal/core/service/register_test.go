package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRegister_LoadLooksUpOnce(t *testing.T) {
	store := newMockStore()
	reg := NewRegister("u-1", store, store, nil)
	assert.Equal(t, RegisterNone, reg.State())

	state, err := reg.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RegisterClosed, state)

	_, err = reg.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.findOpenCalls)
}

func TestRegister_LoadAdoptsOpenSession(t *testing.T) {
	store := newMockStore()
	store.sessions["s-1"] = domain.RegisterSession{ID: "s-1", CashierID: "u-1", OpeningFloat: dec("20"), Status: domain.SessionOpen}

	reg := NewRegister("u-1", store, store, nil)
	state, err := reg.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RegisterOpen, state)

	s, ok := reg.Active()
	require.True(t, ok)
	assert.Equal(t, "s-1", s.ID)
}

func TestRegister_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("negative float", func(t *testing.T) {
		reg := NewRegister("u-1", newMockStore(), newMockStore(), nil)
		_, err := reg.Open(ctx, dec("-1"))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		assert.Equal(t, RegisterNone, reg.State())
	})

	t.Run("opens a new session", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegister("u-1", store, store, nil)

		s, err := reg.Open(ctx, dec("50.00"))
		require.NoError(t, err)
		assert.Equal(t, RegisterOpen, reg.State())
		assert.Equal(t, domain.SessionOpen, s.Status)
		assert.True(t, s.OpeningFloat.Equal(dec("50")))
		assert.NotEmpty(t, s.ID)
		assert.Len(t, store.sessions, 1)
	})

	t.Run("second open is rejected", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegister("u-1", store, store, nil)
		first, err := reg.Open(ctx, dec("50"))
		require.NoError(t, err)

		again, err := reg.Open(ctx, dec("10"))
		assert.ErrorIs(t, err, domain.ErrSessionAlreadyOpen)
		assert.Equal(t, first.ID, again.ID)
		assert.Len(t, store.sessions, 1)
	})

	t.Run("session opened elsewhere is adopted", func(t *testing.T) {
		store := newMockStore()
		reg := NewRegister("u-1", store, store, nil)
		_, err := reg.Load(ctx)
		require.NoError(t, err)

		store.sessions["s-other"] = domain.RegisterSession{ID: "s-other", CashierID: "u-1", Status: domain.SessionOpen}

		s, err := reg.Open(ctx, dec("50"))
		assert.ErrorIs(t, err, domain.ErrSessionAlreadyOpen)
		assert.Equal(t, "s-other", s.ID)
		assert.Equal(t, RegisterOpen, reg.State())
	})
}

func TestRegister_CloseReconciliation(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegister("u-1", store, store, nil)

	session, err := reg.Open(ctx, dec("100.00"))
	require.NoError(t, err)

	store.addSale(session.ID, domain.PaymentCash, "20.00")
	store.addSale(session.ID, domain.PaymentCash, "30.00")
	store.addSale(session.ID, domain.PaymentCard, "12.50")
	store.addSale("another-session", domain.PaymentCash, "99.00")

	rec, err := reg.BeginClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, RegisterClosing, reg.State())
	assert.Equal(t, 3, rec.SalesCount)
	assert.True(t, rec.Expected.Equal(dec("150.00")), "expected %s", rec.Expected)
	assert.True(t, rec.Totals.Card.Equal(dec("12.50")))

	closed, err := reg.ConfirmClose(ctx, dec("145.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, closed.Status)
	assert.True(t, closed.Variance.Equal(dec("-5.00")), "variance %s", closed.Variance)
	assert.True(t, closed.ExpectedAmount.Equal(dec("150")))
	require.NotNil(t, closed.ClosedAt)

	assert.Equal(t, RegisterClosed, reg.State())
	_, active := reg.Active()
	assert.False(t, active)
	_, err = reg.RequireOpen()
	assert.ErrorIs(t, err, domain.ErrRegisterNotOpen)
}

func TestRegister_Transitions(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegister("u-1", store, store, nil)
	_, err := reg.Load(ctx)
	require.NoError(t, err)

	_, err = reg.BeginClose(ctx)
	assert.ErrorIs(t, err, domain.ErrRegisterNotOpen)
	_, err = reg.ConfirmClose(ctx, dec("0"))
	assert.ErrorIs(t, err, domain.ErrRegisterNotClosing)
	assert.ErrorIs(t, reg.CancelClose(), domain.ErrRegisterNotClosing)

	_, err = reg.Open(ctx, dec("0"))
	require.NoError(t, err)
	_, err = reg.BeginClose(ctx)
	require.NoError(t, err)

	_, err = reg.ConfirmClose(ctx, dec("-0.01"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, RegisterClosing, reg.State())

	require.NoError(t, reg.CancelClose())
	assert.Equal(t, RegisterOpen, reg.State())
	_, pending := reg.Pending()
	assert.False(t, pending)

	_, err = reg.RequireOpen()
	assert.NoError(t, err)
}

func TestRegister_ConfirmCloseStoreFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	reg := NewRegister("u-1", store, store, nil)
	session, err := reg.Open(ctx, dec("10"))
	require.NoError(t, err)
	_, err = reg.BeginClose(ctx)
	require.NoError(t, err)

	delete(store.sessions, session.ID)

	_, err = reg.ConfirmClose(ctx, dec("10"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, RegisterClosing, reg.State())
	_, pending := reg.Pending()
	assert.True(t, pending)
}
