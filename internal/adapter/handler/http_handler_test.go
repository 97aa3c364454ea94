package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/pharmacy-pos/internal/adapter/report"
	"github.com/rl1809/pharmacy-pos/internal/adapter/storage"
	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/core/service"
)

var testPasswords = storage.SeedPasswords{Admin: "admin123", Pharmacist: "farma123", Cashier: "caja123"}

type apiFixture struct {
	store  *storage.MemoryStore
	auth   *service.AuthService
	tokens *TokenManager
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, storage.Seed(context.Background(), store, testPasswords))

	logger := zaptest.NewLogger(t)
	pool := service.NewTerminalPool(service.Deps{
		Products: store,
		Sales:    store,
		Sessions: store,
		Profiles: store,
		Logger:   logger,
	})
	t.Cleanup(pool.CloseAll)

	auth := service.NewAuthService(store, pool, 5*time.Second, logger)
	tokens := NewTokenManager("test-secret", time.Hour)
	h := NewHTTPHandler(auth, tokens, store, report.NewWriter(time.UTC), logger)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &apiFixture{store: store, auth: auth, tokens: tokens, server: srv}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (f *apiFixture) login(t *testing.T, username, password string) string {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, status, string(body))

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeAs[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func amountOf(n int64) AmountRequest {
	v := decimal.NewFromInt(n)
	return AmountRequest{Amount: &v}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestHTTPHandler_HealthCheck(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHTTPHandler_Login(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name     string
		username string
		password string
		status   int
	}{
		{"valid cashier", "caja1", "caja123", http.StatusOK},
		{"wrong password", "caja1", "nope", http.StatusUnauthorized},
		{"unknown user", "ghost", "caja123", http.StatusUnauthorized},
		{"blank username", "", "caja123", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: tt.username, Password: tt.password})
			assert.Equal(t, tt.status, status, string(body))
		})
	}
}

func TestHTTPHandler_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/pos/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, domain.KindUnauthorized, decodeAs[ErrorResponse](t, body).Kind)

	status, _ = f.do(t, http.MethodGet, "/api/pos/cart", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHTTPHandler_InvalidBody(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/auth/login", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPHandler_CashSale(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "caja1", "caja123")

	status, body := f.do(t, http.MethodGet, "/api/register", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CLOSED", decodeAs[RegisterDTO](t, body).State)

	status, body = f.do(t, http.MethodPost, "/api/register/open", token, amountOf(20))
	require.Equal(t, http.StatusCreated, status, string(body))
	session := decodeAs[SessionDTO](t, body)
	assert.Equal(t, "ABIERTA", session.Status)

	for i := 0; i < 2; i++ {
		status, body = f.do(t, http.MethodPost, "/api/pos/cart/scan", token, ScanRequest{Barcode: "7410001000011"})
		require.Equal(t, http.StatusOK, status, string(body))
	}
	cart := decodeAs[CartDTO](t, body)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.Lines[0].Quantity)
	assertDecimal(t, "0.50", cart.Total)

	status, body = f.do(t, http.MethodPost, "/api/pos/checkout", token, CheckoutHTTPRequest{PaymentMethod: "efectivo"})
	require.Equal(t, http.StatusCreated, status, string(body))
	sale := decodeAs[SaleDTO](t, body)
	assert.NotEmpty(t, sale.Number)
	assert.Equal(t, session.ID, sale.RegisterSessionID)
	assert.Equal(t, "EFECTIVO", sale.PaymentMethod)
	assertDecimal(t, "0.50", sale.Total)

	status, body = f.do(t, http.MethodGet, "/api/pos/cart", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeAs[CartDTO](t, body).Lines)

	products, err := f.store.ListProducts(context.Background())
	require.NoError(t, err)
	for _, p := range products {
		if p.ID == "prd-0001" {
			assert.Equal(t, 498, p.StockQuantity)
		}
	}
}

func TestHTTPHandler_CheckoutRejections(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "caja1", "caja123")

	status, body := f.do(t, http.MethodPost, "/api/pos/checkout", token, CheckoutHTTPRequest{PaymentMethod: "EFECTIVO"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decodeAs[ErrorResponse](t, body).Error, domain.ErrEmptyCart.Error())

	status, _ = f.do(t, http.MethodPost, "/api/pos/cart/items", token, AddItemRequest{ProductID: "prd-0007"})
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodPost, "/api/pos/checkout", token, CheckoutHTTPRequest{PaymentMethod: "EFECTIVO"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decodeAs[ErrorResponse](t, body).Error, domain.ErrRegisterNotOpen.Error())

	status, _ = f.do(t, http.MethodPost, "/api/register/open", token, amountOf(10))
	require.Equal(t, http.StatusCreated, status)

	status, body = f.do(t, http.MethodPost, "/api/pos/checkout", token, CheckoutHTTPRequest{PaymentMethod: "CHEQUE"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decodeAs[ErrorResponse](t, body).Error, domain.ErrInvalidPaymentMethod.Error())

	status, body = f.do(t, http.MethodPost, "/api/pos/checkout", token, CheckoutHTTPRequest{PaymentMethod: "TARJETA"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decodeAs[ErrorResponse](t, body).Error, domain.ErrPrescriptionNotConfirmed.Error())

	status, body = f.do(t, http.MethodPost, "/api/pos/checkout", token, CheckoutHTTPRequest{
		PaymentMethod:        "TARJETA",
		PaymentReference:     "VOUCHER-1",
		CustomerID:           "cli-0001",
		PrescriptionVerified: true,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	sale := decodeAs[SaleDTO](t, body)
	assert.True(t, sale.PrescriptionVerified)
	assert.Equal(t, "Clínica Santa Ana", sale.CustomerName)
	assert.Equal(t, "VOUCHER-1", sale.PaymentReference)
}

func TestHTTPHandler_CartEdits(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "caja1", "caja123")

	status, _ := f.do(t, http.MethodPost, "/api/pos/cart/items", token, AddItemRequest{ProductID: "prd-0008"})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodPut, "/api/pos/cart/items/prd-0008", token, SetQuantityRequest{Quantity: 5})
	assert.Equal(t, http.StatusBadRequest, status, "tramadol has 4 in stock")
	assert.Equal(t, domain.KindValidation, decodeAs[ErrorResponse](t, body).Kind)

	status, body = f.do(t, http.MethodPut, "/api/pos/cart/items/prd-0008", token, SetQuantityRequest{Quantity: 4})
	require.Equal(t, http.StatusOK, status, string(body))
	cart := decodeAs[CartDTO](t, body)
	assertDecimal(t, "3.00", cart.Total)
	assert.True(t, cart.Lines[0].Controlled)

	status, body = f.do(t, http.MethodDelete, "/api/pos/cart/items/prd-0008", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeAs[CartDTO](t, body).Lines)

	status, _ = f.do(t, http.MethodPost, "/api/pos/cart/scan", token, ScanRequest{Barcode: "0000000000000"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPHandler_ListProducts(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "caja1", "caja123")

	status, body := f.do(t, http.MethodGet, "/api/pos/products", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeAs[[]ProductDTO](t, body), len(storage.DemoProducts()))

	status, body = f.do(t, http.MethodGet, "/api/pos/products?q=acetaminofen", token, nil)
	require.Equal(t, http.StatusOK, status)
	found := decodeAs[[]ProductDTO](t, body)
	require.Len(t, found, 1)
	assert.Equal(t, "prd-0001", found[0].ID)
}

func TestHTTPHandler_CloseRegisterAndReport(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "caja1", "caja123")

	status, body := f.do(t, http.MethodPost, "/api/register/open", token, amountOf(100))
	require.Equal(t, http.StatusCreated, status)
	session := decodeAs[SessionDTO](t, body)

	status, _ = f.do(t, http.MethodPost, "/api/pos/cart/scan", token, ScanRequest{Barcode: "7410001000011"})
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/api/pos/checkout", token, CheckoutHTTPRequest{PaymentMethod: "EFECTIVO"})
	require.Equal(t, http.StatusCreated, status)

	status, body = f.do(t, http.MethodPost, "/api/register/close", token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	rec := decodeAs[ReconciliationDTO](t, body)
	assert.Equal(t, 1, rec.SalesCount)
	assertDecimal(t, "100.25", rec.Expected)

	status, body = f.do(t, http.MethodPost, "/api/register/close/cancel", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OPEN", decodeAs[RegisterDTO](t, body).State)

	status, body = f.do(t, http.MethodPost, "/api/register/close/confirm", token, amountOf(100))
	assert.Equal(t, http.StatusBadRequest, status, "confirm needs a close in progress")
	assert.Contains(t, decodeAs[ErrorResponse](t, body).Error, domain.ErrRegisterNotClosing.Error())

	status, _ = f.do(t, http.MethodPost, "/api/register/close", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodPost, "/api/register/close/confirm", token, amountOf(100))
	require.Equal(t, http.StatusOK, status, string(body))
	closed := decodeAs[SessionDTO](t, body)
	assert.Equal(t, "CERRADA", closed.Status)
	require.NotNil(t, closed.Variance)
	assertDecimal(t, "-0.25", *closed.Variance)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/register/sessions/"+session.ID+"/report", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, report.ContentType, resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	book, err := xlsx.OpenBinary(raw)
	require.NoError(t, err)
	assert.Len(t, book.Sheets, 2)

	other := f.login(t, "admin", "admin123")
	status, _ = f.do(t, http.MethodGet, "/api/register/sessions/missing/report", other, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPHandler_RegisterAmountRequired(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "caja1", "caja123")

	for _, body := range []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{"amount":null}`)} {
		status, resp := f.do(t, http.MethodPost, "/api/register/open", token, body)
		assert.Equal(t, http.StatusBadRequest, status, string(body))
		assert.Equal(t, domain.ErrInvalidAmount.Error(), decodeAs[ErrorResponse](t, resp).Error)
	}
	status, body := f.do(t, http.MethodGet, "/api/register", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CLOSED", decodeAs[RegisterDTO](t, body).State)

	status, _ = f.do(t, http.MethodPost, "/api/register/open", token, amountOf(50))
	require.Equal(t, http.StatusCreated, status)
	status, _ = f.do(t, http.MethodPost, "/api/register/close", token, nil)
	require.Equal(t, http.StatusOK, status)

	for _, body := range []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{"amount":null}`)} {
		status, resp := f.do(t, http.MethodPost, "/api/register/close/confirm", token, body)
		assert.Equal(t, http.StatusBadRequest, status, string(body))
		assert.Equal(t, domain.ErrInvalidAmount.Error(), decodeAs[ErrorResponse](t, resp).Error)
	}

	status, body = f.do(t, http.MethodGet, "/api/register", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CLOSING", decodeAs[RegisterDTO](t, body).State, "drawer stays open")

	status, body = f.do(t, http.MethodPost, "/api/register/close/confirm", token, amountOf(50))
	require.Equal(t, http.StatusOK, status, string(body))
	closed := decodeAs[SessionDTO](t, body)
	require.NotNil(t, closed.Variance)
	assertDecimal(t, "0", *closed.Variance)
}

func TestHTTPHandler_LowStockRoles(t *testing.T) {
	f := newAPIFixture(t)

	cashier := f.login(t, "caja1", "caja123")
	status, _ := f.do(t, http.MethodGet, "/api/inventory/low-stock", cashier, nil)
	assert.Equal(t, http.StatusForbidden, status)

	pharmacist := f.login(t, "farmacia", "farma123")
	status, body := f.do(t, http.MethodGet, "/api/inventory/low-stock", pharmacist, nil)
	require.Equal(t, http.StatusOK, status)

	var ids []string
	for _, p := range decodeAs[[]ProductDTO](t, body) {
		ids = append(ids, p.ID)
		assert.True(t, p.LowStock)
	}
	assert.ElementsMatch(t, []string{"prd-0004", "prd-0008"}, ids)
}

func TestHTTPHandler_PharmacyProfile(t *testing.T) {
	f := newAPIFixture(t)
	cashier := f.login(t, "caja1", "caja123")
	admin := f.login(t, "admin", "admin123")

	status, body := f.do(t, http.MethodGet, "/api/settings/pharmacy", cashier, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Farmacia San Rafael", decodeAs[PharmacyProfileDTO](t, body).Name)

	update := PharmacyProfileDTO{Name: "Farmacia La Esperanza", Address: "Calle Arce 45"}
	status, _ = f.do(t, http.MethodPut, "/api/settings/pharmacy", cashier, update)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, http.MethodPut, "/api/settings/pharmacy", admin, PharmacyProfileDTO{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPut, "/api/settings/pharmacy", admin, update)
	require.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodGet, "/api/settings/pharmacy", cashier, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Farmacia La Esperanza", decodeAs[PharmacyProfileDTO](t, body).Name)
}

func TestHTTPHandler_Logout(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "caja1", "caja123")

	status, _ := f.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodGet, "/api/pos/cart", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status, "the terminal is gone until the next login")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindValidation, http.StatusBadRequest},
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindConflict, http.StatusConflict},
		{domain.KindUnauthorized, http.StatusUnauthorized},
		{domain.KindForbidden, http.StatusForbidden},
		{domain.KindTimeout, http.StatusGatewayTimeout},
		{domain.KindTransport, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatus(tt.kind))
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = bearerToken("bearer  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)

	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
}
