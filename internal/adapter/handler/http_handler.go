package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/adapter/report"
	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/core/service"
	"github.com/rl1809/pharmacy-pos/internal/port"
)

const (
	maxBodyBytes = 1 << 20
	searchLimit  = 50
)

type HTTPHandler struct {
	auth     *service.AuthService
	tokens   *TokenManager
	profiles port.ProfileRepository
	reports  *report.Writer
	logger   *zap.Logger
}

func NewHTTPHandler(auth *service.AuthService, tokens *TokenManager, profiles port.ProfileRepository, reports *report.Writer, logger *zap.Logger) *HTTPHandler {
	if reports == nil {
		reports = report.NewWriter(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		auth:     auth,
		tokens:   tokens,
		profiles: profiles,
		reports:  reports,
		logger:   logger,
	}
}

// Routes wires every endpoint onto a fresh mux.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.Handle("POST /api/auth/logout", h.authenticated(h.Logout))

	mux.Handle("GET /api/pos/products", h.authenticated(h.ListProducts))
	mux.Handle("GET /api/pos/cart", h.authenticated(h.GetCart))
	mux.Handle("POST /api/pos/cart/scan", h.authenticated(h.Scan))
	mux.Handle("POST /api/pos/cart/items", h.authenticated(h.AddItem))
	mux.Handle("PUT /api/pos/cart/items/{id}", h.authenticated(h.SetQuantity))
	mux.Handle("DELETE /api/pos/cart/items/{id}", h.authenticated(h.RemoveItem))
	mux.Handle("POST /api/pos/checkout", h.authenticated(h.Checkout))

	mux.Handle("GET /api/register", h.authenticated(h.GetRegister))
	mux.Handle("POST /api/register/open", h.authenticated(h.OpenRegister))
	mux.Handle("POST /api/register/close", h.authenticated(h.BeginClose))
	mux.Handle("POST /api/register/close/confirm", h.authenticated(h.ConfirmClose))
	mux.Handle("POST /api/register/close/cancel", h.authenticated(h.CancelClose))
	mux.Handle("GET /api/register/sessions/{id}/report", h.authenticated(h.SessionReport))

	mux.Handle("GET /api/inventory/low-stock", h.authenticated(h.LowStock))
	mux.Handle("GET /api/settings/pharmacy", h.authenticated(h.GetPharmacyProfile))
	mux.Handle("PUT /api/settings/pharmacy", h.authenticated(h.UpdatePharmacyProfile))

	return mux
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, expires, err := h.tokens.Issue(user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires, User: toUserDTO(user)})
}

func (h *HTTPHandler) Logout(w http.ResponseWriter, r *http.Request, user domain.User) {
	h.auth.Logout(user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, toProductDTOs(term.Catalog().Products()))
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(term.Catalog().Search(q, searchLimit)))
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toCartDTO(term.Cart()))
}

func (h *HTTPHandler) Scan(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}
	var req ScanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := term.Scan(r.Context(), req.Barcode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartDTO(view))
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}
	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := term.AddProduct(req.ProductID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartDTO(view))
}

func (h *HTTPHandler) SetQuantity(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}
	var req SetQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := term.SetQuantity(r.PathValue("id"), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartDTO(view))
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}

	view, err := term.RemoveItem(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartDTO(view))
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}
	var req CheckoutHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sale, err := term.Checkout(r.Context(), service.CheckoutInput{
		PaymentMethod:    domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		CustomerID:       strings.TrimSpace(req.CustomerID),
		Confirm:          service.Confirmed(req.PrescriptionVerified),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(*sale))
}

func (h *HTTPHandler) GetRegister(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}

	view, err := term.Register(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegisterDTO(view))
}

func (h *HTTPHandler) OpenRegister(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := req.value()
	if err != nil {
		h.writeError(w, err)
		return
	}

	session, err := term.OpenRegister(r.Context(), amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

func (h *HTTPHandler) BeginClose(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}

	rec, err := term.BeginClose(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

func (h *HTTPHandler) ConfirmClose(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := req.value()
	if err != nil {
		h.writeError(w, err)
		return
	}

	session, err := term.ConfirmClose(r.Context(), amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

func (h *HTTPHandler) CancelClose(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}

	if err := term.CancelClose(); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := term.Register(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegisterDTO(view))
}

func (h *HTTPHandler) SessionReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}

	sessionID := r.PathValue("id")
	session, rec, sales, err := term.SessionReport(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+report.FileName(sessionID))
	if err := h.reports.Write(w, report.SessionReport{Session: session, Reconciliation: rec, Sales: sales}); err != nil {
		h.logger.Error("write session report failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !user.Role.Allows(domain.PermViewStockAlerts) {
		h.writeError(w, domain.ErrForbidden)
		return
	}
	term, ok := h.terminal(w, user)
	if !ok {
		return
	}

	products, err := term.Catalog().LowStock(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

func (h *HTTPHandler) GetPharmacyProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	profile, err := h.profiles.GetPharmacyProfile(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(*profile))
}

func (h *HTTPHandler) UpdatePharmacyProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !user.Role.Allows(domain.PermManageSettings) {
		h.writeError(w, domain.ErrForbidden)
		return
	}
	var req PharmacyProfileDTO
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "name is required", Kind: domain.KindValidation})
		return
	}

	if err := h.profiles.UpdatePharmacyProfile(r.Context(), req.toDomain()); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("pharmacy profile updated", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, req)
}

type userHandlerFunc func(w http.ResponseWriter, r *http.Request, user domain.User)

// authenticated resolves the bearer token before handing the request over.
func (h *HTTPHandler) authenticated(next userHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			h.writeError(w, domain.ErrUnauthorized)
			return
		}
		user, err := h.tokens.Verify(raw)
		if err != nil {
			h.writeError(w, err)
			return
		}
		next(w, r, user)
	})
}

func (h *HTTPHandler) terminal(w http.ResponseWriter, user domain.User) (*service.Terminal, bool) {
	term, err := h.auth.Terminal(user)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return term, true
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Kind:  domain.KindValidation,
		})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	kind := domain.Kind(err)
	status := httpStatus(kind)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}

	var shortage *domain.StockShortageError
	if errors.As(err, &shortage) {
		for _, l := range shortage.Lines {
			resp.Shortages = append(resp.Shortages, StockShortageDTO(l))
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
		if kind == domain.KindTransport {
			resp.Error = "service unavailable, retry"
		}
	}
	writeJSON(w, status, resp)
}

func httpStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
