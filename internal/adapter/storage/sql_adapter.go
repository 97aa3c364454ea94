package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

const profileRowID = 1

// SQLAdapter is the store behind the register, on MySQL or SQLite. Queries
// stay within the dialect both accept.
type SQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Products

const productColumns = `id, barcode, commercial_name, generic_name, unit_price,
	stock_quantity, min_stock, controlled, active, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var barcode sql.NullString
	err := row.Scan(&p.ID, &barcode, &p.CommercialName, &p.GenericName, &p.UnitPrice,
		&p.StockQuantity, &p.MinStock, &p.Controlled, &p.Active, &p.UpdatedAt)
	p.Barcode = barcode.String
	return p, err
}

func (a *SQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE active = ?
		ORDER BY commercial_name, id`, true)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (a *SQLAdapter) FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	p, err := scanProduct(a.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE barcode = ?`, barcode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// SaveProduct inserts or replaces a catalog entry.
func (a *SQLAdapter) SaveProduct(ctx context.Context, p domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = a.now().UTC()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE id = ?`, p.ID).Scan(&count); err != nil {
		return fmt.Errorf("query product: %w", err)
	}

	if count == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, nullString(p.Barcode), p.CommercialName, p.GenericName, p.UnitPrice,
			p.StockQuantity, p.MinStock, p.Controlled, p.Active, p.UpdatedAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET barcode = ?, commercial_name = ?, generic_name = ?, unit_price = ?,
				stock_quantity = ?, min_stock = ?, controlled = ?, active = ?, updated_at = ?
			WHERE id = ?`,
			nullString(p.Barcode), p.CommercialName, p.GenericName, p.UnitPrice,
			p.StockQuantity, p.MinStock, p.Controlled, p.Active, p.UpdatedAt, p.ID)
	}
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return tx.Commit()
}

// Sales

// SubmitSale records the sale and decrements stock in one transaction. Every
// line must fit the stock on hand; otherwise nothing is written and a
// *domain.StockShortageError lists the failing lines.
func (a *SQLAdapter) SubmitSale(ctx context.Context, req domain.CheckoutRequest) (*domain.Sale, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return nil, domain.ErrInvalidCheckout
	}

	existing, err := a.findSaleByKey(ctx, a.db, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := a.now()
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status, cashierID string
	err = tx.QueryRowContext(ctx, `
		SELECT status, cashier_id FROM register_sessions WHERE id = ?`,
		req.RegisterSessionID,
	).Scan(&status, &cashierID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if domain.SessionStatus(status) != domain.SessionOpen {
		return nil, domain.ErrRegisterNotOpen
	}
	if cashierID != req.CashierID {
		return nil, domain.ErrForbidden
	}

	var customerName string
	if req.CustomerID != "" {
		err := tx.QueryRowContext(ctx, `SELECT name FROM customers WHERE id = ?`, req.CustomerID).Scan(&customerName)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query customer: %w", err)
		}
	}

	var shortages []domain.StockShortage
	for _, l := range req.Lines {
		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - ?, updated_at = ?
			WHERE id = ? AND active = ? AND stock_quantity >= ?`,
			l.Quantity, now.UTC(), l.ProductID, true, l.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("update stock: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update stock: %w", err)
		}
		if rows == 0 {
			available, err := availableStock(ctx, tx, l.ProductID)
			if err != nil {
				return nil, err
			}
			shortages = append(shortages, domain.StockShortage{
				ProductID: l.ProductID,
				Name:      l.ProductName,
				Requested: l.Quantity,
				Available: available,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, &domain.StockShortageError{Lines: shortages}
	}

	number, err := nextSaleNumber(ctx, tx, now)
	if err != nil {
		return nil, err
	}

	sale := domain.Sale{
		ID:                   uuid.NewString(),
		Number:               number,
		RegisterSessionID:    req.RegisterSessionID,
		CashierID:            req.CashierID,
		CustomerID:           req.CustomerID,
		CustomerName:         customerName,
		PaymentMethod:        req.PaymentMethod,
		PaymentReference:     req.PaymentReference,
		Subtotal:             req.Subtotal,
		Discount:             req.Discount,
		Total:                req.Total,
		PrescriptionVerified: req.PrescriptionVerified,
		IdempotencyKey:       req.IdempotencyKey,
		CreatedAt:            now.UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, sale_number, idempotency_key, register_session_id, cashier_id,
			customer_id, payment_method, payment_reference, subtotal, discount, total,
			prescription_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.Number, sale.IdempotencyKey, sale.RegisterSessionID, sale.CashierID,
		nullString(sale.CustomerID), sale.PaymentMethod, sale.PaymentReference,
		sale.Subtotal, sale.Discount, sale.Total, sale.PrescriptionVerified, sale.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent submission with the same key committed first.
			tx.Rollback()
			if existing, findErr := a.findSaleByKey(ctx, a.db, req.IdempotencyKey); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	for i, l := range req.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, line_no, product_id, product_name,
				quantity, unit_price, line_subtotal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), sale.ID, i+1, l.ProductID, l.ProductName,
			l.Quantity, l.UnitPrice, l.LineSubtotal,
		)
		if err != nil {
			return nil, fmt.Errorf("insert sale line: %w", err)
		}
		sale.Lines = append(sale.Lines, domain.SaleLine(l))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sale: %w", err)
	}
	return &sale, nil
}

func availableStock(ctx context.Context, tx *sql.Tx, productID string) (int, error) {
	var stock int
	var active bool
	err := tx.QueryRowContext(ctx, `
		SELECT stock_quantity, active FROM products WHERE id = ?`, productID,
	).Scan(&stock, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	if !active {
		return 0, nil
	}
	return stock, nil
}

// nextSaleNumber hands out YYYYMMDD-NNNN, numbering from 1 each day. The
// day's row is created on first use; a concurrent creator just loses the
// insert and both go on to increment.
func nextSaleNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	day := now.Format("20060102")

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sale_sequences (sale_date, last_value) VALUES (?, 0)`, day)
	if err != nil && !isUniqueViolation(err) {
		return "", fmt.Errorf("insert sale sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sale_sequences SET last_value = last_value + 1 WHERE sale_date = ?`, day); err != nil {
		return "", fmt.Errorf("update sale sequence: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx, `
		SELECT last_value FROM sale_sequences WHERE sale_date = ?`, day).Scan(&n); err != nil {
		return "", fmt.Errorf("query sale sequence: %w", err)
	}
	return fmt.Sprintf("%s-%04d", day, n), nil
}

func (a *SQLAdapter) ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error) {
	return querySales(ctx, a.db, "s.register_session_id = ?", sessionID)
}

func (a *SQLAdapter) FindSaleByKey(ctx context.Context, key string) (*domain.Sale, error) {
	return a.findSaleByKey(ctx, a.db, key)
}

func (a *SQLAdapter) findSaleByKey(ctx context.Context, q querier, key string) (*domain.Sale, error) {
	sales, err := querySales(ctx, q, "s.idempotency_key = ?", key)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, nil
	}
	return &sales[0], nil
}

func querySales(ctx context.Context, q querier, where string, arg any) ([]domain.Sale, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT s.id, s.sale_number, s.register_session_id, s.cashier_id, s.customer_id, c.name,
			s.payment_method, s.payment_reference, s.subtotal, s.discount, s.total,
			s.prescription_verified, s.idempotency_key, s.created_at
		FROM sales s LEFT JOIN customers c ON c.id = s.customer_id
		WHERE `+where+`
		ORDER BY s.created_at, s.sale_number`, arg)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var sales []domain.Sale
	index := make(map[string]int)
	for rows.Next() {
		var s domain.Sale
		var customerID, customerName sql.NullString
		var method string
		if err := rows.Scan(&s.ID, &s.Number, &s.RegisterSessionID, &s.CashierID, &customerID, &customerName,
			&method, &s.PaymentReference, &s.Subtotal, &s.Discount, &s.Total,
			&s.PrescriptionVerified, &s.IdempotencyKey, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		s.CustomerID = customerID.String
		s.CustomerName = customerName.String
		s.PaymentMethod = domain.PaymentMethod(method)
		index[s.ID] = len(sales)
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(sales) == 0 {
		return nil, nil
	}

	lineRows, err := q.QueryContext(ctx, `
		SELECT l.sale_id, l.product_id, l.product_name, l.quantity, l.unit_price, l.line_subtotal
		FROM sale_lines l JOIN sales s ON s.id = l.sale_id
		WHERE `+where+`
		ORDER BY l.sale_id, l.line_no`, arg)
	if err != nil {
		return nil, fmt.Errorf("query sale lines: %w", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var saleID string
		var l domain.SaleLine
		if err := lineRows.Scan(&saleID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.LineSubtotal); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		if i, ok := index[saleID]; ok {
			sales[i].Lines = append(sales[i].Lines, l)
		}
	}
	return sales, lineRows.Err()
}

// Register sessions

const sessionColumns = `id, cashier_id, opening_float, opened_at, status,
	closing_amount, expected_amount, variance, closed_at`

func scanSession(row rowScanner) (domain.RegisterSession, error) {
	var s domain.RegisterSession
	var status string
	var closing, expected, variance decimal.NullDecimal
	var closedAt sql.NullTime
	err := row.Scan(&s.ID, &s.CashierID, &s.OpeningFloat, &s.OpenedAt, &status,
		&closing, &expected, &variance, &closedAt)
	if err != nil {
		return s, err
	}
	s.Status = domain.SessionStatus(status)
	s.ClosingAmount = closing.Decimal
	s.ExpectedAmount = expected.Decimal
	s.Variance = variance.Decimal
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return s, nil
}

func (a *SQLAdapter) FindOpenSession(ctx context.Context, cashierID string) (*domain.RegisterSession, error) {
	s, err := scanSession(a.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM register_sessions WHERE open_cashier_id = ?`, cashierID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query open session: %w", err)
	}
	return &s, nil
}

// OpenSession relies on the unique open_cashier_id column: a second open
// session for the same cashier fails with domain.ErrSessionAlreadyOpen.
func (a *SQLAdapter) OpenSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Status = domain.SessionOpen

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO register_sessions (id, cashier_id, open_cashier_id, opening_float, opened_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.CashierID, session.CashierID, session.OpeningFloat,
		session.OpenedAt, session.Status,
	)
	if isUniqueViolation(err) {
		return nil, domain.ErrSessionAlreadyOpen
	}
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &session, nil
}

func (a *SQLAdapter) CloseSession(ctx context.Context, c domain.SessionClose) (*domain.RegisterSession, error) {
	result, err := a.db.ExecContext(ctx, `
		UPDATE register_sessions
		SET status = ?, open_cashier_id = NULL, closing_amount = ?, expected_amount = ?,
			variance = ?, closed_at = ?
		WHERE id = ? AND status = ?`,
		domain.SessionClosed, c.ClosingAmount, c.ExpectedAmount, c.Variance, c.ClosedAt,
		c.SessionID, domain.SessionOpen,
	)
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	if rows == 0 {
		if _, err := a.GetSession(ctx, c.SessionID); err != nil {
			return nil, err
		}
		return nil, domain.ErrRegisterNotOpen
	}
	return a.GetSession(ctx, c.SessionID)
}

func (a *SQLAdapter) GetSession(ctx context.Context, sessionID string) (*domain.RegisterSession, error) {
	s, err := scanSession(a.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM register_sessions WHERE id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &s, nil
}

// Customers

func (a *SQLAdapter) CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, tax_id, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.TaxID, a.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return &c, nil
}

func (a *SQLAdapter) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := a.db.QueryRowContext(ctx, `
		SELECT id, name, tax_id FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.TaxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return &c, nil
}

// Pharmacy profile

// GetPharmacyProfile returns an empty profile until one is saved.
func (a *SQLAdapter) GetPharmacyProfile(ctx context.Context) (*domain.PharmacyProfile, error) {
	var p domain.PharmacyProfile
	err := a.db.QueryRowContext(ctx, `
		SELECT name, address, tax_id, phone, email, sanitary_registry
		FROM pharmacy_profile WHERE id = ?`, profileRowID,
	).Scan(&p.Name, &p.Address, &p.TaxID, &p.Phone, &p.Email, &p.SanitaryRegistry)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.PharmacyProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pharmacy profile: %w", err)
	}
	return &p, nil
}

func (a *SQLAdapter) UpdatePharmacyProfile(ctx context.Context, p domain.PharmacyProfile) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pharmacy_profile WHERE id = ?`, profileRowID).Scan(&count); err != nil {
		return fmt.Errorf("query pharmacy profile: %w", err)
	}

	if count == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pharmacy_profile (id, name, address, tax_id, phone, email, sanitary_registry)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			profileRowID, p.Name, p.Address, p.TaxID, p.Phone, p.Email, p.SanitaryRegistry)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE pharmacy_profile
			SET name = ?, address = ?, tax_id = ?, phone = ?, email = ?, sanitary_registry = ?
			WHERE id = ?`,
			p.Name, p.Address, p.TaxID, p.Phone, p.Email, p.SanitaryRegistry, profileRowID)
	}
	if err != nil {
		return fmt.Errorf("save pharmacy profile: %w", err)
	}
	return tx.Commit()
}

// Users

// CreateUser stores user with a bcrypt hash of password.
func (a *SQLAdapter) CreateUser(ctx context.Context, user domain.User, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.PasswordHash = string(hash)

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, full_name, role, password_hash, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.FullName, user.Role, user.PasswordHash,
		user.Active, a.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

// Authenticate checks password against the stored bcrypt hash. Unknown
// users and wrong passwords are indistinguishable to the caller.
func (a *SQLAdapter) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	var u domain.User
	var role string
	err := a.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, password_hash, active
		FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &role, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	u.Role = domain.Role(role)
	return &u, nil
}
