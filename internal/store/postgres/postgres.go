package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"inkpress/backend/internal/domain"
	"inkpress/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListRetailers(ctx context.Context) ([]domain.Retailer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_name, owner_name, phone_number, address, total_due, created_at
		FROM retailers
		ORDER BY shop_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	retailers := make([]domain.Retailer, 0, 64)
	for rows.Next() {
		var r domain.Retailer
		if err := rows.Scan(&r.ID, &r.ShopName, &r.OwnerName, &r.PhoneNumber, &r.Address, &r.TotalDue, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		retailers = append(retailers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return retailers, nil
}

func (s *Store) CreateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	retailer.ID = uuid.NewString()
	retailer.TotalDue = decimal.Zero
	retailer.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retailers (id, shop_name, owner_name, phone_number, address, total_due, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, retailer.ID, retailer.ShopName, retailer.OwnerName, retailer.PhoneNumber, retailer.Address, retailer.TotalDue, retailer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &retailer, nil
}

func (s *Store) GetRetailerByID(ctx context.Context, id string) (*domain.Retailer, error) {
	var r domain.Retailer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_name, owner_name, phone_number, address, total_due, created_at
		FROM retailers
		WHERE id = $1
	`, id).Scan(&r.ID, &r.ShopName, &r.OwnerName, &r.PhoneNumber, &r.Address, &r.TotalDue, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *Store) UpdateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE retailers
		SET shop_name = $2, owner_name = $3, phone_number = $4, address = $5
		WHERE id = $1
		RETURNING total_due, created_at
	`, retailer.ID, retailer.ShopName, retailer.OwnerName, retailer.PhoneNumber, retailer.Address).
		Scan(&retailer.TotalDue, &retailer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	retailer.CreatedAt = retailer.CreatedAt.UTC()
	return &retailer, nil
}

func (s *Store) DeleteRetailer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM retailers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_name, category, description, unit_price, stock_quantity, unit, created_at
		FROM products
		ORDER BY product_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ProductName, &p.Category, &p.Description, &p.UnitPrice, &p.StockQuantity, &p.Unit, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.ID = uuid.NewString()
	product.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, product_name, category, description, unit_price, stock_quantity, unit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.ProductName, product.Category, product.Description, product.UnitPrice, product.StockQuantity, product.Unit, product.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_name, category, description, unit_price, stock_quantity, unit, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.ProductName, &p.Category, &p.Description, &p.UnitPrice, &p.StockQuantity, &p.Unit, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_name, category, description, unit_price, stock_quantity, unit, created_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ProductName, &p.Category, &p.Description, &p.UnitPrice, &p.StockQuantity, &p.Unit, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET product_name = $2, category = $3, description = $4, unit_price = $5, stock_quantity = $6, unit = $7
		WHERE id = $1
		RETURNING created_at
	`, product.ID, product.ProductName, product.Category, product.Description, product.UnitPrice, product.StockQuantity, product.Unit).
		Scan(&product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateInvoice runs the whole creation as one serializable transaction:
// the retailer row is locked, the next sequential invoice number is taken
// under that lock, stock rows are decremented, the retailer's running due
// is bumped, and the optional initial payment is recorded. The unique index
// on invoice_number backstops the sequence under concurrent writers.
// Serialization aborts surface as ErrConflict so callers can retry.
func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice, initialPayment *domain.Payment) (*domain.Invoice, error) {
	created, err := s.createInvoiceTx(ctx, invoice, initialPayment)
	if err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) createInvoiceTx(ctx context.Context, invoice domain.Invoice, initialPayment *domain.Payment) (*domain.Invoice, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var shopName string
	err = pgTx.QueryRowContext(ctx, `
		SELECT shop_name FROM retailers WHERE id = $1 FOR UPDATE
	`, invoice.RetailerID).Scan(&shopName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	invoice.RetailerName = shopName

	var lastSeq int
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(invoice_number FROM 5) AS INTEGER)), 1000)
		FROM invoices
	`).Scan(&lastSeq)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	invoice.ID = uuid.NewString()
	invoice.InvoiceNumber = fmt.Sprintf("INV-%d", lastSeq+1)
	invoice.CreatedAt = now

	linesJSON, err := json.Marshal(invoice.Lines)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_number, retailer_id, retailer_name, items, total_amount, paid_amount, due_amount, status, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, invoice.ID, invoice.InvoiceNumber, invoice.RetailerID, invoice.RetailerName, linesJSON,
		invoice.TotalAmount, invoice.PaidAmount, invoice.DueAmount, invoice.Status, invoice.Notes, invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for _, line := range invoice.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity - $2 WHERE id = $1
		`, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE retailers SET total_due = total_due + $2 WHERE id = $1
	`, invoice.RetailerID, invoice.DueAmount); err != nil {
		return nil, err
	}

	if initialPayment != nil {
		p := *initialPayment
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO payments (id, invoice_id, invoice_number, retailer_id, retailer_name, amount, notes, payment_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, p.ID, invoice.ID, invoice.InvoiceNumber, invoice.RetailerID, invoice.RetailerName, p.Amount, p.Notes, now); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, retailer_id, retailer_name, items, total_amount, paid_amount, due_amount, status, notes, created_at
		FROM invoices
		ORDER BY created_at DESC, invoice_number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, retailer_id, retailer_name, items, total_amount, paid_amount, due_amount, status, notes, created_at
		FROM invoices
		WHERE id = $1
	`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

// ApplyPayment commits the payment and the recomputed balance together. The
// invoice update is conditional on paid_amount still matching expectedPaid;
// a row that moved underneath the caller yields ErrConflict with no writes.
func (s *Store) ApplyPayment(ctx context.Context, payment domain.Payment, expectedPaid, newPaid, newDue decimal.Decimal, newStatus string) (*domain.Invoice, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var inv domain.Invoice
	var linesJSON []byte
	err = pgTx.QueryRowContext(ctx, `
		UPDATE invoices
		SET paid_amount = $3, due_amount = $4, status = $5
		WHERE id = $1 AND paid_amount = $2
		RETURNING id, invoice_number, retailer_id, retailer_name, items, total_amount, paid_amount, due_amount, status, notes, created_at
	`, payment.InvoiceID, expectedPaid, newPaid, newDue, newStatus).
		Scan(&inv.ID, &inv.InvoiceNumber, &inv.RetailerID, &inv.RetailerName, &linesJSON,
			&inv.TotalAmount, &inv.PaidAmount, &inv.DueAmount, &inv.Status, &inv.Notes, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if probeErr := s.db.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)
			`, payment.InvoiceID).Scan(&exists); probeErr != nil {
				return nil, probeErr
			}
			if !exists {
				return nil, store.ErrNotFound
			}
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &inv.Lines); err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE retailers SET total_due = total_due - $2 WHERE id = $1
	`, inv.RetailerID, payment.Amount); err != nil {
		return nil, err
	}

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = time.Now().UTC()
	}
	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, invoice_number, retailer_id, retailer_name, amount, notes, payment_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, inv.ID, inv.InvoiceNumber, inv.RetailerID, inv.RetailerName, payment.Amount, payment.Notes, payment.PaymentDate); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) ListPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, invoice_number, retailer_id, retailer_name, amount, notes, payment_date
		FROM payments
		ORDER BY payment_date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.InvoiceNumber, &p.RetailerID, &p.RetailerName, &p.Amount, &p.Notes, &p.PaymentDate); err != nil {
			return nil, err
		}
		p.PaymentDate = p.PaymentDate.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

const lowStockThreshold = 10

func (s *Store) GetDashboardStats(ctx context.Context, now time.Time) (*domain.DashboardStats, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := domain.DashboardStats{
		LowStockProducts: []domain.Product{},
		RecentInvoices:   []domain.Invoice{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $1), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $2), 0),
			COUNT(*) FILTER (WHERE status <> 'paid')
		FROM invoices
	`, dayStart, monthStart).Scan(&stats.TotalSalesToday, &stats.TotalSalesMonth, &stats.PendingInvoiceCount)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_due), 0), COUNT(*) FROM retailers
	`).Scan(&stats.TotalOutstanding, &stats.TotalRetailers)
	if err != nil {
		return nil, err
	}

	lowRows, err := s.db.QueryContext(ctx, `
		SELECT id, product_name, category, description, unit_price, stock_quantity, unit, created_at
		FROM products
		WHERE stock_quantity < $1
		ORDER BY stock_quantity, product_name
	`, lowStockThreshold)
	if err != nil {
		return nil, err
	}
	defer lowRows.Close()
	for lowRows.Next() {
		var p domain.Product
		if err := lowRows.Scan(&p.ID, &p.ProductName, &p.Category, &p.Description, &p.UnitPrice, &p.StockQuantity, &p.Unit, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		stats.LowStockProducts = append(stats.LowStockProducts, p)
	}
	if err := lowRows.Err(); err != nil {
		return nil, err
	}

	recent, err := s.ListInvoices(ctx, 5)
	if err != nil {
		return nil, err
	}
	stats.RecentInvoices = recent

	return &stats, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_email, actor_name, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorEmail, entry.ActorName, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_email, actor_name, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorEmail, &entry.ActorName, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateAdmin(ctx context.Context, admin domain.AdminAccount) error {
	if admin.ID == "" {
		admin.ID = uuid.NewString()
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_accounts (id, email, name, password_hash, created_at)
		VALUES ($1, lower($2), $3, $4, $5)
	`, admin.ID, admin.Email, admin.Name, admin.PasswordHash, admin.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*domain.AdminAccount, error) {
	var admin domain.AdminAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM admin_accounts
		WHERE email = lower($1)
	`, email).Scan(&admin.ID, &admin.Email, &admin.Name, &admin.PasswordHash, &admin.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	admin.CreatedAt = admin.CreatedAt.UTC()
	return &admin, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var linesJSON []byte
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.RetailerID, &inv.RetailerName, &linesJSON,
		&inv.TotalAmount, &inv.PaidAmount, &inv.DueAmount, &inv.Status, &inv.Notes, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &inv.Lines); err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	return &inv, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isSerializationFailure reports SQLSTATE 40001, the abort PostgreSQL raises
// when a serializable transaction cannot be ordered against a concurrent one.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
