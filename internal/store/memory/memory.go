package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"inkpress/backend/internal/domain"
	"inkpress/backend/internal/store"
)

// Store is an in-memory Repository used for dev mode and tests. All methods
// take the single mutex; the dataset is small enough that this is fine.
type Store struct {
	mu             sync.RWMutex
	retailersByID  map[string]domain.Retailer
	productsByID   map[string]domain.Product
	invoicesByID   map[string]domain.Invoice
	payments       []domain.Payment
	auditLogs      []domain.AuditLog
	adminsByEmail  map[string]domain.AdminAccount
	nextInvoiceSeq int
}

// New returns an empty store with the invoice counter at its starting point.
func New() *Store {
	return &Store{
		retailersByID:  make(map[string]domain.Retailer),
		productsByID:   make(map[string]domain.Product),
		invoicesByID:   make(map[string]domain.Invoice),
		payments:       make([]domain.Payment, 0, 64),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		adminsByEmail:  make(map[string]domain.AdminAccount),
		nextInvoiceSeq: 1001,
	}
}

// NewSeeded returns a store preloaded with a demo catalog, a few retailers
// and the seed admin account for dev/demo mode. The backend switches to
// PostgreSQL when DATABASE_URL is set, so seeded credentials never reach
// production.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ProductName: "A5 Ruled Notebook 120pg", Category: "Notebooks", Description: "Spiral bound, 70gsm", UnitPrice: dec("45.00"), StockQuantity: 240, Unit: "piece"},
		{ProductName: "A4 Plain Notebook 200pg", Category: "Notebooks", Description: "Hardcover", UnitPrice: dec("95.00"), StockQuantity: 160, Unit: "piece"},
		{ProductName: "Long Register 300pg", Category: "Registers", Description: "Cloth spine ledger register", UnitPrice: dec("140.00"), StockQuantity: 80, Unit: "piece"},
		{ProductName: "Gel Pen Blue", Category: "Pens", Description: "0.7mm, box of 10", UnitPrice: dec("120.00"), StockQuantity: 300, Unit: "box"},
		{ProductName: "Ball Pen Black", Category: "Pens", Description: "0.5mm, box of 50", UnitPrice: dec("275.00"), StockQuantity: 90, Unit: "box"},
		{ProductName: "HB Pencil", Category: "Pencils", Description: "Pack of 10 with eraser tip", UnitPrice: dec("60.00"), StockQuantity: 210, Unit: "pack"},
		{ProductName: "Drawing Book A3", Category: "Art Supplies", Description: "40 sheets cartridge paper", UnitPrice: dec("85.00"), StockQuantity: 8, Unit: "piece"},
		{ProductName: "Sticky Notes 3x3", Category: "Paper Goods", Description: "Assorted colors, 400 sheets", UnitPrice: dec("55.00"), StockQuantity: 6, Unit: "pack"},
	}
	for _, p := range products {
		p.ID = uuid.NewString()
		p.CreatedAt = now
		s.productsByID[p.ID] = p
	}

	retailers := []domain.Retailer{
		{ShopName: "Sharma Stationers", OwnerName: "Ramesh Sharma", PhoneNumber: "+91-9810012345", Address: "14 Gandhi Market, Meerut"},
		{ShopName: "City Book Depot", OwnerName: "Anita Verma", PhoneNumber: "+91-9910098765", Address: "Mall Road, Dehradun"},
		{ShopName: "Scholars Corner", OwnerName: "Imran Qureshi", PhoneNumber: "+91-9870054321", Address: "College Gate, Aligarh"},
	}
	for _, r := range retailers {
		r.ID = uuid.NewString()
		r.TotalDue = decimal.Zero
		r.CreatedAt = now
		s.retailersByID[r.ID] = r
	}

	s.adminsByEmail = seedAdmins()
	return s
}

// seedAdmins builds the initial admin account for dev/demo mode. Credentials
// come from SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD; hardcoded dev defaults
// are used with a warning when unset.
func seedAdmins() map[string]domain.AdminAccount {
	email := envOr("SEED_ADMIN_EMAIL", "admin@inkpress.local")
	password := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	key := strings.ToLower(email)
	return map[string]domain.AdminAccount{
		key: {
			ID:           uuid.NewString(),
			Email:        key,
			Name:         "Administrator",
			PasswordHash: string(hash),
			CreatedAt:    time.Now().UTC(),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("bad seed amount %q: %v", s, err))
	}
	return d
}

func (s *Store) ListRetailers(_ context.Context) ([]domain.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retailers := make([]domain.Retailer, 0, len(s.retailersByID))
	for _, r := range s.retailersByID {
		retailers = append(retailers, r)
	}
	slices.SortFunc(retailers, func(a, b domain.Retailer) int {
		return cmpString(a.ShopName, b.ShopName)
	})
	return retailers, nil
}

func (s *Store) CreateRetailer(_ context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retailer.ID = uuid.NewString()
	retailer.TotalDue = decimal.Zero
	retailer.CreatedAt = time.Now().UTC()
	s.retailersByID[retailer.ID] = retailer
	return &retailer, nil
}

func (s *Store) GetRetailerByID(_ context.Context, id string) (*domain.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.retailersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) UpdateRetailer(_ context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.retailersByID[retailer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	retailer.TotalDue = existing.TotalDue
	retailer.CreatedAt = existing.CreatedAt
	s.retailersByID[retailer.ID] = retailer
	return &retailer, nil
}

func (s *Store) DeleteRetailer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.retailersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.retailersByID, id)
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.ProductName, b.ProductName)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.ID = uuid.NewString()
	product.CreatedAt = time.Now().UTC()
	s.productsByID[product.ID] = product
	return &product, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.productsByID[id]; ok {
			found[id] = p
		}
	}
	return found, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.productsByID[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	s.productsByID[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.productsByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.productsByID, id)
	return nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice, initialPayment *domain.Payment) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retailer, ok := s.retailersByID[invoice.RetailerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	invoice.ID = uuid.NewString()
	invoice.InvoiceNumber = fmt.Sprintf("INV-%d", s.nextInvoiceSeq)
	s.nextInvoiceSeq++
	invoice.CreatedAt = now

	for _, line := range invoice.Lines {
		if p, ok := s.productsByID[line.ProductID]; ok {
			p.StockQuantity -= line.Quantity
			s.productsByID[line.ProductID] = p
		}
	}

	retailer.TotalDue = retailer.TotalDue.Add(invoice.DueAmount)
	s.retailersByID[retailer.ID] = retailer

	s.invoicesByID[invoice.ID] = cloneInvoice(invoice)

	if initialPayment != nil {
		p := *initialPayment
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.InvoiceID = invoice.ID
		p.InvoiceNumber = invoice.InvoiceNumber
		p.RetailerID = invoice.RetailerID
		p.RetailerName = invoice.RetailerName
		p.PaymentDate = now
		s.payments = append(s.payments, p)
	}

	return &invoice, nil
}

func (s *Store) ListInvoices(_ context.Context, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		invoices = append(invoices, cloneInvoice(inv))
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		// newest first, invoice number breaks creation-time ties
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.InvoiceNumber, a.InvoiceNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return invoices, nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := cloneInvoice(inv)
	return &clone, nil
}

func (s *Store) ApplyPayment(_ context.Context, payment domain.Payment, expectedPaid, newPaid, newDue decimal.Decimal, newStatus string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[payment.InvoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !inv.PaidAmount.Equal(expectedPaid) {
		return nil, store.ErrConflict
	}

	inv.PaidAmount = newPaid
	inv.DueAmount = newDue
	inv.Status = newStatus
	s.invoicesByID[inv.ID] = cloneInvoice(inv)

	if retailer, ok := s.retailersByID[inv.RetailerID]; ok {
		retailer.TotalDue = retailer.TotalDue.Sub(payment.Amount)
		s.retailersByID[retailer.ID] = retailer
	}

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = time.Now().UTC()
	}
	payment.InvoiceNumber = inv.InvoiceNumber
	payment.RetailerID = inv.RetailerID
	payment.RetailerName = inv.RetailerName
	s.payments = append(s.payments, payment)

	return &inv, nil
}

func (s *Store) ListPayments(_ context.Context, limit int) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, len(s.payments))
	copy(payments, s.payments)
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if a.PaymentDate.Equal(b.PaymentDate) {
			return cmpString(b.ID, a.ID)
		}
		if a.PaymentDate.After(b.PaymentDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

const lowStockThreshold = 10

func (s *Store) GetDashboardStats(_ context.Context, now time.Time) (*domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := domain.DashboardStats{
		TotalSalesToday:  decimal.Zero,
		TotalSalesMonth:  decimal.Zero,
		TotalOutstanding: decimal.Zero,
		TotalRetailers:   len(s.retailersByID),
		LowStockProducts: []domain.Product{},
		RecentInvoices:   []domain.Invoice{},
	}

	for _, r := range s.retailersByID {
		stats.TotalOutstanding = stats.TotalOutstanding.Add(r.TotalDue)
	}

	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		if !inv.CreatedAt.Before(dayStart) {
			stats.TotalSalesToday = stats.TotalSalesToday.Add(inv.TotalAmount)
		}
		if !inv.CreatedAt.Before(monthStart) {
			stats.TotalSalesMonth = stats.TotalSalesMonth.Add(inv.TotalAmount)
		}
		if inv.Status != domain.InvoiceStatusPaid {
			stats.PendingInvoiceCount++
		}
		invoices = append(invoices, cloneInvoice(inv))
	}

	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return cmpString(b.InvoiceNumber, a.InvoiceNumber)
	})
	if len(invoices) > 5 {
		invoices = invoices[:5]
	}
	stats.RecentInvoices = invoices

	for _, p := range s.productsByID {
		if p.StockQuantity < lowStockThreshold {
			stats.LowStockProducts = append(stats.LowStockProducts, p)
		}
	}
	slices.SortFunc(stats.LowStockProducts, func(a, b domain.Product) int {
		if a.StockQuantity != b.StockQuantity {
			return a.StockQuantity - b.StockQuantity
		}
		return cmpString(a.ProductName, b.ProductName)
	})

	return &stats, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, len(s.auditLogs))
	copy(logs, s.auditLogs)
	slices.Reverse(logs)
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateAdmin(_ context.Context, admin domain.AdminAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(admin.Email)
	if _, ok := s.adminsByEmail[key]; ok {
		return store.ErrDuplicate
	}
	if admin.ID == "" {
		admin.ID = uuid.NewString()
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}
	admin.Email = key
	s.adminsByEmail[key] = admin
	return nil
}

func (s *Store) GetAdminByEmail(_ context.Context, email string) (*domain.AdminAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admin, ok := s.adminsByEmail[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &admin, nil
}

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	clone := inv
	clone.Lines = make([]domain.InvoiceLine, len(inv.Lines))
	copy(clone.Lines, inv.Lines)
	return clone
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
