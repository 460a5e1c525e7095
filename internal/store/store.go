package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"inkpress/backend/internal/domain"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a concurrent writer changed an invoice
	// balance between read and write. The request loses; callers may retry.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate is returned on unique-constraint violations such as a
	// reused admin email or invoice number.
	ErrDuplicate = errors.New("duplicate")
)

type Repository interface {
	ListRetailers(ctx context.Context) ([]domain.Retailer, error)
	CreateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error)
	GetRetailerByID(ctx context.Context, id string) (*domain.Retailer, error)
	UpdateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error)
	DeleteRetailer(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// CreateInvoice persists the invoice atomically with its side effects:
	// it assigns the next sequential invoice number, decrements stock for
	// each line, adds the due amount to the retailer's running balance, and
	// records initialPayment when non-nil.
	CreateInvoice(ctx context.Context, invoice domain.Invoice, initialPayment *domain.Payment) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error)
	GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)

	// ApplyPayment writes the payment and the recomputed invoice balance in
	// one transaction. The invoice row is only updated if its paid amount
	// still equals expectedPaid; otherwise ErrConflict is returned and
	// nothing is written.
	ApplyPayment(ctx context.Context, payment domain.Payment, expectedPaid, newPaid, newDue decimal.Decimal, newStatus string) (*domain.Invoice, error)
	ListPayments(ctx context.Context, limit int) ([]domain.Payment, error)

	GetDashboardStats(ctx context.Context, now time.Time) (*domain.DashboardStats, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateAdmin(ctx context.Context, admin domain.AdminAccount) error
	GetAdminByEmail(ctx context.Context, email string) (*domain.AdminAccount, error)
}
