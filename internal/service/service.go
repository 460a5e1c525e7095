package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkpress/backend/internal/cache"
	"inkpress/backend/internal/domain"
	"inkpress/backend/internal/ledger"
	"inkpress/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const dashboardCacheKey = "dashboard:stats"

type Service struct {
	repo         store.Repository
	dashCache    cache.DashboardCache
	dashboardTTL time.Duration
	invoiceLocks lockTable
}

func New(repo store.Repository, dashCache cache.DashboardCache, dashboardTTL time.Duration) *Service {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	if dashboardTTL <= 0 {
		dashboardTTL = 30 * time.Second
	}

	return &Service{
		repo:         repo,
		dashCache:    dashCache,
		dashboardTTL: dashboardTTL,
	}
}

// lockTable hands out one mutex per invoice so concurrent payments against
// the same invoice serialize while payments on different invoices proceed
// in parallel. Entries are never reclaimed; the table is bounded by the
// number of invoices that have ever received a payment in this process.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) acquire(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

func (s *Service) ListRetailers(ctx context.Context) ([]domain.Retailer, error) {
	return s.repo.ListRetailers(ctx)
}

func (s *Service) CreateRetailer(ctx context.Context, req domain.RetailerCreateRequest) (*domain.Retailer, error) {
	req.ShopName = strings.TrimSpace(req.ShopName)
	req.OwnerName = strings.TrimSpace(req.OwnerName)
	if req.ShopName == "" {
		return nil, ledger.Invalidf("shop_name is required")
	}
	if req.OwnerName == "" {
		return nil, ledger.Invalidf("owner_name is required")
	}

	created, err := s.repo.CreateRetailer(ctx, domain.Retailer{
		ShopName:    req.ShopName,
		OwnerName:   req.OwnerName,
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Address:     strings.TrimSpace(req.Address),
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "retailer_create", "retailer", created.ID, fmt.Sprintf("shop=%s", created.ShopName))
	return created, nil
}

func (s *Service) GetRetailer(ctx context.Context, id string) (*domain.Retailer, error) {
	return s.repo.GetRetailerByID(ctx, id)
}

func (s *Service) UpdateRetailer(ctx context.Context, id string, req domain.RetailerUpdateRequest) (*domain.Retailer, error) {
	existing, err := s.repo.GetRetailerByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.ShopName != nil {
		name := strings.TrimSpace(*req.ShopName)
		if name == "" {
			return nil, ledger.Invalidf("shop_name cannot be empty")
		}
		updated.ShopName = name
	}
	if req.OwnerName != nil {
		name := strings.TrimSpace(*req.OwnerName)
		if name == "" {
			return nil, ledger.Invalidf("owner_name cannot be empty")
		}
		updated.OwnerName = name
	}
	if req.PhoneNumber != nil {
		updated.PhoneNumber = strings.TrimSpace(*req.PhoneNumber)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}

	result, err := s.repo.UpdateRetailer(ctx, updated)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "retailer_update", "retailer", result.ID, fmt.Sprintf("shop=%s", result.ShopName))
	return result, nil
}

func (s *Service) DeleteRetailer(ctx context.Context, id string) error {
	if err := s.repo.DeleteRetailer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "retailer_delete", "retailer", id, "")
	s.invalidateDashboard(ctx)
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.ProductName == "" {
		return nil, ledger.Invalidf("product_name is required")
	}
	if req.Category == "" {
		return nil, ledger.Invalidf("category is required")
	}
	if req.Unit == "" {
		return nil, ledger.Invalidf("unit is required")
	}
	if req.UnitPrice.IsNegative() {
		return nil, ledger.Invalidf("unit_price cannot be negative")
	}
	if req.StockQuantity < 0 {
		return nil, ledger.Invalidf("stock_quantity cannot be negative")
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ProductName:   req.ProductName,
		Category:      req.Category,
		Description:   strings.TrimSpace(req.Description),
		UnitPrice:     req.UnitPrice,
		StockQuantity: req.StockQuantity,
		Unit:          req.Unit,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s", created.ProductName, created.UnitPrice))
	return created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.ProductName != nil {
		name := strings.TrimSpace(*req.ProductName)
		if name == "" {
			return nil, ledger.Invalidf("product_name cannot be empty")
		}
		updated.ProductName = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return nil, ledger.Invalidf("category cannot be empty")
		}
		updated.Category = category
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return nil, ledger.Invalidf("unit_price cannot be negative")
		}
		updated.UnitPrice = *req.UnitPrice
	}
	if req.StockQuantity != nil {
		if *req.StockQuantity < 0 {
			return nil, ledger.Invalidf("stock_quantity cannot be negative")
		}
		updated.StockQuantity = *req.StockQuantity
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return nil, ledger.Invalidf("unit cannot be empty")
		}
		updated.Unit = unit
	}

	result, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "product_update", "product", result.ID, fmt.Sprintf("name=%s", result.ProductName))
	return result, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

// CreateInvoice resolves the retailer and a catalog snapshot, builds the
// invoice with frozen prices, and persists it together with its side
// effects. An initial paid amount produces a payment record in the same
// store transaction.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (*domain.Invoice, error) {
	if strings.TrimSpace(req.RetailerID) == "" {
		return nil, ledger.Invalidf("retailer_id is required")
	}

	retailer, err := s.repo.GetRetailerByID(ctx, req.RetailerID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		ids = append(ids, line.ProductID)
	}
	catalog, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	invoice, err := ledger.BuildInvoice(*retailer, req.Lines, catalog, req.PaidAmount, strings.TrimSpace(req.Notes))
	if err != nil {
		return nil, err
	}

	var initialPayment *domain.Payment
	if invoice.PaidAmount.IsPositive() {
		initialPayment = &domain.Payment{
			ID:     uuid.NewString(),
			Amount: invoice.PaidAmount,
			Notes:  "Initial payment",
		}
	}

	created, err := s.repo.CreateInvoice(ctx, invoice, initialPayment)
	if err != nil {
		return nil, err
	}

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "invoice_create", "invoice", created.ID,
		fmt.Sprintf("number=%s,retailer=%s,total=%s", created.InvoiceNumber, created.RetailerID, created.TotalAmount))
	return created, nil
}

func (s *Service) ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx, limit)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.repo.GetInvoiceByID(ctx, id)
}

// CreatePayment applies a payment to an invoice. The per-invoice lock plus
// the store's conditional balance update guarantee that two racing payments
// cannot both settle against the same due amount; the second writer gets
// store.ErrConflict and nothing is recorded for it.
func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentCreateRequest) (*domain.Payment, error) {
	invoiceID := strings.TrimSpace(req.InvoiceID)
	if invoiceID == "" {
		return nil, ledger.Invalidf("invoice_id is required")
	}

	lock := s.invoiceLocks.acquire(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	invoice, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	next, err := ledger.ApplyPayment(*invoice, req.Amount)
	if err != nil {
		return nil, err
	}

	payment := domain.Payment{
		ID:          uuid.NewString(),
		InvoiceID:   invoiceID,
		Amount:      req.Amount,
		Notes:       strings.TrimSpace(req.Notes),
		PaymentDate: time.Now().UTC(),
	}

	updated, err := s.repo.ApplyPayment(ctx, payment, invoice.PaidAmount, next.PaidAmount, next.DueAmount, next.Status)
	if err != nil {
		return nil, err
	}

	payment.InvoiceNumber = updated.InvoiceNumber
	payment.RetailerID = updated.RetailerID
	payment.RetailerName = updated.RetailerName

	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "payment_create", "payment", payment.ID,
		fmt.Sprintf("invoice=%s,amount=%s,status=%s", updated.InvoiceNumber, payment.Amount, updated.Status))
	return &payment, nil
}

func (s *Service) ListPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, limit)
}

func (s *Service) Dashboard(ctx context.Context) (*domain.DashboardStats, error) {
	if cached, ok, err := s.dashCache.Get(ctx, dashboardCacheKey); err != nil {
		log.Printf("[service] WARN: dashboard cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	stats, err := s.repo.GetDashboardStats(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.dashCache.Set(ctx, dashboardCacheKey, stats, s.dashboardTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache write failed: %v", err)
	}
	return stats, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) invalidateDashboard(ctx context.Context) {
	if err := s.dashCache.Invalidate(ctx, dashboardCacheKey); err != nil {
		log.Printf("[service] WARN: dashboard cache invalidation failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Email: "system", Name: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorEmail: actor.Email,
		ActorName:  actor.Name,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
