package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"inkpress/backend/internal/domain"
	"inkpress/backend/internal/store"
)

func seedInvoice(t *testing.T, s *Store) (*domain.Retailer, *domain.Invoice) {
	t.Helper()
	ctx := context.Background()

	retailer, err := s.CreateRetailer(ctx, domain.Retailer{ShopName: "Test Shop", OwnerName: "Owner"})
	if err != nil {
		t.Fatalf("create retailer: %v", err)
	}
	product, err := s.CreateProduct(ctx, domain.Product{ProductName: "Notebook", Category: "Notebooks", UnitPrice: dec("100.00"), StockQuantity: 20, Unit: "piece"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	inv, err := s.CreateInvoice(ctx, domain.Invoice{
		RetailerID:   retailer.ID,
		RetailerName: retailer.ShopName,
		Lines: []domain.InvoiceLine{
			{ProductID: product.ID, ProductName: product.ProductName, UnitPrice: product.UnitPrice, Quantity: 2, LineTotal: dec("200.00")},
		},
		TotalAmount: dec("200.00"),
		PaidAmount:  decimal.Zero,
		DueAmount:   dec("200.00"),
		Status:      domain.InvoiceStatusUnpaid,
	}, nil)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return retailer, inv
}

func TestCreateInvoiceAssignsSequentialNumbers(t *testing.T) {
	s := New()
	_, first := seedInvoice(t, s)
	if first.InvoiceNumber != "INV-1001" {
		t.Fatalf("first invoice number = %s, want INV-1001", first.InvoiceNumber)
	}
	_, second := seedInvoice(t, s)
	if second.InvoiceNumber != "INV-1002" {
		t.Fatalf("second invoice number = %s, want INV-1002", second.InvoiceNumber)
	}
}

func TestCreateInvoiceSideEffects(t *testing.T) {
	s := New()
	ctx := context.Background()
	retailer, inv := seedInvoice(t, s)

	got, err := s.GetRetailerByID(ctx, retailer.ID)
	if err != nil {
		t.Fatalf("get retailer: %v", err)
	}
	if !got.TotalDue.Equal(dec("200.00")) {
		t.Fatalf("retailer due = %s, want 200.00", got.TotalDue)
	}

	product, err := s.GetProductByID(ctx, inv.Lines[0].ProductID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQuantity != 18 {
		t.Fatalf("stock = %d, want 18", product.StockQuantity)
	}
}

func TestApplyPaymentConflictOnStaleExpectation(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, inv := seedInvoice(t, s)

	pay := domain.Payment{InvoiceID: inv.ID, Amount: dec("50.00")}
	if _, err := s.ApplyPayment(ctx, pay, decimal.Zero, dec("50.00"), dec("150.00"), domain.InvoiceStatusPartial); err != nil {
		t.Fatalf("first payment: %v", err)
	}

	// second write still expects paid == 0, must lose
	_, err := s.ApplyPayment(ctx, pay, decimal.Zero, dec("50.00"), dec("150.00"), domain.InvoiceStatusPartial)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale write error = %v, want ErrConflict", err)
	}

	got, err := s.GetInvoiceByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if !got.PaidAmount.Equal(dec("50.00")) {
		t.Fatalf("paid = %s, want 50.00 after losing write", got.PaidAmount)
	}

	payments, err := s.ListPayments(ctx, 0)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("payments recorded = %d, want 1", len(payments))
	}
}

func TestApplyPaymentReducesRetailerDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	retailer, inv := seedInvoice(t, s)

	if _, err := s.ApplyPayment(ctx, domain.Payment{InvoiceID: inv.ID, Amount: dec("200.00")}, decimal.Zero, dec("200.00"), decimal.Zero, domain.InvoiceStatusPaid); err != nil {
		t.Fatalf("payment: %v", err)
	}

	got, err := s.GetRetailerByID(ctx, retailer.ID)
	if err != nil {
		t.Fatalf("get retailer: %v", err)
	}
	if !got.TotalDue.IsZero() {
		t.Fatalf("retailer due = %s, want 0", got.TotalDue)
	}
}

func TestApplyPaymentUnknownInvoice(t *testing.T) {
	s := New()
	_, err := s.ApplyPayment(context.Background(), domain.Payment{InvoiceID: "missing", Amount: dec("1")}, decimal.Zero, dec("1"), decimal.Zero, domain.InvoiceStatusPaid)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDashboardStats(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, inv := seedInvoice(t, s)

	stats, err := s.GetDashboardStats(ctx, inv.CreatedAt)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if !stats.TotalSalesToday.Equal(dec("200.00")) {
		t.Fatalf("sales today = %s, want 200.00", stats.TotalSalesToday)
	}
	if !stats.TotalOutstanding.Equal(dec("200.00")) {
		t.Fatalf("outstanding = %s, want 200.00", stats.TotalOutstanding)
	}
	if stats.PendingInvoiceCount != 1 {
		t.Fatalf("pending = %d, want 1", stats.PendingInvoiceCount)
	}
	if len(stats.RecentInvoices) != 1 {
		t.Fatalf("recent = %d, want 1", len(stats.RecentInvoices))
	}
}
