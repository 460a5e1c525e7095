package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"inkpress/backend/internal/cache"
	"inkpress/backend/internal/domain"
	"inkpress/backend/internal/ledger"
	"inkpress/backend/internal/store"
	"inkpress/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService() *Service {
	return New(memory.New(), cache.NoopDashboardCache{}, 5*time.Second)
}

func testActorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Email: "admin@test.local", Name: "Admin"})
}

type fixture struct {
	svc      *Service
	retailer *domain.Retailer
	notebook *domain.Product
	pen      *domain.Product
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	svc := newTestService()
	ctx := testActorCtx()

	retailer, err := svc.CreateRetailer(ctx, domain.RetailerCreateRequest{
		ShopName: "Paper Trail", OwnerName: "S. Rao", PhoneNumber: "555-0101", Address: "12 Mill Road",
	})
	if err != nil {
		t.Fatalf("create retailer: %v", err)
	}
	notebook, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		ProductName: "A5 Ruled Notebook", Category: "Notebooks", UnitPrice: dec("100.00"), StockQuantity: 50, Unit: "piece",
	})
	if err != nil {
		t.Fatalf("create notebook: %v", err)
	}
	pen, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		ProductName: "Gel Pen Blue", Category: "Pens", UnitPrice: dec("50.00"), StockQuantity: 200, Unit: "box",
	})
	if err != nil {
		t.Fatalf("create pen: %v", err)
	}
	return fixture{svc: svc, retailer: retailer, notebook: notebook, pen: pen}
}

func (f fixture) createInvoice(t *testing.T, paid string) *domain.Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(testActorCtx(), domain.InvoiceCreateRequest{
		RetailerID: f.retailer.ID,
		Lines: []domain.InvoiceLineRequest{
			{ProductID: f.notebook.ID, Quantity: 2},
			{ProductID: f.pen.ID, Quantity: 1},
		},
		PaidAmount: dec(paid),
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func TestCreateRetailerValidation(t *testing.T) {
	svc := newTestService()
	_, err := svc.CreateRetailer(testActorCtx(), domain.RetailerCreateRequest{OwnerName: "X"})
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc := newTestService()
	ctx := testActorCtx()

	base := domain.ProductCreateRequest{
		ProductName: "Exam Pad A4", Category: "Paper Goods", UnitPrice: dec("35.00"), StockQuantity: 40, Unit: "piece",
	}

	var verr *ledger.ValidationError

	missingCategory := base
	missingCategory.Category = "  "
	if _, err := svc.CreateProduct(ctx, missingCategory); !errors.As(err, &verr) {
		t.Fatalf("blank category error = %v, want validation error", err)
	}

	missingUnit := base
	missingUnit.Unit = ""
	if _, err := svc.CreateProduct(ctx, missingUnit); !errors.As(err, &verr) {
		t.Fatalf("blank unit error = %v, want validation error", err)
	}

	negativePrice := base
	negativePrice.UnitPrice = dec("-1.00")
	if _, err := svc.CreateProduct(ctx, negativePrice); !errors.As(err, &verr) {
		t.Fatalf("negative price error = %v, want validation error", err)
	}

	freeSample := base
	freeSample.UnitPrice = dec("0.00")
	created, err := svc.CreateProduct(ctx, freeSample)
	if err != nil {
		t.Fatalf("zero-price product should be allowed: %v", err)
	}
	if created.Category != "Paper Goods" {
		t.Fatalf("category = %q, want Paper Goods", created.Category)
	}
}

func TestUpdateProductRejectsBlankCategoryAndUnit(t *testing.T) {
	f := newFixture(t)
	blank := "  "

	var verr *ledger.ValidationError
	if _, err := f.svc.UpdateProduct(testActorCtx(), f.notebook.ID, domain.ProductUpdateRequest{Category: &blank}); !errors.As(err, &verr) {
		t.Fatalf("blank category error = %v, want validation error", err)
	}
	if _, err := f.svc.UpdateProduct(testActorCtx(), f.notebook.ID, domain.ProductUpdateRequest{Unit: &blank}); !errors.As(err, &verr) {
		t.Fatalf("blank unit error = %v, want validation error", err)
	}
}

func TestCreateInvoiceComputesBalances(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "0")

	if inv.InvoiceNumber != "INV-1001" {
		t.Fatalf("invoice number = %s, want INV-1001", inv.InvoiceNumber)
	}
	if !inv.TotalAmount.Equal(dec("250.00")) || !inv.DueAmount.Equal(dec("250.00")) {
		t.Fatalf("total=%s due=%s, want 250.00 each", inv.TotalAmount, inv.DueAmount)
	}
	if inv.Status != domain.InvoiceStatusUnpaid {
		t.Fatalf("status = %s, want unpaid", inv.Status)
	}
	if inv.RetailerName != "Paper Trail" {
		t.Fatalf("retailer name = %s, want Paper Trail", inv.RetailerName)
	}
}

func TestCreateInvoiceFreezesPrices(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "0")

	newPrice := dec("999.00")
	if _, err := f.svc.UpdateProduct(testActorCtx(), f.notebook.ID, domain.ProductUpdateRequest{UnitPrice: &newPrice}); err != nil {
		t.Fatalf("update product: %v", err)
	}

	got, err := f.svc.GetInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if !got.Lines[0].UnitPrice.Equal(dec("100.00")) {
		t.Fatalf("frozen price = %s, want 100.00", got.Lines[0].UnitPrice)
	}
	if !got.TotalAmount.Equal(dec("250.00")) {
		t.Fatalf("total = %s, want 250.00", got.TotalAmount)
	}
}

func TestCreateInvoiceRejectsEmptyAndUnknown(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.CreateInvoice(testActorCtx(), domain.InvoiceCreateRequest{RetailerID: f.retailer.ID}); err == nil {
		t.Fatal("empty invoice should be rejected")
	}

	_, err := f.svc.CreateInvoice(testActorCtx(), domain.InvoiceCreateRequest{
		RetailerID: "nope",
		Lines:      []domain.InvoiceLineRequest{{ProductID: f.pen.ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown retailer error = %v, want ErrNotFound", err)
	}

	_, err = f.svc.CreateInvoice(testActorCtx(), domain.InvoiceCreateRequest{
		RetailerID: f.retailer.ID,
		Lines:      []domain.InvoiceLineRequest{{ProductID: "nope", Quantity: 1}},
	})
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("unknown product error = %v, want validation error", err)
	}
}

func TestCreateInvoiceWithInitialPayment(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "100.00")

	if inv.Status != domain.InvoiceStatusPartial || !inv.DueAmount.Equal(dec("150.00")) {
		t.Fatalf("status=%s due=%s, want partial/150.00", inv.Status, inv.DueAmount)
	}

	payments, err := f.svc.ListPayments(context.Background(), 0)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("payments = %d, want 1 initial payment record", len(payments))
	}
	if payments[0].Notes != "Initial payment" {
		t.Fatalf("payment notes = %q, want Initial payment", payments[0].Notes)
	}
	if payments[0].InvoiceNumber != inv.InvoiceNumber {
		t.Fatalf("payment invoice number = %s, want %s", payments[0].InvoiceNumber, inv.InvoiceNumber)
	}
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "0")
	ctx := testActorCtx()

	if _, err := f.svc.CreatePayment(ctx, domain.PaymentCreateRequest{InvoiceID: inv.ID, Amount: dec("100.00")}); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	got, _ := f.svc.GetInvoice(ctx, inv.ID)
	if got.Status != domain.InvoiceStatusPartial || !got.DueAmount.Equal(dec("150.00")) {
		t.Fatalf("after 100.00: status=%s due=%s", got.Status, got.DueAmount)
	}

	if _, err := f.svc.CreatePayment(ctx, domain.PaymentCreateRequest{InvoiceID: inv.ID, Amount: dec("150.00")}); err != nil {
		t.Fatalf("settling payment: %v", err)
	}
	got, _ = f.svc.GetInvoice(ctx, inv.ID)
	if got.Status != domain.InvoiceStatusPaid || !got.DueAmount.IsZero() {
		t.Fatalf("after settle: status=%s due=%s", got.Status, got.DueAmount)
	}

	_, err := f.svc.CreatePayment(ctx, domain.PaymentCreateRequest{InvoiceID: inv.ID, Amount: dec("0.01")})
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("payment on settled invoice = %v, want validation error", err)
	}

	retailer, _ := f.svc.GetRetailer(ctx, f.retailer.ID)
	if !retailer.TotalDue.IsZero() {
		t.Fatalf("retailer due = %s, want 0", retailer.TotalDue)
	}
}

func TestPaymentRejectsOverAndNonPositive(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "0")
	ctx := testActorCtx()

	for _, amount := range []string{"250.01", "0", "-10"} {
		if _, err := f.svc.CreatePayment(ctx, domain.PaymentCreateRequest{InvoiceID: inv.ID, Amount: dec(amount)}); err == nil {
			t.Fatalf("amount %s should be rejected", amount)
		}
	}

	// exact due is allowed
	if _, err := f.svc.CreatePayment(ctx, domain.PaymentCreateRequest{InvoiceID: inv.ID, Amount: dec("250.00")}); err != nil {
		t.Fatalf("exact settle: %v", err)
	}
}

func TestPaymentUnknownInvoice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreatePayment(testActorCtx(), domain.PaymentCreateRequest{InvoiceID: "missing", Amount: dec("1")})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentPaymentsSerialize(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "0") // due 250.00
	ctx := testActorCtx()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreatePayment(ctx, domain.PaymentCreateRequest{InvoiceID: inv.ID, Amount: dec("200.00")})
		}(i)
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			failed++
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want exactly one of each (%v)", succeeded, failed, errs)
	}

	got, err := f.svc.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if !got.PaidAmount.Equal(dec("200.00")) || !got.DueAmount.Equal(dec("50.00")) {
		t.Fatalf("paid=%s due=%s, want 200.00/50.00", got.PaidAmount, got.DueAmount)
	}
	if got.DueAmount.IsNegative() {
		t.Fatal("due amount went negative")
	}
}

func TestDashboardCachesBetweenMutations(t *testing.T) {
	f := newFixture(t)
	ctx := testActorCtx()
	f.createInvoice(t, "0")

	stats, err := f.svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if !stats.TotalOutstanding.Equal(dec("250.00")) {
		t.Fatalf("outstanding = %s, want 250.00", stats.TotalOutstanding)
	}
	if stats.TotalRetailers != 1 {
		t.Fatalf("retailers = %d, want 1", stats.TotalRetailers)
	}
	if stats.PendingInvoiceCount != 1 {
		t.Fatalf("pending = %d, want 1", stats.PendingInvoiceCount)
	}
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "0")
	ctx := testActorCtx()

	if _, err := f.svc.CreatePayment(ctx, domain.PaymentCreateRequest{InvoiceID: inv.ID, Amount: dec("50.00")}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	logs, err := f.svc.ListAuditLogs(ctx, 0)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
		if entry.ActorEmail != "admin@test.local" {
			t.Fatalf("actor email = %s, want admin@test.local", entry.ActorEmail)
		}
	}
	for _, want := range []string{"retailer_create", "product_create", "invoice_create", "payment_create"} {
		if !actions[want] {
			t.Fatalf("missing audit action %s in %v", want, actions)
		}
	}
}

func TestUpdateRetailerSparseFields(t *testing.T) {
	f := newFixture(t)
	ctx := testActorCtx()

	phone := "555-0202"
	updated, err := f.svc.UpdateRetailer(ctx, f.retailer.ID, domain.RetailerUpdateRequest{PhoneNumber: &phone})
	if err != nil {
		t.Fatalf("update retailer: %v", err)
	}
	if updated.PhoneNumber != phone {
		t.Fatalf("phone = %s, want %s", updated.PhoneNumber, phone)
	}
	if updated.ShopName != "Paper Trail" {
		t.Fatalf("shop name changed unexpectedly: %s", updated.ShopName)
	}

	empty := " "
	if _, err := f.svc.UpdateRetailer(ctx, f.retailer.ID, domain.RetailerUpdateRequest{ShopName: &empty}); err == nil {
		t.Fatal("blank shop name should be rejected")
	}
}
