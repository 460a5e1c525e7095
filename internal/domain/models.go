package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdminAccount is a back-office login. Only the bcrypt hash is stored and it
// never serializes into API responses.
type AdminAccount struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Retailer is a shop that buys on credit. TotalDue mirrors the sum of due
// amounts across the retailer's invoices and is maintained by the store on
// every invoice and payment mutation.
type Retailer struct {
	ID          string          `json:"id"`
	ShopName    string          `json:"shop_name"`
	OwnerName   string          `json:"owner_name"`
	PhoneNumber string          `json:"phone_number"`
	Address     string          `json:"address"`
	TotalDue    decimal.Decimal `json:"total_due"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Product struct {
	ID            string          `json:"id"`
	ProductName   string          `json:"product_name"`
	Category      string          `json:"category"`
	Description   string          `json:"description,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockQuantity int             `json:"stock_quantity"`
	Unit          string          `json:"unit"`
	CreatedAt     time.Time       `json:"created_at"`
}

// InvoiceLine freezes the product name and unit price at invoice creation.
// Later catalog edits never change an existing invoice.
type InvoiceLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	RetailerID    string          `json:"retailer_id"`
	RetailerName  string          `json:"retailer_name"`
	Lines         []InvoiceLine   `json:"products"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	DueAmount     decimal.Decimal `json:"due_amount"`
	Status        string          `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Payment records money received against one invoice. InvoiceNumber and
// RetailerName are denormalized so payment listings render without joins.
type Payment struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	RetailerID    string          `json:"retailer_id"`
	RetailerName  string          `json:"retailer_name"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes,omitempty"`
	PaymentDate   time.Time       `json:"payment_date"`
}

type DashboardStats struct {
	TotalSalesToday     decimal.Decimal `json:"total_sales_today"`
	TotalSalesMonth     decimal.Decimal `json:"total_sales_month"`
	TotalOutstanding    decimal.Decimal `json:"total_outstanding"`
	TotalRetailers      int             `json:"total_retailers"`
	PendingInvoiceCount int             `json:"pending_invoice_count"`
	LowStockProducts    []Product       `json:"low_stock_products"`
	RecentInvoices      []Invoice       `json:"recent_invoices"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorEmail string    `json:"actor_email"`
	ActorName  string    `json:"actor_name"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actor identifies the authenticated admin on a request context.
type Actor struct {
	Email string
	Name  string
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   string       `json:"expires_at"`
	Admin       AdminAccount `json:"admin"`
}

type RetailerCreateRequest struct {
	ShopName    string `json:"shop_name"`
	OwnerName   string `json:"owner_name"`
	PhoneNumber string `json:"phone_number"`
	Address     string `json:"address"`
}

type RetailerUpdateRequest struct {
	ShopName    *string `json:"shop_name,omitempty"`
	OwnerName   *string `json:"owner_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Address     *string `json:"address,omitempty"`
}

type ProductCreateRequest struct {
	ProductName   string          `json:"product_name"`
	Category      string          `json:"category"`
	Description   string          `json:"description,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockQuantity int             `json:"stock_quantity"`
	Unit          string          `json:"unit"`
}

type ProductUpdateRequest struct {
	ProductName   *string          `json:"product_name,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Description   *string          `json:"description,omitempty"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	StockQuantity *int             `json:"stock_quantity,omitempty"`
	Unit          *string          `json:"unit,omitempty"`
}

type InvoiceLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type InvoiceCreateRequest struct {
	RetailerID string               `json:"retailer_id"`
	Lines      []InvoiceLineRequest `json:"products"`
	PaidAmount decimal.Decimal      `json:"paid_amount"`
	Notes      string               `json:"notes"`
}

type PaymentCreateRequest struct {
	InvoiceID string          `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes"`
}

const (
	InvoiceStatusUnpaid  = "unpaid"
	InvoiceStatusPartial = "partial"
	InvoiceStatusPaid    = "paid"
)
