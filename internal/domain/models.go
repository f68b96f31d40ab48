package domain

import "time"

type Role string

const (
	RoleOwner    Role = "owner"
	RoleEmployee Role = "employee"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEmployee
}

type StoreStatus string

const (
	StoreOpen   StoreStatus = "open"
	StoreClosed StoreStatus = "closed"
)

// User is a login account. Password holds the hashed credential and is never
// serialized.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor identifies the authenticated caller of a service operation.
type Actor struct {
	ID       int64
	Username string
	Role     Role
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Product carries two independent stock counters: WarehouseStock is reserve
// inventory, Stock is the sellable daily stock. Both are always >= 0.
type Product struct {
	ID             int64     `json:"id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	CostCents      int64     `json:"cost_cents"`
	PriceCents     int64     `json:"price_cents"`
	Stock          int       `json:"stock"`
	WarehouseStock int       `json:"warehouse_stock"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	CostCents      int64  `json:"cost_cents"`
	PriceCents     int64  `json:"price_cents"`
	WarehouseStock int    `json:"warehouse_stock"`
}

type ProductUpdateRequest struct {
	SKU        *string `json:"sku,omitempty"`
	Name       *string `json:"name,omitempty"`
	CostCents  *int64  `json:"cost_cents,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
}

// Sale is immutable once recorded. Cost and price are captured at sale time;
// totals derive from the captured values, never from a later product re-read.
type Sale struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Qty            int       `json:"qty"`
	CostEachCents  int64     `json:"cost_each_cents"`
	PriceEachCents int64     `json:"price_each_cents"`
	TotalCents     int64     `json:"total_cents"`
	ProfitCents    int64     `json:"profit_cents"`
	SoldBy         int64     `json:"sold_by"`
	SoldAt         time.Time `json:"sold_at"`
}

// SaleView is the role-projected read model of a Sale. Cost and profit are
// present only for owners.
type SaleView struct {
	ID             int64     `json:"id"`
	ProductName    string    `json:"product_name"`
	Qty            int       `json:"qty"`
	PriceEachCents int64     `json:"price_each_cents"`
	TotalCents     int64     `json:"total_cents"`
	CostEachCents  *int64    `json:"cost_each_cents,omitempty"`
	ProfitCents    *int64    `json:"profit_cents,omitempty"`
	SoldAt         time.Time `json:"sold_at"`
}

// ProjectSale applies the role visibility policy in one place instead of
// per-query column lists.
func ProjectSale(role Role, sale Sale) SaleView {
	view := SaleView{
		ID:             sale.ID,
		ProductName:    sale.ProductName,
		Qty:            sale.Qty,
		PriceEachCents: sale.PriceEachCents,
		TotalCents:     sale.TotalCents,
		SoldAt:         sale.SoldAt,
	}
	if role == RoleOwner {
		cost := sale.CostEachCents
		profit := sale.ProfitCents
		view.CostEachCents = &cost
		view.ProfitCents = &profit
	}
	return view
}

// SalesTotals is the raw aggregate over a set of sale rows.
type SalesTotals struct {
	Count       int64 `json:"count"`
	TotalCents  int64 `json:"total_cents"`
	ProfitCents int64 `json:"profit_cents"`
}

// DailySummary is the role-projected aggregate returned to callers.
type DailySummary struct {
	Date        string `json:"date"`
	Count       int64  `json:"count"`
	TotalCents  int64  `json:"total_cents"`
	ProfitCents *int64 `json:"profit_cents,omitempty"`
}

func ProjectSummary(role Role, date string, totals SalesTotals) DailySummary {
	summary := DailySummary{
		Date:       date,
		Count:      totals.Count,
		TotalCents: totals.TotalCents,
	}
	if role == RoleOwner {
		profit := totals.ProfitCents
		summary.ProfitCents = &profit
	}
	return summary
}

type RecordSaleRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type StockRequest struct {
	Qty int `json:"qty"`
}

type StoreStatusRequest struct {
	Status StoreStatus `json:"status"`
}

// ArchiveRecord summarizes one archived calendar day. Date is midnight UTC.
// ArtifactRef points at the rendered report file, empty when rendering was
// skipped or failed.
type ArchiveRecord struct {
	Date             time.Time `json:"date"`
	WeekNumber       int       `json:"week_number"`
	Month            int       `json:"month"`
	Year             int       `json:"year"`
	TotalSalesCents  int64     `json:"total_sales_cents"`
	TotalProfitCents int64     `json:"total_profit_cents"`
	ArtifactRef      string    `json:"artifact_ref,omitempty"`
	ArchivedAt       time.Time `json:"archived_at"`
}

// DateUTC truncates t to midnight UTC, the calendar-day key used by sales
// bucketing and archiving.
func DateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
