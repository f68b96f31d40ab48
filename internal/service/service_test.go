package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/internal/archive"
	"tokoledger/internal/cache"
	"tokoledger/internal/domain"
	"tokoledger/internal/report"
	"tokoledger/internal/store"
	"tokoledger/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	t.Setenv("SEED_OWNER_PASSWORD", "boss-test")
	t.Setenv("SEED_EMPLOYEE_PASSWORD", "staff-test")
	return New(memory.NewSeeded(), cache.NoopSummaryCache{}, time.Second, nil, zerolog.Nop())
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: 1, Username: "boss", Role: domain.RoleOwner})
}

func employeeCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: 2, Username: "staff", Role: domain.RoleEmployee})
}

func TestAddProductRequiresOwner(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.AddProduct(employeeCtx(), domain.ProductCreateRequest{
		SKU: "SKU-NEW-01", Name: "Minyak Goreng 1L", CostCents: 16000, PriceCents: 19500,
	}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for employee, got %v", err)
	}

	created, err := svc.AddProduct(ownerCtx(), domain.ProductCreateRequest{
		SKU: "sku-new-01", Name: " Minyak Goreng 1L ", CostCents: 16000, PriceCents: 19500, WarehouseStock: 24,
	})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	if created.SKU != "SKU-NEW-01" {
		t.Fatalf("expected normalized SKU, got %q", created.SKU)
	}
	if created.Name != "Minyak Goreng 1L" {
		t.Fatalf("expected trimmed name, got %q", created.Name)
	}
	if created.Stock != 0 || created.WarehouseStock != 24 {
		t.Fatalf("new product must start with sellable stock 0, got %d/%d", created.Stock, created.WarehouseStock)
	}
}

func TestEmployeeCannotTouchCostOrPrice(t *testing.T) {
	svc := newTestService(t)

	products, err := svc.ListProducts(employeeCtx())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	id := products[0].ID

	cost := int64(9999)
	if _, err := svc.UpdateProduct(employeeCtx(), id, domain.ProductUpdateRequest{CostCents: &cost}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for employee cost change, got %v", err)
	}

	name := "Nama Baru"
	updated, err := svc.UpdateProduct(employeeCtx(), id, domain.ProductUpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("employee name update: %v", err)
	}
	if updated.Name != "Nama Baru" {
		t.Fatalf("expected updated name, got %q", updated.Name)
	}

	price := int64(4200)
	if _, err := svc.UpdateProduct(ownerCtx(), id, domain.ProductUpdateRequest{PriceCents: &price}); err != nil {
		t.Fatalf("owner price update: %v", err)
	}
}

func TestStockOperationsAreOwnerOnly(t *testing.T) {
	svc := newTestService(t)

	products, err := svc.ListProducts(ownerCtx())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	id := products[0].ID

	if _, err := svc.ReplenishWarehouse(employeeCtx(), id, domain.StockRequest{Qty: 10}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.TransferToSellable(employeeCtx(), id, domain.StockRequest{Qty: 10}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	before, err := svc.GetProduct(ownerCtx(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	after, err := svc.TransferToSellable(ownerCtx(), id, domain.StockRequest{Qty: 5})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if after.Stock != before.Stock+5 || after.WarehouseStock != before.WarehouseStock-5 {
		t.Fatalf("unexpected stock after transfer: %+v", after)
	}
}

func TestRecordSaleProjectsByRole(t *testing.T) {
	svc := newTestService(t)

	products, err := svc.ListProducts(ownerCtx())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	id := products[0].ID

	employeeSale, err := svc.RecordSale(employeeCtx(), domain.RecordSaleRequest{ProductID: id, Qty: 1})
	if err != nil {
		t.Fatalf("employee sale: %v", err)
	}
	if employeeSale.CostEachCents != nil || employeeSale.ProfitCents != nil {
		t.Fatalf("employee view must not expose cost or profit: %+v", employeeSale)
	}
	if employeeSale.TotalCents == 0 {
		t.Fatalf("expected sale total to be set")
	}

	ownerSale, err := svc.RecordSale(ownerCtx(), domain.RecordSaleRequest{ProductID: id, Qty: 1})
	if err != nil {
		t.Fatalf("owner sale: %v", err)
	}
	if ownerSale.CostEachCents == nil || ownerSale.ProfitCents == nil {
		t.Fatalf("owner view must expose cost and profit: %+v", ownerSale)
	}
}

func TestTodaySummaryHidesProfitFromEmployees(t *testing.T) {
	svc := newTestService(t)

	products, err := svc.ListProducts(ownerCtx())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if _, err := svc.RecordSale(employeeCtx(), domain.RecordSaleRequest{ProductID: products[0].ID, Qty: 2}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	employeeSummary, err := svc.TodaySummary(employeeCtx())
	if err != nil {
		t.Fatalf("employee summary: %v", err)
	}
	if employeeSummary.ProfitCents != nil {
		t.Fatalf("employee summary must not carry profit: %+v", employeeSummary)
	}
	if employeeSummary.Count != 1 {
		t.Fatalf("expected 1 sale today, got %d", employeeSummary.Count)
	}

	ownerSummary, err := svc.TodaySummary(ownerCtx())
	if err != nil {
		t.Fatalf("owner summary: %v", err)
	}
	if ownerSummary.ProfitCents == nil {
		t.Fatalf("owner summary must carry profit: %+v", ownerSummary)
	}
}

func TestSalesSummaryForUserScope(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.SalesSummaryForUser(employeeCtx(), 1, time.Time{}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cross-user query, got %v", err)
	}
	if _, err := svc.SalesSummaryForUser(employeeCtx(), 2, time.Time{}); err != nil {
		t.Fatalf("self query: %v", err)
	}
	if _, err := svc.SalesSummaryForUser(ownerCtx(), 2, time.Time{}); err != nil {
		t.Fatalf("owner query: %v", err)
	}
}

func TestSalesSummaryForUserOnPastDate(t *testing.T) {
	repo := memory.New()
	svc := New(repo, cache.NoopSummaryCache{}, time.Second, nil, zerolog.Nop())
	ctx := context.Background()

	product, err := repo.CreateProduct(ctx, domain.Product{
		SKU: "SKU-HIST-01", Name: "Gula 1kg", CostCents: 15300, PriceCents: 17400, Stock: 10,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	past := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if _, err := repo.RecordSale(ctx, product.ID, 2, 7, past.Add(10*time.Hour)); err != nil {
		t.Fatalf("record past sale: %v", err)
	}
	if _, err := repo.RecordSale(ctx, product.ID, 1, 7, time.Now().UTC()); err != nil {
		t.Fatalf("record today sale: %v", err)
	}

	ownerCtx7 := WithActor(ctx, domain.Actor{ID: 1, Username: "boss", Role: domain.RoleOwner})

	pastSummary, err := svc.SalesSummaryForUser(ownerCtx7, 7, past)
	if err != nil {
		t.Fatalf("past summary: %v", err)
	}
	if pastSummary.Date != "2026-02-03" || pastSummary.Count != 1 || pastSummary.TotalCents != 2*17400 {
		t.Fatalf("expected past day's totals only, got %+v", pastSummary)
	}

	// A zero day falls back to today.
	todaySummary, err := svc.SalesSummaryForUser(ownerCtx7, 7, time.Time{})
	if err != nil {
		t.Fatalf("today summary: %v", err)
	}
	if todaySummary.Count != 1 || todaySummary.TotalCents != 17400 {
		t.Fatalf("expected today's totals only, got %+v", todaySummary)
	}
}

func TestRunArchiveCheckIsOwnerOnly(t *testing.T) {
	t.Setenv("SEED_OWNER_PASSWORD", "boss-test")
	t.Setenv("SEED_EMPLOYEE_PASSWORD", "staff-test")
	repo := memory.NewSeeded()
	job := archive.NewJob(repo, report.NoopRenderer{}, zerolog.Nop())
	svc := New(repo, cache.NoopSummaryCache{}, time.Second, job, zerolog.Nop())

	if _, err := svc.RunArchiveCheck(employeeCtx()); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for employee archive run, got %v", err)
	}
	if _, err := svc.RunArchiveCheck(ownerCtx()); err != nil {
		t.Fatalf("owner archive run: %v", err)
	}
}

func TestUserManagement(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.CreateUser(employeeCtx(), domain.UserCreateRequest{
		Username: "kasir2", Password: "rahasia", Role: domain.RoleEmployee,
	}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	created, err := svc.CreateUser(ownerCtx(), domain.UserCreateRequest{
		Username: "kasir2", Password: "rahasia", Role: domain.RoleEmployee,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Password == "rahasia" {
		t.Fatalf("password must be stored hashed")
	}

	if _, err := svc.CreateUser(ownerCtx(), domain.UserCreateRequest{
		Username: "kasir3", Password: "short", Role: domain.RoleEmployee,
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}

	if err := svc.DeleteUser(ownerCtx(), 1); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("owner must not delete own account, got %v", err)
	}
	if err := svc.DeleteUser(ownerCtx(), created.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
}

func TestSetStoreStatus(t *testing.T) {
	svc := newTestService(t)

	if err := svc.SetStoreStatus(employeeCtx(), domain.StoreStatusRequest{Status: domain.StoreOpen}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.SetStoreStatus(ownerCtx(), domain.StoreStatusRequest{Status: "half-open"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := svc.SetStoreStatus(ownerCtx(), domain.StoreStatusRequest{Status: domain.StoreOpen}); err != nil {
		t.Fatalf("set store status: %v", err)
	}
	status, err := svc.StoreStatus(context.Background())
	if err != nil {
		t.Fatalf("store status: %v", err)
	}
	if status != domain.StoreOpen {
		t.Fatalf("expected open, got %s", status)
	}
}

func TestListArchivesIsOwnerOnly(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.ListArchives(employeeCtx()); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.ListArchives(ownerCtx()); err != nil {
		t.Fatalf("list archives: %v", err)
	}
}

func TestUnauthenticatedContextIsRejected(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.ListProducts(context.Background()); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden without actor, got %v", err)
	}
	if _, err := svc.RecordSale(context.Background(), domain.RecordSaleRequest{ProductID: 1, Qty: 1}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden without actor, got %v", err)
	}
}
