package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tokoledger/internal/domain"
	"tokoledger/internal/store"
)

func TestTransferConservesTotalStock(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-T-01", Name: "Teh Celup", CostCents: 7000, PriceCents: 9800, Stock: 5, WarehouseStock: 50,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	updated, err := s.TransferToSellable(ctx, created.ID, 20)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if updated.Stock != 25 || updated.WarehouseStock != 30 {
		t.Fatalf("expected 25/30 after transfer, got %d/%d", updated.Stock, updated.WarehouseStock)
	}
	if updated.Stock+updated.WarehouseStock != created.Stock+created.WarehouseStock {
		t.Fatalf("transfer changed total stock: %d != %d", updated.Stock+updated.WarehouseStock, created.Stock+created.WarehouseStock)
	}

	if _, err := s.TransferToSellable(ctx, created.ID, 31); !errors.Is(err, store.ErrInsufficientWarehouseStock) {
		t.Fatalf("expected ErrInsufficientWarehouseStock, got %v", err)
	}
}

func TestRecordSaleCapturesCostAndProfit(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-KP-01", Name: "Keripik Singkong", CostCents: 1000, PriceCents: 2500, WarehouseStock: 40,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.TransferToSellable(ctx, created.ID, 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	at := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	sale, err := s.RecordSale(ctx, created.ID, 5, 1, at)
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if sale.TotalCents != 12500 {
		t.Fatalf("expected total 12500, got %d", sale.TotalCents)
	}
	if sale.ProfitCents != 7500 {
		t.Fatalf("expected profit 7500, got %d", sale.ProfitCents)
	}
	if sale.CostEachCents != 1000 || sale.PriceEachCents != 2500 {
		t.Fatalf("expected captured unit cost/price 1000/2500, got %d/%d", sale.CostEachCents, sale.PriceEachCents)
	}

	// Later price changes must not rewrite the recorded sale.
	if _, err := s.UpdateProduct(ctx, domain.Product{
		ID: created.ID, SKU: "SKU-KP-01", Name: "Keripik Singkong", CostCents: 1500, PriceCents: 3000,
	}); err != nil {
		t.Fatalf("update product: %v", err)
	}
	sales, err := s.ListSalesForDate(ctx, at)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 || sales[0].ProfitCents != 7500 {
		t.Fatalf("expected historical sale unchanged, got %+v", sales)
	}
}

func TestRecordSaleRejectsOversell(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", CostCents: 3200, PriceCents: 3900, Stock: 3,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if _, err := s.RecordSale(ctx, created.ID, 4, 1, time.Now().UTC()); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := s.RecordSale(ctx, created.ID, 0, 1, time.Now().UTC()); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero qty, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", CostCents: 15000, PriceCents: 18900, Stock: 10,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RecordSale(ctx, created.ID, 1, 1, time.Now().UTC()); err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if sold != 10 {
		t.Fatalf("expected exactly 10 sales to succeed, got %d", sold)
	}
	product, err := s.GetProduct(ctx, created.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
}

func TestDeleteProductBlockedBySales(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-GULA-01", Name: "Gula 1kg", CostCents: 15300, PriceCents: 17400, Stock: 5,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.RecordSale(ctx, created.ID, 1, 1, time.Now().UTC()); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if err := s.DeleteProduct(ctx, created.ID); !errors.Is(err, store.ErrProductHasSales) {
		t.Fatalf("expected ErrProductHasSales, got %v", err)
	}
}

func TestArchiveDayPurgesAndSummarizes(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-ROTI-01", Name: "Roti Tawar", CostCents: 12000, PriceCents: 17800, Stock: 30,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	yesterday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	today := yesterday.AddDate(0, 0, 1)
	for _, at := range []time.Time{
		yesterday.Add(9 * time.Hour),
		yesterday.Add(15 * time.Hour),
		today.Add(8 * time.Hour),
	} {
		if _, err := s.RecordSale(ctx, created.ID, 2, 1, at); err != nil {
			t.Fatalf("record sale: %v", err)
		}
	}

	record, err := s.ArchiveDay(ctx, yesterday, 2, "daily-sales-Monday-09-03-2026-week-2.txt", time.Now().UTC())
	if err != nil {
		t.Fatalf("archive day: %v", err)
	}
	if record.TotalSalesCents != 2*2*17800 {
		t.Fatalf("expected archived total %d, got %d", 2*2*17800, record.TotalSalesCents)
	}
	if record.WeekNumber != 2 || record.Month != 3 || record.Year != 2026 {
		t.Fatalf("unexpected archive breakdown: %+v", record)
	}

	remaining, err := s.ListSales(ctx)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(remaining) != 1 || !domain.DateUTC(remaining[0].SoldAt).Equal(today) {
		t.Fatalf("expected only today's sale to remain, got %+v", remaining)
	}

	latest, ok, err := s.LatestArchiveDate(ctx)
	if err != nil || !ok {
		t.Fatalf("latest archive date: ok=%v err=%v", ok, err)
	}
	if !latest.Equal(yesterday) {
		t.Fatalf("expected latest archive date %v, got %v", yesterday, latest)
	}

	if _, err := s.ArchiveDay(ctx, yesterday, 2, "", time.Now().UTC()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when re-archiving an empty day, got %v", err)
	}
}

func TestSumSalesForUserScopesToSeller(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-CB-01", Name: "Coklat Batang", CostCents: 6000, PriceCents: 8600, Stock: 20,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	if _, err := s.RecordSale(ctx, created.ID, 1, 7, day.Add(10*time.Hour)); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := s.RecordSale(ctx, created.ID, 3, 8, day.Add(11*time.Hour)); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	totals, err := s.SumSalesForUser(ctx, 7, day)
	if err != nil {
		t.Fatalf("sum sales for user: %v", err)
	}
	if totals.Count != 1 || totals.TotalCents != 8600 {
		t.Fatalf("expected 1 sale / 8600 total for user 7, got %+v", totals)
	}
}

func TestNewSeededHasBothRoles(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	owner, err := s.GetUserByUsername(ctx, "boss")
	if err != nil {
		t.Fatalf("seed owner missing: %v", err)
	}
	if owner.Role != domain.RoleOwner {
		t.Fatalf("expected owner role, got %s", owner.Role)
	}
	employee, err := s.GetUserByUsername(ctx, "staff")
	if err != nil {
		t.Fatalf("seed employee missing: %v", err)
	}
	if employee.Role != domain.RoleEmployee {
		t.Fatalf("expected employee role, got %s", employee.Role)
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("expected seeded products")
	}
}
