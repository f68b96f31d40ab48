package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoledger/internal/domain"
	"tokoledger/internal/store"
)

type Store struct {
	mu             sync.RWMutex
	nextUserID     int64
	nextProductID  int64
	nextSaleID     int64
	usersByID      map[int64]domain.User
	productsByID   map[int64]domain.Product
	sales          []domain.Sale
	archiveRecords []domain.ArchiveRecord
	storeStatus    domain.StoreStatus
}

func New() *Store {
	return &Store{
		nextUserID:    1,
		nextProductID: 1,
		nextSaleID:    1,
		usersByID:     map[int64]domain.User{},
		productsByID:  map[int64]domain.Product{},
		storeStatus:   domain.StoreClosed,
	}
}

// NewSeeded builds a dev/demo store with a small product catalog and two user
// accounts. Credentials are read from SEED_OWNER_PASSWORD and
// SEED_EMPLOYEE_PASSWORD; hardcoded dev defaults are used when unset, with a
// warning printed to stdout. The backend uses PostgreSQL when DATABASE_URL is
// set, so these defaults never reach production.
func NewSeeded() *Store {
	s := New()

	ownerPwd := envOr("SEED_OWNER_PASSWORD", "boss123")
	employeePwd := envOr("SEED_EMPLOYEE_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_EMPLOYEE_PASSWORD to override.")
	}

	ctx := context.Background()
	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
	}{
		{"boss", ownerPwd, domain.RoleOwner},
		{"staff", employeePwd, domain.RoleEmployee},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		if _, err := s.CreateUser(ctx, domain.User{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			CreatedAt: now,
		}); err != nil {
			log.Fatalf("[memory-store] failed to seed user %s: %v", u.username, err)
		}
	}

	for _, p := range []domain.Product{
		{SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", CostCents: 2400, PriceCents: 3500, Stock: 40, WarehouseStock: 120},
		{SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", CostCents: 23000, PriceCents: 26500, Stock: 15, WarehouseStock: 30},
		{SKU: "SKU-KOPI-01", Name: "Kopi Sachet", CostCents: 1700, PriceCents: 2600, Stock: 60, WarehouseStock: 240},
		{SKU: "SKU-GULA-01", Name: "Gula 1kg", CostCents: 15300, PriceCents: 17400, Stock: 10, WarehouseStock: 50},
		{SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", CostCents: 3200, PriceCents: 3900, Stock: 48, WarehouseStock: 96},
		{SKU: "SKU-SABUN-01", Name: "Sabun Mandi", CostCents: 5000, PriceCents: 7400, Stock: 20, WarehouseStock: 40},
	} {
		p.CreatedAt = now
		if _, err := s.CreateProduct(ctx, p); err != nil {
			log.Fatalf("[memory-store] failed to seed product %s: %v", p.SKU, err)
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	if user.Username == "" || user.Password == "" || !user.Role.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.usersByID {
		if existing.Username == user.Username {
			return nil, store.ErrDuplicateIdentity
		}
	}

	user.ID = s.nextUserID
	s.nextUserID++
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByID[user.ID] = user
	created := user
	return &created, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.usersByID {
		if user.Username == username {
			found := user
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id int64, passwordHash string) error {
	if passwordHash == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = passwordHash
	s.usersByID[id] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.usersByID, id)
	return nil
}

func (s *Store) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.usersByID), nil
}

func (s *Store) StoreStatus(_ context.Context) (domain.StoreStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storeStatus, nil
}

func (s *Store) SetStoreStatus(_ context.Context, status domain.StoreStatus) error {
	if status != domain.StoreOpen && status != domain.StoreClosed {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeStatus = status
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.Stock < 0 || product.WarehouseStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.productsByID {
		if existing.SKU == product.SKU {
			return nil, store.ErrDuplicateIdentity
		}
	}

	product.ID = s.nextProductID
	s.nextProductID++
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, product := range s.productsByID {
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.productsByID[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, other := range s.productsByID {
		if id != product.ID && other.SKU == product.SKU {
			return nil, store.ErrDuplicateIdentity
		}
	}

	existing.SKU = product.SKU
	existing.Name = product.Name
	existing.CostCents = product.CostCents
	existing.PriceCents = product.PriceCents
	s.productsByID[product.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.productsByID[id]; !ok {
		return store.ErrNotFound
	}
	for _, sale := range s.sales {
		if sale.ProductID == id {
			return store.ErrProductHasSales
		}
	}
	delete(s.productsByID, id)
	return nil
}

func (s *Store) ReplenishWarehouse(_ context.Context, id int64, qty int) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.WarehouseStock += qty
	s.productsByID[id] = product
	updated := product
	return &updated, nil
}

func (s *Store) TransferToSellable(_ context.Context, id int64, qty int) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if qty > product.WarehouseStock {
		return nil, store.ErrInsufficientWarehouseStock
	}
	product.WarehouseStock -= qty
	product.Stock += qty
	s.productsByID[id] = product
	updated := product
	return &updated, nil
}

func (s *Store) RecordSale(_ context.Context, productID int64, qty int, soldBy int64, at time.Time) (*domain.Sale, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.productsByID[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if qty > product.Stock {
		return nil, store.ErrInsufficientStock
	}

	sale := domain.Sale{
		ID:             s.nextSaleID,
		ProductID:      productID,
		ProductName:    product.Name,
		Qty:            qty,
		CostEachCents:  product.CostCents,
		PriceEachCents: product.PriceCents,
		TotalCents:     int64(qty) * product.PriceCents,
		ProfitCents:    int64(qty) * (product.PriceCents - product.CostCents),
		SoldBy:         soldBy,
		SoldAt:         at.UTC(),
	}
	s.nextSaleID++

	product.Stock -= qty
	s.productsByID[productID] = product
	s.sales = append(s.sales, sale)

	recorded := sale
	return &recorded, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, len(s.sales))
	copy(sales, s.sales)
	return sales, nil
}

func (s *Store) ListSalesForDate(_ context.Context, day time.Time) ([]domain.Sale, error) {
	from := domain.DateUTC(day)
	to := from.AddDate(0, 0, 1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if !sale.SoldAt.Before(from) && sale.SoldAt.Before(to) {
			sales = append(sales, sale)
		}
	}
	return sales, nil
}

func (s *Store) SumSalesForDate(ctx context.Context, day time.Time) (domain.SalesTotals, error) {
	sales, err := s.ListSalesForDate(ctx, day)
	if err != nil {
		return domain.SalesTotals{}, err
	}
	return sumSales(sales), nil
}

func (s *Store) SumSalesForUser(ctx context.Context, userID int64, day time.Time) (domain.SalesTotals, error) {
	sales, err := s.ListSalesForDate(ctx, day)
	if err != nil {
		return domain.SalesTotals{}, err
	}
	var own []domain.Sale
	for _, sale := range sales {
		if sale.SoldBy == userID {
			own = append(own, sale)
		}
	}
	return sumSales(own), nil
}

func sumSales(sales []domain.Sale) domain.SalesTotals {
	var totals domain.SalesTotals
	for _, sale := range sales {
		totals.Count++
		totals.TotalCents += sale.TotalCents
		totals.ProfitCents += sale.ProfitCents
	}
	return totals
}

func (s *Store) LatestArchiveDate(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for _, record := range s.archiveRecords {
		if record.Date.After(latest) {
			latest = record.Date
		}
	}
	if latest.IsZero() {
		return time.Time{}, false, nil
	}
	return latest, true, nil
}

func (s *Store) ArchiveDay(_ context.Context, day time.Time, weekNumber int, artifactRef string, archivedAt time.Time) (*domain.ArchiveRecord, error) {
	from := domain.DateUTC(day)
	to := from.AddDate(0, 0, 1)
	if archivedAt.IsZero() {
		archivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := make([]domain.Sale, 0, len(s.sales))
	var totals domain.SalesTotals
	for _, sale := range s.sales {
		if !sale.SoldAt.Before(from) && sale.SoldAt.Before(to) {
			totals.Count++
			totals.TotalCents += sale.TotalCents
			totals.ProfitCents += sale.ProfitCents
			continue
		}
		remaining = append(remaining, sale)
	}
	if totals.Count == 0 {
		return nil, store.ErrNotFound
	}
	s.sales = remaining

	record := domain.ArchiveRecord{
		Date:             from,
		WeekNumber:       weekNumber,
		Month:            int(from.Month()),
		Year:             from.Year(),
		TotalSalesCents:  totals.TotalCents,
		TotalProfitCents: totals.ProfitCents,
		ArtifactRef:      artifactRef,
		ArchivedAt:       archivedAt.UTC(),
	}
	s.archiveRecords = append(s.archiveRecords, record)
	created := record
	return &created, nil
}

func (s *Store) ListArchiveRecords(_ context.Context) ([]domain.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.ArchiveRecord, len(s.archiveRecords))
	copy(records, s.archiveRecords)
	sort.Slice(records, func(i, j int) bool { return records[i].Date.After(records[j].Date) })
	return records, nil
}
