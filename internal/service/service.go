package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/internal/cache"
	"tokoledger/internal/credential"
	"tokoledger/internal/domain"
	"tokoledger/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ArchiveRunner is the daily close job as the service sees it.
type ArchiveRunner interface {
	RunArchiveCheck(ctx context.Context, today time.Time) (*domain.ArchiveRecord, error)
}

type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	archiver   ArchiveRunner
	log        zerolog.Logger
	now        func() time.Time
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration, archiver ArchiveRunner, log zerolog.Logger) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
		archiver:   archiver,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, store.ErrForbidden
	}
	return actor, nil
}

func (s *Service) requireOwner(ctx context.Context) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleOwner {
		return domain.Actor{}, store.ErrForbidden
	}
	return actor, nil
}

func summaryKey(day time.Time) string {
	return "summary:" + domain.DateUTC(day).Format("2006-01-02")
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) AddProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if req.CostCents < 0 || req.PriceCents < 0 || req.WarehouseStock < 0 {
		return nil, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:            req.SKU,
		Name:           req.Name,
		CostCents:      req.CostCents,
		PriceCents:     req.PriceCents,
		WarehouseStock: req.WarehouseStock,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Str("sku", created.SKU).
		Int64("product_id", created.ID).
		Msg("product created")
	return created, nil
}

// UpdateProduct lets owners change anything; employees may fix SKU and name
// but never cost or price.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (*domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleOwner && (req.CostCents != nil || req.PriceCents != nil) {
		return nil, store.ErrForbidden
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *existing
	if req.SKU != nil {
		next.SKU = strings.ToUpper(strings.TrimSpace(*req.SKU))
	}
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.CostCents != nil {
		next.CostCents = *req.CostCents
	}
	if req.PriceCents != nil {
		next.PriceCents = *req.PriceCents
	}
	if next.SKU == "" || next.Name == "" || next.CostCents < 0 || next.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	updated, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Int64("product_id", id).
		Msg("product updated")
	return updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Int64("product_id", id).
		Msg("product deleted")
	return nil
}

func (s *Service) ReplenishWarehouse(ctx context.Context, id int64, req domain.StockRequest) (*domain.Product, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	if req.Qty < 1 {
		return nil, store.ErrInvalidInput
	}

	updated, err := s.repo.ReplenishWarehouse(ctx, id, req.Qty)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Int64("product_id", id).
		Int("qty", req.Qty).
		Int("warehouse_stock", updated.WarehouseStock).
		Msg("warehouse replenished")
	return updated, nil
}

func (s *Service) TransferToSellable(ctx context.Context, id int64, req domain.StockRequest) (*domain.Product, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	if req.Qty < 1 {
		return nil, store.ErrInvalidInput
	}

	updated, err := s.repo.TransferToSellable(ctx, id, req.Qty)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Int64("product_id", id).
		Int("qty", req.Qty).
		Int("stock", updated.Stock).
		Int("warehouse_stock", updated.WarehouseStock).
		Msg("stock transferred to shelf")
	return updated, nil
}

func (s *Service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (*domain.SaleView, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.Qty < 1 {
		return nil, store.ErrInvalidInput
	}

	sale, err := s.repo.RecordSale(ctx, req.ProductID, req.Qty, actor.ID, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.summaries.Invalidate(ctx, summaryKey(sale.SoldAt)); err != nil {
		s.log.Warn().Err(err).Msg("summary cache invalidation failed")
	}

	s.log.Info().
		Str("actor", actor.Username).
		Int64("sale_id", sale.ID).
		Int64("product_id", sale.ProductID).
		Int("qty", sale.Qty).
		Int64("total_cents", sale.TotalCents).
		Msg("sale recorded")

	view := domain.ProjectSale(actor.Role, *sale)
	return &view, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.SaleView, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return nil, err
	}
	return projectSales(actor.Role, sales), nil
}

func (s *Service) ListSalesToday(ctx context.Context) ([]domain.SaleView, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	sales, err := s.repo.ListSalesForDate(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return projectSales(actor.Role, sales), nil
}

func projectSales(role domain.Role, sales []domain.Sale) []domain.SaleView {
	views := make([]domain.SaleView, 0, len(sales))
	for _, sale := range sales {
		views = append(views, domain.ProjectSale(role, sale))
	}
	return views
}

// TodaySummary returns today's sale count and revenue, with profit visible to
// owners only. Totals are cached briefly; recording a sale invalidates the
// cached entry for its date.
func (s *Service) TodaySummary(ctx context.Context) (*domain.DailySummary, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	today := s.now()
	key := summaryKey(today)

	totals, hit, err := s.summaries.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("summary cache read failed")
		hit = false
	}
	if !hit {
		fresh, err := s.repo.SumSalesForDate(ctx, today)
		if err != nil {
			return nil, err
		}
		totals = &fresh
		if err := s.summaries.Set(ctx, key, totals, s.summaryTTL); err != nil {
			s.log.Warn().Err(err).Msg("summary cache write failed")
		}
	}

	summary := domain.ProjectSummary(actor.Role, domain.DateUTC(today).Format("2006-01-02"), *totals)
	return &summary, nil
}

// SalesSummaryForUser reports one seller's totals for the given day; a zero
// day means today. Owners may query anyone; employees only themselves.
func (s *Service) SalesSummaryForUser(ctx context.Context, userID int64, day time.Time) (*domain.DailySummary, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleOwner && actor.ID != userID {
		return nil, store.ErrForbidden
	}

	if day.IsZero() {
		day = s.now()
	}
	totals, err := s.repo.SumSalesForUser(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	summary := domain.ProjectSummary(actor.Role, domain.DateUTC(day).Format("2006-01-02"), totals)
	return &summary, nil
}

// RunArchiveCheck triggers the daily close on demand. Owner only; the
// login-path trigger goes through the job directly and stays ungated.
func (s *Service) RunArchiveCheck(ctx context.Context) (*domain.ArchiveRecord, error) {
	if _, err := s.requireOwner(ctx); err != nil {
		return nil, err
	}
	if s.archiver == nil {
		return nil, nil
	}
	return s.archiver.RunArchiveCheck(ctx, s.now())
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (*domain.User, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 6 || !req.Role.Valid() {
		return nil, store.ErrInvalidInput
	}

	hash, err := credential.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		Username: req.Username,
		Password: hash,
		Role:     req.Role,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Str("username", created.Username).
		Str("role", string(created.Role)).
		Msg("user created")
	return created, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := s.requireOwner(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return err
	}
	if actor.ID == id {
		return store.ErrForbidden
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Int64("user_id", id).
		Msg("user deleted")
	return nil
}

// SetUserPassword resets a credential. Owners may reset anyone's; employees
// only their own.
func (s *Service) SetUserPassword(ctx context.Context, id int64, password string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleOwner && actor.ID != id {
		return store.ErrForbidden
	}
	if len(password) < 6 {
		return store.ErrInvalidInput
	}

	hash, err := credential.Hash(password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, id, hash); err != nil {
		return err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Int64("user_id", id).
		Msg("password reset")
	return nil
}

func (s *Service) StoreStatus(ctx context.Context) (domain.StoreStatus, error) {
	return s.repo.StoreStatus(ctx)
}

func (s *Service) SetStoreStatus(ctx context.Context, req domain.StoreStatusRequest) error {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return err
	}
	if req.Status != domain.StoreOpen && req.Status != domain.StoreClosed {
		return store.ErrInvalidInput
	}
	if err := s.repo.SetStoreStatus(ctx, req.Status); err != nil {
		return err
	}

	s.log.Info().
		Str("actor", actor.Username).
		Str("status", string(req.Status)).
		Msg("store status changed")
	return nil
}

func (s *Service) ListArchives(ctx context.Context) ([]domain.ArchiveRecord, error) {
	if _, err := s.requireOwner(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListArchiveRecords(ctx)
}
