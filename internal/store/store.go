package store

import (
	"context"
	"errors"
	"time"

	"tokoledger/internal/domain"
)

// Business-rule violations are sentinel errors so callers can match them with
// errors.Is. Anything else coming out of a Repository is a storage fault and
// is safe to retry.
var (
	ErrNotFound                   = errors.New("not found")
	ErrInvalidInput               = errors.New("invalid input")
	ErrDuplicateIdentity          = errors.New("duplicate identity")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrInsufficientWarehouseStock = errors.New("insufficient warehouse stock")
	ErrProductHasSales            = errors.New("product has recorded sales")
	ErrForbidden                  = errors.New("forbidden")
	ErrStoreClosed                = errors.New("store is closed")

	// ErrInconsistentArchive means an archive run could not complete its
	// summarize-and-purge as one unit. It indicates a correctness bug and
	// must never be retried silently.
	ErrInconsistentArchive = errors.New("inconsistent archive state")
)

type Repository interface {
	// Users.
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	DeleteUser(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (int, error)

	// Store status.
	StoreStatus(ctx context.Context) (domain.StoreStatus, error)
	SetStoreStatus(ctx context.Context, status domain.StoreStatus) error

	// Products and stock. TransferToSellable moves qty from the warehouse
	// counter to the sellable counter as one all-or-nothing update.
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ReplenishWarehouse(ctx context.Context, id int64, qty int) (*domain.Product, error)
	TransferToSellable(ctx context.Context, id int64, qty int) (*domain.Product, error)

	// Sales. RecordSale performs the stock check, the sale insert and the
	// stock decrement inside one transaction serialized per product.
	RecordSale(ctx context.Context, productID int64, qty int, soldBy int64, at time.Time) (*domain.Sale, error)
	ListSales(ctx context.Context) ([]domain.Sale, error)
	ListSalesForDate(ctx context.Context, day time.Time) ([]domain.Sale, error)
	SumSalesForDate(ctx context.Context, day time.Time) (domain.SalesTotals, error)
	SumSalesForUser(ctx context.Context, userID int64, day time.Time) (domain.SalesTotals, error)

	// Archive. ArchiveDay recomputes the day's totals, writes the archive
	// row and purges the day's sale rows in one transaction.
	LatestArchiveDate(ctx context.Context) (time.Time, bool, error)
	ArchiveDay(ctx context.Context, day time.Time, weekNumber int, artifactRef string, archivedAt time.Time) (*domain.ArchiveRecord, error)
	ListArchiveRecords(ctx context.Context) ([]domain.ArchiveRecord, error)
}
