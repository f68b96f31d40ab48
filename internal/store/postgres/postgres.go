package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokoledger/internal/domain"
	"tokoledger/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if user.Username == "" || user.Password == "" || !user.Role.Valid() {
		return nil, store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password, role, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, user.Username, user.Password, user.Role, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateIdentity
		}
		return nil, err
	}
	created := user
	return &created, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, `
		SELECT id, username, password, role, created_at
		FROM users
		WHERE username = $1
	`, username)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.getUser(ctx, `
		SELECT id, username, password, role, created_at
		FROM users
		WHERE id = $1
	`, id)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	if passwordHash == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func (s *Store) StoreStatus(ctx context.Context) (domain.StoreStatus, error) {
	var status domain.StoreStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM store_status WHERE id = 1`).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StoreClosed, nil
		}
		return "", err
	}
	return status, nil
}

func (s *Store) SetStoreStatus(ctx context.Context, status domain.StoreStatus) error {
	if status != domain.StoreOpen && status != domain.StoreClosed {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_status (id, status)
		VALUES (1, $1)
		ON CONFLICT (id)
		DO UPDATE SET status = EXCLUDED.status
	`, status)
	return err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.Stock < 0 || product.WarehouseStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (sku, name, cost_cents, price_cents, stock, warehouse_stock, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, product.SKU, product.Name, product.CostCents, product.PriceCents, product.Stock, product.WarehouseStock, product.CreatedAt).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateIdentity
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, cost_cents, price_cents, stock, warehouse_stock, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SKU, &product.Name, &product.CostCents, &product.PriceCents, &product.Stock, &product.WarehouseStock, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, cost_cents, price_cents, stock, warehouse_stock, created_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CostCents, &p.PriceCents, &p.Stock, &p.WarehouseStock, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET sku = $2, name = $3, cost_cents = $4, price_cents = $5
		WHERE id = $1
	`, product.ID, product.SKU, product.Name, product.CostCents, product.PriceCents)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateIdentity
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var hasSales bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sales WHERE product_id = $1)
	`, id).Scan(&hasSales)
	if err != nil {
		return err
	}
	if hasSales {
		return store.ErrProductHasSales
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) ReplenishWarehouse(ctx context.Context, id int64, qty int) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET warehouse_stock = warehouse_stock + $2
		WHERE id = $1
		RETURNING id, sku, name, cost_cents, price_cents, stock, warehouse_stock, created_at
	`, id, qty).Scan(&product.ID, &product.SKU, &product.Name, &product.CostCents, &product.PriceCents, &product.Stock, &product.WarehouseStock, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) TransferToSellable(ctx context.Context, id int64, qty int) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var warehouseStock int
	err = tx.QueryRowContext(ctx, `
		SELECT warehouse_stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&warehouseStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if qty > warehouseStock {
		return nil, store.ErrInsufficientWarehouseStock
	}

	var product domain.Product
	err = tx.QueryRowContext(ctx, `
		UPDATE products
		SET warehouse_stock = warehouse_stock - $2,
			stock = stock + $2
		WHERE id = $1
		RETURNING id, sku, name, cost_cents, price_cents, stock, warehouse_stock, created_at
	`, id, qty).Scan(&product.ID, &product.SKU, &product.Name, &product.CostCents, &product.PriceCents, &product.Stock, &product.WarehouseStock, &product.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) RecordSale(ctx context.Context, productID int64, qty int, soldBy int64, at time.Time) (*domain.Sale, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var stock int
	var name string
	var costCents, priceCents int64
	err = tx.QueryRowContext(ctx, `
		SELECT name, stock, cost_cents, price_cents
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&name, &stock, &costCents, &priceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if qty > stock {
		return nil, store.ErrInsufficientStock
	}

	sale := domain.Sale{
		ProductID:      productID,
		ProductName:    name,
		Qty:            qty,
		CostEachCents:  costCents,
		PriceEachCents: priceCents,
		TotalCents:     int64(qty) * priceCents,
		ProfitCents:    int64(qty) * (priceCents - costCents),
		SoldBy:         soldBy,
		SoldAt:         at.UTC(),
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (product_id, qty, cost_each_cents, price_each_cents, total_cents, profit_cents, sold_by, sold_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, sale.ProductID, sale.Qty, sale.CostEachCents, sale.PriceEachCents, sale.TotalCents, sale.ProfitCents, sale.SoldBy, sale.SoldAt).Scan(&sale.ID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - $2 WHERE id = $1
	`, productID, qty)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

const saleColumns = `
	s.id, s.product_id, COALESCE(p.name, ''), s.qty, s.cost_each_cents,
	s.price_each_cents, s.total_cents, s.profit_cents, s.sold_by, s.sold_at
`

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		LEFT JOIN products p ON p.id = s.product_id
		ORDER BY s.sold_at ASC, s.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSales(rows)
}

func (s *Store) ListSalesForDate(ctx context.Context, day time.Time) ([]domain.Sale, error) {
	from := domain.DateUTC(day)
	to := from.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		LEFT JOIN products p ON p.id = s.product_id
		WHERE s.sold_at >= $1 AND s.sold_at < $2
		ORDER BY s.sold_at ASC, s.id ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSales(rows)
}

func scanSales(rows *sql.Rows) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.ProductName, &sale.Qty, &sale.CostEachCents,
			&sale.PriceEachCents, &sale.TotalCents, &sale.ProfitCents, &sale.SoldBy, &sale.SoldAt); err != nil {
			return nil, err
		}
		sale.SoldAt = sale.SoldAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) SumSalesForDate(ctx context.Context, day time.Time) (domain.SalesTotals, error) {
	from := domain.DateUTC(day)
	to := from.AddDate(0, 0, 1)

	var totals domain.SalesTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint, COALESCE(SUM(profit_cents),0)::bigint
		FROM sales
		WHERE sold_at >= $1 AND sold_at < $2
	`, from, to).Scan(&totals.Count, &totals.TotalCents, &totals.ProfitCents)
	return totals, err
}

func (s *Store) SumSalesForUser(ctx context.Context, userID int64, day time.Time) (domain.SalesTotals, error) {
	from := domain.DateUTC(day)
	to := from.AddDate(0, 0, 1)

	var totals domain.SalesTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint, COALESCE(SUM(profit_cents),0)::bigint
		FROM sales
		WHERE sold_by = $1 AND sold_at >= $2 AND sold_at < $3
	`, userID, from, to).Scan(&totals.Count, &totals.TotalCents, &totals.ProfitCents)
	return totals, err
}

func (s *Store) LatestArchiveDate(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(archive_date) FROM sales_archive`).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return domain.DateUTC(latest.Time), true, nil
}

// ArchiveDay summarizes, records and purges one past day as a single
// transaction. The totals are computed on the locked rows that are about to be
// purged, so the archive row can never disagree with what was deleted; a purge
// count that differs from the summed count surfaces ErrInconsistentArchive.
func (s *Store) ArchiveDay(ctx context.Context, day time.Time, weekNumber int, artifactRef string, archivedAt time.Time) (*domain.ArchiveRecord, error) {
	from := domain.DateUTC(day)
	to := from.AddDate(0, 0, 1)
	if archivedAt.IsZero() {
		archivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var totals domain.SalesTotals
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint, COALESCE(SUM(profit_cents),0)::bigint
		FROM (
			SELECT total_cents, profit_cents
			FROM sales
			WHERE sold_at >= $1 AND sold_at < $2
			FOR UPDATE
		) day_sales
	`, from, to).Scan(&totals.Count, &totals.TotalCents, &totals.ProfitCents)
	if err != nil {
		return nil, err
	}
	if totals.Count == 0 {
		return nil, store.ErrNotFound
	}

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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales_archive (archive_date, week_number, month, year, total_sales_cents, total_profit_cents, artifact_ref, archived_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, record.Date, record.WeekNumber, record.Month, record.Year, record.TotalSalesCents, record.TotalProfitCents, nullIfEmpty(record.ArtifactRef), record.ArchivedAt)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM sales WHERE sold_at >= $1 AND sold_at < $2
	`, from, to)
	if err != nil {
		return nil, err
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if purged != totals.Count {
		return nil, store.ErrInconsistentArchive
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) ListArchiveRecords(ctx context.Context) ([]domain.ArchiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT archive_date, week_number, month, year, total_sales_cents, total_profit_cents, artifact_ref, archived_at
		FROM sales_archive
		ORDER BY archive_date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ArchiveRecord, 0, 32)
	for rows.Next() {
		var record domain.ArchiveRecord
		var artifact sql.NullString
		if err := rows.Scan(&record.Date, &record.WeekNumber, &record.Month, &record.Year,
			&record.TotalSalesCents, &record.TotalProfitCents, &artifact, &record.ArchivedAt); err != nil {
			return nil, err
		}
		record.Date = domain.DateUTC(record.Date)
		record.ArchivedAt = record.ArchivedAt.UTC()
		if artifact.Valid {
			record.ArtifactRef = artifact.String
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
