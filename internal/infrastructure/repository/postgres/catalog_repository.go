package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
)

const schemaLockID int64 = 2026101601

// CatalogRepository reads the evs and reviews tables.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func OpenDBWithOptions(dsn string, opts PoolOptions) (*sql.DB, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = opts.MaxOpenConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *CatalogRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS evs (
	id BIGSERIAL PRIMARY KEY,
	model TEXT NOT NULL,
	price_inr BIGINT NOT NULL CHECK (price_inr >= 0),
	range_km DOUBLE PRECISION NOT NULL CHECK (range_km >= 0)
);

CREATE TABLE IF NOT EXISTS reviews (
	id BIGSERIAL PRIMARY KEY,
	ev_id BIGINT REFERENCES evs(id) ON DELETE SET NULL,
	review_text TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evs_price_inr ON evs(price_inr);
CREATE INDEX IF NOT EXISTS idx_reviews_ev_id ON reviews(ev_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *CatalogRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func (r *CatalogRepository) QueryByFilter(ctx context.Context, filter domain.CatalogFilter) ([]domain.CatalogItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.PriceCeiling == nil {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, model, price_inr, range_km
FROM evs
ORDER BY id
`)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, model, price_inr, range_km
FROM evs
WHERE price_inr <= $1
ORDER BY id
`, *filter.PriceCeiling)
	}
	if err != nil {
		return nil, fmt.Errorf("query evs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CatalogItem, 0)
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(&item.ID, &item.Model, &item.Price, &item.RangeKm); err != nil {
			return nil, fmt.Errorf("scan ev: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evs: %w", err)
	}
	return out, nil
}

func (r *CatalogRepository) LookupReviews(ctx context.Context, reviewIDs []int64) ([]domain.Review, error) {
	if len(reviewIDs) == 0 {
		return []domain.Review{}, nil
	}

	placeholders := make([]string, len(reviewIDs))
	args := make([]any, len(reviewIDs))
	for i, id := range reviewIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	query := `
SELECT id, ev_id, review_text
FROM reviews
WHERE id IN (` + strings.Join(placeholders, ",") + `)
`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews by id: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

func (r *CatalogRepository) ListReviews(ctx context.Context) ([]domain.Review, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, ev_id, review_text
FROM reviews
ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

func scanReviews(rows *sql.Rows) ([]domain.Review, error) {
	out := make([]domain.Review, 0)
	for rows.Next() {
		var (
			review domain.Review
			itemID sql.NullInt64
			text   sql.NullString
		)
		if err := rows.Scan(&review.ID, &itemID, &text); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		review.ItemID = domain.UnknownItemID
		if itemID.Valid {
			review.ItemID = itemID.Int64
		}
		review.Text = text.String
		out = append(out, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}
