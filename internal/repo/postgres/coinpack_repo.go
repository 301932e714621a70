package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrCoinPackNotFound = errors.New("coin pack not found")

// CoinPackRepo is read-only for the billing core; packs are managed by admin
// tooling.
type CoinPackRepo struct {
	pool *pgxpool.Pool
}

type CoinPackRecord struct {
	ID          int64
	Code        string
	Title       string
	Coins       int64
	Currency    string
	PriceAmount int64
	IsActive    bool
	SortOrder   int
	Tag         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewCoinPackRepo(pool *pgxpool.Pool) *CoinPackRepo {
	return &CoinPackRepo{pool: pool}
}

func (r *CoinPackRepo) ListActive(ctx context.Context) ([]CoinPackRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, coinPackSelect+`
WHERE is_active
ORDER BY sort_order, coins
`)
	if err != nil {
		return nil, fmt.Errorf("list active coin packs: %w", err)
	}
	defer rows.Close()

	var out []CoinPackRecord
	for rows.Next() {
		rec, err := scanCoinPack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coin pack: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coin packs: %w", err)
	}
	return out, nil
}

func (r *CoinPackRepo) GetActiveByCode(ctx context.Context, code string) (CoinPackRecord, error) {
	if r.pool == nil {
		return CoinPackRecord{}, fmt.Errorf("postgres pool is nil")
	}
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return CoinPackRecord{}, fmt.Errorf("coin pack code is required")
	}

	rec, err := scanCoinPack(r.pool.QueryRow(ctx, coinPackSelect+`
WHERE code = $1 AND is_active
`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CoinPackRecord{}, ErrCoinPackNotFound
		}
		return CoinPackRecord{}, fmt.Errorf("get coin pack by code: %w", err)
	}
	return rec, nil
}

const coinPackSelect = `
SELECT id, code, title, coins, currency, price_amount, is_active, sort_order, tag, created_at, updated_at
FROM coin_packs
`

func scanCoinPack(row pgx.Row) (CoinPackRecord, error) {
	var rec CoinPackRecord
	if err := row.Scan(
		&rec.ID,
		&rec.Code,
		&rec.Title,
		&rec.Coins,
		&rec.Currency,
		&rec.PriceAmount,
		&rec.IsActive,
		&rec.SortOrder,
		&rec.Tag,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return CoinPackRecord{}, err
	}
	return rec, nil
}
