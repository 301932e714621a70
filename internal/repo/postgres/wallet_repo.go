package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrWalletNotFound = errors.New("wallet not found")

type WalletRepo struct {
	pool *pgxpool.Pool
}

// WalletRecord is the cached balance row. The coin_txns ledger is the source
// of truth; balance must always equal the sum of the user's deltas.
type WalletRecord struct {
	UserID       int64
	Balance      int64
	IsFrozen     bool
	FreezeReason string
	LastTxnAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Ensure returns the user's wallet, creating a zero-balance row on first
// access. Repeat calls are side-effect free.
func (r *WalletRepo) Ensure(ctx context.Context, userID int64) (WalletRecord, error) {
	if r.pool == nil {
		return WalletRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return WalletRecord{}, fmt.Errorf("invalid user id")
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO wallets (user_id, balance, created_at, updated_at)
VALUES ($1, 0, NOW(), NOW())
ON CONFLICT (user_id) DO NOTHING
`, userID); err != nil {
		return WalletRecord{}, fmt.Errorf("ensure wallet row: %w", err)
	}

	rec, err := scanWallet(r.pool.QueryRow(ctx, walletSelect+`WHERE user_id = $1`, userID))
	if err != nil {
		return WalletRecord{}, fmt.Errorf("read ensured wallet: %w", err)
	}
	return rec, nil
}

func (r *WalletRepo) FindByUserID(ctx context.Context, userID int64) (WalletRecord, error) {
	if r.pool == nil {
		return WalletRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return WalletRecord{}, fmt.Errorf("invalid user id")
	}

	rec, err := scanWallet(r.pool.QueryRow(ctx, walletSelect+`WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WalletRecord{}, ErrWalletNotFound
		}
		return WalletRecord{}, fmt.Errorf("find wallet: %w", err)
	}
	return rec, nil
}

// SetFrozen flips the advisory freeze flag. Freezing blocks balance
// mutation, never reads.
func (r *WalletRepo) SetFrozen(ctx context.Context, userID int64, frozen bool, reason string) (WalletRecord, error) {
	if r.pool == nil {
		return WalletRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return WalletRecord{}, fmt.Errorf("invalid user id")
	}
	if !frozen {
		reason = ""
	}

	rec, err := scanWallet(r.pool.QueryRow(ctx, `
UPDATE wallets
SET is_frozen = $2, freeze_reason = $3, updated_at = NOW()
WHERE user_id = $1
RETURNING user_id, balance, is_frozen, freeze_reason, last_txn_at, created_at, updated_at
`, userID, frozen, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WalletRecord{}, ErrWalletNotFound
		}
		return WalletRecord{}, fmt.Errorf("set wallet frozen: %w", err)
	}
	return rec, nil
}

// RebuildBalance recomputes the cached balance from the ledger. Recovery
// path after suspected cache corruption; returns the rebuilt record.
func (r *WalletRepo) RebuildBalance(ctx context.Context, userID int64) (WalletRecord, error) {
	if r.pool == nil {
		return WalletRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return WalletRecord{}, fmt.Errorf("invalid user id")
	}

	var out WalletRecord
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		if _, err := scanWallet(tx.QueryRow(txCtx, walletSelect+`WHERE user_id = $1 FOR UPDATE`, userID)); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet for rebuild: %w", err)
		}

		rec, err := scanWallet(tx.QueryRow(txCtx, `
UPDATE wallets
SET balance = (SELECT COALESCE(SUM(delta), 0) FROM coin_txns WHERE user_id = $1),
    updated_at = NOW()
WHERE user_id = $1
RETURNING user_id, balance, is_frozen, freeze_reason, last_txn_at, created_at, updated_at
`, userID))
		if err != nil {
			return fmt.Errorf("rebuild wallet balance: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return WalletRecord{}, err
	}
	return out, nil
}

const walletSelect = `
SELECT user_id, balance, is_frozen, freeze_reason, last_txn_at, created_at, updated_at
FROM wallets
`

func scanWallet(row pgx.Row) (WalletRecord, error) {
	var rec WalletRecord
	if err := row.Scan(
		&rec.UserID,
		&rec.Balance,
		&rec.IsFrozen,
		&rec.FreezeReason,
		&rec.LastTxnAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return WalletRecord{}, err
	}
	return rec, nil
}
