package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hsdarestani/HamAan/internal/domain/enums"
)

var (
	ErrTxnNotFound         = errors.New("coin txn not found")
	ErrZeroDelta           = errors.New("delta must be non-zero")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateKey        = errors.New("idempotency key already used")
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

// CoinTxnRecord is one immutable ledger entry. balance_after is a
// denormalized snapshot written at apply time; it is never recomputed.
type CoinTxnRecord struct {
	ID             string
	UserID         int64
	Delta          int64
	Reason         enums.TxnReason
	RefType        string
	RefID          string
	IdempotencyKey string
	Meta           map[string]any
	BalanceAfter   int64
	CreatedAt      time.Time
}

type ApplyParams struct {
	UserID         int64
	Delta          int64
	Reason         enums.TxnReason
	RefType        string
	RefID          string
	IdempotencyKey string
	Meta           map[string]any
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Apply writes one ledger entry and moves the cached wallet balance by the
// same delta, atomically. The wallet row lock serializes applies per user;
// applies against different wallets run in parallel.
//
// Returns applied=false when the idempotency key was already used for this
// user: the prior entry is returned unchanged and nothing is written.
func (r *LedgerRepo) Apply(ctx context.Context, p ApplyParams) (CoinTxnRecord, bool, error) {
	if r.pool == nil {
		return CoinTxnRecord{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		out     CoinTxnRecord
		applied bool
	)
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, wasApplied, err := applyCoinTxnTx(txCtx, tx, p)
		if err != nil {
			return err
		}
		out = rec
		applied = wasApplied
		return nil
	})
	if err != nil {
		return CoinTxnRecord{}, false, err
	}
	return out, applied, nil
}

// applyCoinTxnTx is the single mutation path for ledger + wallet. Callers
// that need the apply inside a wider atomic unit (purchase crediting) run it
// on their own transaction.
func applyCoinTxnTx(ctx context.Context, tx pgx.Tx, p ApplyParams) (CoinTxnRecord, bool, error) {
	if tx == nil {
		return CoinTxnRecord{}, false, fmt.Errorf("transaction is required")
	}
	if p.UserID <= 0 {
		return CoinTxnRecord{}, false, fmt.Errorf("invalid user id")
	}
	if p.Delta == 0 {
		return CoinTxnRecord{}, false, ErrZeroDelta
	}
	if !p.Reason.Valid() {
		return CoinTxnRecord{}, false, fmt.Errorf("invalid txn reason %q", p.Reason)
	}
	p.IdempotencyKey = strings.TrimSpace(p.IdempotencyKey)

	// Lazily create the wallet, then take the row lock. Everything after
	// this point is serialized per user.
	if _, err := tx.Exec(ctx, `
INSERT INTO wallets (user_id, balance, created_at, updated_at)
VALUES ($1, 0, NOW(), NOW())
ON CONFLICT (user_id) DO NOTHING
`, p.UserID); err != nil {
		return CoinTxnRecord{}, false, fmt.Errorf("ensure wallet row: %w", err)
	}

	wallet, err := scanWallet(tx.QueryRow(ctx, walletSelect+`WHERE user_id = $1 FOR UPDATE`, p.UserID))
	if err != nil {
		return CoinTxnRecord{}, false, fmt.Errorf("lock wallet row: %w", err)
	}

	if wallet.IsFrozen {
		return CoinTxnRecord{}, false, ErrWalletFrozen
	}

	// Under the wallet lock a same-user retry cannot race this check; the
	// partial unique index stays as the backstop.
	if p.IdempotencyKey != "" {
		prior, err := findTxnByKeyTx(ctx, tx, p.UserID, p.IdempotencyKey)
		if err == nil {
			return prior, false, nil
		}
		if !errors.Is(err, ErrTxnNotFound) {
			return CoinTxnRecord{}, false, err
		}
	}

	if p.Delta < 0 && wallet.Balance+p.Delta < 0 {
		return CoinTxnRecord{}, false, ErrInsufficientBalance
	}
	balanceAfter := wallet.Balance + p.Delta

	metaJSON, err := marshalMeta(p.Meta)
	if err != nil {
		return CoinTxnRecord{}, false, err
	}

	txnID := uuid.NewString()
	rec, err := scanCoinTxn(tx.QueryRow(ctx, `
INSERT INTO coin_txns (id, user_id, delta, reason, ref_type, ref_id, idempotency_key, meta, balance_after, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, NOW())
RETURNING id, user_id, delta, reason, ref_type, ref_id, idempotency_key, meta, balance_after, created_at
`, txnID, p.UserID, p.Delta, string(p.Reason), strings.TrimSpace(p.RefType), strings.TrimSpace(p.RefID),
		p.IdempotencyKey, metaJSON, balanceAfter))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return CoinTxnRecord{}, false, ErrDuplicateKey
		}
		return CoinTxnRecord{}, false, fmt.Errorf("insert coin txn: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE wallets
SET balance = balance + $2, last_txn_at = NOW(), updated_at = NOW()
WHERE user_id = $1
`, p.UserID, p.Delta); err != nil {
		return CoinTxnRecord{}, false, fmt.Errorf("update wallet balance: %w", err)
	}

	return rec, true, nil
}

func (r *LedgerRepo) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (CoinTxnRecord, error) {
	if r.pool == nil {
		return CoinTxnRecord{}, fmt.Errorf("postgres pool is nil")
	}
	key = strings.TrimSpace(key)
	if userID <= 0 || key == "" {
		return CoinTxnRecord{}, fmt.Errorf("invalid idempotency lookup payload")
	}

	rec, err := scanCoinTxn(r.pool.QueryRow(ctx, coinTxnSelect+`
WHERE user_id = $1 AND idempotency_key = $2
`, userID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CoinTxnRecord{}, ErrTxnNotFound
		}
		return CoinTxnRecord{}, fmt.Errorf("find coin txn by key: %w", err)
	}
	return rec, nil
}

func (r *LedgerRepo) FindByID(ctx context.Context, txnID string) (CoinTxnRecord, error) {
	if r.pool == nil {
		return CoinTxnRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(txnID) == "" {
		return CoinTxnRecord{}, fmt.Errorf("invalid txn id")
	}

	rec, err := scanCoinTxn(r.pool.QueryRow(ctx, coinTxnSelect+`WHERE id = $1`, txnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CoinTxnRecord{}, ErrTxnNotFound
		}
		return CoinTxnRecord{}, fmt.Errorf("find coin txn by id: %w", err)
	}
	return rec, nil
}

// ListRecent returns the user's entries newest-first, bounded by limit.
func (r *LedgerRepo) ListRecent(ctx context.Context, userID int64, limit int) ([]CoinTxnRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 || limit <= 0 {
		return nil, fmt.Errorf("invalid list payload")
	}

	rows, err := r.pool.Query(ctx, coinTxnSelect+`
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list coin txns: %w", err)
	}
	defer rows.Close()

	var out []CoinTxnRecord
	for rows.Next() {
		rec, err := scanCoinTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coin txn: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coin txns: %w", err)
	}
	return out, nil
}

func findTxnByKeyTx(ctx context.Context, tx pgx.Tx, userID int64, key string) (CoinTxnRecord, error) {
	rec, err := scanCoinTxn(tx.QueryRow(ctx, coinTxnSelect+`
WHERE user_id = $1 AND idempotency_key = $2
`, userID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CoinTxnRecord{}, ErrTxnNotFound
		}
		return CoinTxnRecord{}, fmt.Errorf("find coin txn by key: %w", err)
	}
	return rec, nil
}

const coinTxnSelect = `
SELECT id, user_id, delta, reason, ref_type, ref_id, idempotency_key, meta, balance_after, created_at
FROM coin_txns
`

func scanCoinTxn(row pgx.Row) (CoinTxnRecord, error) {
	var (
		rec     CoinTxnRecord
		reason  string
		rawMeta []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Delta,
		&reason,
		&rec.RefType,
		&rec.RefID,
		&rec.IdempotencyKey,
		&rawMeta,
		&rec.BalanceAfter,
		&rec.CreatedAt,
	); err != nil {
		return CoinTxnRecord{}, err
	}
	rec.Reason = enums.TxnReason(reason)
	rec.Meta = decodeMeta(rawMeta)
	return rec, nil
}

func marshalMeta(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal txn meta: %w", err)
	}
	return string(raw), nil
}

func decodeMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return map[string]any{}
	}
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
