package postgres

import (
	"context"
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
	ErrPurchaseNotFound     = errors.New("purchase not found")
	ErrGatewayRefConflict   = errors.New("gateway ref already attached to another purchase")
	ErrInvalidPurchaseState = errors.New("invalid purchase state")
	ErrPurchaseExpired      = errors.New("purchase expired")
)

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

// PurchaseRecord snapshots pack pricing at creation time; later catalog
// edits never change what a purchase charges or credits.
type PurchaseRecord struct {
	ID               string
	UserID           int64
	PackID           int64
	Status           enums.PurchaseStatus
	Gateway          enums.Gateway
	Currency         string
	Amount           int64
	Coins            int64
	GatewayAuthority string
	GatewayRefID     string
	GatewayRaw       map[string]any
	CreditTxnID      *string
	ExpiresAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type CreatePurchaseParams struct {
	UserID           int64
	PackID           int64
	Gateway          enums.Gateway
	Currency         string
	Amount           int64
	Coins            int64
	GatewayAuthority string
	ExpiresAt        time.Time
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) Create(ctx context.Context, p CreatePurchaseParams) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if p.UserID <= 0 || p.PackID <= 0 || p.Coins < 1 || p.Amount < 0 {
		return PurchaseRecord{}, fmt.Errorf("invalid purchase create payload")
	}
	if !p.Gateway.Valid() {
		return PurchaseRecord{}, fmt.Errorf("invalid gateway %q", p.Gateway)
	}

	rec, err := scanPurchase(r.pool.QueryRow(ctx, `
INSERT INTO purchases (id, user_id, pack_id, status, gateway, currency, amount, coins, gateway_authority, gateway_raw, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}'::jsonb, $10, NOW(), NOW())
RETURNING `+purchaseColumns+`
`, uuid.NewString(), p.UserID, p.PackID, string(enums.PurchaseStatusPending), string(p.Gateway),
		strings.ToUpper(strings.TrimSpace(p.Currency)), p.Amount, p.Coins,
		strings.TrimSpace(p.GatewayAuthority), p.ExpiresAt))
	if err != nil {
		return PurchaseRecord{}, fmt.Errorf("create purchase: %w", err)
	}
	return rec, nil
}

func (r *PurchaseRepo) FindByID(ctx context.Context, purchaseID string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if _, err := uuid.Parse(strings.TrimSpace(purchaseID)); err != nil {
		return PurchaseRecord{}, ErrPurchaseNotFound
	}

	rec, err := scanPurchase(r.pool.QueryRow(ctx, purchaseSelect+`WHERE id = $1`, strings.TrimSpace(purchaseID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase by id: %w", err)
	}
	return rec, nil
}

// MarkPaid moves PENDING -> PAID and binds the gateway reference id. Replays
// for an already-PAID or CREDITED purchase with the same reference are
// acknowledged without a second transition. A PENDING purchase past its
// expiry is flipped to EXPIRED instead and ErrPurchaseExpired returned.
func (r *PurchaseRepo) MarkPaid(ctx context.Context, purchaseID, gatewayRefID string, raw map[string]any) (PurchaseRecord, bool, error) {
	gatewayRefID = strings.TrimSpace(gatewayRefID)

	var (
		out          PurchaseRecord
		transitioned bool
	)
	err := r.withLockedPurchase(ctx, purchaseID, func(txCtx context.Context, tx pgx.Tx, rec PurchaseRecord) error {
		switch rec.Status {
		case enums.PurchaseStatusPending:
			if rec.ExpiresAt != nil && time.Now().After(*rec.ExpiresAt) {
				if _, err := tx.Exec(txCtx, `
UPDATE purchases SET status = $2, updated_at = NOW() WHERE id = $1
`, rec.ID, string(enums.PurchaseStatusExpired)); err != nil {
					return fmt.Errorf("expire stale purchase: %w", err)
				}
				return ErrPurchaseExpired
			}

			rawJSON, err := marshalMeta(raw)
			if err != nil {
				return err
			}
			updated, err := scanPurchase(tx.QueryRow(txCtx, `
UPDATE purchases
SET status = $2, gateway_ref_id = $3, gateway_raw = $4::jsonb, updated_at = NOW()
WHERE id = $1
RETURNING `+purchaseColumns+`
`, rec.ID, string(enums.PurchaseStatusPaid), gatewayRefID, rawJSON))
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return ErrGatewayRefConflict
				}
				return fmt.Errorf("mark purchase paid: %w", err)
			}
			out = updated
			transitioned = true
			return nil

		case enums.PurchaseStatusPaid, enums.PurchaseStatusCredited:
			if gatewayRefID != "" && rec.GatewayRefID != "" && rec.GatewayRefID != gatewayRefID {
				return ErrGatewayRefConflict
			}
			out = rec
			return nil

		default:
			return ErrInvalidPurchaseState
		}
	})
	if err != nil {
		return PurchaseRecord{}, false, err
	}
	return out, transitioned, nil
}

// MarkFailed moves PENDING or PAID -> FAILED and stores the raw callback
// payload for audit. FAILED is terminal: repeats are acknowledged, anything
// else is an invalid transition.
func (r *PurchaseRepo) MarkFailed(ctx context.Context, purchaseID string, raw map[string]any) (PurchaseRecord, bool, error) {
	var (
		out          PurchaseRecord
		transitioned bool
	)
	err := r.withLockedPurchase(ctx, purchaseID, func(txCtx context.Context, tx pgx.Tx, rec PurchaseRecord) error {
		switch rec.Status {
		case enums.PurchaseStatusPending, enums.PurchaseStatusPaid:
			rawJSON, err := marshalMeta(raw)
			if err != nil {
				return err
			}
			updated, err := scanPurchase(tx.QueryRow(txCtx, `
UPDATE purchases
SET status = $2, gateway_raw = $3::jsonb, updated_at = NOW()
WHERE id = $1
RETURNING `+purchaseColumns+`
`, rec.ID, string(enums.PurchaseStatusFailed), rawJSON))
			if err != nil {
				return fmt.Errorf("mark purchase failed: %w", err)
			}
			out = updated
			transitioned = true
			return nil
		case enums.PurchaseStatusFailed:
			out = rec
			return nil
		default:
			return ErrInvalidPurchaseState
		}
	})
	if err != nil {
		return PurchaseRecord{}, false, err
	}
	return out, transitioned, nil
}

// Cancel moves PENDING or PAID -> CANCELED. Canceling twice is a no-op.
func (r *PurchaseRepo) Cancel(ctx context.Context, purchaseID string) (PurchaseRecord, bool, error) {
	var (
		out          PurchaseRecord
		transitioned bool
	)
	err := r.withLockedPurchase(ctx, purchaseID, func(txCtx context.Context, tx pgx.Tx, rec PurchaseRecord) error {
		switch rec.Status {
		case enums.PurchaseStatusPending, enums.PurchaseStatusPaid:
			updated, err := scanPurchase(tx.QueryRow(txCtx, `
UPDATE purchases SET status = $2, updated_at = NOW() WHERE id = $1
RETURNING `+purchaseColumns+`
`, rec.ID, string(enums.PurchaseStatusCanceled)))
			if err != nil {
				return fmt.Errorf("cancel purchase: %w", err)
			}
			out = updated
			transitioned = true
			return nil
		case enums.PurchaseStatusCanceled:
			out = rec
			return nil
		default:
			return ErrInvalidPurchaseState
		}
	})
	if err != nil {
		return PurchaseRecord{}, false, err
	}
	return out, transitioned, nil
}

// Credit applies the purchase's coin credit exactly once. The purchase row
// lock, the derived ledger idempotency key and the CREDITED replay path make
// the call safe to repeat arbitrarily, including after a crash between the
// ledger write and the status update.
func (r *PurchaseRepo) Credit(ctx context.Context, purchaseID string) (PurchaseRecord, CoinTxnRecord, bool, error) {
	var (
		outPurchase PurchaseRecord
		outTxn      CoinTxnRecord
		credited    bool
	)
	err := r.withLockedPurchase(ctx, purchaseID, func(txCtx context.Context, tx pgx.Tx, rec PurchaseRecord) error {
		if rec.Status != enums.PurchaseStatusPaid && rec.Status != enums.PurchaseStatusCredited {
			return ErrInvalidPurchaseState
		}

		if rec.Status == enums.PurchaseStatusCredited && rec.CreditTxnID != nil && *rec.CreditTxnID != "" {
			txn, err := scanCoinTxn(tx.QueryRow(txCtx, coinTxnSelect+`WHERE id = $1`, *rec.CreditTxnID))
			if err != nil {
				return fmt.Errorf("load credit txn for replay: %w", err)
			}
			outPurchase = rec
			outTxn = txn
			return nil
		}

		ref := rec.GatewayRefID
		if ref == "" {
			ref = rec.ID
		}
		idem := fmt.Sprintf("purchase:%s:%s", rec.Gateway, ref)

		// applied=false here means the ledger write survived an earlier
		// crash; reuse that entry and finish the status transition.
		txn, _, err := applyCoinTxnTx(txCtx, tx, ApplyParams{
			UserID:         rec.UserID,
			Delta:          rec.Coins,
			Reason:         enums.TxnReasonPurchaseCredit,
			RefType:        "purchase",
			RefID:          rec.ID,
			IdempotencyKey: idem,
			Meta: map[string]any{
				"gateway":        string(rec.Gateway),
				"gateway_ref_id": rec.GatewayRefID,
			},
		})
		if err != nil {
			return err
		}

		updated, err := scanPurchase(tx.QueryRow(txCtx, `
UPDATE purchases
SET status = $2, credit_txn_id = $3, updated_at = NOW()
WHERE id = $1
RETURNING `+purchaseColumns+`
`, rec.ID, string(enums.PurchaseStatusCredited), txn.ID))
		if err != nil {
			return fmt.Errorf("mark purchase credited: %w", err)
		}

		outPurchase = updated
		outTxn = txn
		credited = true
		return nil
	})
	if err != nil {
		return PurchaseRecord{}, CoinTxnRecord{}, false, err
	}
	return outPurchase, outTxn, credited, nil
}

// ExpireStale flips PENDING purchases past their expiry to EXPIRED and
// returns how many rows changed. PAID and terminal rows are never touched.
func (r *PurchaseRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE purchases
SET status = $2, updated_at = NOW()
WHERE status = $1
  AND expires_at IS NOT NULL
  AND expires_at < $3
`, string(enums.PurchaseStatusPending), string(enums.PurchaseStatusExpired), now)
	if err != nil {
		return 0, fmt.Errorf("expire stale purchases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListRecent returns the user's purchases newest-first, bounded by limit.
func (r *PurchaseRepo) ListRecent(ctx context.Context, userID int64, limit int) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 || limit <= 0 {
		return nil, fmt.Errorf("invalid list payload")
	}

	rows, err := r.pool.Query(ctx, purchaseSelect+`
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var out []PurchaseRecord
	for rows.Next() {
		rec, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return out, nil
}

// withLockedPurchase runs fn with the purchase row locked FOR UPDATE, the
// same lock class the wallet uses, so concurrent callbacks for one purchase
// serialize their check-then-transition.
func (r *PurchaseRepo) withLockedPurchase(ctx context.Context, purchaseID string, fn func(context.Context, pgx.Tx, PurchaseRecord) error) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if _, err := uuid.Parse(purchaseID); err != nil {
		return ErrPurchaseNotFound
	}

	return WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := scanPurchase(tx.QueryRow(txCtx, purchaseSelect+`WHERE id = $1 FOR UPDATE`, purchaseID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("lock purchase row: %w", err)
		}
		return fn(txCtx, tx, rec)
	})
}

const purchaseColumns = `id, user_id, pack_id, status, gateway, currency, amount, coins,
	gateway_authority, gateway_ref_id, gateway_raw, credit_txn_id, expires_at, created_at, updated_at`

const purchaseSelect = `
SELECT ` + purchaseColumns + `
FROM purchases
`

func scanPurchase(row pgx.Row) (PurchaseRecord, error) {
	var (
		rec     PurchaseRecord
		status  string
		gateway string
		rawJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.PackID,
		&status,
		&gateway,
		&rec.Currency,
		&rec.Amount,
		&rec.Coins,
		&rec.GatewayAuthority,
		&rec.GatewayRefID,
		&rawJSON,
		&rec.CreditTxnID,
		&rec.ExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return PurchaseRecord{}, err
	}
	rec.Status = enums.PurchaseStatus(status)
	rec.Gateway = enums.Gateway(gateway)
	rec.GatewayRaw = decodeMeta(rawJSON)
	return rec, nil
}
