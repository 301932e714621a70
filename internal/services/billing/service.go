package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hsdarestani/HamAan/internal/domain/enums"
	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type LedgerStore interface {
	Apply(ctx context.Context, p pgrepo.ApplyParams) (pgrepo.CoinTxnRecord, bool, error)
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (pgrepo.CoinTxnRecord, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]pgrepo.CoinTxnRecord, error)
}

type WalletStore interface {
	Ensure(ctx context.Context, userID int64) (pgrepo.WalletRecord, error)
	FindByUserID(ctx context.Context, userID int64) (pgrepo.WalletRecord, error)
	SetFrozen(ctx context.Context, userID int64, frozen bool, reason string) (pgrepo.WalletRecord, error)
	RebuildBalance(ctx context.Context, userID int64) (pgrepo.WalletRecord, error)
}

type Service struct {
	ledger      LedgerStore
	wallets     WalletStore
	pageSize    int
	pageSizeMax int
	now         func() time.Time
}

type Dependencies struct {
	Ledger      LedgerStore
	Wallets     WalletStore
	PageSize    int
	PageSizeMax int
}

type ApplyInput struct {
	UserID         int64
	Delta          int64
	Reason         string
	RefType        string
	RefID          string
	IdempotencyKey string
	Meta           map[string]any
}

type ApplyResult struct {
	Txn        pgrepo.CoinTxnRecord
	Idempotent bool
}

func NewService(deps Dependencies) *Service {
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	pageSizeMax := deps.PageSizeMax
	if pageSizeMax <= 0 {
		pageSizeMax = 200
	}
	return &Service{
		ledger:      deps.Ledger,
		wallets:     deps.Wallets,
		pageSize:    pageSize,
		pageSizeMax: pageSizeMax,
		now:         time.Now,
	}
}

// Apply writes one ledger entry and moves the cached balance atomically.
// Repeats with the same idempotency key return the original entry with
// Idempotent=true and write nothing.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	if s.ledger == nil {
		return ApplyResult{}, fmt.Errorf("ledger store is nil")
	}
	if in.UserID <= 0 || in.Delta == 0 {
		return ApplyResult{}, ErrValidation
	}
	reason, ok := enums.ParseTxnReason(in.Reason)
	if !ok {
		return ApplyResult{}, ErrValidation
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	rec, applied, err := s.ledger.Apply(ctx, pgrepo.ApplyParams{
		UserID:         in.UserID,
		Delta:          in.Delta,
		Reason:         reason,
		RefType:        strings.TrimSpace(in.RefType),
		RefID:          strings.TrimSpace(in.RefID),
		IdempotencyKey: key,
		Meta:           in.Meta,
	})
	if err != nil {
		// The check-first read can lose to a concurrent writer committing
		// the same key; the unique index reports it and the winner's entry
		// is the replay.
		if errors.Is(err, pgrepo.ErrDuplicateKey) && key != "" {
			prior, lookupErr := s.ledger.FindByIdempotencyKey(ctx, in.UserID, key)
			if lookupErr == nil {
				return ApplyResult{Txn: prior, Idempotent: true}, nil
			}
		}
		return ApplyResult{}, mapLedgerErr(err)
	}

	return ApplyResult{Txn: rec, Idempotent: !applied}, nil
}

// Wallet returns the user's wallet, creating a zero-balance one on first
// touch.
func (s *Service) Wallet(ctx context.Context, userID int64) (pgrepo.WalletRecord, error) {
	if s.wallets == nil {
		return pgrepo.WalletRecord{}, fmt.Errorf("wallet store is nil")
	}
	if userID <= 0 {
		return pgrepo.WalletRecord{}, ErrValidation
	}
	return s.wallets.Ensure(ctx, userID)
}

// Balance reads the cached balance without creating a wallet; unknown users
// read as zero.
func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	if s.wallets == nil {
		return 0, fmt.Errorf("wallet store is nil")
	}
	if userID <= 0 {
		return 0, ErrValidation
	}

	rec, err := s.wallets.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return rec.Balance, nil
}

// ListTxns returns the newest entries first. A non-positive limit falls back
// to the default page size; anything above the hard cap is clamped.
func (s *Service) ListTxns(ctx context.Context, userID int64, limit int) ([]pgrepo.CoinTxnRecord, error) {
	if s.ledger == nil {
		return nil, fmt.Errorf("ledger store is nil")
	}
	if userID <= 0 {
		return nil, ErrValidation
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > s.pageSizeMax {
		limit = s.pageSizeMax
	}
	return s.ledger.ListRecent(ctx, userID, limit)
}

func (s *Service) Freeze(ctx context.Context, userID int64, reason string) (pgrepo.WalletRecord, error) {
	return s.setFrozen(ctx, userID, true, reason)
}

func (s *Service) Unfreeze(ctx context.Context, userID int64) (pgrepo.WalletRecord, error) {
	return s.setFrozen(ctx, userID, false, "")
}

func (s *Service) setFrozen(ctx context.Context, userID int64, frozen bool, reason string) (pgrepo.WalletRecord, error) {
	if s.wallets == nil {
		return pgrepo.WalletRecord{}, fmt.Errorf("wallet store is nil")
	}
	if userID <= 0 {
		return pgrepo.WalletRecord{}, ErrValidation
	}

	if _, err := s.wallets.Ensure(ctx, userID); err != nil {
		return pgrepo.WalletRecord{}, err
	}

	rec, err := s.wallets.SetFrozen(ctx, userID, frozen, strings.TrimSpace(reason))
	if err != nil {
		if errors.Is(err, pgrepo.ErrWalletNotFound) {
			return pgrepo.WalletRecord{}, ErrWalletNotFound
		}
		return pgrepo.WalletRecord{}, err
	}
	return rec, nil
}

// AdminAdjust applies a manual balance correction as a normal ledger entry
// so the audit trail stays complete.
func (s *Service) AdminAdjust(ctx context.Context, userID, delta int64, note, idempotencyKey string) (ApplyResult, error) {
	meta := map[string]any{}
	if note = strings.TrimSpace(note); note != "" {
		meta["note"] = note
	}
	return s.Apply(ctx, ApplyInput{
		UserID:         userID,
		Delta:          delta,
		Reason:         string(enums.TxnReasonAdminAdjustment),
		RefType:        "admin",
		IdempotencyKey: idempotencyKey,
		Meta:           meta,
	})
}

// Rebuild recomputes the cached balance from the ledger.
func (s *Service) Rebuild(ctx context.Context, userID int64) (pgrepo.WalletRecord, error) {
	if s.wallets == nil {
		return pgrepo.WalletRecord{}, fmt.Errorf("wallet store is nil")
	}
	if userID <= 0 {
		return pgrepo.WalletRecord{}, ErrValidation
	}

	rec, err := s.wallets.RebuildBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrWalletNotFound) {
			return pgrepo.WalletRecord{}, ErrWalletNotFound
		}
		return pgrepo.WalletRecord{}, err
	}
	return rec, nil
}

func mapLedgerErr(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrZeroDelta):
		return ErrValidation
	case errors.Is(err, pgrepo.ErrWalletFrozen):
		return ErrWalletFrozen
	case errors.Is(err, pgrepo.ErrInsufficientBalance):
		return ErrInsufficientBalance
	default:
		return err
	}
}
