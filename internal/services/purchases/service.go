package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hsdarestani/HamAan/internal/domain/enums"
	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	redrepo "github.com/hsdarestani/HamAan/internal/repo/redis"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrPackNotFound         = errors.New("coin pack not found")
	ErrPurchaseNotFound     = errors.New("purchase not found")
	ErrPurchaseExpired      = errors.New("purchase expired")
	ErrInvalidPurchaseState = errors.New("invalid purchase state")
	ErrGatewayRefConflict   = errors.New("gateway ref already bound")
	ErrNotOwner             = errors.New("purchase belongs to another user")
)

type PackStore interface {
	ListActive(ctx context.Context) ([]pgrepo.CoinPackRecord, error)
	GetActiveByCode(ctx context.Context, code string) (pgrepo.CoinPackRecord, error)
}

type PurchaseStore interface {
	Create(ctx context.Context, p pgrepo.CreatePurchaseParams) (pgrepo.PurchaseRecord, error)
	FindByID(ctx context.Context, purchaseID string) (pgrepo.PurchaseRecord, error)
	MarkPaid(ctx context.Context, purchaseID, gatewayRefID string, raw map[string]any) (pgrepo.PurchaseRecord, bool, error)
	MarkFailed(ctx context.Context, purchaseID string, raw map[string]any) (pgrepo.PurchaseRecord, bool, error)
	Cancel(ctx context.Context, purchaseID string) (pgrepo.PurchaseRecord, bool, error)
	Credit(ctx context.Context, purchaseID string) (pgrepo.PurchaseRecord, pgrepo.CoinTxnRecord, bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]pgrepo.PurchaseRecord, error)
}

type PackCache interface {
	GetActive(ctx context.Context) ([]redrepo.CachedPack, error)
	SetActive(ctx context.Context, packs []redrepo.CachedPack, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// Notifier delivery is best effort; a failed notification never affects the
// purchase outcome.
type Notifier interface {
	PurchaseCredited(ctx context.Context, userID, coins, balanceAfter int64)
}

type Service struct {
	packs        PackStore
	purchases    PurchaseStore
	cache        PackCache
	notifier     Notifier
	purchaseTTL  time.Duration
	packCacheTTL time.Duration
	now          func() time.Time
}

type Dependencies struct {
	Packs        PackStore
	Purchases    PurchaseStore
	Cache        PackCache
	PurchaseTTL  time.Duration
	PackCacheTTL time.Duration
}

type CreateInput struct {
	UserID           int64
	PackCode         string
	Gateway          string
	GatewayAuthority string
}

type CallbackInput struct {
	PurchaseID   string
	GatewayRefID string
	Status       string
	Raw          map[string]any
}

type CallbackResult struct {
	Purchase  pgrepo.PurchaseRecord
	CreditTxn pgrepo.CoinTxnRecord
	Credited  bool
	Duplicate bool
}

func NewService(deps Dependencies) *Service {
	ttl := deps.PurchaseTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	cacheTTL := deps.PackCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{
		packs:        deps.Packs,
		purchases:    deps.Purchases,
		cache:        deps.Cache,
		purchaseTTL:  ttl,
		packCacheTTL: cacheTTL,
		now:          time.Now,
	}
}

func (s *Service) AttachNotifier(n Notifier) {
	s.notifier = n
}

// Create opens a PENDING purchase against an active pack, snapshotting the
// pack's coins and price so later catalog edits cannot change the deal.
func (s *Service) Create(ctx context.Context, in CreateInput) (pgrepo.PurchaseRecord, error) {
	if s.packs == nil || s.purchases == nil {
		return pgrepo.PurchaseRecord{}, fmt.Errorf("purchase dependencies are not configured")
	}
	if in.UserID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}
	gateway, ok := enums.ParseGateway(in.Gateway)
	if !ok {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	pack, err := s.packs.GetActiveByCode(ctx, in.PackCode)
	if err != nil {
		if errors.Is(err, pgrepo.ErrCoinPackNotFound) {
			return pgrepo.PurchaseRecord{}, ErrPackNotFound
		}
		return pgrepo.PurchaseRecord{}, err
	}

	return s.purchases.Create(ctx, pgrepo.CreatePurchaseParams{
		UserID:           in.UserID,
		PackID:           pack.ID,
		Gateway:          gateway,
		Currency:         pack.Currency,
		Amount:           pack.PriceAmount,
		Coins:            pack.Coins,
		GatewayAuthority: strings.TrimSpace(in.GatewayAuthority),
		ExpiresAt:        s.now().UTC().Add(s.purchaseTTL),
	})
}

// HandleCallback settles one gateway callback. A success flag drives
// PENDING -> PAID -> CREDITED in one pass; anything else fails the purchase.
// Replays and reference collisions come back as Duplicate acknowledgements
// instead of errors so gateways stop retrying.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (CallbackResult, error) {
	if s.purchases == nil {
		return CallbackResult{}, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(in.PurchaseID) == "" {
		return CallbackResult{}, ErrValidation
	}

	if !enums.CallbackSuccess(in.Status) {
		rec, transitioned, err := s.purchases.MarkFailed(ctx, in.PurchaseID, in.Raw)
		if err != nil {
			return CallbackResult{}, mapPurchaseErr(err)
		}
		return CallbackResult{Purchase: rec, Duplicate: !transitioned}, nil
	}

	paid, transitioned, err := s.purchases.MarkPaid(ctx, in.PurchaseID, in.GatewayRefID, in.Raw)
	if err != nil {
		if errors.Is(err, pgrepo.ErrGatewayRefConflict) {
			return CallbackResult{}, ErrGatewayRefConflict
		}
		return CallbackResult{}, mapPurchaseErr(err)
	}

	credited, txn, wasCredited, err := s.creditPaid(ctx, paid.ID)
	if err != nil {
		return CallbackResult{}, err
	}

	if wasCredited && s.notifier != nil {
		s.notifier.PurchaseCredited(ctx, credited.UserID, credited.Coins, txn.BalanceAfter)
	}

	return CallbackResult{
		Purchase:  credited,
		CreditTxn: txn,
		Credited:  wasCredited,
		Duplicate: !transitioned && !wasCredited,
	}, nil
}

func (s *Service) creditPaid(ctx context.Context, purchaseID string) (pgrepo.PurchaseRecord, pgrepo.CoinTxnRecord, bool, error) {
	rec, txn, credited, err := s.purchases.Credit(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, pgrepo.CoinTxnRecord{}, false, mapPurchaseErr(err)
	}
	return rec, txn, credited, nil
}

// Status returns the purchase only to its owner.
func (s *Service) Status(ctx context.Context, userID int64, purchaseID string) (pgrepo.PurchaseRecord, error) {
	if s.purchases == nil {
		return pgrepo.PurchaseRecord{}, fmt.Errorf("purchase store is nil")
	}
	if userID <= 0 || strings.TrimSpace(purchaseID) == "" {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	rec, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, mapPurchaseErr(err)
	}
	if rec.UserID != userID {
		return pgrepo.PurchaseRecord{}, ErrNotOwner
	}
	return rec, nil
}

func (s *Service) Cancel(ctx context.Context, userID int64, purchaseID string) (pgrepo.PurchaseRecord, error) {
	if s.purchases == nil {
		return pgrepo.PurchaseRecord{}, fmt.Errorf("purchase store is nil")
	}
	if userID <= 0 || strings.TrimSpace(purchaseID) == "" {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	rec, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, mapPurchaseErr(err)
	}
	if rec.UserID != userID {
		return pgrepo.PurchaseRecord{}, ErrNotOwner
	}
	// A repeated cancel stays a no-op; other terminal rows never reach the
	// locked transition.
	if rec.Status.Terminal() && rec.Status != enums.PurchaseStatusCanceled {
		return pgrepo.PurchaseRecord{}, ErrInvalidPurchaseState
	}

	canceled, _, err := s.purchases.Cancel(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, mapPurchaseErr(err)
	}
	return canceled, nil
}

// ListPacks serves the active catalog through the redis cache when one is
// wired; the database stays authoritative on a miss.
func (s *Service) ListPacks(ctx context.Context) ([]redrepo.CachedPack, error) {
	if s.packs == nil {
		return nil, fmt.Errorf("pack store is nil")
	}

	if s.cache != nil {
		cached, err := s.cache.GetActive(ctx)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redrepo.ErrCacheMiss) {
			return nil, err
		}
	}

	records, err := s.packs.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	packs := make([]redrepo.CachedPack, 0, len(records))
	for _, rec := range records {
		packs = append(packs, redrepo.CachedPack{
			Code:        rec.Code,
			Title:       rec.Title,
			Coins:       rec.Coins,
			Currency:    rec.Currency,
			PriceAmount: rec.PriceAmount,
			Tag:         rec.Tag,
		})
	}

	if s.cache != nil {
		// Cache refresh is best effort.
		_ = s.cache.SetActive(ctx, packs, s.packCacheTTL)
	}
	return packs, nil
}

// InvalidatePacks drops the cached catalog so the next listing serves fresh
// rows. Used by admin tooling after catalog edits.
func (s *Service) InvalidatePacks(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

func (s *Service) History(ctx context.Context, userID int64, limit int) ([]pgrepo.PurchaseRecord, error) {
	if s.purchases == nil {
		return nil, fmt.Errorf("purchase store is nil")
	}
	if userID <= 0 {
		return nil, ErrValidation
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.purchases.ListRecent(ctx, userID, limit)
}

// ExpireStale is the cleanup entrypoint; it flips abandoned PENDING
// purchases to EXPIRED.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	if s.purchases == nil {
		return 0, fmt.Errorf("purchase store is nil")
	}
	return s.purchases.ExpireStale(ctx, s.now().UTC())
}

func mapPurchaseErr(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrPurchaseNotFound):
		return ErrPurchaseNotFound
	case errors.Is(err, pgrepo.ErrPurchaseExpired):
		return ErrPurchaseExpired
	case errors.Is(err, pgrepo.ErrInvalidPurchaseState):
		return ErrInvalidPurchaseState
	default:
		return err
	}
}
