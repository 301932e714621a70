package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hsdarestani/HamAan/internal/domain/enums"
	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	redrepo "github.com/hsdarestani/HamAan/internal/repo/redis"
)

type packStoreStub struct {
	packs     []pgrepo.CoinPackRecord
	listCalls int
}

func (s *packStoreStub) ListActive(_ context.Context) ([]pgrepo.CoinPackRecord, error) {
	s.listCalls++
	return append([]pgrepo.CoinPackRecord(nil), s.packs...), nil
}

func (s *packStoreStub) GetActiveByCode(_ context.Context, code string) (pgrepo.CoinPackRecord, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, p := range s.packs {
		if p.Code == code && p.IsActive {
			return p, nil
		}
	}
	return pgrepo.CoinPackRecord{}, pgrepo.ErrCoinPackNotFound
}

// purchaseStoreStub mirrors the postgres lifecycle semantics in memory,
// including the credit-once guarantee and PENDING expiry on callback.
type purchaseStoreStub struct {
	records map[string]pgrepo.PurchaseRecord
	txns    map[string]pgrepo.CoinTxnRecord
	balance map[int64]int64
	seq     int
	clock   func() time.Time
}

func newPurchaseStoreStub(clock func() time.Time) *purchaseStoreStub {
	return &purchaseStoreStub{
		records: map[string]pgrepo.PurchaseRecord{},
		txns:    map[string]pgrepo.CoinTxnRecord{},
		balance: map[int64]int64{},
		clock:   clock,
	}
}

func (s *purchaseStoreStub) Create(_ context.Context, p pgrepo.CreatePurchaseParams) (pgrepo.PurchaseRecord, error) {
	s.seq++
	expires := p.ExpiresAt
	rec := pgrepo.PurchaseRecord{
		ID:               fmt.Sprintf("purchase-%d", s.seq),
		UserID:           p.UserID,
		PackID:           p.PackID,
		Status:           enums.PurchaseStatusPending,
		Gateway:          p.Gateway,
		Currency:         p.Currency,
		Amount:           p.Amount,
		Coins:            p.Coins,
		GatewayAuthority: p.GatewayAuthority,
		ExpiresAt:        &expires,
		CreatedAt:        s.clock(),
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *purchaseStoreStub) FindByID(_ context.Context, id string) (pgrepo.PurchaseRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return rec, nil
}

func (s *purchaseStoreStub) MarkPaid(_ context.Context, id, refID string, _ map[string]any) (pgrepo.PurchaseRecord, bool, error) {
	rec, ok := s.records[id]
	if !ok {
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	switch rec.Status {
	case enums.PurchaseStatusPending:
		if rec.ExpiresAt != nil && s.clock().After(*rec.ExpiresAt) {
			rec.Status = enums.PurchaseStatusExpired
			s.records[id] = rec
			return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseExpired
		}
		for otherID, other := range s.records {
			if otherID != id && other.Gateway == rec.Gateway && refID != "" && other.GatewayRefID == refID {
				return pgrepo.PurchaseRecord{}, false, pgrepo.ErrGatewayRefConflict
			}
		}
		rec.Status = enums.PurchaseStatusPaid
		rec.GatewayRefID = refID
		s.records[id] = rec
		return rec, true, nil
	case enums.PurchaseStatusPaid, enums.PurchaseStatusCredited:
		if refID != "" && rec.GatewayRefID != "" && rec.GatewayRefID != refID {
			return pgrepo.PurchaseRecord{}, false, pgrepo.ErrGatewayRefConflict
		}
		return rec, false, nil
	default:
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrInvalidPurchaseState
	}
}

func (s *purchaseStoreStub) MarkFailed(_ context.Context, id string, _ map[string]any) (pgrepo.PurchaseRecord, bool, error) {
	rec, ok := s.records[id]
	if !ok {
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	switch rec.Status {
	case enums.PurchaseStatusPending, enums.PurchaseStatusPaid:
		rec.Status = enums.PurchaseStatusFailed
		s.records[id] = rec
		return rec, true, nil
	case enums.PurchaseStatusFailed:
		return rec, false, nil
	default:
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrInvalidPurchaseState
	}
}

func (s *purchaseStoreStub) Cancel(_ context.Context, id string) (pgrepo.PurchaseRecord, bool, error) {
	rec, ok := s.records[id]
	if !ok {
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	switch rec.Status {
	case enums.PurchaseStatusPending, enums.PurchaseStatusPaid:
		rec.Status = enums.PurchaseStatusCanceled
		s.records[id] = rec
		return rec, true, nil
	case enums.PurchaseStatusCanceled:
		return rec, false, nil
	default:
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrInvalidPurchaseState
	}
}

func (s *purchaseStoreStub) Credit(_ context.Context, id string) (pgrepo.PurchaseRecord, pgrepo.CoinTxnRecord, bool, error) {
	rec, ok := s.records[id]
	if !ok {
		return pgrepo.PurchaseRecord{}, pgrepo.CoinTxnRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	if rec.Status != enums.PurchaseStatusPaid && rec.Status != enums.PurchaseStatusCredited {
		return pgrepo.PurchaseRecord{}, pgrepo.CoinTxnRecord{}, false, pgrepo.ErrInvalidPurchaseState
	}
	if rec.Status == enums.PurchaseStatusCredited && rec.CreditTxnID != nil {
		return rec, s.txns[*rec.CreditTxnID], false, nil
	}

	s.balance[rec.UserID] += rec.Coins
	txn := pgrepo.CoinTxnRecord{
		ID:           fmt.Sprintf("txn-%s", id),
		UserID:       rec.UserID,
		Delta:        rec.Coins,
		Reason:       enums.TxnReasonPurchaseCredit,
		BalanceAfter: s.balance[rec.UserID],
	}
	s.txns[txn.ID] = txn
	rec.Status = enums.PurchaseStatusCredited
	rec.CreditTxnID = &txn.ID
	s.records[id] = rec
	return rec, txn, true, nil
}

func (s *purchaseStoreStub) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, rec := range s.records {
		if rec.Status == enums.PurchaseStatusPending && rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			rec.Status = enums.PurchaseStatusExpired
			s.records[id] = rec
			n++
		}
	}
	return n, nil
}

func (s *purchaseStoreStub) ListRecent(_ context.Context, userID int64, limit int) ([]pgrepo.PurchaseRecord, error) {
	var out []pgrepo.PurchaseRecord
	for _, rec := range s.records {
		if rec.UserID == userID && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

type notifierStub struct {
	calls int
	coins int64
}

func (n *notifierStub) PurchaseCredited(_ context.Context, _ int64, coins, _ int64) {
	n.calls++
	n.coins = coins
}

func testPacks() *packStoreStub {
	return &packStoreStub{packs: []pgrepo.CoinPackRecord{
		{ID: 1, Code: "starter_100", Title: "Starter", Coins: 100, Currency: "IRR", PriceAmount: 500_000, IsActive: true, SortOrder: 1},
		{ID: 2, Code: "value_550", Title: "Value", Coins: 550, Currency: "IRR", PriceAmount: 2_400_000, IsActive: true, SortOrder: 2, Tag: "popular"},
	}}
}

func newTestService(packs *packStoreStub, store *purchaseStoreStub) *Service {
	return NewService(Dependencies{
		Packs:       packs,
		Purchases:   store,
		PurchaseTTL: 2 * time.Hour,
	})
}

func TestCreateSnapshotsPackAndSetsExpiry(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newPurchaseStoreStub(func() time.Time { return fixedNow })
	svc := newTestService(testPacks(), store)
	svc.now = func() time.Time { return fixedNow }

	rec, err := svc.Create(context.Background(), CreateInput{
		UserID:           1,
		PackCode:         "Starter_100",
		Gateway:          "zarinpal",
		GatewayAuthority: "A0000012345",
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if rec.Status != enums.PurchaseStatusPending {
		t.Fatalf("unexpected initial status: %q", rec.Status)
	}
	if rec.Coins != 100 || rec.Amount != 500_000 || rec.Currency != "IRR" {
		t.Fatalf("pack snapshot mismatch: %+v", rec)
	}
	if rec.GatewayAuthority != "A0000012345" {
		t.Fatalf("gateway authority was not stored: %q", rec.GatewayAuthority)
	}
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(fixedNow.Add(2*time.Hour)) {
		t.Fatalf("unexpected expiry: %v", rec.ExpiresAt)
	}
}

func TestCreateUnknownPackRejected(t *testing.T) {
	store := newPurchaseStoreStub(time.Now)
	svc := newTestService(testPacks(), store)

	_, err := svc.Create(context.Background(), CreateInput{UserID: 1, PackCode: "nope", Gateway: "zibal"})
	if !errors.Is(err, ErrPackNotFound) {
		t.Fatalf("expected ErrPackNotFound, got %v", err)
	}
}

func TestCallbackSuccessCreditsExactlyOnce(t *testing.T) {
	store := newPurchaseStoreStub(time.Now)
	svc := newTestService(testPacks(), store)
	notifier := &notifierStub{}
	svc.AttachNotifier(notifier)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{UserID: 2, PackCode: "value_550", Gateway: "sandbox"})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	first, err := svc.HandleCallback(ctx, CallbackInput{PurchaseID: rec.ID, GatewayRefID: "ref-900", Status: "PAID"})
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if !first.Credited || first.Duplicate {
		t.Fatalf("first callback did not credit: %+v", first)
	}
	if first.Purchase.Status != enums.PurchaseStatusCredited {
		t.Fatalf("unexpected status after credit: %q", first.Purchase.Status)
	}
	if first.CreditTxn.Delta != 550 {
		t.Fatalf("unexpected credit delta: %d", first.CreditTxn.Delta)
	}
	if notifier.calls != 1 || notifier.coins != 550 {
		t.Fatalf("unexpected notifier state: calls=%d coins=%d", notifier.calls, notifier.coins)
	}

	replay, err := svc.HandleCallback(ctx, CallbackInput{PurchaseID: rec.ID, GatewayRefID: "ref-900", Status: "OK"})
	if err != nil {
		t.Fatalf("replay callback: %v", err)
	}
	if replay.Credited || !replay.Duplicate {
		t.Fatalf("replay was not acknowledged as duplicate: %+v", replay)
	}
	if store.balance[2] != 550 {
		t.Fatalf("replay moved the balance: got %d want 550", store.balance[2])
	}
	if notifier.calls != 1 {
		t.Fatalf("replay re-sent notification: calls=%d", notifier.calls)
	}
}

func TestCallbackFailureMarksFailed(t *testing.T) {
	store := newPurchaseStoreStub(time.Now)
	svc := newTestService(testPacks(), store)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{UserID: 3, PackCode: "starter_100", Gateway: "payir"})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	res, err := svc.HandleCallback(ctx, CallbackInput{PurchaseID: rec.ID, Status: "NOK"})
	if err != nil {
		t.Fatalf("failure callback: %v", err)
	}
	if res.Purchase.Status != enums.PurchaseStatusFailed || res.Credited {
		t.Fatalf("unexpected failure result: %+v", res)
	}
	if store.balance[3] != 0 {
		t.Fatalf("failed purchase credited coins: %d", store.balance[3])
	}

	// A late success for a FAILED purchase must not revive it.
	_, err = svc.HandleCallback(ctx, CallbackInput{PurchaseID: rec.ID, GatewayRefID: "ref-1", Status: "PAID"})
	if !errors.Is(err, ErrInvalidPurchaseState) {
		t.Fatalf("expected ErrInvalidPurchaseState, got %v", err)
	}
}

func TestCallbackOnExpiredPendingRejected(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newPurchaseStoreStub(func() time.Time { return current })
	svc := newTestService(testPacks(), store)
	svc.now = func() time.Time { return current }
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{UserID: 4, PackCode: "starter_100", Gateway: "zibal"})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	current = current.Add(3 * time.Hour)

	_, err = svc.HandleCallback(ctx, CallbackInput{PurchaseID: rec.ID, GatewayRefID: "ref-2", Status: "PAID"})
	if !errors.Is(err, ErrPurchaseExpired) {
		t.Fatalf("expected ErrPurchaseExpired, got %v", err)
	}

	got, err := store.FindByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reload purchase: %v", err)
	}
	if got.Status != enums.PurchaseStatusExpired {
		t.Fatalf("stale PENDING was not expired: %q", got.Status)
	}
}

func TestCallbackRefCollisionReported(t *testing.T) {
	store := newPurchaseStoreStub(time.Now)
	svc := newTestService(testPacks(), store)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{UserID: 5, PackCode: "starter_100", Gateway: "zarinpal"})
	if err != nil {
		t.Fatalf("create first purchase: %v", err)
	}
	second, err := svc.Create(ctx, CreateInput{UserID: 5, PackCode: "starter_100", Gateway: "zarinpal"})
	if err != nil {
		t.Fatalf("create second purchase: %v", err)
	}

	if _, err := svc.HandleCallback(ctx, CallbackInput{PurchaseID: first.ID, GatewayRefID: "ref-dup", Status: "PAID"}); err != nil {
		t.Fatalf("settle first purchase: %v", err)
	}

	_, err = svc.HandleCallback(ctx, CallbackInput{PurchaseID: second.ID, GatewayRefID: "ref-dup", Status: "PAID"})
	if !errors.Is(err, ErrGatewayRefConflict) {
		t.Fatalf("expected ErrGatewayRefConflict, got %v", err)
	}
}

func TestStatusEnforcesOwnership(t *testing.T) {
	store := newPurchaseStoreStub(time.Now)
	svc := newTestService(testPacks(), store)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{UserID: 6, PackCode: "starter_100", Gateway: "manual"})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	if _, err := svc.Status(ctx, 6, rec.ID); err != nil {
		t.Fatalf("owner status read: %v", err)
	}
	if _, err := svc.Status(ctx, 7, rec.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestCancelSettledPurchaseRejected(t *testing.T) {
	store := newPurchaseStoreStub(time.Now)
	svc := newTestService(testPacks(), store)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{UserID: 9, PackCode: "starter_100", Gateway: "sandbox"})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if _, err := svc.HandleCallback(ctx, CallbackInput{
		PurchaseID:   rec.ID,
		GatewayRefID: "ref-settled",
		Status:       "PAID",
	}); err != nil {
		t.Fatalf("settle purchase: %v", err)
	}

	if _, err := svc.Cancel(ctx, 9, rec.ID); !errors.Is(err, ErrInvalidPurchaseState) {
		t.Fatalf("expected ErrInvalidPurchaseState for credited purchase, got %v", err)
	}
}

func TestCancelTwiceStaysCanceled(t *testing.T) {
	store := newPurchaseStoreStub(time.Now)
	svc := newTestService(testPacks(), store)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{UserID: 9, PackCode: "starter_100", Gateway: "sandbox"})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	first, err := svc.Cancel(ctx, 9, rec.ID)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	second, err := svc.Cancel(ctx, 9, rec.ID)
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if first.Status != enums.PurchaseStatusCanceled || second.Status != enums.PurchaseStatusCanceled {
		t.Fatalf("unexpected statuses: first=%q second=%q", first.Status, second.Status)
	}
}

func TestListPacksServesFromCacheAfterFirstRead(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	packs := testPacks()
	svc := NewService(Dependencies{
		Packs:        packs,
		Purchases:    newPurchaseStoreStub(time.Now),
		Cache:        redrepo.NewPackCacheRepo(client),
		PackCacheTTL: time.Minute,
	})
	ctx := context.Background()

	first, err := svc.ListPacks(ctx)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	if len(first) != 2 || first[0].Code != "starter_100" {
		t.Fatalf("unexpected first listing: %+v", first)
	}
	if packs.listCalls != 1 {
		t.Fatalf("expected one database read, got %d", packs.listCalls)
	}

	second, err := svc.ListPacks(ctx)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("unexpected cached listing: %+v", second)
	}
	if packs.listCalls != 1 {
		t.Fatalf("cache was bypassed: %d database reads", packs.listCalls)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := svc.ListPacks(ctx); err != nil {
		t.Fatalf("list after ttl: %v", err)
	}
	if packs.listCalls != 2 {
		t.Fatalf("expired cache was not refreshed: %d database reads", packs.listCalls)
	}
}

func TestInvalidatePacksForcesFreshRead(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	packs := testPacks()
	svc := NewService(Dependencies{
		Packs:        packs,
		Purchases:    newPurchaseStoreStub(time.Now),
		Cache:        redrepo.NewPackCacheRepo(client),
		PackCacheTTL: time.Hour,
	})
	ctx := context.Background()

	if _, err := svc.ListPacks(ctx); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, err := svc.ListPacks(ctx); err != nil {
		t.Fatalf("cached list: %v", err)
	}
	if packs.listCalls != 1 {
		t.Fatalf("expected one database read before invalidation, got %d", packs.listCalls)
	}

	if err := svc.InvalidatePacks(ctx); err != nil {
		t.Fatalf("invalidate pack cache: %v", err)
	}

	if _, err := svc.ListPacks(ctx); err != nil {
		t.Fatalf("list after invalidation: %v", err)
	}
	if packs.listCalls != 2 {
		t.Fatalf("invalidation did not force a database read: %d reads", packs.listCalls)
	}
}
