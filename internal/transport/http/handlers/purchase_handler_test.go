package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hsdarestani/HamAan/internal/domain/enums"
	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	purchasesvc "github.com/hsdarestani/HamAan/internal/services/purchases"
	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
)

type userStoreStub struct {
	users map[int64]pgrepo.UserRecord
}

func (s *userStoreStub) FindByTelegramID(_ context.Context, telegramID int64) (pgrepo.UserRecord, error) {
	rec, ok := s.users[telegramID]
	if !ok {
		return pgrepo.UserRecord{}, pgrepo.ErrUserNotFound
	}
	return rec, nil
}

func (s *userStoreStub) GetOrCreateByTelegramID(_ context.Context, telegramID int64, _ pgrepo.TelegramProfile) (pgrepo.UserRecord, bool, error) {
	if rec, ok := s.users[telegramID]; ok {
		return rec, false, nil
	}
	rec := pgrepo.UserRecord{ID: int64(len(s.users) + 1), TelegramID: telegramID}
	s.users[telegramID] = rec
	return rec, true, nil
}

type packStoreStub struct {
	pack pgrepo.CoinPackRecord
}

func (s *packStoreStub) ListActive(context.Context) ([]pgrepo.CoinPackRecord, error) {
	return []pgrepo.CoinPackRecord{s.pack}, nil
}

func (s *packStoreStub) GetActiveByCode(_ context.Context, code string) (pgrepo.CoinPackRecord, error) {
	if code != s.pack.Code {
		return pgrepo.CoinPackRecord{}, pgrepo.ErrCoinPackNotFound
	}
	return s.pack, nil
}

// purchaseStoreStub covers the subset of lifecycle behavior the handler
// tests drive: create, pay, credit once, replay acknowledgement.
type purchaseStoreStub struct {
	rec     pgrepo.PurchaseRecord
	txn     pgrepo.CoinTxnRecord
	credits int
}

func (s *purchaseStoreStub) Create(_ context.Context, p pgrepo.CreatePurchaseParams) (pgrepo.PurchaseRecord, error) {
	expires := p.ExpiresAt
	s.rec = pgrepo.PurchaseRecord{
		ID: "purchase-1", UserID: p.UserID, PackID: p.PackID,
		Status: enums.PurchaseStatusPending, Gateway: p.Gateway,
		Currency: p.Currency, Amount: p.Amount, Coins: p.Coins, ExpiresAt: &expires,
	}
	return s.rec, nil
}

func (s *purchaseStoreStub) FindByID(_ context.Context, id string) (pgrepo.PurchaseRecord, error) {
	if s.rec.ID != id {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return s.rec, nil
}

func (s *purchaseStoreStub) MarkPaid(_ context.Context, id, refID string, _ map[string]any) (pgrepo.PurchaseRecord, bool, error) {
	if s.rec.ID != id {
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	if s.rec.Status == enums.PurchaseStatusPending {
		s.rec.Status = enums.PurchaseStatusPaid
		s.rec.GatewayRefID = refID
		return s.rec, true, nil
	}
	return s.rec, false, nil
}

func (s *purchaseStoreStub) MarkFailed(_ context.Context, id string, _ map[string]any) (pgrepo.PurchaseRecord, bool, error) {
	if s.rec.ID != id {
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	s.rec.Status = enums.PurchaseStatusFailed
	return s.rec, true, nil
}

func (s *purchaseStoreStub) Cancel(_ context.Context, id string) (pgrepo.PurchaseRecord, bool, error) {
	if s.rec.ID != id {
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	s.rec.Status = enums.PurchaseStatusCanceled
	return s.rec, true, nil
}

func (s *purchaseStoreStub) Credit(_ context.Context, id string) (pgrepo.PurchaseRecord, pgrepo.CoinTxnRecord, bool, error) {
	if s.rec.ID != id {
		return pgrepo.PurchaseRecord{}, pgrepo.CoinTxnRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	if s.rec.Status == enums.PurchaseStatusCredited {
		return s.rec, s.txn, false, nil
	}
	s.credits++
	s.rec.Status = enums.PurchaseStatusCredited
	s.txn = pgrepo.CoinTxnRecord{ID: "txn-1", UserID: s.rec.UserID, Delta: s.rec.Coins, BalanceAfter: s.rec.Coins}
	return s.rec, s.txn, true, nil
}

func (s *purchaseStoreStub) ExpireStale(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *purchaseStoreStub) ListRecent(context.Context, int64, int) ([]pgrepo.PurchaseRecord, error) {
	return []pgrepo.PurchaseRecord{s.rec}, nil
}

func newPurchaseFixture() (*PurchaseHandler, *purchaseStoreStub) {
	users := userssvc.NewService(&userStoreStub{users: map[int64]pgrepo.UserRecord{
		555: {ID: 10, TelegramID: 555},
	}}, nil)
	store := &purchaseStoreStub{}
	svc := purchasesvc.NewService(purchasesvc.Dependencies{
		Packs: &packStoreStub{pack: pgrepo.CoinPackRecord{
			ID: 1, Code: "starter_100", Title: "Starter", Coins: 100,
			Currency: "IRR", PriceAmount: 500_000, IsActive: true,
		}},
		Purchases: store,
	})
	return NewPurchaseHandler(svc, users), store
}

func TestPurchaseCreateReturnsPendingPurchase(t *testing.T) {
	h, _ := newPurchaseFixture()

	body, _ := json.Marshal(map[string]any{
		"telegram_id": 555,
		"pack_code":   "starter_100",
		"gateway":     "zarinpal",
	})
	req := httptest.NewRequest(http.MethodPost, "/purchase", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		PurchaseID string `json:"purchase_id"`
		Status     string `json:"status"`
		Coins      int64  `json:"coins"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "PENDING" || resp.Coins != 100 {
		t.Fatalf("unexpected purchase payload: %+v", resp)
	}
}

func TestCallbackCreditsOnceAndAcksReplay(t *testing.T) {
	h, store := newPurchaseFixture()

	create, _ := json.Marshal(map[string]any{
		"telegram_id": 555,
		"pack_code":   "starter_100",
		"gateway":     "sandbox",
	})
	rr := httptest.NewRecorder()
	h.Create(rr, httptest.NewRequest(http.MethodPost, "/purchase", bytes.NewReader(create)))
	if rr.Code != http.StatusOK {
		t.Fatalf("create purchase: %d %s", rr.Code, rr.Body.String())
	}

	callback, _ := json.Marshal(map[string]any{
		"purchase_id":    "purchase-1",
		"gateway_ref_id": "ref-77",
		"status":         "PAID",
	})

	rr = httptest.NewRecorder()
	h.Callback(rr, httptest.NewRequest(http.MethodPost, "/payment/callback", bytes.NewReader(callback)))
	if rr.Code != http.StatusOK {
		t.Fatalf("first callback: %d %s", rr.Code, rr.Body.String())
	}

	var first struct {
		Credited     bool  `json:"credited"`
		Duplicate    bool  `json:"duplicate"`
		BalanceAfter int64 `json:"balance_after"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode first callback: %v", err)
	}
	if !first.Credited || first.Duplicate || first.BalanceAfter != 100 {
		t.Fatalf("unexpected first callback payload: %+v", first)
	}

	rr = httptest.NewRecorder()
	h.Callback(rr, httptest.NewRequest(http.MethodPost, "/payment/callback", bytes.NewReader(callback)))
	if rr.Code != http.StatusOK {
		t.Fatalf("replay callback: %d %s", rr.Code, rr.Body.String())
	}

	var replay struct {
		Credited  bool `json:"credited"`
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &replay); err != nil {
		t.Fatalf("decode replay callback: %v", err)
	}
	if replay.Credited || !replay.Duplicate {
		t.Fatalf("replay was not acknowledged as duplicate: %+v", replay)
	}
	if store.credits != 1 {
		t.Fatalf("coins credited %d times, want exactly once", store.credits)
	}
}

func TestCallbackUnknownPurchaseReturns404(t *testing.T) {
	h, _ := newPurchaseFixture()

	callback, _ := json.Marshal(map[string]any{
		"purchase_id": "missing",
		"status":      "PAID",
	})
	rr := httptest.NewRecorder()
	h.Callback(rr, httptest.NewRequest(http.MethodPost, "/payment/callback", bytes.NewReader(callback)))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusNotFound)
	}
}
