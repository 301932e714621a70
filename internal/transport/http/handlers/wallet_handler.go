package handlers

import (
	"errors"
	"net/http"

	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	billingsvc "github.com/hsdarestani/HamAan/internal/services/billing"
	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
	"github.com/hsdarestani/HamAan/internal/transport/http/dto"
	httperrors "github.com/hsdarestani/HamAan/internal/transport/http/errors"
)

type WalletHandler struct {
	billing *billingsvc.Service
	users   *userssvc.Service
}

func NewWalletHandler(billing *billingsvc.Service, users *userssvc.Service) *WalletHandler {
	return &WalletHandler{billing: billing, users: users}
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, queryInt64(r, "telegram_id"))
	if !ok {
		return
	}

	wallet, err := h.billing.Wallet(r.Context(), userID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load wallet")
		return
	}

	httperrors.Write(w, http.StatusOK, walletResponse(wallet))
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, queryInt64(r, "telegram_id"))
	if !ok {
		return
	}

	balance, err := h.billing.Balance(r.Context(), userID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to read balance")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.BalanceResponse{UserID: userID, Balance: balance})
}

func (h *WalletHandler) Txns(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, queryInt64(r, "telegram_id"))
	if !ok {
		return
	}

	records, err := h.billing.ListTxns(r.Context(), userID, queryInt(r, "limit"))
	if err != nil {
		if errors.Is(err, billingsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid txn list request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to list transactions")
		return
	}

	items := make([]dto.TxnItem, 0, len(records))
	for _, rec := range records {
		items = append(items, txnItem(rec))
	}
	httperrors.Write(w, http.StatusOK, dto.TxnListResponse{UserID: userID, Items: items})
}

func walletResponse(rec pgrepo.WalletRecord) dto.WalletResponse {
	return dto.WalletResponse{
		UserID:       rec.UserID,
		Balance:      rec.Balance,
		IsFrozen:     rec.IsFrozen,
		FreezeReason: rec.FreezeReason,
		LastTxnAt:    rec.LastTxnAt,
	}
}

func txnItem(rec pgrepo.CoinTxnRecord) dto.TxnItem {
	return dto.TxnItem{
		ID:             rec.ID,
		Delta:          rec.Delta,
		Reason:         string(rec.Reason),
		RefType:        rec.RefType,
		RefID:          rec.RefID,
		IdempotencyKey: rec.IdempotencyKey,
		Meta:           rec.Meta,
		BalanceAfter:   rec.BalanceAfter,
		CreatedAt:      rec.CreatedAt,
	}
}
