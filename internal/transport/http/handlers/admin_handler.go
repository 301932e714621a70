package handlers

import (
	"errors"
	"net/http"

	billingsvc "github.com/hsdarestani/HamAan/internal/services/billing"
	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
	"github.com/hsdarestani/HamAan/internal/transport/http/dto"
	httperrors "github.com/hsdarestani/HamAan/internal/transport/http/errors"
)

// AdminHandler serves the support tooling surface: wallet freezes, manual
// adjustments and balance rebuilds. Routes are gated by the admin token
// middleware.
type AdminHandler struct {
	billing *billingsvc.Service
	users   *userssvc.Service
}

func NewAdminHandler(billing *billingsvc.Service, users *userssvc.Service) *AdminHandler {
	return &AdminHandler{billing: billing, users: users}
}

func (h *AdminHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	var req dto.AdminFreezeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	wallet, err := h.billing.Freeze(r.Context(), userID, req.Reason)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to freeze wallet")
		return
	}
	httperrors.Write(w, http.StatusOK, walletResponse(wallet))
}

func (h *AdminHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	var req dto.AdminFreezeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	wallet, err := h.billing.Unfreeze(r.Context(), userID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to unfreeze wallet")
		return
	}
	httperrors.Write(w, http.StatusOK, walletResponse(wallet))
}

func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	var req dto.AdminAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	result, err := h.billing.AdminAdjust(r.Context(), userID, req.Delta, req.Note, req.IdempotencyKey)
	if err != nil {
		switch {
		case errors.Is(err, billingsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "delta must be non-zero")
		case errors.Is(err, billingsvc.ErrWalletFrozen):
			httperrors.Write(w, http.StatusLocked, httperrors.APIError{
				Code:    "WALLET_FROZEN",
				Message: "wallet is frozen",
			})
		case errors.Is(err, billingsvc.ErrInsufficientBalance):
			writeConflict(w, "INSUFFICIENT_BALANCE", "adjustment would overdraw the wallet")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to adjust balance")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AdminAdjustResponse{
		TxnID:        result.Txn.ID,
		Delta:        result.Txn.Delta,
		BalanceAfter: result.Txn.BalanceAfter,
		Idempotent:   result.Idempotent,
	})
}

func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		writeInternal(w, "BILLING_SERVICE_UNAVAILABLE", "billing service is unavailable")
		return
	}

	var req dto.AdminFreezeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	wallet, err := h.billing.Rebuild(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billingsvc.ErrWalletNotFound) {
			writeNotFound(w, "WALLET_NOT_FOUND", "wallet not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to rebuild balance")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AdminRebuildResponse{
		UserID:  wallet.UserID,
		Balance: wallet.Balance,
	})
}
