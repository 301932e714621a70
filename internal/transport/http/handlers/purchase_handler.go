package handlers

import (
	"errors"
	"net/http"

	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	purchasesvc "github.com/hsdarestani/HamAan/internal/services/purchases"
	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
	"github.com/hsdarestani/HamAan/internal/transport/http/dto"
	httperrors "github.com/hsdarestani/HamAan/internal/transport/http/errors"
)

type PurchaseHandler struct {
	purchases *purchasesvc.Service
	users     *userssvc.Service
}

func NewPurchaseHandler(purchases *purchasesvc.Service, users *userssvc.Service) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, users: users}
}

func (h *PurchaseHandler) Packs(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	packs, err := h.purchases.ListPacks(r.Context())
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to list coin packs")
		return
	}

	items := make([]dto.CoinPackItem, 0, len(packs))
	for _, p := range packs {
		items = append(items, dto.CoinPackItem{
			Code:        p.Code,
			Title:       p.Title,
			Coins:       p.Coins,
			Currency:    p.Currency,
			PriceAmount: p.PriceAmount,
			Tag:         p.Tag,
		})
	}
	httperrors.Write(w, http.StatusOK, dto.CoinPackListResponse{Packs: items})
}

func (h *PurchaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	var req dto.PurchaseCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	rec, err := h.purchases.Create(r.Context(), purchasesvc.CreateInput{
		UserID:           userID,
		PackCode:         req.PackCode,
		Gateway:          req.Gateway,
		GatewayAuthority: req.GatewayAuthority,
	})
	if err != nil {
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase create payload")
		case errors.Is(err, purchasesvc.ErrPackNotFound):
			writeNotFound(w, "PACK_NOT_FOUND", "coin pack not found or inactive")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to create purchase")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, purchaseResponse(rec))
}

func (h *PurchaseHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, queryInt64(r, "telegram_id"))
	if !ok {
		return
	}

	rec, err := h.purchases.Status(r.Context(), userID, r.URL.Query().Get("purchase_id"))
	if err != nil {
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "purchase_id is required")
		case errors.Is(err, purchasesvc.ErrPurchaseNotFound), errors.Is(err, purchasesvc.ErrNotOwner):
			writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load purchase")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, purchaseResponse(rec))
}

// Callback settles gateway notifications. Replays and reference collisions
// are acknowledged with 200 so the gateway stops retrying.
func (h *PurchaseHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	var req dto.PaymentCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.purchases.HandleCallback(r.Context(), purchasesvc.CallbackInput{
		PurchaseID:   req.PurchaseID,
		GatewayRefID: req.GatewayRefID,
		Status:       req.Status,
		Raw:          req.Raw,
	})
	if err != nil {
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid callback payload")
		case errors.Is(err, purchasesvc.ErrPurchaseNotFound):
			writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
		case errors.Is(err, purchasesvc.ErrGatewayRefConflict):
			httperrors.Write(w, http.StatusOK, dto.PaymentCallbackResponse{
				OK:         true,
				PurchaseID: req.PurchaseID,
				Duplicate:  true,
			})
		case errors.Is(err, purchasesvc.ErrPurchaseExpired):
			httperrors.Write(w, http.StatusGone, httperrors.APIError{
				Code:    "PURCHASE_EXPIRED",
				Message: "purchase expired before payment",
			})
		case errors.Is(err, purchasesvc.ErrInvalidPurchaseState):
			writeConflict(w, "INVALID_PURCHASE_STATE", "purchase cannot transition from its current state")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to process callback")
		}
		return
	}

	resp := dto.PaymentCallbackResponse{
		OK:         true,
		PurchaseID: result.Purchase.ID,
		Status:     string(result.Purchase.Status),
		Credited:   result.Credited,
		Duplicate:  result.Duplicate,
	}
	if result.Credited || result.CreditTxn.ID != "" {
		resp.CreditTxnID = result.CreditTxn.ID
		resp.BalanceAfter = result.CreditTxn.BalanceAfter
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *PurchaseHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	var req struct {
		TelegramID int64  `json:"telegram_id"`
		PurchaseID string `json:"purchase_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	rec, err := h.purchases.Cancel(r.Context(), userID, req.PurchaseID)
	if err != nil {
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "purchase_id is required")
		case errors.Is(err, purchasesvc.ErrPurchaseNotFound), errors.Is(err, purchasesvc.ErrNotOwner):
			writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
		case errors.Is(err, purchasesvc.ErrInvalidPurchaseState):
			writeConflict(w, "INVALID_PURCHASE_STATE", "purchase cannot be canceled from its current state")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to cancel purchase")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, purchaseResponse(rec))
}

// RefreshPacks drops the cached catalog after admin edits so the next
// listing reads fresh rows.
func (h *PurchaseHandler) RefreshPacks(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	if err := h.purchases.InvalidatePacks(r.Context()); err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to refresh coin pack cache")
		return
	}
	httperrors.Write(w, http.StatusOK, map[string]any{"ok": true})
}

func purchaseResponse(rec pgrepo.PurchaseRecord) dto.PurchaseResponse {
	return dto.PurchaseResponse{
		PurchaseID: rec.ID,
		Status:     string(rec.Status),
		Gateway:    string(rec.Gateway),
		Coins:      rec.Coins,
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		ExpiresAt:  rec.ExpiresAt,
	}
}
