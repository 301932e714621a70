package dto

import "time"

type CoinPackItem struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Coins       int64  `json:"coins"`
	Currency    string `json:"currency"`
	PriceAmount int64  `json:"price_amount"`
	Tag         string `json:"tag,omitempty"`
}

type CoinPackListResponse struct {
	Packs []CoinPackItem `json:"packs"`
}

type PurchaseCreateRequest struct {
	TelegramID       int64  `json:"telegram_id"`
	PackCode         string `json:"pack_code"`
	Gateway          string `json:"gateway"`
	GatewayAuthority string `json:"gateway_authority,omitempty"`
}

type PurchaseResponse struct {
	PurchaseID string     `json:"purchase_id"`
	Status     string     `json:"status"`
	Gateway    string     `json:"gateway"`
	Coins      int64      `json:"coins"`
	Amount     int64      `json:"amount"`
	Currency   string     `json:"currency"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type PaymentCallbackRequest struct {
	PurchaseID   string         `json:"purchase_id"`
	GatewayRefID string         `json:"gateway_ref_id,omitempty"`
	Status       string         `json:"status"`
	Raw          map[string]any `json:"raw,omitempty"`
}

type PaymentCallbackResponse struct {
	OK           bool   `json:"ok"`
	PurchaseID   string `json:"purchase_id"`
	Status       string `json:"status"`
	Credited     bool   `json:"credited"`
	Duplicate    bool   `json:"duplicate"`
	CreditTxnID  string `json:"credit_txn_id,omitempty"`
	BalanceAfter int64  `json:"balance_after,omitempty"`
}
