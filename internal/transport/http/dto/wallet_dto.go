package dto

import "time"

type WalletResponse struct {
	UserID       int64      `json:"user_id"`
	Balance      int64      `json:"balance"`
	IsFrozen     bool       `json:"is_frozen"`
	FreezeReason string     `json:"freeze_reason,omitempty"`
	LastTxnAt    *time.Time `json:"last_txn_at,omitempty"`
}

type BalanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

type TxnItem struct {
	ID             string         `json:"id"`
	Delta          int64          `json:"delta"`
	Reason         string         `json:"reason"`
	RefType        string         `json:"ref_type,omitempty"`
	RefID          string         `json:"ref_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	BalanceAfter   int64          `json:"balance_after"`
	CreatedAt      time.Time      `json:"created_at"`
}

type TxnListResponse struct {
	UserID int64     `json:"user_id"`
	Items  []TxnItem `json:"items"`
}
