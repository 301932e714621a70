package dto

type AdminFreezeRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Reason     string `json:"reason,omitempty"`
}

type AdminAdjustRequest struct {
	TelegramID     int64  `json:"telegram_id"`
	Delta          int64  `json:"delta"`
	Note           string `json:"note,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type AdminAdjustResponse struct {
	TxnID        string `json:"txn_id"`
	Delta        int64  `json:"delta"`
	BalanceAfter int64  `json:"balance_after"`
	Idempotent   bool   `json:"idempotent"`
}

type AdminRebuildResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}
