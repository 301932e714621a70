package enums

import "strings"

// TxnReason tags every ledger entry. Values are stored verbatim, so renaming
// one is a data migration.
type TxnReason string

const (
	// Credits.
	TxnReasonPurchaseCredit  TxnReason = "PURCHASE_CREDIT"
	TxnReasonAdminAdjustment TxnReason = "ADMIN_ADJUSTMENT"
	TxnReasonPromoCredit     TxnReason = "PROMO_CREDIT"
	TxnReasonRefundCredit    TxnReason = "REFUND_CREDIT"

	// Debits.
	TxnReasonChatReplyDebit TxnReason = "CHAT_REPLY_DEBIT"
	TxnReasonToolingDebit   TxnReason = "TOOLING_DEBIT"
	TxnReasonReversalDebit  TxnReason = "REVERSAL_DEBIT"

	// Neutral / audit.
	TxnReasonNote TxnReason = "NOTE"
)

func (r TxnReason) Valid() bool {
	switch r {
	case TxnReasonPurchaseCredit, TxnReasonAdminAdjustment, TxnReasonPromoCredit,
		TxnReasonRefundCredit, TxnReasonChatReplyDebit, TxnReasonToolingDebit,
		TxnReasonReversalDebit, TxnReasonNote:
		return true
	}
	return false
}

func ParseTxnReason(value string) (TxnReason, bool) {
	r := TxnReason(strings.ToUpper(strings.TrimSpace(value)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}
