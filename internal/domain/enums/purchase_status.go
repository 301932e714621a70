package enums

import "strings"

// PurchaseStatus lifecycle: PENDING -> PAID -> CREDITED, with FAILED,
// CANCELED and EXPIRED terminal from PENDING or PAID. CREDITED is terminal.
type PurchaseStatus string

const (
	PurchaseStatusPending  PurchaseStatus = "PENDING"
	PurchaseStatusPaid     PurchaseStatus = "PAID"
	PurchaseStatusCredited PurchaseStatus = "CREDITED"
	PurchaseStatusFailed   PurchaseStatus = "FAILED"
	PurchaseStatusCanceled PurchaseStatus = "CANCELED"
	PurchaseStatusExpired  PurchaseStatus = "EXPIRED"
)

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusPaid, PurchaseStatusCredited,
		PurchaseStatusFailed, PurchaseStatusCanceled, PurchaseStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s PurchaseStatus) Terminal() bool {
	switch s {
	case PurchaseStatusCredited, PurchaseStatusFailed, PurchaseStatusCanceled, PurchaseStatusExpired:
		return true
	}
	return false
}

func ParsePurchaseStatus(value string) (PurchaseStatus, bool) {
	s := PurchaseStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", false
	}
	return s, true
}

// CallbackSuccess reports whether a gateway callback status flag counts as a
// successful payment confirmation.
func CallbackSuccess(flag string) bool {
	switch strings.ToUpper(strings.TrimSpace(flag)) {
	case "PAID", "OK", "SUCCESS":
		return true
	}
	return false
}
