// Package reconcile turns bank feed records and manual entries into stored
// transactions and derives the key each one is upserted under.
package reconcile

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
)

// syntheticKey is swapped in tests.
var syntheticKey = func() string {
	return uuid.Must(uuid.NewV7()).String()
}

// BankKey picks the reconciliation key of a bank record: the provider
// transactionId, then internalTransactionId, then a synthetic time-ordered
// id.
//
// The synthetic id is new on every call, so a record carrying neither
// provider id is stored again on each import.
func BankKey(raw gateway.RawTransaction) string {
	if id := strings.TrimSpace(raw.TransactionID); id != "" {
		return id
	}
	if id := strings.TrimSpace(raw.InternalTransactionID); id != "" {
		return id
	}
	return syntheticKey()
}

// ManualKey is YYYYMMDD + paidBy + amount with two decimals + group, so an
// identical resubmission lands on the same record.
func ManualKey(date core.Date, paidBy string, amount decimal.Decimal, group string) string {
	return date.Compact() + paidBy + core.FormatAmount(amount) + group
}
