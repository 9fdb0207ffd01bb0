package reconcile

import (
	"fmt"
	"strings"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
)

// NormalizeBank converts one bank feed record into a transaction owned by
// userID. today bounds the booking date. Timestamps are left to storage.
func NormalizeBank(raw gateway.RawTransaction, userID string, today core.Date) (core.Transaction, error) {
	signed, err := core.ParseAmount(string(raw.TransactionAmount.Amount))
	if err != nil {
		return core.Transaction{}, err
	}
	if signed.IsZero() {
		return core.Transaction{}, fmt.Errorf("%w: zero amount", core.ErrInvalidAmount)
	}
	currency := strings.ToUpper(strings.TrimSpace(raw.TransactionAmount.Currency))
	if currency == "" {
		return core.Transaction{}, fmt.Errorf("%w: missing currency", core.ErrInvalidAmount)
	}

	var txType core.TransactionType
	if raw.TransactionType != "" {
		if txType, err = core.ParseTransactionType(raw.TransactionType); err != nil {
			return core.Transaction{}, err
		}
	} else if signed.IsNegative() {
		txType = core.Expense
	} else {
		txType = core.Income
	}

	var booking *core.Date
	if strings.TrimSpace(raw.BookingDate) != "" {
		d, err := ParseBookingDate(raw.BookingDate, today)
		if err != nil {
			return core.Transaction{}, err
		}
		booking = &d
	}

	tx := core.Transaction{
		Key:                   BankKey(raw),
		UserID:                userID,
		Type:                  txType,
		Amount:                signed.Abs(),
		Currency:              currency,
		BookingDate:           booking,
		Category:              orDefault(raw.Category, core.DefaultCategory),
		SubCategory:           orDefault(raw.SubCategory, core.DefaultSubCategory),
		TransactionID:         raw.TransactionID,
		EndToEndID:            raw.EndToEndID,
		InternalTransactionID: raw.InternalTransactionID,
		BankCode:              raw.ProprietaryBankTransactionCode,
		Source:                core.SourceBank,
	}

	// Money coming in names the debtor, money going out the creditor.
	if txType == core.Income {
		tx.CounterpartName = raw.DebtorName
		if raw.DebtorAccount != nil {
			tx.CounterpartIBAN = raw.DebtorAccount.IBAN
		}
	} else {
		tx.CounterpartName = raw.CreditorName
		if raw.CreditorAccount != nil {
			tx.CounterpartIBAN = raw.CreditorAccount.IBAN
		}
	}

	tx.Description = description(raw, tx.CounterpartName)
	return tx, nil
}

// ParseBookingDate parses a YYYY-MM-DD date that must not be after today.
func ParseBookingDate(s string, today core.Date) (core.Date, error) {
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, err
	}
	if d.AfterDate(today) {
		return core.Date{}, fmt.Errorf("%w: %s is in the future", core.ErrInvalidDate, d)
	}
	return d, nil
}

func description(raw gateway.RawTransaction, counterpart string) string {
	if s := strings.TrimSpace(raw.RemittanceInformationUnstructured); s != "" {
		return s
	}
	if len(raw.RemittanceInformationUnstructuredArray) > 0 {
		if s := strings.TrimSpace(strings.Join(raw.RemittanceInformationUnstructuredArray, " ")); s != "" {
			return s
		}
	}
	return counterpart
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
