package reconcile

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
)

var today = core.NewDate(2024, 3, 31)

func rawTx(amount, txType, booking string) gateway.RawTransaction {
	return gateway.RawTransaction{
		TransactionID:     "T1",
		BookingDate:       booking,
		TransactionType:   txType,
		TransactionAmount: gateway.AmountPair{Amount: gateway.FlexNumber(amount), Currency: "EUR"},
	}
}

func TestNormalizeBankDefaults(t *testing.T) {
	tx, err := NormalizeBank(rawTx("12.50", "expense", "2024-03-01"), "alice", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Key != "T1" {
		t.Errorf("key = %q, want T1", tx.Key)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("amount = %s, want 12.50", tx.Amount)
	}
	if tx.Category != "Uncategorized" || tx.SubCategory != "" {
		t.Errorf("category = %q/%q, want Uncategorized/empty", tx.Category, tx.SubCategory)
	}
	if tx.BookingDate == nil || tx.BookingDate.String() != "2024-03-01" {
		t.Errorf("booking date = %v", tx.BookingDate)
	}
	if tx.Source != core.SourceBank || tx.UserID != "alice" {
		t.Errorf("unexpected provenance: %+v", tx)
	}
	if err := tx.Validate(); err != nil {
		t.Errorf("normalized transaction should validate: %v", err)
	}
}

func TestNormalizeBankRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  gateway.RawTransaction
		want error
	}{
		{"non numeric amount", rawTx("twelve", "expense", "2024-03-01"), core.ErrInvalidAmount},
		{"empty amount", rawTx("", "expense", "2024-03-01"), core.ErrInvalidAmount},
		{"zero amount", rawTx("0.00", "expense", "2024-03-01"), core.ErrInvalidAmount},
		{"bad date", rawTx("1", "expense", "2024-02-30"), core.ErrInvalidDate},
		{"future date", rawTx("1", "expense", "2024-04-01"), core.ErrInvalidDate},
		{"bad type", rawTx("1", "transfer", "2024-03-01"), core.ErrInvalidTransactionType},
		{"capitalised type", rawTx("1", "Expense", "2024-03-01"), core.ErrInvalidTransactionType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeBank(tc.raw, "alice", today)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !core.IsValidation(err) {
				t.Fatalf("expected a validation error, got %v", err)
			}
		})
	}
}

func TestNormalizeBankPendingAndSign(t *testing.T) {
	raw := rawTx("-4.20", "", "")
	raw.CreditorName = "Coffee Bar"
	raw.CreditorAccount = &gateway.AccountRef{IBAN: "NL00BANK0123456789"}
	raw.DebtorName = "Me"

	tx, err := NormalizeBank(raw, "alice", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.IsPending() {
		t.Errorf("expected pending transaction")
	}
	if tx.Type != core.Expense || tx.Amount.String() != "4.2" {
		t.Errorf("got %s %s, want expense 4.2", tx.Type, tx.Amount)
	}
	if tx.CounterpartName != "Coffee Bar" || tx.CounterpartIBAN != "NL00BANK0123456789" {
		t.Errorf("expense counterpart should be the creditor, got %q %q", tx.CounterpartName, tx.CounterpartIBAN)
	}
	if tx.Description != "Coffee Bar" {
		t.Errorf("description should fall back to counterpart, got %q", tx.Description)
	}

	raw = rawTx("1500", "", "2024-03-25")
	raw.DebtorName = "Employer"
	raw.RemittanceInformationUnstructured = "Salary March"
	tx, err = NormalizeBank(raw, "alice", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Type != core.Income || tx.CounterpartName != "Employer" || tx.Description != "Salary March" {
		t.Errorf("unexpected income normalization: %+v", tx)
	}
}

func TestBankKeyPrecedence(t *testing.T) {
	raw := gateway.RawTransaction{TransactionID: "T1", InternalTransactionID: "I1"}
	if got := BankKey(raw); got != "T1" {
		t.Errorf("got %q, want T1", got)
	}
	raw.TransactionID = "  "
	if got := BankKey(raw); got != "I1" {
		t.Errorf("got %q, want I1", got)
	}
	raw.InternalTransactionID = ""
	a, b := BankKey(raw), BankKey(raw)
	if a == "" || a == b {
		t.Errorf("synthetic keys should be non-empty and distinct, got %q and %q", a, b)
	}
}

func TestManualKey(t *testing.T) {
	got := ManualKey(core.NewDate(2024, 3, 5), "bob", decimal.RequireFromString("7.5"), "flat")
	if got != "20240305bob7.50flat" {
		t.Errorf("got %q", got)
	}
}

func manualEntry() ManualEntry {
	return ManualEntry{
		Date:        core.NewDate(2024, 3, 5),
		Type:        "expense",
		Amount:      decimal.RequireFromString("12.5"),
		Description: "Groceries",
		Group:       "flat",
		PaidBy:      "bob",
	}
}

func TestNormalizeManual(t *testing.T) {
	tx, err := NormalizeManual(manualEntry(), "bob", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Key != "20240305bob12.50flat" || tx.Currency != "EUR" || tx.Source != core.SourceManual {
		t.Errorf("unexpected manual transaction: %+v", tx)
	}

	again, _ := NormalizeManual(manualEntry(), "bob", today)
	if again.Key != tx.Key {
		t.Errorf("identical entries must share a key")
	}

	e := manualEntry()
	e.Description = " "
	if _, err := NormalizeManual(e, "bob", today); !errors.Is(err, core.ErrEmptyDescription) {
		t.Errorf("expected ErrEmptyDescription, got %v", err)
	}
	e = manualEntry()
	e.Amount = decimal.NewFromInt(-3)
	if _, err := NormalizeManual(e, "bob", today); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	e = manualEntry()
	e.Date = core.NewDate(2024, 4, 2)
	if _, err := NormalizeManual(e, "bob", today); !errors.Is(err, core.ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestCheckSplit(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		split  map[string]float64
		ok     bool
	}{
		{"no split", "10", nil, true},
		{"exact halves", "12.5", map[string]float64{"alice": 6.25, "bob": 6.25}, true},
		{"uneven exact", "12.5", map[string]float64{"alice": 10, "bob": 2.5}, true},
		{"short", "12.5", map[string]float64{"alice": 6, "bob": 6}, false},
		{"over", "12.5", map[string]float64{"alice": 7, "bob": 6}, false},
		// 0.1 + 0.2 is 0.30000000000000004 in float64.
		{"float rounding", "0.3", map[string]float64{"alice": 0.1, "bob": 0.2}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckSplit(decimal.RequireFromString(tc.amount), tc.split)
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !tc.ok && !errors.Is(err, core.ErrSplitMismatch) {
				t.Fatalf("expected ErrSplitMismatch, got %v", err)
			}
		})
	}
}

func TestApplyPatch(t *testing.T) {
	tx, err := NormalizeManual(manualEntry(), "bob", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	desc := "Supermarket"
	patched, err := ApplyPatch(tx, Patch{Description: &desc}, today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patched.Description != desc || patched.Key != tx.Key {
		t.Errorf("unexpected patched transaction: %+v", patched)
	}

	bad := "refund"
	if _, err := ApplyPatch(tx, Patch{Type: &bad}, today); !errors.Is(err, core.ErrInvalidTransactionType) {
		t.Errorf("expected ErrInvalidTransactionType, got %v", err)
	}
	if _, err := ApplyPatch(tx, Patch{Split: map[string]float64{"a": 1}}, today); !errors.Is(err, core.ErrSplitMismatch) {
		t.Errorf("expected ErrSplitMismatch, got %v", err)
	}
}
