package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
)

const DefaultCurrency = "EUR"

// ManualEntry is a transaction typed in by the user.
type ManualEntry struct {
	Date        core.Date
	Type        string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Category    string
	SubCategory string
	Group       string
	PaidBy      string

	// Split maps participants to their share of Amount.
	Split map[string]float64
}

// Patch holds the fields an edit changes. Nil fields are left alone. The
// key of an edited transaction never changes.
type Patch struct {
	Type        *string
	Amount      *decimal.Decimal
	Date        *core.Date
	Description *string
	Category    *string
	SubCategory *string
	Group       *string
	PaidBy      *string
	Split       map[string]float64
}

// NormalizeManual validates a manual entry and builds its transaction.
func NormalizeManual(e ManualEntry, userID string, today core.Date) (core.Transaction, error) {
	tx := core.Transaction{
		UserID:      userID,
		Amount:      e.Amount,
		Currency:    strings.ToUpper(orDefault(e.Currency, DefaultCurrency)),
		Description: strings.TrimSpace(e.Description),
		Category:    orDefault(e.Category, core.DefaultCategory),
		SubCategory: orDefault(e.SubCategory, core.DefaultSubCategory),
		Group:       strings.TrimSpace(e.Group),
		PaidBy:      strings.TrimSpace(e.PaidBy),
		Split:       e.Split,
		Source:      core.SourceManual,
	}

	var err error
	if tx.Type, err = core.ParseTransactionType(e.Type); err != nil {
		return core.Transaction{}, err
	}
	date := e.Date
	if err := checkManualDate(date, today); err != nil {
		return core.Transaction{}, err
	}
	tx.BookingDate = &date

	if err := checkManual(tx); err != nil {
		return core.Transaction{}, err
	}
	tx.Key = ManualKey(date, tx.PaidBy, tx.Amount, tx.Group)
	return tx, nil
}

// ApplyPatch returns tx with p applied and revalidated.
func ApplyPatch(tx core.Transaction, p Patch, today core.Date) (core.Transaction, error) {
	if p.Type != nil {
		t, err := core.ParseTransactionType(*p.Type)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.Type = t
	}
	if p.Amount != nil {
		tx.Amount = *p.Amount
	}
	if p.Date != nil {
		if err := checkManualDate(*p.Date, today); err != nil {
			return core.Transaction{}, err
		}
		d := *p.Date
		tx.BookingDate = &d
	}
	if p.Description != nil {
		tx.Description = strings.TrimSpace(*p.Description)
	}
	if p.Category != nil {
		tx.Category = orDefault(*p.Category, core.DefaultCategory)
	}
	if p.SubCategory != nil {
		tx.SubCategory = strings.TrimSpace(*p.SubCategory)
	}
	if p.Group != nil {
		tx.Group = strings.TrimSpace(*p.Group)
	}
	if p.PaidBy != nil {
		tx.PaidBy = strings.TrimSpace(*p.PaidBy)
	}
	if p.Split != nil {
		tx.Split = p.Split
	}

	if err := checkManual(tx); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func checkManualDate(d core.Date, today core.Date) error {
	if d.IsZero() {
		return fmt.Errorf("%w: missing date", core.ErrInvalidDate)
	}
	if d.AfterDate(today) {
		return fmt.Errorf("%w: %s is in the future", core.ErrInvalidDate, d)
	}
	return nil
}

func checkManual(tx core.Transaction) error {
	if !tx.Amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", core.ErrInvalidAmount)
	}
	if tx.Description == "" && tx.Source == core.SourceManual {
		return core.ErrEmptyDescription
	}
	return CheckSplit(tx.Amount, tx.Split)
}

// CheckSplit requires the shares to add up to amount exactly, in float64.
// Shares like 0.1 and 0.2 therefore do not match 0.3.
func CheckSplit(amount decimal.Decimal, split map[string]float64) error {
	if len(split) == 0 {
		return nil
	}
	names := make([]string, 0, len(split))
	for name := range split {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		sum += split[name]
	}
	if sum != amount.InexactFloat64() {
		return fmt.Errorf("%w: shares sum to %v, amount is %s", core.ErrSplitMismatch, sum, amount)
	}
	return nil
}
