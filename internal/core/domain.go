package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Expense TransactionType = "expense"
	Income  TransactionType = "income"
)

const (
	SourceBank   TransactionSource = "bank"
	SourceManual TransactionSource = "manual"
)

const (
	DefaultCategory    = "Uncategorized"
	DefaultSubCategory = ""
)

// DateLayout is the calendar date format used on every boundary.
const DateLayout = "2006-01-02"

type (
	TransactionType   string
	TransactionSource string

	// Date is a calendar date in UTC with no time of day.
	Date struct {
		time.Time
	}

	// Transaction is the canonical stored record for both bank-imported and
	// manually entered movements.
	Transaction struct {
		Key         string
		UserID      string
		Type        TransactionType
		Amount      decimal.Decimal
		Currency    string
		BookingDate *Date // nil while the bank still reports it as pending

		CounterpartName string
		CounterpartIBAN string
		Description     string
		Category        string
		SubCategory     string

		// Provenance from the bank feed
		TransactionID         string
		EndToEndID            string
		InternalTransactionID string
		BankCode              string

		Source TransactionSource

		// Manual entries only
		Group  string
		PaidBy string
		Split  map[string]float64

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Category struct {
		Name          string
		SubCategories []string
	}

	User struct {
		ID    string
		Name  string
		Email string
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// Today returns the current server date.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// Compact returns the date as YYYYMMDD.
func (d Date) Compact() string {
	return d.Format("20060102")
}

// AfterDate reports whether d is strictly after o, by calendar day.
func (d Date) AfterDate(o Date) bool {
	return d.Time.After(o.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t TransactionType) Valid() bool {
	return t == Expense || t == Income
}

// ParseTransactionType accepts exactly "expense" or "income".
func ParseTransactionType(s string) (TransactionType, error) {
	tt := TransactionType(s)
	if !tt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, s)
	}
	return tt, nil
}

// IsPending reports whether the bank has not settled the transaction yet.
func (t Transaction) IsPending() bool {
	return t.BookingDate == nil
}

// Validate checks the invariants every stored transaction must hold.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Key) == "" {
		return errors.New("empty reconciliation key")
	}
	if strings.TrimSpace(t.UserID) == "" {
		return errors.New("empty owner")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, t.Type)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if strings.TrimSpace(t.Currency) == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidAmount)
	}
	if t.BookingDate != nil && t.BookingDate.IsZero() {
		return fmt.Errorf("%w: zero booking date", ErrInvalidDate)
	}
	return nil
}

// OwnedBy reports whether userID owns the transaction.
func (t Transaction) OwnedBy(userID string) bool {
	return t.UserID != "" && t.UserID == userID
}

// Has reports whether sub is one of the category's subcategories.
func (c Category) Has(sub string) bool {
	for _, s := range c.SubCategories {
		if s == sub {
			return true
		}
	}
	return false
}
