// Package core provides money parsing and handling utilities.
//
// Amounts are carried as shopspring decimals so that values read from the
// bank feed ("12.50") round-trip without binary floating point drift.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to a decimal value.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and keeps
// the sign, so callers decide how to treat debits. Empty and non-numeric
// input yields ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("-12,34") -> -12.34, nil
//	ParseAmount("abc")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	// Normalize decimal comma to dot
	if !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return d, nil
}

// ParsePositiveAmount is ParseAmount restricted to values greater than zero.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals, as used in manual keys.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
