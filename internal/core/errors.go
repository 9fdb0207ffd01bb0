package core

import "errors"

// Domain validation errors. They are always turned into a structured
// rejection before storage is touched.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidDate            = errors.New("invalid date")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrSplitMismatch          = errors.New("split shares do not sum to amount")
	ErrEmptyDescription       = errors.New("empty description")
	ErrInvalidAccessScope     = errors.New("invalid access scope")
)

// Authorization and lookup errors.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLinkNotFound        = errors.New("bank link not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrCategoryNotFound    = errors.New("category not found")
	ErrNoLinkedAccount     = errors.New("no linked bank account")
	ErrLinkExpired         = errors.New("bank link expired")
)

// IsValidation reports whether err is a domain validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrSplitMismatch) ||
		errors.Is(err, ErrEmptyDescription) ||
		errors.Is(err, ErrInvalidAccessScope)
}

// IsNotFound reports whether err is one of the lookup failures.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLinkNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}
