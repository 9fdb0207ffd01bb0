package core

import (
	"errors"
	"time"
)

const (
	LinkUnlinked            LinkStatus = "unlinked"
	LinkAgreementCreated    LinkStatus = "agreement_created"
	LinkAwaitingUserConsent LinkStatus = "awaiting_user_consent"
	LinkLinked              LinkStatus = "linked"
	LinkExpired             LinkStatus = "expired"
)

// Access scopes the aggregator understands.
const (
	ScopeBalances     = "balances"
	ScopeTransactions = "transactions"
	ScopeDetails      = "details"
)

// DefaultAccessScope is requested when the caller does not narrow it.
var DefaultAccessScope = []string{ScopeBalances, ScopeTransactions, ScopeDetails}

type (
	LinkStatus string

	// BankLink is one user's connection to the aggregator. There is at most
	// one per user.
	BankLink struct {
		UserID             string
		AgreementID        string
		RequisitionID      string
		InstitutionID      string
		AccessScope        []string
		MaxHistoricalDays  int
		AccessValidForDays int
		LinkedAccountIDs   []string // first is primary
		Status             LinkStatus
		ConsentURL         string

		// AgreementStart is when the agreement was accepted, or created
		// while acceptance is still pending. Access expires
		// AccessValidForDays after it.
		AgreementStart time.Time

		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

func (s LinkStatus) Valid() bool {
	switch s {
	case LinkUnlinked, LinkAgreementCreated, LinkAwaitingUserConsent, LinkLinked, LinkExpired:
		return true
	}
	return false
}

// ValidScope reports whether every entry is a known access scope.
func ValidScope(scope []string) bool {
	for _, s := range scope {
		switch s {
		case ScopeBalances, ScopeTransactions, ScopeDetails:
		default:
			return false
		}
	}
	return true
}

// PrimaryAccount returns the first linked account.
func (l BankLink) PrimaryAccount() (string, bool) {
	if l.Status != LinkLinked || len(l.LinkedAccountIDs) == 0 {
		return "", false
	}
	return l.LinkedAccountIDs[0], true
}

// ExpiresAt is the zero time when the link carries no agreement yet.
func (l BankLink) ExpiresAt() time.Time {
	if l.AgreementStart.IsZero() || l.AccessValidForDays <= 0 {
		return time.Time{}
	}
	return l.AgreementStart.AddDate(0, 0, l.AccessValidForDays)
}

// ExpireIfDue moves the link to Expired when its access window has closed.
// It reports whether the status changed.
func (l *BankLink) ExpireIfDue(now time.Time) bool {
	switch l.Status {
	case LinkAgreementCreated, LinkAwaitingUserConsent, LinkLinked:
	default:
		return false
	}
	exp := l.ExpiresAt()
	if exp.IsZero() || now.Before(exp) {
		return false
	}
	l.Status = LinkExpired
	l.LinkedAccountIDs = nil
	return true
}

// Validate checks the state invariants of the link.
func (l BankLink) Validate() error {
	if l.UserID == "" {
		return errors.New("bank link without owner")
	}
	if !l.Status.Valid() {
		return errors.New("unknown bank link status " + string(l.Status))
	}
	if l.RequisitionID != "" && (l.Status == LinkUnlinked || l.Status == LinkAgreementCreated) {
		return errors.New("requisition present before link creation")
	}
	if len(l.LinkedAccountIDs) > 0 && l.Status != LinkLinked {
		return errors.New("linked accounts present outside linked status")
	}
	if l.Status == LinkLinked && len(l.LinkedAccountIDs) == 0 {
		return errors.New("linked status without accounts")
	}
	if !ValidScope(l.AccessScope) {
		return errors.New("unknown access scope")
	}
	return nil
}
