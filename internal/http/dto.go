package http

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
	"expensetracker/internal/reconcile"
	"expensetracker/internal/services"
)

type startLinkRequest struct {
	InstitutionID      string   `json:"institutionId"`
	MaxHistoricalDays  int      `json:"maxHistoricalDays"`
	AccessValidForDays int      `json:"accessValidForDays"`
	AccessScope        []string `json:"accessScope"`
	UserLanguage       string   `json:"userLanguage"`
}

func (r startLinkRequest) toService() services.StartLinkRequest {
	return services.StartLinkRequest{
		InstitutionID:      r.InstitutionID,
		MaxHistoricalDays:  r.MaxHistoricalDays,
		AccessValidForDays: r.AccessValidForDays,
		AccessScope:        r.AccessScope,
		UserLanguage:       r.UserLanguage,
	}
}

type linkResponse struct {
	Status             core.LinkStatus `json:"status"`
	InstitutionID      string          `json:"institutionId,omitempty"`
	RequisitionID      string          `json:"requisitionId,omitempty"`
	AgreementID        string          `json:"agreementId,omitempty"`
	Accounts           []string        `json:"accounts"`
	AccessScope        []string        `json:"accessScope,omitempty"`
	MaxHistoricalDays  int             `json:"maxHistoricalDays,omitempty"`
	AccessValidForDays int             `json:"accessValidForDays,omitempty"`
	ConsentURL         string          `json:"consentUrl,omitempty"`
	ExpiresAt          *time.Time      `json:"expiresAt,omitempty"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

func newLinkResponse(l *core.BankLink) linkResponse {
	resp := linkResponse{
		Status:             l.Status,
		InstitutionID:      l.InstitutionID,
		RequisitionID:      l.RequisitionID,
		AgreementID:        l.AgreementID,
		Accounts:           l.LinkedAccountIDs,
		AccessScope:        l.AccessScope,
		MaxHistoricalDays:  l.MaxHistoricalDays,
		AccessValidForDays: l.AccessValidForDays,
		UpdatedAt:          l.UpdatedAt,
	}
	if resp.Accounts == nil {
		resp.Accounts = []string{}
	}
	if l.Status == core.LinkAwaitingUserConsent {
		resp.ConsentURL = l.ConsentURL
	}
	if exp := l.ExpiresAt(); !exp.IsZero() {
		resp.ExpiresAt = &exp
	}
	return resp
}

type importRequest struct {
	DateFrom string `json:"dateFrom"`
	DateTo   string `json:"dateTo"`
}

type importResponse struct {
	Success  bool `json:"success"`
	Imported int  `json:"imported"`
	Inserted int  `json:"inserted"`
	Updated  int  `json:"updated"`
}

type transactionRequest struct {
	Date        string             `json:"date"`
	Type        string             `json:"transactionType"`
	Amount      json.RawMessage    `json:"amount"`
	Currency    string             `json:"currency"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	SubCategory string             `json:"subCategory"`
	Group       string             `json:"group"`
	PaidBy      string             `json:"paidBy"`
	Split       map[string]float64 `json:"split"`
}

func (r transactionRequest) toEntry() (reconcile.ManualEntry, error) {
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return reconcile.ManualEntry{}, err
	}
	var date core.Date
	if r.Date != "" {
		d, err := parseDateParam("date", r.Date)
		if err != nil {
			return reconcile.ManualEntry{}, err
		}
		date = *d
	}
	return reconcile.ManualEntry{
		Date:        date,
		Type:        r.Type,
		Amount:      amount,
		Currency:    r.Currency,
		Description: r.Description,
		Category:    r.Category,
		SubCategory: r.SubCategory,
		Group:       r.Group,
		PaidBy:      r.PaidBy,
		Split:       r.Split,
	}, nil
}

// transactionPatchRequest carries only the fields being changed.
type transactionPatchRequest struct {
	Date        *string            `json:"date"`
	Type        *string            `json:"transactionType"`
	Amount      json.RawMessage    `json:"amount"`
	Description *string            `json:"description"`
	Category    *string            `json:"category"`
	SubCategory *string            `json:"subCategory"`
	Group       *string            `json:"group"`
	PaidBy      *string            `json:"paidBy"`
	Split       map[string]float64 `json:"split"`
}

func (r transactionPatchRequest) toPatch() (reconcile.Patch, error) {
	p := reconcile.Patch{
		Type:        r.Type,
		Description: r.Description,
		Category:    r.Category,
		SubCategory: r.SubCategory,
		Group:       r.Group,
		PaidBy:      r.PaidBy,
		Split:       r.Split,
	}
	if len(r.Amount) > 0 {
		amount, err := parseAmount(r.Amount)
		if err != nil {
			return reconcile.Patch{}, err
		}
		p.Amount = &amount
	}
	if r.Date != nil {
		d, err := parseDateParam("date", *r.Date)
		if err != nil {
			return reconcile.Patch{}, err
		}
		if d == nil {
			d = &core.Date{}
		}
		p.Date = d
	}
	return p, nil
}

type transactionResponse struct {
	Key                   string                 `json:"key"`
	TransactionType       core.TransactionType   `json:"transactionType"`
	Amount                decimal.Decimal        `json:"amount"`
	Currency              string                 `json:"currency"`
	BookingDate           *core.Date             `json:"bookingDate"`
	Pending               bool                   `json:"pending"`
	CounterpartName       string                 `json:"counterpartName,omitempty"`
	CounterpartIBAN       string                 `json:"counterpartIban,omitempty"`
	Description           string                 `json:"description"`
	Category              string                 `json:"category"`
	SubCategory           string                 `json:"subCategory"`
	TransactionID         string                 `json:"transactionId,omitempty"`
	InternalTransactionID string                 `json:"internalTransactionId,omitempty"`
	EndToEndID            string                 `json:"endToEndId,omitempty"`
	BankCode              string                 `json:"bankTransactionCode,omitempty"`
	Source                core.TransactionSource `json:"source"`
	Group                 string                 `json:"group,omitempty"`
	PaidBy                string                 `json:"paidBy,omitempty"`
	Split                 map[string]float64     `json:"split,omitempty"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
}

func newTransactionResponse(t *core.Transaction) transactionResponse {
	return transactionResponse{
		Key:                   t.Key,
		TransactionType:       t.Type,
		Amount:                t.Amount,
		Currency:              t.Currency,
		BookingDate:           t.BookingDate,
		Pending:               t.IsPending(),
		CounterpartName:       t.CounterpartName,
		CounterpartIBAN:       t.CounterpartIBAN,
		Description:           t.Description,
		Category:              t.Category,
		SubCategory:           t.SubCategory,
		TransactionID:         t.TransactionID,
		InternalTransactionID: t.InternalTransactionID,
		EndToEndID:            t.EndToEndID,
		BankCode:              t.BankCode,
		Source:                t.Source,
		Group:                 t.Group,
		PaidBy:                t.PaidBy,
		Split:                 t.Split,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

type categoryResponse struct {
	Name          string   `json:"name"`
	SubCategories []string `json:"subCategories"`
}

type userRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
