package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/log"
	"expensetracker/internal/storage"
)

// Defaults applied by StartLink when the request leaves a field unset.
const (
	DefaultInstitutionID      = "ING_INGBNL2A"
	DefaultMaxHistoricalDays  = 90
	DefaultAccessValidForDays = 180
	DefaultUserLanguage       = "EN"
)

// StartLinkRequest narrows the agreement a user consents to.
type StartLinkRequest struct {
	InstitutionID      string
	MaxHistoricalDays  int
	AccessValidForDays int
	AccessScope        []string
	UserLanguage       string
}

func (r StartLinkRequest) withDefaults() StartLinkRequest {
	if strings.TrimSpace(r.InstitutionID) == "" {
		r.InstitutionID = DefaultInstitutionID
	}
	if r.MaxHistoricalDays <= 0 {
		r.MaxHistoricalDays = DefaultMaxHistoricalDays
	}
	if r.AccessValidForDays <= 0 {
		r.AccessValidForDays = DefaultAccessValidForDays
	}
	if len(r.AccessScope) == 0 {
		r.AccessScope = append([]string(nil), core.DefaultAccessScope...)
	}
	if strings.TrimSpace(r.UserLanguage) == "" {
		r.UserLanguage = DefaultUserLanguage
	}
	return r
}

type linkStore interface {
	storage.UserStore
	storage.LinkStore
}

// LinkManager drives a user's bank link through agreement, consent and
// account discovery. A step saves the link once, and only after every
// gateway call of that step succeeded.
type LinkManager struct {
	store       linkStore
	gw          BankGateway
	redirectURL string
	events      *log.StructuredLogger

	now          func() time.Time
	newReference func() string
}

func NewLinkManager(store linkStore, gw BankGateway, redirectURL string, logger *log.Logger) *LinkManager {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &LinkManager{
		store:        store,
		gw:           gw,
		redirectURL:  redirectURL,
		events:       log.NewStructuredLogger(logger.WithComponent(log.ComponentLink)),
		now:          time.Now,
		newReference: uuid.NewString,
	}
}

// StartLink creates a fresh agreement and requisition for userID and returns
// the consent URL. Identifiers of an earlier pending link are replaced.
func (m *LinkManager) StartLink(ctx context.Context, userID string, req StartLinkRequest) (string, error) {
	if _, err := m.store.GetUser(ctx, userID); err != nil {
		return "", fmt.Errorf("start link: %w", err)
	}
	req = req.withDefaults()
	if !core.ValidScope(req.AccessScope) {
		return "", fmt.Errorf("start link: %w: %v", core.ErrInvalidAccessScope, req.AccessScope)
	}

	agreement, err := m.gw.CreateEndUserAgreement(ctx, gateway.AgreementRequest{
		InstitutionID:      req.InstitutionID,
		MaxHistoricalDays:  req.MaxHistoricalDays,
		AccessValidForDays: req.AccessValidForDays,
		AccessScope:        req.AccessScope,
	})
	if err != nil {
		return "", fmt.Errorf("create agreement: %w", err)
	}

	requisition, err := m.gw.CreateLink(ctx, gateway.LinkRequest{
		Redirect:      m.redirectURL,
		InstitutionID: req.InstitutionID,
		Agreement:     agreement.ID,
		UserLanguage:  req.UserLanguage,
		Reference:     m.newReference(),
	})
	if err != nil {
		return "", fmt.Errorf("create link: %w", err)
	}

	now := m.now().UTC()
	link := core.BankLink{
		UserID:             userID,
		AgreementID:        agreement.ID,
		RequisitionID:      requisition.ID,
		InstitutionID:      req.InstitutionID,
		AccessScope:        req.AccessScope,
		MaxHistoricalDays:  req.MaxHistoricalDays,
		AccessValidForDays: req.AccessValidForDays,
		Status:             core.LinkAwaitingUserConsent,
		ConsentURL:         requisition.Link,
		AgreementStart:     agreementStart(agreement, now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if prev, err := m.store.GetLink(ctx, userID); err == nil {
		link.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, core.ErrLinkNotFound) {
		return "", fmt.Errorf("load link: %w", err)
	}

	if err := m.store.SaveLink(ctx, link); err != nil {
		return "", fmt.Errorf("save link: %w", err)
	}
	m.events.LogLinkTransition(ctx, log.OpStartLink, userID, link.RequisitionID, link.AgreementID, string(link.Status))
	return link.ConsentURL, nil
}

// CompleteLink handles the consent callback for requisitionID. An unknown
// requisition fails with core.ErrLinkNotFound before anything is written.
func (m *LinkManager) CompleteLink(ctx context.Context, requisitionID string) (*core.BankLink, error) {
	requisitionID = strings.TrimSpace(requisitionID)
	link, err := m.store.FindLinkByRequisition(ctx, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("complete link %q: %w", requisitionID, err)
	}
	if err := m.sync(ctx, link); err != nil {
		return nil, fmt.Errorf("complete link %q: %w", requisitionID, err)
	}
	m.events.LogLinkTransition(ctx, log.OpCompleteLink, link.UserID, link.RequisitionID, link.AgreementID, string(link.Status))
	return link, nil
}

// RefreshLink re-reads the user's accounts and agreement from the provider.
func (m *LinkManager) RefreshLink(ctx context.Context, userID string) (*core.BankLink, error) {
	link, err := m.store.GetLink(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("refresh link: %w", err)
	}
	if link.RequisitionID == "" || link.AgreementID == "" {
		return nil, fmt.Errorf("refresh link: no requisition for user %s: %w", userID, core.ErrLinkNotFound)
	}
	if err := m.sync(ctx, link); err != nil {
		return nil, fmt.Errorf("refresh link: %w", err)
	}
	m.events.LogLinkTransition(ctx, log.OpRefreshLink, userID, link.RequisitionID, link.AgreementID, string(link.Status))
	return link, nil
}

// GetLink returns the user's link with any due expiry applied. Nothing is
// written.
func (m *LinkManager) GetLink(ctx context.Context, userID string) (*core.BankLink, error) {
	link, err := m.store.GetLink(ctx, userID)
	if err != nil {
		return nil, err
	}
	link.ExpireIfDue(m.now())
	return link, nil
}

func (m *LinkManager) ListInstitutions(ctx context.Context, country string) ([]gateway.Institution, error) {
	return m.gw.ListInstitutions(ctx, strings.ToLower(strings.TrimSpace(country)))
}

// sync fetches the requisition and agreement, applies them to link and saves
// it once.
func (m *LinkManager) sync(ctx context.Context, link *core.BankLink) error {
	requisition, err := m.gw.ListAccounts(ctx, link.RequisitionID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var agreement *gateway.Agreement
	if link.AgreementID != "" {
		if agreement, err = m.gw.GetAgreement(ctx, link.AgreementID); err != nil {
			return fmt.Errorf("get agreement: %w", err)
		}
	}

	now := m.now().UTC()
	if agreement != nil {
		link.AgreementStart = agreementStart(agreement, link.AgreementStart)
		if days := int(agreement.AccessValidForDays); days > 0 {
			link.AccessValidForDays = days
		}
	}
	if len(requisition.Accounts) > 0 {
		link.Status = core.LinkLinked
		link.LinkedAccountIDs = append([]string(nil), requisition.Accounts...)
	} else {
		link.Status = core.LinkAwaitingUserConsent
		link.LinkedAccountIDs = nil
	}
	if link.ExpireIfDue(now) {
		slog.InfoContext(ctx, "Bank link expired",
			log.FieldUserID, link.UserID,
			log.FieldRequisitionID, link.RequisitionID,
			"expired_at", link.ExpiresAt())
	}
	link.UpdatedAt = now

	if err := m.store.SaveLink(ctx, *link); err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	return nil
}

// agreementStart prefers acceptance, then creation, then fallback.
func agreementStart(a *gateway.Agreement, fallback time.Time) time.Time {
	if s := a.Start(); !s.IsZero() {
		return s.UTC()
	}
	return fallback
}
