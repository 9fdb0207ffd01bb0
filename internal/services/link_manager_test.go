package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/storage/memory"
)

const redirect = "http://localhost:8000/callback"

func newManager(t *testing.T, bank *fakeBank) (*LinkManager, *memory.Store) {
	t.Helper()
	store := memory.New()
	_, err := EnsureUser(t.Context(), store, core.User{ID: "alice", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	return NewLinkManager(store, newGateway(t, bank), redirect, nil), store
}

func TestLinkLifecycle(t *testing.T) {
	bank := newFakeBank()
	m, store := newManager(t, bank)
	ctx := t.Context()

	url, err := m.StartLink(ctx, "alice", StartLinkRequest{})
	require.NoError(t, err)
	assert.Contains(t, url, "req-1")

	link, err := store.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LinkAwaitingUserConsent, link.Status)
	assert.Equal(t, "agr-1", link.AgreementID)
	assert.Equal(t, "req-1", link.RequisitionID)
	assert.Empty(t, link.LinkedAccountIDs)
	require.NoError(t, link.Validate())

	bank.setAccounts("acct-1")
	link, err = m.CompleteLink(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, core.LinkLinked, link.Status)
	assert.Equal(t, []string{"acct-1"}, link.LinkedAccountIDs)

	stored, err := m.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LinkLinked, stored.Status)
	primary, ok := stored.PrimaryAccount()
	require.True(t, ok)
	assert.Equal(t, "acct-1", primary)
	require.NoError(t, stored.Validate())
}

func TestStartLinkAppliesDefaults(t *testing.T) {
	bank := newFakeBank()
	m, _ := newManager(t, bank)

	_, err := m.StartLink(t.Context(), "alice", StartLinkRequest{})
	require.NoError(t, err)

	assert.Equal(t, DefaultInstitutionID, bank.agreementBody["institution_id"])
	assert.EqualValues(t, DefaultMaxHistoricalDays, bank.agreementBody["max_historical_days"])
	assert.EqualValues(t, DefaultAccessValidForDays, bank.agreementBody["access_valid_for_days"])
	assert.ElementsMatch(t, []any{"balances", "transactions", "details"}, bank.agreementBody["access_scope"])

	assert.Equal(t, redirect, bank.requisitionBod["redirect"])
	assert.Equal(t, "agr-1", bank.requisitionBod["agreement"])
	assert.Equal(t, DefaultUserLanguage, bank.requisitionBod["user_language"])
	assert.NotEmpty(t, bank.requisitionBod["reference"])
}

func TestStartLinkReplacesPendingIdentifiers(t *testing.T) {
	bank := newFakeBank()
	m, store := newManager(t, bank)
	ctx := t.Context()

	_, err := m.StartLink(ctx, "alice", StartLinkRequest{})
	require.NoError(t, err)
	first, err := store.GetLink(ctx, "alice")
	require.NoError(t, err)

	_, err = m.StartLink(ctx, "alice", StartLinkRequest{InstitutionID: "ABN_AMRO_ABNANL2A", AccessValidForDays: 30})
	require.NoError(t, err)
	second, err := store.GetLink(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, "req-2", second.RequisitionID)
	assert.Equal(t, "ABN_AMRO_ABNANL2A", second.InstitutionID)
	assert.Equal(t, 30, second.AccessValidForDays)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)

	_, err = store.FindLinkByRequisition(ctx, "req-1")
	assert.ErrorIs(t, err, core.ErrLinkNotFound)
}

func TestStartLinkUnknownUser(t *testing.T) {
	bank := newFakeBank()
	m, _ := newManager(t, bank)

	_, err := m.StartLink(t.Context(), "mallory", StartLinkRequest{})
	require.ErrorIs(t, err, core.ErrUserNotFound)
	assert.Zero(t, bank.callCount())
}

func TestStartLinkRejectsUnknownScope(t *testing.T) {
	bank := newFakeBank()
	m, store := newManager(t, bank)

	_, err := m.StartLink(t.Context(), "alice", StartLinkRequest{AccessScope: []string{"transactions", "payments"}})
	require.ErrorIs(t, err, core.ErrInvalidAccessScope)
	assert.True(t, core.IsValidation(err))
	assert.Zero(t, bank.callCount())

	_, err = store.GetLink(t.Context(), "alice")
	require.ErrorIs(t, err, core.ErrLinkNotFound)
}

func TestStartLinkGatewayFailureSavesNothing(t *testing.T) {
	bank := newFakeBank()
	bank.fail("/requisitions/", 400)
	m, store := newManager(t, bank)

	_, err := m.StartLink(t.Context(), "alice", StartLinkRequest{})
	require.Error(t, err)
	var apiErr *gateway.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)

	_, err = store.GetLink(t.Context(), "alice")
	assert.ErrorIs(t, err, core.ErrLinkNotFound)
}

func TestCompleteLinkUnknownRequisition(t *testing.T) {
	bank := newFakeBank()
	m, store := newManager(t, bank)
	ctx := t.Context()

	_, err := m.StartLink(ctx, "alice", StartLinkRequest{})
	require.NoError(t, err)
	before, err := store.GetLink(ctx, "alice")
	require.NoError(t, err)
	calls := bank.callCount()

	_, err = m.CompleteLink(ctx, "req-unknown")
	require.ErrorIs(t, err, core.ErrLinkNotFound)
	assert.Equal(t, calls, bank.callCount())

	after, err := store.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCompleteLinkWithoutAccountsKeepsWaiting(t *testing.T) {
	bank := newFakeBank()
	m, _ := newManager(t, bank)
	ctx := t.Context()

	_, err := m.StartLink(ctx, "alice", StartLinkRequest{})
	require.NoError(t, err)

	link, err := m.CompleteLink(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, core.LinkAwaitingUserConsent, link.Status)
	assert.Empty(t, link.LinkedAccountIDs)
}

func TestCompleteLinkGatewayFailureLeavesLink(t *testing.T) {
	bank := newFakeBank()
	m, store := newManager(t, bank)
	ctx := t.Context()

	_, err := m.StartLink(ctx, "alice", StartLinkRequest{})
	require.NoError(t, err)
	bank.setAccounts("acct-1")
	bank.fail("/agreements/enduser/agr-1", 429)

	_, err = m.CompleteLink(ctx, "req-1")
	require.ErrorIs(t, err, gateway.ErrRateLimited)

	link, err := store.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LinkAwaitingUserConsent, link.Status)
}

func TestRefreshLink(t *testing.T) {
	bank := newFakeBank()
	m, _ := newManager(t, bank)
	ctx := t.Context()

	_, err := m.RefreshLink(ctx, "alice")
	require.ErrorIs(t, err, core.ErrLinkNotFound)

	_, err = m.StartLink(ctx, "alice", StartLinkRequest{})
	require.NoError(t, err)
	bank.setAccounts("acct-1")
	_, err = m.CompleteLink(ctx, "req-1")
	require.NoError(t, err)

	bank.setAccounts("acct-1", "acct-2")
	bank.accepted = time.Now().UTC().Format(time.RFC3339)
	link, err := m.RefreshLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1", "acct-2"}, link.LinkedAccountIDs)
	assert.Equal(t, core.LinkLinked, link.Status)
	assert.WithinDuration(t, time.Now(), link.AgreementStart, time.Minute)
}

func TestLinkExpiry(t *testing.T) {
	bank := newFakeBank()
	m, store := newManager(t, bank)
	ctx := t.Context()

	_, err := m.StartLink(ctx, "alice", StartLinkRequest{})
	require.NoError(t, err)
	bank.setAccounts("acct-1")
	_, err = m.CompleteLink(ctx, "req-1")
	require.NoError(t, err)

	later := time.Now().AddDate(0, 0, DefaultAccessValidForDays+1)
	m.now = func() time.Time { return later }

	viewed, err := m.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LinkExpired, viewed.Status)
	stored, err := store.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LinkLinked, stored.Status)

	link, err := m.RefreshLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LinkExpired, link.Status)
	assert.Empty(t, link.LinkedAccountIDs)

	stored, err = store.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LinkExpired, stored.Status)
	require.NoError(t, stored.Validate())
}

func TestListInstitutions(t *testing.T) {
	bank := newFakeBank()
	m, _ := newManager(t, bank)

	list, err := m.ListInstitutions(t.Context(), " NL ")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ING_INGBNL2A", list[0].ID)
	assert.EqualValues(t, 730, list[0].TransactionTotalDays)
}

func TestDisabledGateway(t *testing.T) {
	store := memory.New()
	_, err := EnsureUser(t.Context(), store, core.User{ID: "alice"})
	require.NoError(t, err)
	m := NewLinkManager(store, DisabledGateway(nil), redirect, nil)

	_, err = m.StartLink(t.Context(), "alice", StartLinkRequest{})
	require.ErrorIs(t, err, gateway.ErrConfiguration)
	_, err = m.ListInstitutions(t.Context(), "nl")
	require.ErrorIs(t, err, gateway.ErrConfiguration)

	_, err = store.GetLink(t.Context(), "alice")
	assert.ErrorIs(t, err, core.ErrLinkNotFound)
}
