package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/storage/memory"
)

// fakeBank is an in-process stand-in for the aggregator API.
type fakeBank struct {
	mu sync.Mutex

	accounts  []string
	feeds     map[string]map[string]any
	accepted  string
	failPaths map[string]int // path prefix -> status

	calls          []string
	lastQuery      map[string]string
	agreementBody  map[string]any
	requisitionBod map[string]any
	nextID         int
}

func newFakeBank() *fakeBank {
	return &fakeBank{
		feeds:     map[string]map[string]any{},
		failPaths: map[string]int{},
	}
}

func (b *fakeBank) setAccounts(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = ids
}

func (b *fakeBank) setFeed(accountID string, booked, pending []map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if booked == nil {
		booked = []map[string]any{}
	}
	if pending == nil {
		pending = []map[string]any{}
	}
	b.feeds[accountID] = map[string]any{
		"transactions": map[string]any{"booked": booked, "pending": pending},
	}
}

func (b *fakeBank) fail(prefix string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPaths[prefix] = status
}

func (b *fakeBank) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBank) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v2")
	b.calls = append(b.calls, r.Method+" "+path)
	for prefix, status := range b.failPaths {
		if strings.HasPrefix(path, prefix) {
			reply(w, status, map[string]any{
				"summary":     "Request failed",
				"detail":      "injected failure",
				"status_code": status,
			})
			return
		}
	}

	created := time.Now().UTC().Format(time.RFC3339Nano)
	switch {
	case r.Method == http.MethodPost && path == "/agreements/enduser/":
		_ = json.NewDecoder(r.Body).Decode(&b.agreementBody)
		b.nextID++
		reply(w, http.StatusCreated, map[string]any{
			"id":                    fmt.Sprintf("agr-%d", b.nextID),
			"created":               created,
			"institution_id":        b.agreementBody["institution_id"],
			"max_historical_days":   b.agreementBody["max_historical_days"],
			"access_valid_for_days": b.agreementBody["access_valid_for_days"],
			"access_scope":          b.agreementBody["access_scope"],
			"accepted":              "",
		})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/agreements/enduser/"):
		id := strings.Trim(strings.TrimPrefix(path, "/agreements/enduser/"), "/")
		reply(w, http.StatusOK, map[string]any{
			"id":                    id,
			"created":               created,
			"access_valid_for_days": 180,
			"accepted":              b.accepted,
		})
	case r.Method == http.MethodPost && path == "/requisitions/":
		_ = json.NewDecoder(r.Body).Decode(&b.requisitionBod)
		id := fmt.Sprintf("req-%d", b.nextID)
		reply(w, http.StatusCreated, map[string]any{
			"id":             id,
			"status":         "CR",
			"agreement":      b.requisitionBod["agreement"],
			"institution_id": b.requisitionBod["institution_id"],
			"reference":      b.requisitionBod["reference"],
			"accounts":       []string{},
			"link":           "https://ob.example.com/psd2/start/" + id + "/ING_INGBNL2A",
		})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/requisitions/"):
		id := strings.Trim(strings.TrimPrefix(path, "/requisitions/"), "/")
		accounts := b.accounts
		if accounts == nil {
			accounts = []string{}
		}
		reply(w, http.StatusOK, map[string]any{"id": id, "status": "LN", "accounts": accounts})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/accounts/"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/accounts/"), "/transactions/")
		b.lastQuery = map[string]string{}
		for k := range r.URL.Query() {
			b.lastQuery[k] = r.URL.Query().Get(k)
		}
		feed, ok := b.feeds[id]
		if !ok {
			reply(w, http.StatusNotFound, map[string]any{"summary": "Not found", "detail": "unknown account", "status_code": 404})
			return
		}
		reply(w, http.StatusOK, feed)
	case r.Method == http.MethodGet && path == "/institutions/":
		reply(w, http.StatusOK, []map[string]any{
			{"id": "ING_INGBNL2A", "name": "ING", "bic": "INGBNL2A", "transaction_total_days": "730", "countries": []string{"NL"}},
		})
	default:
		reply(w, http.StatusNotFound, map[string]any{"summary": "Not found", "detail": path, "status_code": 404})
	}
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newGateway(t *testing.T, bank *fakeBank) *gateway.Client {
	t.Helper()
	srv := httptest.NewServer(bank)
	t.Cleanup(srv.Close)
	gw, err := gateway.New(gateway.Config{
		BaseURL:     srv.URL + "/api/v2/",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}),
		Timeout:     2 * time.Second,
	})
	require.NoError(t, err)
	return gw
}

func bookedTx(id, amount, date string) map[string]any {
	tx := map[string]any{
		"transactionAmount":                 map[string]any{"amount": amount, "currency": "EUR"},
		"creditorName":                      "Cafe Central",
		"debtorName":                        "Alice",
		"remittanceInformationUnstructured": "Coffee",
	}
	if id != "" {
		tx["transactionId"] = id
	}
	if date != "" {
		tx["bookingDate"] = date
	}
	return tx
}

// linkedStore returns a store where user is linked to accounts.
func linkedStore(t *testing.T, user string, accounts ...string) *memory.Store {
	t.Helper()
	store := memory.New()
	now := time.Now().UTC()
	require.NoError(t, store.SaveUser(t.Context(), core.User{ID: user, Name: user}))
	require.NoError(t, store.SaveLink(t.Context(), core.BankLink{
		UserID:             user,
		AgreementID:        "agr-1",
		RequisitionID:      "req-1",
		InstitutionID:      DefaultInstitutionID,
		AccessScope:        core.DefaultAccessScope,
		MaxHistoricalDays:  90,
		AccessValidForDays: 180,
		LinkedAccountIDs:   accounts,
		Status:             core.LinkLinked,
		AgreementStart:     now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}))
	return store
}
