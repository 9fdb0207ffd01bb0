package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"expensetracker/internal/core"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:     srv.URL + "/api/v2",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}),
		Timeout:     2 * time.Second,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}
	for _, o := range opts {
		o(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresConfiguration(t *testing.T) {
	_, err := New(Config{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"})})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(Config{BaseURL: "https://example.com/api/v2/"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = TokenSourceFor("https://example.com/api/v2/", Credentials{}, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCreateEndUserAgreement(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/agreements/enduser/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ING_INGBNL2A", body["institution_id"])
		assert.EqualValues(t, 90, body["max_historical_days"])
		assert.EqualValues(t, 180, body["access_valid_for_days"])
		assert.Len(t, body["access_scope"], 3)

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":                    "agr-1",
			"created":               "2024-03-01T10:00:00.000000Z",
			"institution_id":        "ING_INGBNL2A",
			"max_historical_days":   90,
			"access_valid_for_days": 180,
			"access_scope":          []string{"balances", "transactions", "details"},
			"accepted":              "",
		})
	})

	agr, err := c.CreateEndUserAgreement(t.Context(), AgreementRequest{
		InstitutionID:      "ING_INGBNL2A",
		MaxHistoricalDays:  90,
		AccessValidForDays: 180,
	})
	require.NoError(t, err)
	assert.Equal(t, "agr-1", agr.ID)
	assert.True(t, agr.Accepted.IsZero())
	assert.Equal(t, 2024, agr.Start().Year())
}

func TestListAccounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/requisitions/req-1/", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       "req-1",
			"status":   "LN",
			"accounts": []string{"acct-1", "acct-2"},
		})
	})

	req, err := c.ListAccounts(t.Context(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1", "acct-2"}, req.Accounts)
}

func TestGetTransactionsDateWindow(t *testing.T) {
	var lastQuery atomic.Value
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.RawQuery)
		fmt.Fprint(w, `{"transactions":{"booked":[{"transactionId":"T1","bookingDate":"2024-03-01","transactionAmount":{"amount":"-12.50","currency":"EUR"}}],"pending":[{"transactionAmount":{"amount":3,"currency":"EUR"}}]}}`)
	})

	from, to := core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31)
	resp, err := c.GetTransactions(t.Context(), "acct-1", &from, &to)
	require.NoError(t, err)
	assert.Equal(t, "date_from=2024-03-01&date_to=2024-03-31", lastQuery.Load())
	require.Len(t, resp.Transactions.Booked, 1)
	assert.Equal(t, FlexNumber("-12.50"), resp.Transactions.Booked[0].TransactionAmount.Amount)
	require.Len(t, resp.Transactions.Pending, 1)
	assert.Equal(t, FlexNumber("3"), resp.Transactions.Pending[0].TransactionAmount.Amount)

	_, err = c.GetTransactions(t.Context(), "acct-1", &from, nil)
	require.NoError(t, err)
	assert.Equal(t, "", lastQuery.Load())
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"unauthorized", 401, `{"summary":"Authentication failed","detail":"token expired","status_code":401}`, ErrAuthenticationFailed},
		{"forbidden", 403, `{"summary":"Forbidden"}`, ErrPermissionDenied},
		{"rate limited", 429, `{"summary":"Rate limit exceeded"}`, ErrRateLimited},
		{"validation", 400, `{"error":{"type":"validation_failed","message":"bad","errors":[{"field":"institution_id","message":"is invalid"}]}}`, ErrValidationFailed},
		{"api usage", 400, `{"error":{"type":"invalid_api_usage","message":"nope"}}`, ErrInvalidAPIUsage},
		{"invalid state", 409, `{"error":{"type":"invalid_state","message":"nope"}}`, ErrInvalidState},
		{"provider", 500, `{"error":{"type":"gocardless","message":"boom"}}`, ErrProviderInternal},
		{"unknown 5xx", 503, `{"summary":"down"}`, ErrProviderInternal},
		{"html body", 502, `<html>bad gateway</html>`, ErrMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			_, err := c.ListAccounts(t.Context(), "req-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
		})
	}
}

func TestIdempotentCreationConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":{"type":"invalid_state","message":"already exists","errors":[{"reason":"idempotent_creation_conflict","links":{"conflicting_resource_id":"req-9"}}]}}`)
	})

	_, err := c.CreateLink(t.Context(), LinkRequest{Redirect: "http://localhost/callback", InstitutionID: "X", Agreement: "a"})
	assert.ErrorIs(t, err, ErrIdempotentCreationConflict)
	assert.ErrorIs(t, err, ErrInvalidState)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "req-9", apiErr.ConflictingResourceID)
}

func TestMalformedSuccessBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	})
	_, err := c.ListInstitutions(t.Context(), "NL")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestNoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"summary":"slow down"}`)
	})
	_, err := c.ListAccounts(t.Context(), "req-1")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetriesRetryableFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"type":"gocardless","message":"flaky"}}`)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "req-1", "accounts": []string{"acct-1"}})
	}, func(cfg *Config) { cfg.MaxRetries = 3 })

	req, err := c.ListAccounts(t.Context(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.ID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoesNotRetryValidationFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"validation_failed","message":"bad"}}`)
	}, func(cfg *Config) { cfg.MaxRetries = 3 })

	_, err := c.ListAccounts(t.Context(), "req-1")
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.ListAccounts(t.Context(), "req-1")
	require.Error(t, err)
}

func TestRateLimitHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("HTTP_X_RATELIMIT_LIMIT", "100")
		w.Header().Set("HTTP_X_RATELIMIT_REMAINING", "42")
		w.Header().Set("HTTP_X_RATELIMIT_RESET", "60")
		writeJSON(w, http.StatusOK, []Institution{{ID: "ING_INGBNL2A", Name: "ING", Countries: []string{"NL"}}})
	})

	assert.False(t, c.RateLimit().Known)
	insts, err := c.ListInstitutions(t.Context(), "NL")
	require.NoError(t, err)
	require.Len(t, insts, 1)

	rl := c.RateLimit()
	assert.True(t, rl.Known)
	assert.Equal(t, 100, rl.Limit)
	assert.Equal(t, 42, rl.Remaining)
	assert.Equal(t, 60, rl.Reset)
}

func TestSecretTokenSource(t *testing.T) {
	var newCalls, refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/token/new/", func(w http.ResponseWriter, r *http.Request) {
		newCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"secret_id":"id"`)
		// Access expires immediately so the next Token call must renew.
		writeJSON(w, http.StatusOK, map[string]any{"access": "access-1", "access_expires": 1, "refresh": "refresh-1", "refresh_expires": 3600})
	})
	mux.HandleFunc("/api/v2/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"access": "access-2", "access_expires": 3600})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	src, err := TokenSourceFor(srv.URL+"/api/v2/", Credentials{SecretID: "id", SecretKey: "key"}, srv.Client())
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)

	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)

	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)

	assert.EqualValues(t, 1, newCalls.Load())
	assert.EqualValues(t, 1, refreshCalls.Load())
}

func TestSecretTokenSourceHonoursContext(t *testing.T) {
	release := make(chan struct{})
	var newCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/token/new/", func(w http.ResponseWriter, r *http.Request) {
		newCalls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	src, err := NewSecretTokenSource(srv.URL+"/api/v2/", "id", "key", srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = src.TokenContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	c, err := New(Config{BaseURL: srv.URL + "/api/v2", TokenSource: src, Timeout: 5 * time.Second})
	require.NoError(t, err)
	ctx, cancel = context.WithCancel(t.Context())
	cancel()
	_, err = c.GetAgreement(ctx, "agr-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, newCalls.Load())
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExponentialBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}
