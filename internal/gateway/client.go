// Package gateway is a typed client for the bank account data aggregator.
//
// Every call is authenticated with a bearer token taken from an
// oauth2.TokenSource, bounded by a per-call timeout, and maps non-success
// responses onto the error kinds in errors.go.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"expensetracker/internal/core"
)

const (
	DefaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

// Config holds the settings New needs. BaseURL and TokenSource are required.
type Config struct {
	BaseURL     string
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
	Timeout     time.Duration

	// MaxRetries bounds retries of rate limited and provider internal
	// failures. Zero means every call is made exactly once.
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

type Client struct {
	base       *url.URL
	tokens     oauth2.TokenSource
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    func(attempt int) time.Duration

	mu        sync.RWMutex
	rateLimit RateLimit
}

// RateLimit is the last quota the provider reported.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     int // seconds until the window resets
	Known     bool
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: missing base URL", ErrConfiguration)
	}
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("%w: missing access token", ErrConfiguration)
	}
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:       base,
		tokens:     cfg.TokenSource,
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.backoff == nil {
		c.backoff = ExponentialBackoff
	}
	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", ErrConfiguration, raw)
	}
	return u, nil
}

// RateLimit returns the quota reported by the most recent response.
func (c *Client) RateLimit() RateLimit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimit
}

// CreateEndUserAgreement asks the provider for a consent agreement.
func (c *Client) CreateEndUserAgreement(ctx context.Context, req AgreementRequest) (*Agreement, error) {
	if len(req.AccessScope) == 0 {
		req.AccessScope = core.DefaultAccessScope
	}
	var out Agreement
	if err := c.do(ctx, http.MethodPost, "agreements/enduser/", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAgreement(ctx context.Context, agreementID string) (*Agreement, error) {
	var out Agreement
	if err := c.do(ctx, http.MethodGet, "agreements/enduser/"+url.PathEscape(agreementID)+"/", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateLink creates a requisition; its Link is where the user consents.
func (c *Client) CreateLink(ctx context.Context, req LinkRequest) (*Requisition, error) {
	var out Requisition
	if err := c.do(ctx, http.MethodPost, "requisitions/", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAccounts fetches a requisition, whose Accounts are the linked ids.
func (c *Client) ListAccounts(ctx context.Context, requisitionID string) (*Requisition, error) {
	var out Requisition
	if err := c.do(ctx, http.MethodGet, "requisitions/"+url.PathEscape(requisitionID)+"/", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransactions fetches an account's transactions. The date window is
// only sent when both bounds are given.
func (c *Client) GetTransactions(ctx context.Context, accountID string, dateFrom, dateTo *core.Date) (*TransactionsResponse, error) {
	var q url.Values
	if dateFrom != nil && dateTo != nil {
		q = url.Values{}
		q.Set("date_from", dateFrom.String())
		q.Set("date_to", dateTo.String())
	}
	var out TransactionsResponse
	if err := c.do(ctx, http.MethodGet, "accounts/"+url.PathEscape(accountID)+"/transactions/", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListInstitutions lists the banks available in a country (ISO 3166 code).
func (c *Client) ListInstitutions(ctx context.Context, country string) ([]Institution, error) {
	q := url.Values{}
	q.Set("country", strings.ToLower(country))
	var out []Institution
	if err := c.do(ctx, http.MethodGet, "institutions/", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, path, query, body, out)
		if err == nil || attempt >= c.maxRetries || !Retryable(err) {
			return err
		}

		wait := c.backoff(attempt)
		slog.WarnContext(ctx, "Retrying gateway call",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"wait", wait,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}

	u := c.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token.SetAuthHeader(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.recordRateLimit(resp.Header)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	slog.DebugContext(ctx, "Gateway call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return decodeResponse(resp.StatusCode, raw, out)
}

func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if src, ok := c.tokens.(ContextTokenSource); ok {
		return src.TokenContext(ctx)
	}
	return c.tokens.Token()
}

func decodeResponse(status int, raw []byte, out any) error {
	if status == http.StatusNoContent {
		return nil
	}
	if !json.Valid(raw) {
		return malformed(status, raw)
	}
	if status >= 400 {
		return parseAPIError(status, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(status, raw)
	}
	return nil
}
