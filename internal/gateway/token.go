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
)

// Credentials are the ways the aggregator accepts to authenticate us. A
// static AccessToken wins over the secret pair.
type Credentials struct {
	AccessToken string
	SecretID    string
	SecretKey   string
}

// TokenSourceFor picks the token source matching the credentials.
func TokenSourceFor(baseURL string, creds Credentials, httpClient *http.Client) (oauth2.TokenSource, error) {
	if tok := strings.TrimSpace(creds.AccessToken); tok != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), nil
	}
	if creds.SecretID != "" && creds.SecretKey != "" {
		return NewSecretTokenSource(baseURL, creds.SecretID, creds.SecretKey, httpClient)
	}
	return nil, fmt.Errorf("%w: missing access token", ErrConfiguration)
}

// ContextTokenSource is a token source whose network fetches stop when the
// caller's context is done. The client prefers it over plain Token.
type ContextTokenSource interface {
	oauth2.TokenSource
	TokenContext(ctx context.Context) (*oauth2.Token, error)
}

// NewSecretTokenSource exchanges a secret id/key pair for access tokens,
// renewing through the refresh token while it is still valid. Tokens are
// cached until shortly before expiry.
func NewSecretTokenSource(baseURL, secretID, secretKey string, httpClient *http.Client) (ContextTokenSource, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	src := &secretTokenSource{
		base:       base,
		secretID:   secretID,
		secretKey:  secretKey,
		httpClient: httpClient,
		now:        time.Now,
	}
	return src, nil
}

type secretTokenSource struct {
	base       *url.URL
	secretID   string
	secretKey  string
	httpClient *http.Client
	now        func() time.Time

	mu             sync.Mutex
	current        *oauth2.Token
	refresh        string
	refreshExpires time.Time
}

func (s *secretTokenSource) Token() (*oauth2.Token, error) {
	return s.TokenContext(context.Background())
}

// TokenContext returns the cached token while it is valid, otherwise renews
// it within ctx.
func (s *secretTokenSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Valid() {
		return s.current, nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if s.refresh != "" && s.now().Before(s.refreshExpires) {
		var pair tokenPair
		err := s.post(ctx, "token/refresh/", map[string]string{"refresh": s.refresh}, &pair)
		if err == nil {
			s.current = s.token(pair)
			return s.current, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("refresh access token: %w", err)
		}
		slog.WarnContext(ctx, "Token refresh failed, requesting a new pair", "error", err)
	}

	var pair tokenPair
	if err := s.post(ctx, "token/new/", map[string]string{
		"secret_id":  s.secretID,
		"secret_key": s.secretKey,
	}, &pair); err != nil {
		return nil, err
	}
	if pair.Refresh != "" {
		s.refresh = pair.Refresh
		s.refreshExpires = s.now().Add(time.Duration(pair.RefreshExpires) * time.Second)
	}
	s.current = s.token(pair)
	return s.current, nil
}

func (s *secretTokenSource) token(pair tokenPair) *oauth2.Token {
	t := &oauth2.Token{AccessToken: pair.Access, TokenType: "Bearer"}
	if pair.AccessExpires > 0 {
		t.Expiry = s.now().Add(time.Duration(pair.AccessExpires) * time.Second)
	}
	return t
}

func (s *secretTokenSource) post(ctx context.Context, path string, body any, out *tokenPair) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := s.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read token response: %w", err)
	}
	if err := decodeResponse(resp.StatusCode, raw, out); err != nil {
		return err
	}
	if out.Access == "" {
		return malformed(resp.StatusCode, raw)
	}
	return nil
}
