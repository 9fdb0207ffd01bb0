package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names differ between API versions; the first one present wins.
var (
	limitHeaders     = []string{"HTTP_X_RATELIMIT_ACCOUNT_SUCCESS_LIMIT", "HTTP_X_RATELIMIT_LIMIT", "RateLimit-Limit"}
	remainingHeaders = []string{"HTTP_X_RATELIMIT_ACCOUNT_SUCCESS_REMAINING", "HTTP_X_RATELIMIT_REMAINING", "RateLimit-Remaining"}
	resetHeaders     = []string{"HTTP_X_RATELIMIT_ACCOUNT_SUCCESS_RESET", "HTTP_X_RATELIMIT_RESET", "RateLimit-Reset"}
)

func (c *Client) recordRateLimit(h http.Header) {
	limit, okL := headerInt(h, limitHeaders)
	remaining, okR := headerInt(h, remainingHeaders)
	reset, okS := headerInt(h, resetHeaders)
	if !okL && !okR && !okS {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if okL {
		c.rateLimit.Limit = limit
	}
	if okR {
		c.rateLimit.Remaining = remaining
	}
	if okS {
		c.rateLimit.Reset = reset
	}
	c.rateLimit.Known = true
}

func headerInt(h http.Header, names []string) (int, bool) {
	for _, name := range names {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ExponentialBackoff returns 1s, 2s, 4s... capped at 30s.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return 30 * time.Second
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
