package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathParam returns the unescaped route parameter. chi hands back the raw
// segment when the request path carries escapes such as %2F.
func pathParam(r *http.Request, name string) (string, error) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid %s in path: %w", name, err)
	}
	return v, nil
}

// parseDateParam parses an optional YYYY-MM-DD value.
func parseDateParam(name, s string) (*core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", name, s, core.ErrInvalidDate)
	}
	return &d, nil
}

// parseAmount accepts a JSON number or a numeric string.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, fmt.Errorf("amount missing: %w", core.ErrInvalidAmount)
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, fmt.Errorf("amount %s: %w", raw, core.ErrInvalidAmount)
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q: %w", text, core.ErrInvalidAmount)
	}
	return d, nil
}
