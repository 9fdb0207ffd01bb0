package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies provider failures. Kinds are errors themselves so callers
// can write errors.Is(err, gateway.ErrRateLimited).
type Kind string

const (
	ErrAuthenticationFailed       Kind = "authentication_failed"
	ErrPermissionDenied           Kind = "permission_denied"
	ErrRateLimited                Kind = "rate_limited"
	ErrValidationFailed           Kind = "validation_failed"
	ErrInvalidAPIUsage            Kind = "invalid_api_usage"
	ErrInvalidState               Kind = "invalid_state"
	ErrIdempotentCreationConflict Kind = "idempotent_creation_conflict"
	ErrProviderInternal           Kind = "provider_internal_error"
	ErrMalformedResponse          Kind = "malformed_response"
)

func (k Kind) Error() string { return "gateway: " + strings.ReplaceAll(string(k), "_", " ") }

// ErrConfiguration is returned before any call when the base URL or the
// credentials are missing.
var ErrConfiguration = errors.New("gateway configuration error")

// FieldError is one entry of the provider's error list.
type FieldError struct {
	Field          string            `json:"field,omitempty"`
	Message        string            `json:"message,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	RequestPointer string            `json:"request_pointer,omitempty"`
	Links          map[string]string `json:"links,omitempty"`
}

// APIError is a failed provider call.
type APIError struct {
	Kind       Kind
	StatusCode int
	Type       string
	Message    string
	Detail     string
	RequestID  string
	Errors     []FieldError

	// Set on ErrIdempotentCreationConflict.
	ConflictingResourceID string

	// Raw body, kept for ErrMalformedResponse.
	Body string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Detail != "" && e.Detail != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	var extra []string
	for _, fe := range e.Errors {
		if fe.Message == "" || fe.Message == e.Message {
			continue
		}
		if fe.Field != "" {
			extra = append(extra, strings.TrimSpace(fe.Field+" "+fe.Message+" "+fe.RequestPointer))
		} else {
			extra = append(extra, fe.Message)
		}
	}
	if len(extra) > 0 {
		b.WriteString(" (" + strings.Join(extra, ", ") + ")")
	}
	return b.String()
}

// Is matches the error's Kind. A creation conflict is also an invalid state.
func (e *APIError) Is(target error) bool {
	k, ok := target.(Kind)
	if !ok {
		return false
	}
	if e.Kind == k {
		return true
	}
	return k == ErrInvalidState && e.Kind == ErrIdempotentCreationConflict
}

// Retryable reports whether a hardened caller may retry the call.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderInternal)
}

// errorEnvelope covers both shapes the provider family uses: a nested
// {"error": {...}} object and the flat {"summary","detail","type"} body.
type errorEnvelope struct {
	Error *struct {
		Type      string       `json:"type"`
		Code      int          `json:"code"`
		Message   string       `json:"message"`
		RequestID string       `json:"request_id"`
		Errors    []FieldError `json:"errors"`
	} `json:"error"`

	Summary    string `json:"summary"`
	Detail     string `json:"detail"`
	Type       string `json:"type"`
	StatusCode int    `json:"status_code"`
}

// parseAPIError builds the typed error for a response with status >= 400.
// body is known to be valid JSON.
func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != nil {
			e.Type = env.Error.Type
			e.Message = env.Error.Message
			e.RequestID = env.Error.RequestID
			e.Errors = env.Error.Errors
		} else {
			e.Type = env.Type
			e.Message = env.Summary
			e.Detail = env.Detail
		}
	}

	e.Kind = kindForStatus(status)
	if e.Kind == "" {
		e.Kind = kindForType(e.Type, e.Errors)
	}
	if e.Kind == "" {
		if status >= 500 {
			e.Kind = ErrProviderInternal
		} else {
			e.Kind = ErrInvalidAPIUsage
		}
	}
	if e.Kind == ErrIdempotentCreationConflict {
		e.ConflictingResourceID = conflictingResourceID(e.Errors)
	}
	return e
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return ErrAuthenticationFailed
	case http.StatusForbidden:
		return ErrPermissionDenied
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return ""
}

func kindForType(errorType string, errs []FieldError) Kind {
	switch strings.ToLower(errorType) {
	case "validation_failed":
		return ErrValidationFailed
	case "invalid_api_usage":
		return ErrInvalidAPIUsage
	case "invalid_state":
		for _, fe := range errs {
			if fe.Reason == "idempotent_creation_conflict" {
				return ErrIdempotentCreationConflict
			}
		}
		return ErrInvalidState
	case "gocardless":
		return ErrProviderInternal
	}
	return ""
}

func conflictingResourceID(errs []FieldError) string {
	for _, fe := range errs {
		if id := fe.Links["conflicting_resource_id"]; id != "" {
			return id
		}
	}
	return ""
}

func malformed(status int, body []byte) *APIError {
	const maxBody = 512
	s := string(body)
	if len(s) > maxBody {
		s = s[:maxBody]
	}
	return &APIError{
		Kind:       ErrMalformedResponse,
		StatusCode: status,
		Message:    "malformed response received from server",
		Body:       s,
	}
}
