package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps a service error onto an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var apiErr *gateway.APIError
	switch {
	case core.IsValidation(err):
		return http.StatusUnprocessableEntity, log.ErrorTypeValidation
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case core.IsNotFound(err):
		return http.StatusNotFound, log.ErrorTypeNotFound
	case errors.Is(err, core.ErrNoLinkedAccount):
		return http.StatusBadRequest, "no_linked_account"
	case errors.Is(err, core.ErrLinkExpired):
		return http.StatusBadRequest, "link_expired"
	case errors.Is(err, gateway.ErrConfiguration):
		return http.StatusInternalServerError, log.ErrorTypeConfiguration
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, string(gateway.ErrRateLimited)
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, string(apiErr.Kind)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, log.ErrorTypeInternal
	}
}

// writeServiceError logs err and answers with its mapped status. Internal
// failures are not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	logger := log.FromContext(r.Context())

	msg := err.Error()
	switch {
	case status >= 500:
		fields := log.NewFields().
			WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent"))
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, logger.Component(), op, fields)
		if code == log.ErrorTypeInternal {
			msg = "internal server error"
		}
	default:
		logger.WarnContext(r.Context(), "Request rejected", log.FieldOperation, op, log.FieldError, err, log.FieldStatusCode, status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
