package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ferro-labs/verifygw/internal/auth"
	"github.com/ferro-labs/verifygw/internal/chat"
	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/policy"
	"github.com/ferro-labs/verifygw/internal/provider"
	"github.com/ferro-labs/verifygw/internal/store"
	"github.com/ferro-labs/verifygw/internal/verification"
	"github.com/go-playground/validator/v10"
)

// writeError writes the JSON error envelope:
//
//	{"error":{"message":"...","type":"...","code":"..."}}
//
// errType and code may be empty; defaults are derived from the HTTP status.
func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	if errType == "" {
		errType = defaultErrType(status)
	}
	if code == "" {
		code = errType
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}

func defaultErrType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusConflict:
		return "conflict_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusBadGateway:
		return "provider_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps a service error to a status and writes it. Server
// side failures are logged and answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs validator.ValidationErrors
		bad   *badRequestError
	)
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, bad.msg, "", "bad_request")
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, validationMessage(verrs), "", "validation_failed")
	case errors.Is(err, provider.ErrInvalidIdentity),
		errors.Is(err, policy.ErrInvalid),
		errors.Is(err, coordinator.ErrInvalidNamespace),
		errors.Is(err, coordinator.ErrInvalidFields):
		writeError(w, http.StatusBadRequest, err.Error(), "", "validation_failed")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error(), "", "validation_failed")
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Invalid email or password", "", "invalid_credentials")
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "Email already registered", "", "email_taken")
	case errors.Is(err, auth.ErrTokensDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "", "tokens_disabled")
	case errors.Is(err, verification.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error(), "", "unknown_provider")
	case errors.Is(err, policy.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, provider.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMessage(err), "", "not_found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), "", "conflict")
	case errors.Is(err, context.DeadlineExceeded):
		logging.FromContext(r.Context()).Error("request timed out", "error", err)
		writeError(w, http.StatusGatewayTimeout, "upstream request timed out", "provider_error", "timeout")
	case errors.Is(err, coordinator.ErrFetchFailed):
		logging.FromContext(r.Context()).Error("provider request failed", "error", err)
		writeError(w, http.StatusBadGateway, "provider request failed", "", "provider_unavailable")
	case errors.Is(err, coordinator.ErrCacheUnavailable):
		logging.FromContext(r.Context()).Error("cache unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "cache unavailable", "", "cache_unavailable")
	default:
		logging.FromContext(r.Context()).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "", "")
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return chat.ErrSessionNotFound.Error()
	case errors.Is(err, policy.ErrNotFound), errors.Is(err, provider.ErrNotFound):
		return policy.ErrNotFound.Error()
	default:
		return "resource not found"
	}
}
