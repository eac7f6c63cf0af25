package auth

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"store-backend/internal/observability"
)

const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
)

type rejection struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Classify maps err onto the HTTP status, machine code and message of the standard
// rejection body. Unknown errors classify as a 500 with a generic message.
func Classify(err error) (int, string, string) {
	var locked LockedError
	var limited RateLimitedError

	switch {
	case errors.As(err, &locked):
		return http.StatusUnauthorized, CodeAccountLocked, "account temporarily locked"
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, CodeRateLimited, "too many requests"
	case errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired, "access token expired"
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized, CodeTokenInvalid, "invalid access token"
	case errors.Is(err, ErrAccountInactive):
		return http.StatusUnauthorized, CodeAccountInactive, "account is inactive"
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials"
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated, "authentication required"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden, "you do not have access to this resource"
	case errors.Is(err, ErrPasswordTooLong):
		return http.StatusBadRequest, CodeBadRequest, "password exceeds 72 bytes"
	case errors.Is(err, ErrResourceNotFound):
		return http.StatusNotFound, CodeNotFound, "resource not found"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal server error"
	}
}

// WriteError renders err as the standard rejection. Unclassified errors are reported
// to Sentry and never shown to the client.
func WriteError(w http.ResponseWriter, err error) {
	status, code, message := Classify(err)
	body := rejection{Success: false, Message: message, Code: code}

	var locked LockedError
	var limited RateLimitedError
	switch {
	case errors.As(err, &locked):
		body.RetryAfter = retryAfterSeconds(time.Until(locked.Until))
	case errors.As(err, &limited):
		body.RetryAfter = retryAfterSeconds(limited.RetryAfter)
	}
	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}

	if status == http.StatusInternalServerError {
		observability.CaptureError(err)
	}

	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, rejection{Success: false, Message: message, Code: CodeBadRequest})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
