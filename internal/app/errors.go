package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"hydrowave/api/internal/auth"
	"hydrowave/api/internal/authpw"
	"hydrowave/api/internal/export"
	"hydrowave/api/internal/geocode"
	"hydrowave/api/internal/insight"
	"hydrowave/api/internal/media"
	"hydrowave/api/internal/rbac"
	"hydrowave/api/internal/upstream"
	"hydrowave/api/internal/validation"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, fields ...string) *DomainError {
	var details any
	if len(fields) > 0 {
		details = map[string]any{"fields": fields}
	}
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

var (
	errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errNotFound  = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
)

// mapError turns any service error into the response status, code, message
// and details. Unknown errors become a 500 without leaking their text.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), map[string]any{"fields": verr.FieldNames()}
	}

	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, rbac.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil
	case errors.Is(err, authpw.ErrUsernameTaken):
		return http.StatusBadRequest, "USERNAME_TAKEN", "Username already taken", nil
	case errors.Is(err, authpw.ErrMissingCredentials):
		return http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required", map[string]any{"fields": []string{"username", "password"}}
	case errors.Is(err, media.ErrNotImage):
		return http.StatusBadRequest, "VALIDATION_ERROR", "image must be a JPEG, PNG, GIF or WebP file", map[string]any{"fields": []string{"image"}}
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusBadRequest, "VALIDATION_ERROR", "image is too large", map[string]any{"fields": []string{"image"}}
	case errors.Is(err, media.ErrNotConfigured):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Image storage not configured", nil
	case errors.Is(err, insight.ErrNotConfigured):
		return http.StatusServiceUnavailable, "INSIGHT_UNAVAILABLE", "AI insight not configured", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "VALIDATION_ERROR", "format must be html or pdf", map[string]any{"fields": []string{"format"}}
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, upstream.ErrTimeout):
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Upstream request timed out", nil
	case errors.Is(err, upstream.ErrUnavailable), errors.As(err, &statusErr),
		errors.Is(err, insight.ErrEmptyAnswer), errors.Is(err, geocode.ErrInvalidResponse):
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream service error", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// mapGeocodeError keeps the geocoding endpoints' own messages and passes the
// provider's status through.
func mapGeocodeError(err error) (status int, code, message string, details any) {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, upstream.ErrTimeout):
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Geocoding request timed out", nil
	case errors.As(err, &statusErr):
		return statusErr.StatusCode, "UPSTREAM_ERROR", "Geocoding service unavailable", nil
	default:
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Geocoding service unavailable", nil
	}
}
