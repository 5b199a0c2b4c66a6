package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationEmptyRecipients ErrorCode = "validation_empty_recipient_list"
	ErrCodeValidationRecipientLimit  ErrorCode = "validation_recipient_limit_exceeded"
	ErrCodeValidationInvalidTemplate ErrorCode = "validation_invalid_template"
	ErrCodeValidationInvalidBatch    ErrorCode = "validation_invalid_batch_message"

	// Auth (401)
	ErrCodeAuthTokenMissing     ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid     ErrorCode = "auth_token_invalid"
	ErrCodeAuthSignatureMissing ErrorCode = "auth_signature_missing"
	ErrCodeAuthSignatureInvalid ErrorCode = "auth_signature_invalid"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundJob       ErrorCode = "not_found_job"
	ErrCodeNotFoundTemplate  ErrorCode = "not_found_template"
	ErrCodeNotFoundRecipient ErrorCode = "not_found_recipient"

	// Conflict (409)
	ErrCodeConflictJobExists      ErrorCode = "conflict_job_exists"
	ErrCodeConflictTemplateExists ErrorCode = "conflict_template_exists"
	ErrCodeConflictConcurrent     ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalStore          ErrorCode = "internal_store_error"
	ErrCodeInternalUnexpected     ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmailProvider  ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamIdentity       ErrorCode = "upstream_identity_provider_unavailable"
	ErrCodeUpstreamBroker         ErrorCode = "upstream_broker_unavailable"
	ErrCodeUpstreamUnavailable    ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited    ErrorCode = "upstream_rate_limited"

	// Recipient-specific
	ErrCodeEmailBlocked ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates an AppError with the given code, message, and wrapped error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates an AppError carrying structured details for
// the client (e.g., which field failed validation).
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsRateLimited reports whether err (or anything it wraps) carries the
// upstream rate-limit code. The batch processor uses this to decide whether
// a failed send is worth retrying with backoff.
func IsRateLimited(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeUpstreamRateLimited
	}
	return false
}
