// Package apperr provides standardized error handling for the fan-out
// gateway, mirroring the wire error taxonomy: structured error codes,
// automatic HTTP status mapping, and optional debug details.
//
// Usage patterns:
//
//	return apperr.Forbidden("channel not permitted for this role")
//	return apperr.Wrap(apperr.CodeUpstream, "verification call failed", err)
//	c.JSON(err.StatusCode, err.ToResponse())
package apperr

import (
	"fmt"
	"net/http"
)

// AppError represents a standardized application error with HTTP context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON shape returned to HTTP callers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes, one per wire-visible error kind.
const (
	CodeAuthMissing   = "AUTH_MISSING"
	CodeAuthMalformed = "AUTH_MALFORMED"
	CodeAuthExpired   = "AUTH_EXPIRED"
	CodeAuthRejected  = "AUTH_REJECTED"
	CodeUpstream      = "UPSTREAM_UNAVAILABLE"
	CodeForbidden     = "FORBIDDEN"
	CodeDuplicate     = "DUPLICATE_CONNECTION"
	CodeThrottled     = "THROTTLED"
	CodeValidation    = "VALIDATION_FAILED"
	CodeRateLimited   = "RATE_LIMIT_EXCEEDED"
	CodeNotFound      = "NOT_FOUND"
	CodeInternal      = "INTERNAL_SERVER_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeBadRequest    = "BAD_REQUEST"
)

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusFor(code)}
}

func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusFor(code)}
}

func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusFor(code string) int {
	switch code {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeAuthMissing, CodeAuthMalformed, CodeAuthExpired, CodeAuthRejected:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicate:
		return http.StatusConflict
	case CodeThrottled, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstream, CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code, Details: e.Details}
}

// Convenience constructors, one per error kind.

func AuthMissing() *AppError   { return New(CodeAuthMissing, "credential missing") }
func AuthMalformed() *AppError { return New(CodeAuthMalformed, "credential malformed") }
func AuthExpired() *AppError   { return New(CodeAuthExpired, "credential expired") }
func AuthRejected(reason string) *AppError {
	return New(CodeAuthRejected, fmt.Sprintf("credential rejected: %s", reason))
}
func UpstreamUnavailable(err error) *AppError {
	return Wrap(CodeUpstream, "upstream verification unavailable", err)
}
func Forbidden(message string) *AppError { return New(CodeForbidden, message) }
func Duplicate(existingSocketID string) *AppError {
	return NewWithDetails(CodeDuplicate, "duplicate connection", existingSocketID)
}
func Throttled() *AppError { return New(CodeThrottled, "too many handshake attempts") }
func ValidationFailed(message string) *AppError {
	return New(CodeValidation, message)
}
func RateLimited() *AppError { return New(CodeRateLimited, "rate limit exceeded") }
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}
func Internal(message string) *AppError     { return New(CodeInternal, message) }
func Unavailable(service string) *AppError {
	return New(CodeUnavailable, fmt.Sprintf("%s is currently unavailable", service))
}
func Unauthorized(message string) *AppError { return New(CodeUnauthorized, message) }
func BadRequest(message string) *AppError   { return New(CodeBadRequest, message) }
