// Package errors defines the portal's error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeRegistrationFailed ErrorCode = "REGISTRATION_FAILED"
	CodeFetchFailed        ErrorCode = "FETCH_FAILED"
	CodeValidation         ErrorCode = "VALIDATION_FAILED"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error with a code, a user-safe message and an HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail entry and returns e.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, message string, status int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Unauthorized reports a missing or rejected session.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return newError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// InvalidCredentials reports a failed login. The message is deliberately generic.
func InvalidCredentials(err error) *ServiceError {
	return newError(CodeInvalidCredentials, "Invalid credentials", http.StatusUnauthorized, err)
}

// RegistrationFailed reports a rejected registration.
func RegistrationFailed(err error) *ServiceError {
	return newError(CodeRegistrationFailed, "Registration failed", http.StatusBadRequest, err)
}

// FetchFailed reports a failed call to the patient API for the named operation.
func FetchFailed(operation string, err error) *ServiceError {
	return newError(CodeFetchFailed, operation+" failed", http.StatusBadGateway, err).
		WithDetails("operation", operation)
}

// Validation reports client-side input that was not sent.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, message, http.StatusBadRequest, nil)
}

// RateLimitExceeded reports a throttled client.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, "Too many requests", http.StatusTooManyRequests, nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, message, http.StatusInternalServerError, err)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	serviceErr := GetServiceError(err)
	return serviceErr != nil && serviceErr.Code == code
}
