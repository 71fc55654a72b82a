package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Match them with errors.Is against any error returned by the
// domain, service or client layers.
var (
	ErrKindUnauthenticated     = errors.New("unauthenticated")
	ErrKindValidation          = errors.New("validation error")
	ErrKindProvider            = errors.New("provider error")
	ErrKindIdempotencyConflict = errors.New("idempotency conflict")
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrUnauthenticated() *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: "authentication required", Err: ErrKindUnauthenticated}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg, Err: ErrKindValidation}
}

// ErrFieldValidation reports a validation failure tied to a single input field.
func ErrFieldValidation(field, msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg, Field: field, Err: ErrKindValidation}
}

// ErrProvider wraps a failed call to a payment or subscription backend.
func ErrProvider(msg string, err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Message: msg, Err: errors.Join(ErrKindProvider, err)}
}

func ErrIdempotencyConflict(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg, Err: ErrKindIdempotencyConflict}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
