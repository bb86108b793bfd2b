package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// Is matches any AppError carrying the same code, so callers can test
// errors.Is(err, errors.ErrKind(errors.ErrNotReady)).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// StatusCode maps the error code onto an HTTP status.
func (e *AppError) StatusCode() int {
	return e.Code.HTTPStatus()
}

const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrInvalidState
	ErrAlreadyInProgress
	ErrNotReady
	ErrExtractionFailure
	ErrValidation
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrBadRequest:
		return "BAD_REQUEST"
	case ErrUnauthorized:
		return "UNAUTHORIZED"
	case ErrForbidden:
		return "FORBIDDEN"
	case ErrInvalidState:
		return "INVALID_STATE"
	case ErrAlreadyInProgress:
		return "ALREADY_IN_PROGRESS"
	case ErrNotReady:
		return "NOT_READY"
	case ErrExtractionFailure:
		return "EXTRACTION_FAILURE"
	case ErrValidation:
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL"
	}
}

func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInvalidState, ErrAlreadyInProgress:
		return http.StatusConflict
	case ErrNotReady:
		return http.StatusTooEarly
	case ErrExtractionFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrKind returns a bare AppError usable as an errors.Is target.
func ErrKind(code ErrorCode) *AppError {
	return &AppError{Code: code}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

func IsNotFound(err error) bool          { return CodeOf(err) == ErrNotFound }
func IsInvalidState(err error) bool      { return CodeOf(err) == ErrInvalidState }
func IsAlreadyInProgress(err error) bool { return CodeOf(err) == ErrAlreadyInProgress }
func IsNotReady(err error) bool          { return CodeOf(err) == ErrNotReady }
func IsExtractionFailure(err error) bool { return CodeOf(err) == ErrExtractionFailure }
func IsValidation(err error) bool        { return CodeOf(err) == ErrValidation }

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewInvalidState(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidState,
		Message: message,
	}
}

func NewAlreadyInProgress(message string) *AppError {
	return &AppError{
		Code:    ErrAlreadyInProgress,
		Message: message,
	}
}

func NewNotReady(message string) *AppError {
	return &AppError{
		Code:    ErrNotReady,
		Message: message,
	}
}

func NewExtractionFailure(message string, err error) *AppError {
	return &AppError{
		Code:    ErrExtractionFailure,
		Message: message,
		Err:     err,
	}
}

func NewValidation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}
