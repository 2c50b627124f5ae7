package debrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"streamforge/internal/lock"
)

// ErrorCode classifies adapter failures independent of the backend wire shape.
type ErrorCode string

const (
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeTooManyRequests     ErrorCode = "TOO_MANY_REQUESTS"
	CodeInternalServerError ErrorCode = "INTERNAL_SERVER_ERROR"
	CodeNotImplemented      ErrorCode = "NOT_IMPLEMENTED"
	CodeServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	CodeNoMatchingFile      ErrorCode = "NO_MATCHING_FILE"
	CodeLockTimeout         ErrorCode = "LOCK_TIMEOUT"
	CodeUnknown             ErrorCode = "UNKNOWN"
)

// Error is the typed failure every adapter method returns. It carries an
// HTTP-shaped status code so transport handlers can forward it directly.
type Error struct {
	StatusCode int
	Code       ErrorCode
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("debrid: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("debrid: %s (%d)", e.Code, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds an Error for the given code with its canonical status.
func NewError(code ErrorCode, message string) *Error {
	return &Error{StatusCode: statusForCode(code), Code: code, Message: message}
}

func statusForCode(code ErrorCode) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadRequest, CodeNoMatchingFile:
		return http.StatusBadRequest
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeNotImplemented:
		return http.StatusNotImplemented
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeLockTimeout:
		return http.StatusGatewayTimeout
	case CodeInternalServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusTooManyRequests:
		return CodeTooManyRequests
	case http.StatusNotImplemented:
		return CodeNotImplemented
	case http.StatusServiceUnavailable:
		return CodeServiceUnavailable
	case http.StatusInternalServerError:
		return CodeInternalServerError
	default:
		return CodeUnknown
	}
}

// errorFromStatus maps an upstream HTTP status to a typed Error.
func errorFromStatus(status int, message string) *Error {
	return &Error{StatusCode: status, Code: codeForStatus(status), Message: message}
}

// AsError coerces any error into an *Error. Lock timeouts become
// LOCK_TIMEOUT; context deadlines become UNKNOWN with a 504 status.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr
	}
	switch {
	case errors.Is(err, lock.ErrTimeout):
		return &Error{StatusCode: http.StatusGatewayTimeout, Code: CodeLockTimeout, Message: err.Error(), cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{StatusCode: http.StatusGatewayTimeout, Code: CodeUnknown, Message: err.Error(), cause: err}
	default:
		return &Error{StatusCode: http.StatusInternalServerError, Code: CodeUnknown, Message: err.Error(), cause: err}
	}
}
