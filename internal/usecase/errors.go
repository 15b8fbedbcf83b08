package usecase

import "fmt"

// ErrorCode classifies why a chat turn or session read was refused. The
// handler maps each code to one HTTP status; stream frames never carry it.
//
// NOT_FOUND also covers sessions owned by another user. STORAGE_ERROR is
// only returned before the provider is called; a reply that fails to
// persist is logged instead.
type ErrorCode string

const (
	ErrorValidation      ErrorCode = "VALIDATION_ERROR"
	ErrorNotFound        ErrorCode = "NOT_FOUND"
	ErrorUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorProvider        ErrorCode = "PROVIDER_ERROR"
	ErrorStorage         ErrorCode = "STORAGE_ERROR"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error is returned by ChatService. Reason is a stable snake_case token
// safe to show callers; Err keeps the store or provider cause for logs.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
