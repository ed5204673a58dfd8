package ledger

import (
	"errors"
	"fmt"
)

// Error is a domain error with a stable machine-readable code. Messages are
// deliberately generic: they must not reveal thresholds, deficits or other
// balance internals to the caller.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match any *Error with the same code, so wrapped
// internal errors still compare equal to ErrInternal.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

var (
	ErrAccountNotFound  = &Error{Code: "ACCOUNT_NOT_FOUND", Message: "account not found"}
	ErrPersonNotFound   = &Error{Code: "PERSON_NOT_FOUND", Message: "person not found"}
	ErrAccountBlocked   = &Error{Code: "ACCOUNT_BLOCKED", Message: "account is blocked"}
	ErrAlreadyBlocked   = &Error{Code: "ALREADY_BLOCKED", Message: "account is already blocked"}
	ErrAlreadyUnblocked = &Error{Code: "ALREADY_UNBLOCKED", Message: "account is already active"}

	ErrInvalidAmount      = &Error{Code: "INVALID_AMOUNT", Message: "invalid amount"}
	ErrInsufficientFunds  = &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient funds"}
	ErrDailyLimitExceeded = &Error{Code: "DAILY_LIMIT_EXCEEDED", Message: "daily withdrawal limit exceeded"}

	// ErrIdempotencyKeyConflict signals a key reused across accounts. This is
	// a caller bug, not a retryable condition.
	ErrIdempotencyKeyConflict = &Error{Code: "IDEMPOTENCY_KEY_CONFLICT", Message: "idempotency key already used by another account"}

	// ErrDuplicateIdempotencyKey is the store-level race signal: two
	// concurrent requests raced on the same key and this one lost. The engine
	// normally converts it into a replay before it reaches a caller.
	ErrDuplicateIdempotencyKey = &Error{Code: "DUPLICATE_IDEMPOTENCY_KEY", Message: "idempotency key already exists"}

	ErrInternal = &Error{Code: "INTERNAL", Message: "internal error"}
)

// Internal wraps an unclassified backend failure so callers see a single
// opaque code regardless of the underlying driver error.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: ErrInternal.Code, Message: ErrInternal.Message, cause: err}
}

// IsDomain reports whether err carries one of the caller-facing domain codes
// (everything except INTERNAL). Domain errors are never retried.
func IsDomain(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code != ErrInternal.Code
}
