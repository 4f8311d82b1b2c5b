package shared

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so callers can branch on category
// instead of matching message text.
type Kind string

const (
	// KindInvalidAmount rejects non-positive payment or entry amounts.
	KindInvalidAmount Kind = "INVALID_AMOUNT"
	// KindInvalidTarget rejects unknown or ineligible allocation targets.
	KindInvalidTarget Kind = "INVALID_TARGET"
	// KindCustomerMismatch rejects targets owned by another customer.
	KindCustomerMismatch Kind = "CUSTOMER_MISMATCH"
	// KindInvalidEntry rejects malformed ledger entries on append.
	KindInvalidEntry Kind = "INVALID_ENTRY"
	// KindNotFound indicates a missing customer, order or payment.
	KindNotFound Kind = "NOT_FOUND"
	// KindStoreUnavailable marks transient store failures; callers may
	// retry with an idempotency key.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	// KindInternalConsistency marks ledger integrity violations. These
	// are operator-facing and must never be reported as user mistakes.
	KindInternalConsistency Kind = "INTERNAL_CONSISTENCY"
)

// Error carries a Kind alongside the message and optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kinded error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may safely retry the
// operation, provided it supplies an idempotency key.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStoreUnavailable
}

// UserSafeMessage returns a message suitable for API clients. Internal
// consistency failures are masked; everything else is input feedback.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindInternalConsistency {
		return "internal error, the operation was aborted"
	}
	return err.Error()
}

// ErrIdempotencyConflict indicates a duplicate posting key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")
