// Package failure defines the stable error kinds returned by the processing
// engine. Calling layers switch on Kind; Message is safe to show to users and
// never carries storage error text.
package failure

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable failure code.
type Kind string

const (
	NotFound                Kind = "NOT_FOUND"
	InvalidSelection        Kind = "INVALID_SELECTION"
	InvalidQuantity         Kind = "INVALID_QUANTITY"
	InvalidTransition       Kind = "INVALID_TRANSITION"
	InvalidState            Kind = "INVALID_STATE"
	AlreadyFinalized        Kind = "ALREADY_FINALIZED"
	DuplicateDay            Kind = "DUPLICATE_DAY"
	InsufficientQuantity    Kind = "INSUFFICIENT_QUANTITY"
	Unauthorized            Kind = "UNAUTHORIZED"
	ValidationError         Kind = "VALIDATION_ERROR"
	InvalidQuery            Kind = "INVALID_QUERY"
	CodeGenerationExhausted Kind = "CODE_GENERATION_EXHAUSTED"
	TransactionFailure      Kind = "TRANSACTION_FAILURE"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, failure.New(k, ""))
// and errors.Is(err, failure.Sentinel(k)) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a failure of kind with a user-safe message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinel returns a comparable value for errors.Is checks.
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// Storage wraps a storage-layer error. The wrapped error stays available to
// logs through Unwrap but is not part of Message.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: TransactionFailure, Message: op + " failed", Err: err}
}

// KindOf returns the kind of err, TransactionFailure for unclassified errors
// and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return TransactionFailure
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the message suitable for a response payload.
func PublicMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return "internal error"
}
