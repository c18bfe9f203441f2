package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. Handlers bind user-visible messages to
// kinds, never to error strings.
type Kind string

const (
	KindAlreadyAssigned     Kind = "already_assigned"
	KindAlreadyCancelled    Kind = "already_cancelled"
	KindCannotPerformAction Kind = "cannot_perform_action"
	KindDeliveryTimeout     Kind = "delivery_timeout"
	KindInvalidCode         Kind = "invalid_code"
	KindInvalidLocation     Kind = "invalid_location"
	KindNotFound            Kind = "not_found"
	KindConflictNotFound    Kind = "conflict_not_found"
	KindForbiddenAccess     Kind = "forbidden_access"
	KindUnsupportedType     Kind = "unsupported_type"
	KindAlreadyReported     Kind = "already_reported"
	KindConflictAssigned    Kind = "conflict_assigned"
	KindInvalidInput        Kind = "invalid_input"
	KindInternal            Kind = "internal"
)

// Error is a tagged service error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind. A double assignment is also a
// CannotPerformAction.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindConflictAssigned && t.Kind == KindCannotPerformAction
}

// Sentinels for errors.Is.
var (
	ErrAlreadyAssigned     = &Error{Kind: KindAlreadyAssigned}
	ErrAlreadyCancelled    = &Error{Kind: KindAlreadyCancelled}
	ErrCannotPerformAction = &Error{Kind: KindCannotPerformAction}
	ErrDeliveryTimeout     = &Error{Kind: KindDeliveryTimeout}
	ErrInvalidCode         = &Error{Kind: KindInvalidCode}
	ErrInvalidLocation     = &Error{Kind: KindInvalidLocation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflictNotFound    = &Error{Kind: KindConflictNotFound}
	ErrForbiddenAccess     = &Error{Kind: KindForbiddenAccess}
	ErrUnsupportedType     = &Error{Kind: KindUnsupportedType}
	ErrAlreadyReported     = &Error{Kind: KindAlreadyReported}
	ErrConflictAssigned    = &Error{Kind: KindConflictAssigned}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrInternal            = &Error{Kind: KindInternal}
)

// fail builds a tagged error for op.
func fail(op string, kind Kind) error {
	return &Error{Kind: kind, Op: op}
}

// invalid builds an InvalidInput error with a reason.
func invalid(op, reason string) error {
	return &Error{Kind: KindInvalidInput, Op: op, Err: errors.New(reason)}
}

// internal wraps an infrastructure failure.
func internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
