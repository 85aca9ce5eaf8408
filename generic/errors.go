/*
errors.go - Centralized error taxonomy for the leave engine

PURPOSE:
  All error kinds in one place so every layer reports failures the same
  way. Each error carries a Kind and a human message; transports map the
  Kind to a status code without the core knowing about transports.

ERROR KINDS:
  NotFound             workspace/category/request/employee missing or cross-tenant
  Forbidden            role not permitted for the workspace
  NotMember            acting user has no active membership in the workspace
  InvalidEmployeeState action requires ACTIVE employment
  InsufficientBalance  reservation would exceed available days
  InvalidTransition    state machine rejects the requested move
  Validation           missing or malformed input
  Conflict             concurrent mutation detected on a ledger key

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) { ... }
  if generic.KindOf(err) == generic.KindForbidden { ... }

SEE ALSO:
  - api/errors.go: Kind -> HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindInternal             Kind = "internal"
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindNotMember            Kind = "not_member"
	KindInvalidEmployeeState Kind = "invalid_employee_state"
	KindInsufficientBalance  Kind = "insufficient_balance"
	KindInvalidTransition    Kind = "invalid_transition"
	KindValidation           Kind = "validation_error"
	KindConflict             Kind = "conflict"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrNotMember            = errors.New("not a member of workspace")
	ErrInvalidEmployeeState = errors.New("invalid employee state")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("concurrent modification detected")
)

var sentinels = map[Kind]error{
	KindNotFound:             ErrNotFound,
	KindForbidden:            ErrForbidden,
	KindNotMember:            ErrNotMember,
	KindInvalidEmployeeState: ErrInvalidEmployeeState,
	KindInsufficientBalance:  ErrInsufficientBalance,
	KindInvalidTransition:    ErrInvalidTransition,
	KindValidation:           ErrValidation,
	KindConflict:             ErrConflict,
}

// =============================================================================
// STRUCTURED ERRORS - Carry kind + message
// =============================================================================

// Error is the structured error returned by every core operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the per-kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	var errs []error
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error  { return newError(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) error { return newError(KindForbidden, format, args...) }
func NotMember(format string, args ...any) error { return newError(KindNotMember, format, args...) }
func InvalidEmployeeState(format string, args ...any) error {
	return newError(KindInvalidEmployeeState, format, args...)
}
func InvalidTransition(format string, args ...any) error {
	return newError(KindInvalidTransition, format, args...)
}
func Validation(format string, args ...any) error { return newError(KindValidation, format, args...) }
func Conflict(format string, args ...any) error   { return newError(KindConflict, format, args...) }

// Internal wraps an unexpected failure (usually storage) with context.
func Internal(err error, format string, args ...any) error {
	e := newError(KindInternal, format, args...)
	e.Err = err
	return e
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available Days
	Requested Days
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s, shortfall %s",
		e.Key, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvariantError reports a balance that would break the ledger invariants.
// It is a Conflict: the stored state disagrees with what the caller expects.
type InvariantError struct {
	Key    BalanceKey
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("balance invariant violated for %s: %s", e.Key, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrConflict
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the Kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to the caller's input or
// permissions rather than a system failure.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k != KindInternal && k != ""
}
