package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const uniqueViolation = "23505"

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, ErrLockTimeout) {
		return ErrorClassTransient
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique constraint failure, optionally on the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
	KindRetryable          Kind = "retryable_conflict"
	KindDependencyDegraded Kind = "dependency_degraded"
	KindInternal           Kind = "internal"
)

// Error is a business failure with a stable machine readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinels compare equal to their detailed copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

func NewError(kind Kind, code, message string) *Error {
	if message == "" {
		message = code
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error { return NewError(KindValidation, code, message) }
func Conflict(code, message string) *Error   { return NewError(KindConflict, code, message) }
func NotFound(code, message string) *Error   { return NewError(KindNotFound, code, message) }

// KindOf reports the kind of err. Datastore conflicts that escaped the retry loop count as retryable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if IsRetryable(err) {
		return KindRetryable
	}
	return KindInternal
}

// CodeOf reports the stable code of err, or "INTERNAL" for unclassified failures.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if IsRetryable(err) {
		return ErrSerializationConflict.Code
	}
	return "INTERNAL"
}

var (
	ErrUserNotFound           = NotFound("USER_NOT_FOUND", "user not found")
	ErrEventNotFound          = NotFound("EVENT_NOT_FOUND", "event not found")
	ErrTicketTypeNotFound     = NotFound("TICKET_TYPE_NOT_FOUND", "ticket type not found")
	ErrOrderNotFound          = NotFound("ORDER_NOT_FOUND", "order not found")
	ErrRegistrationNotFound   = NotFound("REGISTRATION_NOT_FOUND", "registration not found")
	ErrPaymentNotFound        = NotFound("PAYMENT_NOT_FOUND", "payment not found")
	ErrRefundNotFound         = NotFound("REFUND_NOT_FOUND", "refund request not found")
	ErrPersonNotFound         = NotFound("PERSON_NOT_FOUND", "person not found")
	ErrCouponNotFound         = NotFound("COUPON_NOT_FOUND", "coupon not found")
	ErrFiscalDocumentNotFound = NotFound("FISCAL_DOCUMENT_NOT_FOUND", "fiscal document not found")

	ErrInvalidInput = Validation("INVALID_INPUT", "invalid input")

	ErrInsufficientStock     = Conflict("INSUFFICIENT_STOCK", "insufficient stock")
	ErrEventNotSellable      = Conflict("EVENT_NOT_SELLABLE", "event is not on sale")
	ErrMaxPerOrderExceeded   = Conflict("MAX_PER_ORDER_EXCEEDED", "quantity exceeds the per-order limit")
	ErrDuplicateRegistration = Conflict("DUPLICATE_REGISTRATION", "attendee already holds an active registration for this event")
	ErrNotEligible           = Conflict("NOT_ELIGIBLE", "attendee does not meet the ticket eligibility requirements")
	ErrInvalidState          = Conflict("INVALID_STATE", "operation not allowed in the current state")
	ErrForbidden             = Conflict("FORBIDDEN", "actor may not perform this operation")
	ErrOptimisticLockFailed  = Conflict("OPTIMISTIC_LOCK_FAILED", "optimistic lock failed")
	ErrLockTimeout           = NewError(KindRetryable, "LOCK_TIMEOUT", "lock timeout")

	ErrSerializationConflict = NewError(KindRetryable, "SERIALIZATION_CONFLICT", "concurrent update conflict, retry the operation")
	ErrDependencyUnavailable = NewError(KindDependencyDegraded, "DEPENDENCY_UNAVAILABLE", "external dependency unavailable")
)
