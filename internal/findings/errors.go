package findings

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/accesslens/accesslens/internal/model"
)

// Kind classifies an action failure.
type Kind string

const (
	KindForbidden               Kind = "FORBIDDEN"
	KindNotFound                Kind = "NOT_FOUND"
	KindValidation              Kind = "VALIDATION_ERROR"
	KindInvalidStatusTransition Kind = "INVALID_STATUS_TRANSITION"
	KindInvalidAssignee         Kind = "INVALID_ASSIGNEE"
	KindInvalidDueAt            Kind = "INVALID_DUE_AT"
	KindNoteRequiredForClose    Kind = "NOTE_REQUIRED_FOR_CLOSE"
	KindDispositionRequired     Kind = "DISPOSITION_REQUIRED"
	KindNoChanges               Kind = "NO_CHANGES"
	KindUpdateFailed            Kind = "UPDATE_FAILED"
	KindAuditInsertFailed       Kind = "AUDIT_INSERT_FAILED"
)

// Error is returned for every rejected or failed action.
type Error struct {
	Kind    Kind
	Message string

	// From and To are set for INVALID_STATUS_TRANSITION.
	From model.Status
	To   model.Status

	// Wrapped is the collaborator error for UPDATE_FAILED and
	// AUDIT_INSERT_FAILED.
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches another *Error with the same Kind, so callers can write
// errors.Is(err, findings.ErrNoChanges).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus maps the kind to a response code for transport layers.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindInvalidStatusTransition, KindInvalidAssignee, KindInvalidDueAt,
		KindNoteRequiredForClose, KindDispositionRequired, KindNoChanges:
		return http.StatusBadRequest
	case KindUpdateFailed, KindAuditInsertFailed:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Sentinels for errors.Is.
var (
	ErrForbidden               = &Error{Kind: KindForbidden}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrValidation              = &Error{Kind: KindValidation}
	ErrInvalidStatusTransition = &Error{Kind: KindInvalidStatusTransition}
	ErrInvalidAssignee         = &Error{Kind: KindInvalidAssignee}
	ErrInvalidDueAt            = &Error{Kind: KindInvalidDueAt}
	ErrNoteRequiredForClose    = &Error{Kind: KindNoteRequiredForClose}
	ErrDispositionRequired     = &Error{Kind: KindDispositionRequired}
	ErrNoChanges               = &Error{Kind: KindNoChanges}
	ErrUpdateFailed            = &Error{Kind: KindUpdateFailed}
	ErrAuditInsertFailed       = &Error{Kind: KindAuditInsertFailed}
)

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
