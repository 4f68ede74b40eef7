// Package apperr defines the error kinds shared by the clinical and billing
// domains. Services return these instead of panicking or stringly-typed
// errors so that handlers and the POS bridge can branch on the kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	// Unknown is the zero kind; KindOf returns it for errors created
	// outside this package.
	Unknown Kind = iota
	// PreconditionMissing means a state transition requires a field that
	// is not set (no practitioner on check-in, no billing party, ...).
	PreconditionMissing
	// IllegalTransition means the state machine forbids this arc.
	IllegalTransition
	// ResourceBusy means a room is already booked for an overlapping slot.
	ResourceBusy
	// DuplicateEncounter means a second encounter for the same
	// (billing party, date) was attempted; callers get the existing one.
	DuplicateEncounter
	// NoBillableItems means completion requires at least one service or
	// pending line and none exist.
	NoBillableItems
	// LinkedToPosLine means cancellation is blocked by a downstream POS
	// line binding.
	LinkedToPosLine
	// TransitionFailed means the underlying store refused the write.
	TransitionFailed
	// ConfigurationMissing means a reserved sequence or partner type
	// record was not found.
	ConfigurationMissing
	// NotFound means the referenced record does not exist.
	NotFound
)

var kindNames = map[Kind]string{
	Unknown:              "unknown",
	PreconditionMissing:  "precondition_missing",
	IllegalTransition:    "illegal_transition",
	ResourceBusy:         "resource_busy",
	DuplicateEncounter:   "duplicate_encounter",
	NoBillableItems:      "no_billable_items",
	LinkedToPosLine:      "linked_to_pos_line",
	TransitionFailed:     "transition_failed",
	ConfigurationMissing: "configuration_missing",
	NotFound:             "not_found",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error carries a kind plus a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, apperr.E(kind, ...)) match on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// E builds a kinded error with a formatted message.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a kinded error around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// HTTPStatus maps an error kind to the status the operational API uses.
// The remote booking API deliberately ignores this and answers 200.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case PreconditionMissing, NoBillableItems:
		return http.StatusUnprocessableEntity
	case IllegalTransition, LinkedToPosLine:
		return http.StatusConflict
	case ResourceBusy, DuplicateEncounter:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case ConfigurationMissing, TransitionFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
