package errs

import (
	"errors"
	"strings"
)

// Error is a structured failure with enough detail for a client to react
// programmatically: the kind (one of the sentinels) and the offending field or entity.
type Error struct {
	Kind   error  // sentinel, e.g. ErrValidation
	Field  string // offending input field, optional
	Entity string // offending entity id, optional
	Msg    string
}

// Error implements error as "kind: field: msg".
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Entity != "" {
		b.WriteString(" [")
		b.WriteString(e.Entity)
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Unwrap lets errors.Is match the sentinel kind.
func (e *Error) Unwrap() error { return e.Kind }

// Validation reports malformed input in field.
func Validation(field, msg string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Msg: msg}
}

// NotFound reports an absent entity.
func NotFound(entity, msg string) *Error {
	return &Error{Kind: ErrNotFound, Entity: entity, Msg: msg}
}

// Forbidden reports a missing capability on entity.
func Forbidden(entity, msg string) *Error {
	return &Error{Kind: ErrForbidden, Entity: entity, Msg: msg}
}

// InvalidOperation reports an operation rejected to keep an invariant.
func InvalidOperation(entity, msg string) *Error {
	return &Error{Kind: ErrInvalidOperation, Entity: entity, Msg: msg}
}

// Conflict reports a lost race or a rejected scheduling overlap.
func Conflict(entity, msg string) *Error {
	return &Error{Kind: ErrConflict, Entity: entity, Msg: msg}
}

// ResourceExhausted reports a capacity limit.
func ResourceExhausted(entity, msg string) *Error {
	return &Error{Kind: ErrResourceExhausted, Entity: entity, Msg: msg}
}

// Details extracts the structured part of err, if any.
func Details(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
