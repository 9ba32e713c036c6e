package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound is returned when a course, block, structure or definition is missing.
	ErrItemNotFound = errors.New("item not found")
	// ErrDuplicateItem is returned when a block id is already used in the structure.
	ErrDuplicateItem = errors.New("duplicate item")
	// ErrDuplicateCourse is returned when (org, course, run) already has an index.
	ErrDuplicateCourse = errors.New("duplicate course")
	// ErrVersionConflict is returned when a branch pointer moved underneath a writer.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInsufficientSpecification is returned when a key cannot resolve to one entity.
	ErrInsufficientSpecification = errors.New("insufficient specification")
	// ErrInvalidKey is returned for malformed identifiers.
	ErrInvalidKey = errors.New("invalid key")
	// ErrSchemaMismatch is returned for stored documents with an unknown schema_version.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInvalidValue is returned for policy violations such as deleting a course root.
	ErrInvalidValue = errors.New("invalid value")
)

// Error attaches the offending key (and optional detail) to one of the sentinel kinds.
type Error struct {
	Kind   error
	Key    string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Key != "" {
		msg += ": " + e.Key
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return e != nil && target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func New(kind error, key string, detail string) *Error {
	return &Error{Kind: kind, Key: key, Detail: detail}
}

func Wrap(kind error, key string, err error) *Error {
	return &Error{Kind: kind, Key: key, Err: err}
}

func NotFound(key fmt.Stringer) error {
	return &Error{Kind: ErrItemNotFound, Key: stringOf(key)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrItemNotFound, Key: fmt.Sprintf(format, args...)}
}

func DuplicateItem(key fmt.Stringer) error {
	return &Error{Kind: ErrDuplicateItem, Key: stringOf(key)}
}

func InvalidKey(raw string, detail string) error {
	return &Error{Kind: ErrInvalidKey, Key: raw, Detail: detail}
}

func InvalidValue(key fmt.Stringer, detail string) error {
	return &Error{Kind: ErrInvalidValue, Key: stringOf(key), Detail: detail}
}

func Insufficient(key fmt.Stringer, detail string) error {
	return &Error{Kind: ErrInsufficientSpecification, Key: stringOf(key), Detail: detail}
}

// VersionConflictError reports the head a writer expected and the head it found.
type VersionConflictError struct {
	Course   string
	Expected string
	Actual   string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: %s expected head %q, found %q", e.Course, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

func VersionConflict(course fmt.Stringer, expected string, actual string) error {
	return &VersionConflictError{Course: stringOf(course), Expected: expected, Actual: actual}
}

// SchemaMismatchError reports a stored document whose schema_version is not understood.
type SchemaMismatchError struct {
	Collection string
	ID         string
	Found      int
	Want       int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s %s has schema_version %d, want %d", e.Collection, e.ID, e.Found, e.Want)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

func stringOf(s fmt.Stringer) string {
	if s == nil {
		return ""
	}
	return s.String()
}
