package apierr

import (
	"errors"
	"fmt"
	"net/http"

	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromStore maps modulestore error kinds onto HTTP statuses.
func FromStore(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, mserr.ErrItemNotFound):
		return New(http.StatusNotFound, "item_not_found", err)
	case errors.Is(err, mserr.ErrDuplicateItem):
		return New(http.StatusConflict, "duplicate_item", err)
	case errors.Is(err, mserr.ErrDuplicateCourse):
		return New(http.StatusConflict, "duplicate_course", err)
	case errors.Is(err, mserr.ErrVersionConflict):
		return New(http.StatusConflict, "version_conflict", err)
	case errors.Is(err, mserr.ErrInvalidKey):
		return New(http.StatusBadRequest, "invalid_key", err)
	case errors.Is(err, mserr.ErrInsufficientSpecification):
		return New(http.StatusBadRequest, "insufficient_specification", err)
	case errors.Is(err, mserr.ErrInvalidValue):
		return New(http.StatusUnprocessableEntity, "invalid_value", err)
	case errors.Is(err, mserr.ErrSchemaMismatch):
		return New(http.StatusInternalServerError, "schema_mismatch", err)
	default:
		return New(http.StatusInternalServerError, "internal", err)
	}
}
