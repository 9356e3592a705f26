package service

import (
	"errors"
	"fmt"
)

// Error classes. Every error a service returns matches exactly one of them with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// Error carries a short message that is safe to show to the client
type Error struct {
	kind    error
	message string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Is(target error) bool {
	return target == e.kind
}

// Kind returns the error class
func (e *Error) Kind() error {
	return e.kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

func notFoundError(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func internalError(format string, args ...any) error {
	return newError(ErrInternal, format, args...)
}
