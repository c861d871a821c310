package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrConflict matches writes rejected by a unique key.
var ErrConflict = errors.New("unique key conflict")

// Error carries the store's own message for a failed operation so callers
// can surface it as-is.
type Error struct {
	Op    string // select, insert, update, delete, subscribe
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err wrapped as a *Error unless it already is one or is nil.
func Wrap(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Table: table, Err: err}
}

// IsStoreError reports whether err originated in the row store.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

type conflictError struct{ error }

func (e conflictError) Is(target error) bool { return target == ErrConflict }
func (e conflictError) Unwrap() error        { return e.error }

// Conflict builds a unique-key violation that matches ErrConflict.
func Conflict(format string, args ...any) error {
	return MarkConflict(fmt.Errorf(format, args...))
}

// MarkConflict makes err match ErrConflict while keeping its message and chain.
func MarkConflict(err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	return conflictError{err}
}

// IsConflict reports whether err is a unique-key violation.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
