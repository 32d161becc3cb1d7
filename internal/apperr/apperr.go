// Package apperr classifies the failures that end an import run.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class reported to the operator and stored in the run ledger.
type Kind string

const (
	KindConfiguration    Kind = "CONFIGURATION_ERROR"
	KindConnection       Kind = "CONNECTION_ERROR"
	KindRemoteNotFound   Kind = "REMOTE_FILE_NOT_FOUND"
	KindLocalFileMissing Kind = "LOCAL_FILE_MISSING"
	KindSchemaMismatch   Kind = "SCHEMA_MISMATCH"
	KindIO               Kind = "IO_ERROR"

	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = "UNKNOWN_ERROR"
)

// Error wraps an underlying failure with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is New with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
