package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a control-plane failure for API status mapping.
type ErrorKind string

const (
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindTimeout            ErrorKind = "timeout"
	KindClusterError       ErrorKind = "cluster_error"
)

// Error is a classified control-plane error. The Kind drives the HTTP
// status at the API layer; the wrapped cause is preserved for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewInvalidArgument reports a caller mistake that retrying cannot fix.
func NewInvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound reports a missing session, alias, or index.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflict reports an operation applied to an entity in the wrong state.
func NewConflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewPreconditionFailed reports a violated environmental precondition,
// such as an index that already exists or a failed validation.
func NewPreconditionFailed(format string, args ...any) *Error {
	return &Error{Kind: KindPreconditionFailed, Message: fmt.Sprintf(format, args...)}
}

// NewTimeout reports an exceeded wall-clock deadline.
func NewTimeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// WrapClusterError wraps a transport or cluster-level failure.
func WrapClusterError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindClusterError, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. Errors
// without a classification are treated as cluster errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindClusterError
}
