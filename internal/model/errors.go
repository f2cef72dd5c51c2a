package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a RouterError for mapping onto the tool-protocol
// error surface. Internal packages return plain wrapped errors; only the
// router server layer classifies them into a RouterError.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindBadInput      ErrorKind = "bad_input"
	KindForeignSession ErrorKind = "foreign_session"
	KindTransient     ErrorKind = "transient"
	KindFatal         ErrorKind = "fatal"
)

// RouterError wraps a cause with a classification used to shape the tool
// error response (JSON-RPC code and message).
type RouterError struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *RouterError) Unwrap() error { return e.Cause }

// NewRouterError builds a classified error, optionally wrapping a cause.
func NewRouterError(kind ErrorKind, msg string, cause error) *RouterError {
	return &RouterError{Kind: kind, Msg: msg, Cause: cause}
}

// NotFound reports a missing agent, command, job, or session.
func NotFound(msg string) *RouterError { return NewRouterError(KindNotFound, msg, nil) }

// BadInput reports a malformed or invalid caller argument.
func BadInput(msg string, cause error) *RouterError {
	return NewRouterError(KindBadInput, msg, cause)
}

// ForeignSession reports an attempt to operate on a job owned by a
// different session than the caller's.
func ForeignSession(msg string) *RouterError {
	return NewRouterError(KindForeignSession, msg, nil)
}

// Transient reports a failure a caller may reasonably retry.
func Transient(msg string, cause error) *RouterError {
	return NewRouterError(KindTransient, msg, cause)
}

// Fatal reports an unrecoverable internal failure.
func Fatal(msg string, cause error) *RouterError {
	return NewRouterError(KindFatal, msg, cause)
}

// JSON-RPC error codes used at the MCP tool boundary.
const (
	ToolErrInvalidParams = -32602
	ToolErrInternal      = -32000
)

// ToToolError maps any error onto the (code, message) pair the MCP
// boundary reports. Non-RouterError causes classify as internal.
func ToToolError(err error) (code int, message string) {
	if err == nil {
		return 0, ""
	}
	var routerErr *RouterError
	if errors.As(err, &routerErr) {
		switch routerErr.Kind {
		case KindNotFound, KindBadInput, KindForeignSession:
			return ToolErrInvalidParams, routerErr.Error()
		default:
			return ToolErrInternal, routerErr.Error()
		}
	}
	return ToolErrInternal, err.Error()
}
