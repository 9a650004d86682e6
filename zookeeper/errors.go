package zookeeper

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code identifies the class of failure reported by an Error. The set is
// deliberately small: it mirrors the contract-level taxonomy the emulator
// promises callers, not the full wire error space of a real ensemble.
type Code int

const (
	_ Code = iota
	ErrNoNode
	ErrNodeExists
	ErrBadVersion
	ErrNotEmpty
	ErrNoChildrenForEphemerals
	ErrSystemZookeeper
	ErrBadArguments
	ErrConnectionClosed
	ErrSessionExpired
	ErrRolledBack
	ErrRuntimeInconsistency
)

var codeNames = map[Code]string{
	ErrNoNode:                  "NoNode",
	ErrNodeExists:              "NodeExists",
	ErrBadVersion:              "BadVersion",
	ErrNotEmpty:                "NotEmpty",
	ErrNoChildrenForEphemerals: "NoChildrenForEphemerals",
	ErrSystemZookeeper:         "SystemZookeeper",
	ErrBadArguments:            "BadArguments",
	ErrConnectionClosed:        "ConnectionClosed",
	ErrSessionExpired:          "SessionExpired",
	ErrRolledBack:              "RolledBack",
	ErrRuntimeInconsistency:    "RuntimeInconsistency",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the concrete error type raised by every operation in this
// package. Path is set whenever the failure is attributable to a single
// znode; it is empty for transaction-scoped markers such as RolledBack.
// cause is only set for the catastrophic-error tier (ErrSystemZookeeper):
// an invariant violation rather than a domain outcome, so it carries a
// stack trace for whoever has to debug it instead of just a message.
type Error struct {
	Code  Code
	Path  string
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Msg)
}

// Unwrap exposes the stack-trace-carrying cause (if any) to errors.As/Is
// chains built on top of this package's own Is.
func (e *Error) Unwrap() error { return e.cause }

func newError(code Code, path, format string, args ...interface{}) *Error {
	return &Error{Code: code, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func errNoNode(path string) *Error {
	return newError(ErrNoNode, path, "node does not exist")
}

func errNodeExists(path string) *Error {
	return newError(ErrNodeExists, path, "node already exists")
}

func errBadVersion(path string, want, got int32) *Error {
	return newError(ErrBadVersion, path, "version mismatch (%d != %d)", want, got)
}

func errNotEmpty(path string, children int) *Error {
	return newError(ErrNotEmpty, path, "path is not empty (%d children exist)", children)
}

func errNoChildrenForEphemerals(path string) *Error {
	return newError(ErrNoChildrenForEphemerals, path, "parent is ephemeral")
}

// errSystemZookeeper reports a server-side invariant violation -- a bug
// reaching this call, not a recoverable precondition failure a caller
// staged -- so its cause is wrapped with a stack trace.
func errSystemZookeeper(path, reason string) *Error {
	e := newError(ErrSystemZookeeper, path, reason)
	e.cause = pkgerrors.New(reason)
	return e
}

func errBadArguments(path, reason string) *Error {
	return newError(ErrBadArguments, path, reason)
}

func errConnectionClosed() *Error {
	return newError(ErrConnectionClosed, "", "connection has been closed")
}

func errSessionExpired() *Error {
	return newError(ErrSessionExpired, "", "session has expired")
}

func errRolledBack() *Error {
	return newError(ErrRolledBack, "", "operation rolled back by a failed transaction")
}

func errRuntimeInconsistency() *Error {
	return newError(ErrRuntimeInconsistency, "", "operation never ran; a prior transaction step failed")
}

// Is reports whether err is a *Error carrying the given code. It exists so
// callers can write "zookeeper.Is(err, zookeeper.ErrNoNode)" instead of
// reaching into the concrete type.
func Is(err error, code Code) bool {
	zerr, ok := err.(*Error)
	return ok && zerr.Code == code
}
