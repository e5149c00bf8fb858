package repl

import (
	"errors"
	"fmt"
)

// Code is one of the abstract error kinds a coordinator operation can fail with.
type Code int

const (
	CodeInternalError Code = iota
	CodeNotYetInitialized
	CodeAlreadyInitialized
	CodeConfigurationInProgress
	CodeNotMaster
	CodeNotMasterOrSecondary
	CodeExceededTimeLimit
	CodeNodeNotFound
	CodeNamespaceExists
	CodeNamespaceNotFound
	CodeUnknownReplWriteConcern
	CodeShutdownInProgress
	CodeNoReplicationEnabled
	CodeNotSecondary
)

func (c Code) String() string {
	switch c {
	case CodeNotYetInitialized:
		return "NotYetInitialized"
	case CodeAlreadyInitialized:
		return "AlreadyInitialized"
	case CodeConfigurationInProgress:
		return "ConfigurationInProgress"
	case CodeNotMaster:
		return "NotMaster"
	case CodeNotMasterOrSecondary:
		return "NotMasterOrSecondaryCode"
	case CodeExceededTimeLimit:
		return "ExceededTimeLimit"
	case CodeNodeNotFound:
		return "NodeNotFound"
	case CodeNamespaceExists:
		return "NamespaceExists"
	case CodeNamespaceNotFound:
		return "NamespaceNotFound"
	case CodeUnknownReplWriteConcern:
		return "UnknownReplWriteConcern"
	case CodeShutdownInProgress:
		return "ShutdownInProgress"
	case CodeNoReplicationEnabled:
		return "NoReplicationEnabled"
	case CodeNotSecondary:
		return "NotSecondary"
	default:
		return "InternalError"
	}
}

// Error is the coordinator and catalog's error type: an abstract Code plus a
// human-readable reason. Callers should compare with errors.As and inspect Code,
// never match on the message.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	if e.Reason == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with the given code and reason.
func NewError(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Wrap builds an *Error that chains an underlying error.
func Wrap(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// HasCode reports whether the first *Error in err's wrap chain carries the
// given code; an *Error wrapped beneath that one is not examined.
func HasCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
