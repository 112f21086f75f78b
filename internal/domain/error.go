package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidPath        ErrorCode = "INVALID_PATH"
	CodeNamespaceViolation ErrorCode = "NAMESPACE_VIOLATION"
	CodeAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeMissingParameter   ErrorCode = "MISSING_PARAMETER"
	CodeInterpreter        ErrorCode = "INTERPRETER_ERROR"
	CodePersistence        ErrorCode = "PERSISTENCE_ERROR"
	CodeDiscovery          ErrorCode = "DISCOVERY_ERROR"
	CodeInternal           ErrorCode = "INTERNAL"
)

// Error is the structured error carried across the executor boundary.
// Code classifies the failure for the protocol layer; Op names the
// failing operation; Cause preserves the underlying error chain.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

// Wrap attaches a code and operation to err, preserving an existing
// *Error's code if one is already present in the chain.
func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

// CodeFrom extracts the error code from an error chain.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	return "", false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	got, ok := CodeFrom(err)
	return ok && got == code
}
