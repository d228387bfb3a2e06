// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-wl.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrClosed          = errors.New("resource is closed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotSupported    = errors.New("operation not supported")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrNotFound        = errors.New("resource not found")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeConnect
	ErrCodeRegistry
	ErrCodeRegistration
	ErrCodeMissingGlobal
	ErrCodeDuplicateGlobal
	ErrCodeGlobalRemoved
	ErrCodeTransport
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeInvalidArgument: "invalid_argument",
	ErrCodeConnect:         "connect",
	ErrCodeRegistry:        "registry",
	ErrCodeRegistration:    "handler_registration",
	ErrCodeMissingGlobal:   "missing_global",
	ErrCodeDuplicateGlobal: "duplicate_global",
	ErrCodeGlobalRemoved:   "global_removed",
	ErrCodeTransport:       "transport",
	ErrCodeInternal:        "internal",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Fatal reports whether errors of this class leave the process in a state
// nothing else can reason about. Only transport disruption is recoverable.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrCodeOK, ErrCodeTransport:
		return false
	default:
		return true
	}
}

// Error represents a structured error with code, context and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error belongs to the fatal class.
func (e *Error) Fatal() bool {
	return e.Code.Fatal()
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// CodeOf extracts the ErrorCode from err, ErrCodeOK for nil and
// ErrCodeInternal for errors that carry no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether err carries a fatal code.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Fatal()
}
