// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-tcp.

package api

import "fmt"

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeConfiguration
	ErrCodeBind
	ErrCodeListen
	ErrCodeRegistration
	ErrCodeResource
	ErrCodeWouldBlock
	ErrCodeClosed
	ErrCodeQueueFull
	ErrCodeServerClosed
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeInvalidArgument: "invalid argument",
	ErrCodeConfiguration:   "configuration",
	ErrCodeBind:            "bind",
	ErrCodeListen:          "listen",
	ErrCodeRegistration:    "registration",
	ErrCodeResource:        "resource",
	ErrCodeWouldBlock:      "would block",
	ErrCodeClosed:          "closed",
	ErrCodeQueueFull:       "queue full",
	ErrCodeServerClosed:    "server closed",
	ErrCodeInternal:        "internal",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinel errors, one per code. errors.Is matches any *Error carrying the same code.
var (
	ErrInvalidArgument = &Error{Code: ErrCodeInvalidArgument, Message: "invalid argument"}
	ErrConfiguration   = &Error{Code: ErrCodeConfiguration, Message: "invalid configuration"}
	ErrBind            = &Error{Code: ErrCodeBind, Message: "bind failed"}
	ErrListen          = &Error{Code: ErrCodeListen, Message: "listen failed"}
	ErrRegistration    = &Error{Code: ErrCodeRegistration, Message: "registration failed"}
	ErrResource        = &Error{Code: ErrCodeResource, Message: "resource allocation failed"}
	ErrWouldBlock      = &Error{Code: ErrCodeWouldBlock, Message: "operation would block"}
	ErrClosed          = &Error{Code: ErrCodeClosed, Message: "use of closed connection"}
	ErrQueueFull       = &Error{Code: ErrCodeQueueFull, Message: "outbound queue full"}
	ErrServerClosed    = &Error{Code: ErrCodeServerClosed, Message: "server closed"}
)

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

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the code of err, ErrCodeInternal for foreign errors and ErrCodeOK for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrCodeInternal
}
