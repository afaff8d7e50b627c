// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-ipc.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrNotFound          = errors.New("resource not found")
	ErrChannelClosed     = errors.New("ipc channel is closed")
	ErrWouldBlock        = errors.New("operation would block")
)

// Protocol and peer errors. Each wraps one of the common errors so callers
// can match either the precise condition or its class.
var (
	ErrCodeInUse        = fmt.Errorf("ipc code already registered: %w", ErrAlreadyExists)
	ErrNoFreeCode       = fmt.Errorf("no free ipc code: %w", ErrResourceExhausted)
	ErrUnknownCode      = fmt.Errorf("no handler for ipc code: %w", ErrNotFound)
	ErrReceiverActive   = fmt.Errorf("fd receiver already started: %w", ErrAlreadyExists)
	ErrReceiverNotFound = fmt.Errorf("fd receiver not found: %w", ErrNotFound)
	ErrProtocol         = errors.New("ipc protocol violation")
	ErrPeerGone         = errors.New("ipc peer unreachable")
	ErrPeerNotRunning   = errors.New("ipc peer is dead or not started")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeProtocol
	ErrCodePeer
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped sentinel to errors.Is.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error around a sentinel.
func Wrap(code ErrorCode, err error, message string) *Error {
	e := NewError(code, message)
	e.Err = err
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
