// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package submitter

import (
	"errors"
	"fmt"

	"github.com/xcherryio/taskgrid/persistence"
)

// ErrorCode is the category of an error returned to the clients
type ErrorCode int

const (
	CodeInternal ErrorCode = iota
	CodeNotFound
	CodeFailedPrecondition
	CodeInvalidArgument
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNotFound:
		return "NotFound"
	case CodeFailedPrecondition:
		return "FailedPrecondition"
	case CodeInvalidArgument:
		return "InvalidArgument"
	default:
		return "Internal"
	}
}

// Error is the error type returned by every Submitter call
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the category of err, CodeInternal for errors not raised by the submitter
func CodeOf(err error) ErrorCode {
	var subErr *Error
	if errors.As(err, &subErr) {
		return subErr.Code
	}
	return CodeInternal
}

// toClientError categorizes the storage errors
func toClientError(err error) error {
	if err == nil {
		return nil
	}
	var subErr *Error
	if errors.As(err, &subErr) {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrSessionNotFound),
		errors.Is(err, persistence.ErrTaskNotFound),
		errors.Is(err, persistence.ErrResultNotFound):
		return &Error{Code: CodeNotFound, Err: err}
	case errors.Is(err, persistence.ErrSessionAlreadyCancelled):
		return &Error{Code: CodeFailedPrecondition, Err: err}
	case errors.Is(err, persistence.ErrInvalidPriority),
		errors.Is(err, persistence.ErrResultAlreadyExists),
		errors.Is(err, persistence.ErrTaskAlreadyExists):
		return &Error{Code: CodeInvalidArgument, Err: err}
	default:
		return &Error{Code: CodeInternal, Err: err}
	}
}
