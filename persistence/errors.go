// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import "errors"

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrResultNotFound  = errors.New("result not found")
	ErrObjectNotFound  = errors.New("object not found")

	// ErrTaskAlreadyExists is returned when a task id is inserted twice
	ErrTaskAlreadyExists    = errors.New("task already exists")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrResultAlreadyExists  = errors.New("result already exists")

	ErrSessionAlreadyCancelled = errors.New("session already cancelled")

	// ErrMultipleRowsMatched means a conditional update keyed on a unique id matched more than one row.
	// The storage is corrupted and the operation must not be retried
	ErrMultipleRowsMatched = errors.New("conditional update matched more than one row")

	ErrInvalidPriority = errors.New("invalid priority")
)
