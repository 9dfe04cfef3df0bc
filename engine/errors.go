// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import "errors"

var (
	// ErrDependencyMissing is returned when the payload or a dependency of a task is not in the object storage
	ErrDependencyMissing = errors.New("task data is missing from the object storage")
	// ErrUnknownTaskStatus means a task row holds a status no pollster can act on
	ErrUnknownTaskStatus = errors.New("unknown task status")
	// ErrWorkerProtocol is returned when the worker breaks the reply protocol
	ErrWorkerProtocol = errors.New("worker protocol violation")
)

// causes of the cancellation of an execution
var (
	errSessionCancelled   = errors.New("session cancelled")
	errTaskCancelled      = errors.New("task cancelled")
	errMaxDurationElapsed = errors.New("task max duration elapsed")
	errMessageLeaseLost   = errors.New("queue message lease lost")
	errShutdown           = errors.New("pollster shutting down")
)

func isCancellationError(err error) bool {
	return errors.Is(err, errSessionCancelled) || errors.Is(err, errTaskCancelled)
}
