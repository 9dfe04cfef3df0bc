// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/submitter"
)

// TaskCreator submits the subtasks a worker asks for while executing a task.
// The subtasks are created during the execution and finalized only when the task completes
type TaskCreator interface {
	CreateTasks(
		ctx context.Context, sessionId, parentTaskId string, options *persistence.TaskOptions,
		requests []submitter.TaskRequest,
	) (*submitter.TaskCreation, error)
	FinalizeTaskCreation(ctx context.Context, creation *submitter.TaskCreation) error
}

// Pollster pulls the messages of a partition and executes their tasks
type Pollster interface {
	Start() error
	// NotifyNewMessages makes the next pull happen now instead of at the next poll interval
	NotifyNewMessages()
	Stop(ctx context.Context) error
}
