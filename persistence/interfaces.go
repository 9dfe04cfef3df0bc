// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"time"
)

type (
	// TaskTable keeps the task rows. Every status change is a conditional update on a single row,
	// so that concurrent pollsters can race on the same task without any lock
	TaskTable interface {
		// CreateTasks inserts the tasks, they must be in TaskStatusCreating
		CreateTasks(ctx context.Context, tasks []Task) error
		// ReadTask returns ErrTaskNotFound when the row doesn't exist
		ReadTask(ctx context.Context, taskId string) (*Task, error)
		// UpdateTaskStatus moves the task to status if its current status is one of expected.
		// An empty expected means any status. Rows in a terminal status never match.
		// It returns the number of matched rows
		UpdateTaskStatus(ctx context.Context, taskId string, expected []TaskStatus, status TaskStatus) (int64, error)
		// FinalizeTaskCreation moves the tasks from Creating to Submitted
		FinalizeTaskCreation(ctx context.Context, taskIds []string) (int64, error)
		// AcquireTask moves the task to Dispatched for the acquisition when the task is Submitted or Timeout,
		// or when it is Dispatched or Processing with an expired lease, and the retries are within bound
		AcquireTask(ctx context.Context, request AcquireTaskRequest) (bool, error)
		// RenewTaskLease extends the lease of the acquisition, false means the acquisition is lost
		RenewTaskLease(ctx context.Context, taskId, acquisitionId string, duration time.Duration) (bool, error)
		// StartTask moves an acquired task from Dispatched to Processing
		StartTask(ctx context.Context, taskId, acquisitionId string) (bool, error)
		// EndTask writes the outcome of the acquisition, false means the acquisition is lost
		EndTask(ctx context.Context, request EndTaskRequest) (bool, error)
		CountTasks(ctx context.Context, filter TaskFilter) ([]StatusCount, error)
		ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
		// CancelSessionTasks cancels every non-terminal task of the session.
		// Tasks that are not running become Canceled, running ones become Canceling
		CancelSessionTasks(ctx context.Context, sessionId string) (int64, error)
		// CancelTasks is CancelSessionTasks for a set of tasks
		CancelTasks(ctx context.Context, taskIds []string) (int64, error)
		DeleteTasks(ctx context.Context, sessionId string) error
	}

	SessionTable interface {
		CreateSession(ctx context.Context, session Session) error
		// GetSession returns ErrSessionNotFound when the row doesn't exist
		GetSession(ctx context.Context, sessionId string) (*Session, error)
		IsSessionCancelled(ctx context.Context, sessionId string) (bool, error)
		// CancelSession returns ErrSessionAlreadyCancelled when the session isn't running
		CancelSession(ctx context.Context, sessionId string) (*Session, error)
		ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
		DeleteSession(ctx context.Context, sessionId string) error
	}

	ResultTable interface {
		CreateResults(ctx context.Context, results []Result) error
		// GetResult returns ErrResultNotFound when the row doesn't exist
		GetResult(ctx context.Context, sessionId, key string) (*Result, error)
		// AreResultsAvailable tells if every key is a completed result of the session
		AreResultsAvailable(ctx context.Context, sessionId string, keys []string) (bool, error)
		// SetResultsAvailable completes the results owned by the task
		SetResultsAvailable(ctx context.Context, sessionId, ownerTaskId string, keys []string) (int64, error)
		// AbortTaskResults aborts the results of the task that are not completed
		AbortTaskResults(ctx context.Context, sessionId, ownerTaskId string) (int64, error)
		// ChangeResultOwnership hands the results of oldOwnerTaskId that are not completed yet
		// over to newOwnerTaskId, when a task delegates its outputs to a subtask
		ChangeResultOwnership(ctx context.Context, sessionId, oldOwnerTaskId string, keys []string, newOwnerTaskId string) (int64, error)
		ListResults(ctx context.Context, sessionId string) ([]Result, error)
		DeleteResults(ctx context.Context, sessionId string) error
	}

	// QueueStorage carries the task references from the submitter to the pollsters
	QueueStorage interface {
		// MaxPriority is the highest priority accepted by EnqueueMessages
		MaxPriority() int
		// PullMessages returns up to nbMessages messages, higher priorities first.
		// It returns an empty slice when there is nothing to pull
		PullMessages(ctx context.Context, partitionId string, nbMessages int) ([]QueueMessageHandler, error)
		// EnqueueMessages returns ErrInvalidPriority for a priority out of [0, MaxPriority]
		EnqueueMessages(ctx context.Context, partitionId string, priority int, taskIds []string) error
		Close() error
	}

	// QueueMessageHandler is a pulled message. It is owned by the puller until closed
	QueueMessageHandler interface {
		MessageId() string
		TaskId() string
		Status() QueueMessageStatus
		SetStatus(status QueueMessageStatus)
		// LeaseLost is closed when the lease on the message cannot be held anymore
		LeaseLost() <-chan struct{}
		// Close applies the status to the message and releases its lease.
		// Only the first call has an effect
		Close(ctx context.Context) error
	}

	// ObjectStorage keeps the payloads and results bytes, split in chunks
	ObjectStorage interface {
		AddOrUpdate(ctx context.Context, key string, chunks ChunkStream) error
		// GetValues returns ErrObjectNotFound when the key doesn't exist.
		// The chunks are fetched lazily
		GetValues(ctx context.Context, key string) (ChunkStream, error)
		Delete(ctx context.Context, keys ...string) error
		Close() error
	}
)

// Storages groups the storages shared by the submitter and the pollsters
type Storages struct {
	Tasks    TaskTable
	Sessions SessionTable
	Results  ResultTable
	Queue    QueueStorage
	Objects  ObjectStorage
}
