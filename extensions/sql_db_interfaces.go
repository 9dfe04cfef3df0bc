// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"context"
	"database/sql"
	"time"

	"github.com/xcherryio/taskgrid/config"
)

type SQLDBExtension interface {
	// StartDBSession starts the session for regular business logic
	StartDBSession(cfg *config.SQL) (SQLDBSession, error)
	// StartAdminDBSession starts the session for admin operation like DDL
	StartAdminDBSession(cfg *config.SQL) (SQLAdminDBSession, error)
}

type SQLDBSession interface {
	taskNonTxnCRUD
	sessionNonTxnCRUD
	resultNonTxnCRUD
	ErrorChecker

	StartTransaction(ctx context.Context, opts *sql.TxOptions) (SQLTransaction, error)
	Close() error
}

type SQLTransaction interface {
	taskTxnCRUD
	resultTxnCRUD

	Commit() error
	Rollback() error
}

type SQLAdminDBSession interface {
	CreateDatabase(ctx context.Context, database string) error
	DropDatabase(ctx context.Context, database string) error
	ExecuteSchemaDDL(ctx context.Context, ddlQuery string) error
	Close() error
}

// The conditional updates return the number of matched rows,
// the caller decides what a count other than one means
type taskNonTxnCRUD interface {
	SelectTask(ctx context.Context, taskId string) (*TaskRow, error)
	UpdateTaskStatus(ctx context.Context, taskId string, expected []int32, status int32) (int64, error)
	FinalizeTaskCreation(ctx context.Context, taskIds []string) (int64, error)
	AcquireTask(ctx context.Context, row AcquireTaskRow) (int64, error)
	RenewTaskLease(ctx context.Context, taskId, acquisitionId string, duration time.Duration) (int64, error)
	StartTask(ctx context.Context, taskId, acquisitionId string) (int64, error)
	EndTask(ctx context.Context, row EndTaskRow) (int64, error)
	CountTasks(ctx context.Context, filter TaskFilterRow) ([]StatusCountRow, error)
	SelectTasks(ctx context.Context, filter TaskFilterRow) ([]TaskRow, error)
	CancelSessionTasks(ctx context.Context, sessionId string) (int64, error)
	CancelTasks(ctx context.Context, taskIds []string) (int64, error)
	DeleteSessionTasks(ctx context.Context, sessionId string) error
}

type taskTxnCRUD interface {
	InsertTask(ctx context.Context, row TaskRow) error
}

type sessionNonTxnCRUD interface {
	InsertSession(ctx context.Context, row SessionRow) error
	SelectSession(ctx context.Context, sessionId string) (*SessionRow, error)
	// CancelRunningSession returns the cancelled row, or sql.ErrNoRows when no running session matched
	CancelRunningSession(ctx context.Context, sessionId string) (*SessionRow, error)
	SelectSessions(ctx context.Context, statuses []int32) ([]SessionRow, error)
	DeleteSession(ctx context.Context, sessionId string) (int64, error)
}

type resultNonTxnCRUD interface {
	SelectResult(ctx context.Context, sessionId, key string) (*ResultRow, error)
	CountCompletedResults(ctx context.Context, sessionId string, keys []string) (int64, error)
	CompleteResults(ctx context.Context, sessionId, ownerTaskId string, keys []string) (int64, error)
	AbortTaskResults(ctx context.Context, sessionId, ownerTaskId string) (int64, error)
	UpdateResultOwner(ctx context.Context, sessionId, oldOwnerTaskId string, keys []string, newOwnerTaskId string) (int64, error)
	SelectResults(ctx context.Context, sessionId string) ([]ResultRow, error)
	DeleteSessionResults(ctx context.Context, sessionId string) error
}

type resultTxnCRUD interface {
	InsertResult(ctx context.Context, row ResultRow) error
}

type ErrorChecker interface {
	IsDupEntryError(err error) bool
	IsNotFoundError(err error) bool
	IsTimeoutError(err error) bool
	IsThrottlingError(err error) bool
}
