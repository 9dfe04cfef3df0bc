// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/persistence"
)

const taskColumns = `id, session_id, parent_task_ids, status, options, max_retries, data_dependencies,
	expected_output_keys, retries, payload, has_payload_in_object_storage, owner_pod_id, acquisition_id,
	acquired_until, output, creation_date, submitted_date, start_date, end_date`

// the statuses a holder works the task in
var runningStatuses = fmt.Sprintf("%d, %d",
	int32(persistence.TaskStatusDispatched), int32(persistence.TaskStatusProcessing))

var terminalStatuses = fmt.Sprintf("%d, %d, %d",
	int32(persistence.TaskStatusCompleted), int32(persistence.TaskStatusCanceled), int32(persistence.TaskStatusFailed))

const insertTaskQuery = `INSERT INTO taskgrid_tasks (` + taskColumns + `) VALUES
	(:id, :session_id, :parent_task_ids, :status, :options, :max_retries, :data_dependencies,
	:expected_output_keys, :retries, :payload, :has_payload_in_object_storage, :owner_pod_id, :acquisition_id,
	:acquired_until, :output, :creation_date, :submitted_date, :start_date, :end_date)`

func (d dbTx) InsertTask(ctx context.Context, row extensions.TaskRow) error {
	_, err := d.tx.NamedExecContext(ctx, insertTaskQuery, row)
	return err
}

const selectTaskQuery = `SELECT ` + taskColumns + ` FROM taskgrid_tasks WHERE id = $1`

func (d dbSession) SelectTask(ctx context.Context, taskId string) (*extensions.TaskRow, error) {
	var row extensions.TaskRow
	err := d.db.GetContext(ctx, &row, selectTaskQuery, taskId)
	return &row, err
}

var updateTaskStatusQuery = `UPDATE taskgrid_tasks SET
	status = $3,
	end_date = CASE WHEN $3 IN (` + terminalStatuses + `) THEN now() ELSE end_date END
	WHERE id = $1
	AND status NOT IN (` + terminalStatuses + `)
	AND (COALESCE(cardinality($2::bigint[]), 0) = 0 OR status = ANY($2))`

func (d dbSession) UpdateTaskStatus(
	ctx context.Context, taskId string, expected []int32, status int32,
) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, updateTaskStatusQuery, taskId, toInt64Array(expected), status))
}

var finalizeTaskCreationQuery = fmt.Sprintf(`UPDATE taskgrid_tasks SET
	status = %d, submitted_date = now()
	WHERE id = ANY($1) AND status = %d`,
	int32(persistence.TaskStatusSubmitted), int32(persistence.TaskStatusCreating))

func (d dbSession) FinalizeTaskCreation(ctx context.Context, taskIds []string) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, finalizeTaskCreationQuery, pq.StringArray(taskIds)))
}

// A running task is taken over once its lease expired. The takeover is not a retry
var acquireTaskQuery = fmt.Sprintf(`UPDATE taskgrid_tasks SET
	status = %[1]d,
	owner_pod_id = $2,
	acquisition_id = $3,
	acquired_until = now() + $4::bigint * interval '1 millisecond'
	WHERE id = $1
	AND (
		status IN (%[2]s)
		OR (status IN (%[3]s) AND (acquired_until IS NULL OR acquired_until < now()))
	)
	AND retries <= max_retries`,
	int32(persistence.TaskStatusDispatched),
	fmt.Sprintf("%d, %d", int32(persistence.TaskStatusSubmitted), int32(persistence.TaskStatusTimeout)),
	runningStatuses)

func (d dbSession) AcquireTask(ctx context.Context, row extensions.AcquireTaskRow) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, acquireTaskQuery,
		row.TaskId, row.OwnerPodId, row.AcquisitionId, row.LeaseDuration.Milliseconds()))
}

var renewTaskLeaseQuery = `UPDATE taskgrid_tasks SET
	acquired_until = now() + $3::bigint * interval '1 millisecond'
	WHERE id = $1 AND acquisition_id = $2 AND status IN (` + runningStatuses + `)`

func (d dbSession) RenewTaskLease(
	ctx context.Context, taskId, acquisitionId string, duration time.Duration,
) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, renewTaskLeaseQuery, taskId, acquisitionId, duration.Milliseconds()))
}

var startTaskQuery = fmt.Sprintf(`UPDATE taskgrid_tasks SET
	status = %d, start_date = now()
	WHERE id = $1 AND acquisition_id = $2 AND status = %d`,
	int32(persistence.TaskStatusProcessing), int32(persistence.TaskStatusDispatched))

func (d dbSession) StartTask(ctx context.Context, taskId, acquisitionId string) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, startTaskQuery, taskId, acquisitionId))
}

// a task being cancelled becomes Canceled unless it ends for good
var endTaskQuery = fmt.Sprintf(`UPDATE taskgrid_tasks SET
	status = CASE WHEN status = %[2]d AND NOT $6::boolean THEN %[3]d ELSE $3 END,
	output = $4,
	acquisition_id = '',
	acquired_until = NULL,
	retries = CASE WHEN $5::boolean THEN retries + 1 ELSE retries END,
	end_date = CASE WHEN $6::boolean OR status = %[2]d THEN now() ELSE end_date END
	WHERE id = $1 AND acquisition_id = $2 AND status IN (%[1]s, %[2]d)`,
	runningStatuses, int32(persistence.TaskStatusCanceling), int32(persistence.TaskStatusCanceled))

func (d dbSession) EndTask(ctx context.Context, row extensions.EndTaskRow) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, endTaskQuery,
		row.TaskId, row.AcquisitionId, row.Status, row.Output, row.CountAsRetry, row.IsTerminal))
}

const taskFilterClause = `WHERE ($1 = '' OR session_id = $1)
	AND (COALESCE(cardinality($2::text[]), 0) = 0 OR id = ANY($2))
	AND (COALESCE(cardinality($3::bigint[]), 0) = 0 OR status = ANY($3))`

const countTasksQuery = `SELECT status, count(*) AS count FROM taskgrid_tasks ` + taskFilterClause +
	` GROUP BY status ORDER BY status`

func (d dbSession) CountTasks(
	ctx context.Context, filter extensions.TaskFilterRow,
) ([]extensions.StatusCountRow, error) {
	var rows []extensions.StatusCountRow
	err := d.db.SelectContext(ctx, &rows, countTasksQuery,
		filter.SessionId, pq.StringArray(filter.TaskIds), toInt64Array(filter.Statuses))
	return rows, err
}

const selectTasksQuery = `SELECT ` + taskColumns + ` FROM taskgrid_tasks ` + taskFilterClause +
	` ORDER BY creation_date, id`

func (d dbSession) SelectTasks(ctx context.Context, filter extensions.TaskFilterRow) ([]extensions.TaskRow, error) {
	var rows []extensions.TaskRow
	err := d.db.SelectContext(ctx, &rows, selectTasksQuery,
		filter.SessionId, pq.StringArray(filter.TaskIds), toInt64Array(filter.Statuses))
	return rows, err
}

// The tasks that are not running are canceled right away,
// the running ones are flagged for their holder
var cancelTasksSet = fmt.Sprintf(`UPDATE taskgrid_tasks SET
	status = CASE WHEN status IN (%[1]s) THEN %[2]d ELSE %[3]d END,
	end_date = CASE WHEN status IN (%[1]s) THEN end_date ELSE now() END
	WHERE status IN (%[1]s, %[4]s)`,
	runningStatuses,
	int32(persistence.TaskStatusCanceling),
	int32(persistence.TaskStatusCanceled),
	fmt.Sprintf("%d, %d, %d, %d",
		int32(persistence.TaskStatusCreating), int32(persistence.TaskStatusSubmitted),
		int32(persistence.TaskStatusTimeout), int32(persistence.TaskStatusError)))

var cancelSessionTasksQuery = cancelTasksSet + ` AND session_id = $1`

func (d dbSession) CancelSessionTasks(ctx context.Context, sessionId string) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, cancelSessionTasksQuery, sessionId))
}

var cancelTasksQuery = cancelTasksSet + ` AND id = ANY($1)`

func (d dbSession) CancelTasks(ctx context.Context, taskIds []string) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, cancelTasksQuery, pq.StringArray(taskIds)))
}

const deleteSessionTasksQuery = `DELETE FROM taskgrid_tasks WHERE session_id = $1`

func (d dbSession) DeleteSessionTasks(ctx context.Context, sessionId string) error {
	_, err := d.db.ExecContext(ctx, deleteSessionTasksQuery, sessionId)
	return err
}

func toInt64Array(values []int32) pq.Int64Array {
	if values == nil {
		return nil
	}
	out := make(pq.Int64Array, 0, len(values))
	for _, v := range values {
		out = append(out, int64(v))
	}
	return out
}
