// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/persistence"
)

const resultColumns = `session_id, key, owner_task_id, status, creation_date, completion_date`

const insertResultQuery = `INSERT INTO taskgrid_results (` + resultColumns + `) VALUES
	(:session_id, :key, :owner_task_id, :status, :creation_date, :completion_date)`

func (d dbTx) InsertResult(ctx context.Context, row extensions.ResultRow) error {
	_, err := d.tx.NamedExecContext(ctx, insertResultQuery, row)
	return err
}

const selectResultQuery = `SELECT ` + resultColumns + ` FROM taskgrid_results WHERE session_id = $1 AND key = $2`

func (d dbSession) SelectResult(ctx context.Context, sessionId, key string) (*extensions.ResultRow, error) {
	var row extensions.ResultRow
	err := d.db.GetContext(ctx, &row, selectResultQuery, sessionId, key)
	return &row, err
}

var countCompletedResultsQuery = fmt.Sprintf(`SELECT count(*) FROM taskgrid_results
	WHERE session_id = $1 AND key = ANY($2) AND status = %d`,
	int32(persistence.ResultStatusCompleted))

func (d dbSession) CountCompletedResults(ctx context.Context, sessionId string, keys []string) (int64, error) {
	var count int64
	err := d.db.GetContext(ctx, &count, countCompletedResultsQuery, sessionId, pq.StringArray(keys))
	return count, err
}

// An already completed result still matches, an aborted one never does
var completeResultsQuery = fmt.Sprintf(`UPDATE taskgrid_results SET
	status = %[1]d, completion_date = COALESCE(completion_date, now())
	WHERE session_id = $1 AND owner_task_id = $2 AND key = ANY($3) AND status <> %[2]d`,
	int32(persistence.ResultStatusCompleted), int32(persistence.ResultStatusAborted))

func (d dbSession) CompleteResults(ctx context.Context, sessionId, ownerTaskId string, keys []string) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, completeResultsQuery, sessionId, ownerTaskId, pq.StringArray(keys)))
}

var abortTaskResultsQuery = fmt.Sprintf(`UPDATE taskgrid_results SET status = %d
	WHERE session_id = $1 AND owner_task_id = $2 AND status = %d`,
	int32(persistence.ResultStatusAborted), int32(persistence.ResultStatusCreated))

func (d dbSession) AbortTaskResults(ctx context.Context, sessionId, ownerTaskId string) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, abortTaskResultsQuery, sessionId, ownerTaskId))
}

var updateResultOwnerQuery = fmt.Sprintf(`UPDATE taskgrid_results SET owner_task_id = $4
	WHERE session_id = $1 AND owner_task_id = $2 AND key = ANY($3) AND status = %d`,
	int32(persistence.ResultStatusCreated))

func (d dbSession) UpdateResultOwner(
	ctx context.Context, sessionId, oldOwnerTaskId string, keys []string, newOwnerTaskId string,
) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, updateResultOwnerQuery,
		sessionId, oldOwnerTaskId, pq.StringArray(keys), newOwnerTaskId))
}

const selectResultsQuery = `SELECT ` + resultColumns + ` FROM taskgrid_results WHERE session_id = $1 ORDER BY key`

func (d dbSession) SelectResults(ctx context.Context, sessionId string) ([]extensions.ResultRow, error) {
	var rows []extensions.ResultRow
	err := d.db.SelectContext(ctx, &rows, selectResultsQuery, sessionId)
	return rows, err
}

const deleteSessionResultsQuery = `DELETE FROM taskgrid_results WHERE session_id = $1`

func (d dbSession) DeleteSessionResults(ctx context.Context, sessionId string) error {
	_, err := d.db.ExecContext(ctx, deleteSessionResultsQuery, sessionId)
	return err
}
