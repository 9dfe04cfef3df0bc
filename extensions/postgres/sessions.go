// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"fmt"

	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/persistence"
)

const sessionColumns = `id, status, partition_ids, options, creation_date, cancellation_date`

const insertSessionQuery = `INSERT INTO taskgrid_sessions (` + sessionColumns + `) VALUES
	(:id, :status, :partition_ids, :options, :creation_date, :cancellation_date)`

func (d dbSession) InsertSession(ctx context.Context, row extensions.SessionRow) error {
	_, err := d.db.NamedExecContext(ctx, insertSessionQuery, row)
	return err
}

const selectSessionQuery = `SELECT ` + sessionColumns + ` FROM taskgrid_sessions WHERE id = $1`

func (d dbSession) SelectSession(ctx context.Context, sessionId string) (*extensions.SessionRow, error) {
	var row extensions.SessionRow
	err := d.db.GetContext(ctx, &row, selectSessionQuery, sessionId)
	return &row, err
}

var cancelRunningSessionQuery = fmt.Sprintf(`UPDATE taskgrid_sessions SET
	status = %d, cancellation_date = now()
	WHERE id = $1 AND status = %d
	RETURNING `+sessionColumns,
	int32(persistence.SessionStatusCancelled), int32(persistence.SessionStatusRunning))

func (d dbSession) CancelRunningSession(ctx context.Context, sessionId string) (*extensions.SessionRow, error) {
	var row extensions.SessionRow
	err := d.db.GetContext(ctx, &row, cancelRunningSessionQuery, sessionId)
	return &row, err
}

const selectSessionsQuery = `SELECT ` + sessionColumns + ` FROM taskgrid_sessions
	WHERE COALESCE(cardinality($1::bigint[]), 0) = 0 OR status = ANY($1)
	ORDER BY creation_date, id`

func (d dbSession) SelectSessions(ctx context.Context, statuses []int32) ([]extensions.SessionRow, error) {
	var rows []extensions.SessionRow
	err := d.db.SelectContext(ctx, &rows, selectSessionsQuery, toInt64Array(statuses))
	return rows, err
}

const deleteSessionQuery = `DELETE FROM taskgrid_sessions WHERE id = $1`

func (d dbSession) DeleteSession(ctx context.Context, sessionId string) (int64, error) {
	return rowsAffected(d.db.ExecContext(ctx, deleteSessionQuery, sessionId))
}
