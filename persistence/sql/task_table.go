// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/persistence"
)

type taskTableImpl struct {
	sqlStore
}

var _ persistence.TaskTable = taskTableImpl{}

func (t taskTableImpl) CreateTasks(ctx context.Context, tasks []persistence.Task) error {
	rows := make([]extensions.TaskRow, 0, len(tasks))
	for i := range tasks {
		row, err := taskToRow(&tasks[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return t.inTransaction(ctx, func(tx extensions.SQLTransaction) error {
		for _, row := range rows {
			if err := tx.InsertTask(ctx, row); err != nil {
				return t.translate(err, nil, persistence.ErrTaskAlreadyExists, row.Id)
			}
		}
		return nil
	})
}

func (t taskTableImpl) ReadTask(ctx context.Context, taskId string) (*persistence.Task, error) {
	row, err := t.session.SelectTask(ctx, taskId)
	if err != nil {
		return nil, t.translate(err, persistence.ErrTaskNotFound, nil, taskId)
	}
	return rowToTask(row)
}

func (t taskTableImpl) UpdateTaskStatus(
	ctx context.Context, taskId string, expected []persistence.TaskStatus, status persistence.TaskStatus,
) (int64, error) {
	return t.session.UpdateTaskStatus(ctx, taskId, taskStatusesToInt32(expected), int32(status))
}

func (t taskTableImpl) FinalizeTaskCreation(ctx context.Context, taskIds []string) (int64, error) {
	if len(taskIds) == 0 {
		return 0, nil
	}
	return t.session.FinalizeTaskCreation(ctx, taskIds)
}

func (t taskTableImpl) AcquireTask(ctx context.Context, request persistence.AcquireTaskRequest) (bool, error) {
	matched, err := t.session.AcquireTask(ctx, extensions.AcquireTaskRow{
		TaskId:        request.TaskId,
		OwnerPodId:    request.OwnerPodId,
		AcquisitionId: request.AcquisitionId,
		LeaseDuration: request.LeaseDuration,
	})
	if err != nil {
		return false, err
	}
	return persistence.CheckSingleMatch(matched, request.TaskId)
}

func (t taskTableImpl) RenewTaskLease(
	ctx context.Context, taskId, acquisitionId string, duration time.Duration,
) (bool, error) {
	matched, err := t.session.RenewTaskLease(ctx, taskId, acquisitionId, duration)
	if err != nil {
		return false, err
	}
	return persistence.CheckSingleMatch(matched, taskId)
}

func (t taskTableImpl) StartTask(ctx context.Context, taskId, acquisitionId string) (bool, error) {
	matched, err := t.session.StartTask(ctx, taskId, acquisitionId)
	if err != nil {
		return false, err
	}
	return persistence.CheckSingleMatch(matched, taskId)
}

func (t taskTableImpl) EndTask(ctx context.Context, request persistence.EndTaskRequest) (bool, error) {
	output, err := json.Marshal(request.Output)
	if err != nil {
		return false, err
	}
	matched, err := t.session.EndTask(ctx, extensions.EndTaskRow{
		TaskId:        request.TaskId,
		AcquisitionId: request.AcquisitionId,
		Status:        int32(request.Status),
		Output:        types.JSONText(output),
		CountAsRetry:  request.CountAsRetry,
		IsTerminal:    request.Status.IsTerminal(),
	})
	if err != nil {
		return false, err
	}
	return persistence.CheckSingleMatch(matched, request.TaskId)
}

func (t taskTableImpl) CountTasks(
	ctx context.Context, filter persistence.TaskFilter,
) ([]persistence.StatusCount, error) {
	rows, err := t.session.CountTasks(ctx, toFilterRow(filter))
	if err != nil {
		return nil, err
	}
	counts := make([]persistence.StatusCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, persistence.StatusCount{
			Status: persistence.TaskStatus(row.Status),
			Count:  row.Count,
		})
	}
	return counts, nil
}

func (t taskTableImpl) ListTasks(ctx context.Context, filter persistence.TaskFilter) ([]persistence.Task, error) {
	rows, err := t.session.SelectTasks(ctx, toFilterRow(filter))
	if err != nil {
		return nil, err
	}
	var tasks []persistence.Task
	for i := range rows {
		task, err := rowToTask(&rows[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

func (t taskTableImpl) CancelSessionTasks(ctx context.Context, sessionId string) (int64, error) {
	return t.session.CancelSessionTasks(ctx, sessionId)
}

func (t taskTableImpl) CancelTasks(ctx context.Context, taskIds []string) (int64, error) {
	if len(taskIds) == 0 {
		return 0, nil
	}
	return t.session.CancelTasks(ctx, taskIds)
}

func (t taskTableImpl) DeleteTasks(ctx context.Context, sessionId string) error {
	return t.session.DeleteSessionTasks(ctx, sessionId)
}

func toFilterRow(filter persistence.TaskFilter) extensions.TaskFilterRow {
	return extensions.TaskFilterRow{
		SessionId: filter.SessionId,
		TaskIds:   filter.TaskIds,
		Statuses:  taskStatusesToInt32(filter.Statuses),
	}
}
