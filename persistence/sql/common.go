// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/persistence"
)

var defaultTxOpts = &sql.TxOptions{
	Isolation: sql.LevelReadCommitted,
}

func taskToRow(task *persistence.Task) (extensions.TaskRow, error) {
	options, err := json.Marshal(task.Options)
	if err != nil {
		return extensions.TaskRow{}, err
	}
	output, err := json.Marshal(task.Output)
	if err != nil {
		return extensions.TaskRow{}, err
	}
	return extensions.TaskRow{
		Id:                        task.Id,
		SessionId:                 task.SessionId,
		ParentTaskIds:             toStringArray(task.ParentTaskIds),
		Status:                    int32(task.Status),
		Options:                   types.JSONText(options),
		MaxRetries:                task.Options.MaxRetries,
		DataDependencies:          toStringArray(task.DataDependencies),
		ExpectedOutputKeys:        toStringArray(task.ExpectedOutputKeys),
		Retries:                   task.Retries,
		Payload:                   task.Payload,
		HasPayloadInObjectStorage: task.HasPayloadInObjectStorage,
		OwnerPodId:                task.OwnerPodId,
		AcquisitionId:             task.AcquisitionId,
		AcquiredUntil:             task.AcquiredUntil,
		Output:                    types.JSONText(output),
		CreationDate:              task.CreationDate,
		SubmittedDate:             task.SubmittedDate,
		StartDate:                 task.StartDate,
		EndDate:                   task.EndDate,
	}, nil
}

func rowToTask(row *extensions.TaskRow) (*persistence.Task, error) {
	task := &persistence.Task{
		Id:                        row.Id,
		SessionId:                 row.SessionId,
		ParentTaskIds:             fromStringArray(row.ParentTaskIds),
		Status:                    persistence.TaskStatus(row.Status),
		DataDependencies:          fromStringArray(row.DataDependencies),
		ExpectedOutputKeys:        fromStringArray(row.ExpectedOutputKeys),
		Retries:                   row.Retries,
		Payload:                   row.Payload,
		HasPayloadInObjectStorage: row.HasPayloadInObjectStorage,
		OwnerPodId:                row.OwnerPodId,
		AcquisitionId:             row.AcquisitionId,
		AcquiredUntil:             row.AcquiredUntil,
		CreationDate:              row.CreationDate,
		SubmittedDate:             row.SubmittedDate,
		StartDate:                 row.StartDate,
		EndDate:                   row.EndDate,
	}
	if err := row.Options.Unmarshal(&task.Options); err != nil {
		return nil, err
	}
	if err := row.Output.Unmarshal(&task.Output); err != nil {
		return nil, err
	}
	return task, nil
}

func sessionToRow(session *persistence.Session) (extensions.SessionRow, error) {
	options, err := json.Marshal(session.Options)
	if err != nil {
		return extensions.SessionRow{}, err
	}
	return extensions.SessionRow{
		Id:               session.Id,
		Status:           int32(session.Status),
		PartitionIds:     toStringArray(session.PartitionIds),
		Options:          types.JSONText(options),
		CreationDate:     session.CreationDate,
		CancellationDate: session.CancellationDate,
	}, nil
}

func rowToSession(row *extensions.SessionRow) (*persistence.Session, error) {
	session := &persistence.Session{
		Id:               row.Id,
		Status:           persistence.SessionStatus(row.Status),
		PartitionIds:     fromStringArray(row.PartitionIds),
		CreationDate:     row.CreationDate,
		CancellationDate: row.CancellationDate,
	}
	if err := row.Options.Unmarshal(&session.Options); err != nil {
		return nil, err
	}
	return session, nil
}

func resultToRow(result *persistence.Result) extensions.ResultRow {
	return extensions.ResultRow{
		SessionId:      result.SessionId,
		Key:            result.Key,
		OwnerTaskId:    result.OwnerTaskId,
		Status:         int32(result.Status),
		CreationDate:   result.CreationDate,
		CompletionDate: result.CompletionDate,
	}
}

func rowToResult(row *extensions.ResultRow) *persistence.Result {
	return &persistence.Result{
		SessionId:      row.SessionId,
		Key:            row.Key,
		OwnerTaskId:    row.OwnerTaskId,
		Status:         persistence.ResultStatus(row.Status),
		CreationDate:   row.CreationDate,
		CompletionDate: row.CompletionDate,
	}
}

func taskStatusesToInt32(statuses []persistence.TaskStatus) []int32 {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]int32, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, int32(s))
	}
	return out
}

// toStringArray never returns nil, the array columns are not nullable
func toStringArray(values []string) pq.StringArray {
	if values == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(values)
}

// fromStringArray reads an empty array column as nil
func fromStringArray(values pq.StringArray) []string {
	if len(values) == 0 {
		return nil
	}
	return []string(values)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
