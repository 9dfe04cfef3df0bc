// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"time"
)

type (
	Session struct {
		Id               string
		Status           SessionStatus
		PartitionIds     []string
		Options          TaskOptions
		CreationDate     time.Time
		CancellationDate *time.Time
	}

	Task struct {
		Id            string
		SessionId     string
		ParentTaskIds []string
		Status        TaskStatus
		Options       TaskOptions
		// DataDependencies are the keys of the results that must be available before the task runs
		DataDependencies []string
		// ExpectedOutputKeys are the keys of the results the task produces
		ExpectedOutputKeys []string
		Retries            int32
		// Payload is set when the payload is small enough to be kept in the row
		Payload []byte
		// HasPayloadInObjectStorage is set when the payload lives under PayloadKey
		HasPayloadInObjectStorage bool
		OwnerPodId                string
		// AcquisitionId identifies the acquisition holding the task, empty when not held
		AcquisitionId string
		// AcquiredUntil is the end of the lease of the current acquisition
		AcquiredUntil *time.Time
		Output        TaskOutput
		CreationDate  time.Time
		SubmittedDate *time.Time
		StartDate     *time.Time
		EndDate       *time.Time
	}

	TaskOutput struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}

	Result struct {
		SessionId      string
		Key            string
		OwnerTaskId    string
		Status         ResultStatus
		CreationDate   time.Time
		CompletionDate *time.Time
	}

	StatusCount struct {
		Status TaskStatus `json:"status"`
		Count  int64      `json:"count"`
	}

	// TaskFilter selects tasks of a session, optionally narrowed to ids and statuses
	TaskFilter struct {
		SessionId string
		TaskIds   []string
		Statuses  []TaskStatus
	}

	SessionFilter struct {
		Statuses []SessionStatus
	}

	AcquireTaskRequest struct {
		TaskId        string
		OwnerPodId    string
		AcquisitionId string
		LeaseDuration time.Duration
	}

	EndTaskRequest struct {
		TaskId        string
		AcquisitionId string
		// Status is the status the task ends the acquisition with
		Status TaskStatus
		Output TaskOutput
		// CountAsRetry increments the retries, for the outcomes that give the task back to the queue
		CountAsRetry bool
	}
)

// CountOf returns the count for the status, 0 when absent
func CountOf(counts []StatusCount, status TaskStatus) int64 {
	var total int64
	for _, c := range counts {
		if c.Status == status {
			total += c.Count
		}
	}
	return total
}

// Matches tells if the task is selected by the filter
func (f TaskFilter) Matches(task *Task) bool {
	if f.SessionId != "" && f.SessionId != task.SessionId {
		return false
	}
	if len(f.TaskIds) > 0 && !containsString(f.TaskIds, task.Id) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, task.Status) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsStatus(list []TaskStatus, s TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
