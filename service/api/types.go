// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"time"

	"github.com/xcherryio/taskgrid/persistence"
)

type (
	CreateSessionRequest struct {
		PartitionIds   []string                `json:"partitionIds,omitempty"`
		DefaultOptions persistence.TaskOptions `json:"defaultOptions"`
	}

	CreateSessionResponse struct {
		SessionId string `json:"sessionId"`
	}

	SessionRequest struct {
		SessionId string `json:"sessionId" binding:"required"`
	}

	ListSessionsRequest struct {
		Statuses []string `json:"statuses,omitempty"`
	}

	SessionInfo struct {
		SessionId        string                  `json:"sessionId"`
		Status           string                  `json:"status"`
		PartitionIds     []string                `json:"partitionIds"`
		Options          persistence.TaskOptions `json:"options"`
		CreationDate     time.Time               `json:"creationDate"`
		CancellationDate *time.Time              `json:"cancellationDate,omitempty"`
	}

	ListSessionsResponse struct {
		Sessions []SessionInfo `json:"sessions"`
	}

	TaskCreationRequest struct {
		ExpectedOutputKeys []string `json:"expectedOutputKeys"`
		DataDependencies   []string `json:"dataDependencies,omitempty"`
		// Payload is base64 encoded in JSON
		Payload []byte                   `json:"payload,omitempty"`
		Options *persistence.TaskOptions `json:"options,omitempty"`
	}

	SubmitTasksRequest struct {
		SessionId string                   `json:"sessionId" binding:"required"`
		Options   *persistence.TaskOptions `json:"options,omitempty"`
		Tasks     []TaskCreationRequest    `json:"tasks" binding:"required"`
	}

	SubmittedTask struct {
		TaskId             string   `json:"taskId"`
		ExpectedOutputKeys []string `json:"expectedOutputKeys"`
		DataDependencies   []string `json:"dataDependencies,omitempty"`
		PartitionId        string   `json:"partitionId"`
		Priority           int      `json:"priority"`
	}

	SubmitTasksResponse struct {
		Tasks []SubmittedTask `json:"tasks"`
	}

	TaskFilterRequest struct {
		SessionId string                   `json:"sessionId" binding:"required"`
		TaskIds   []string                 `json:"taskIds,omitempty"`
		Statuses  []persistence.TaskStatus `json:"statuses,omitempty"`
	}

	CountTasksResponse struct {
		Counts []persistence.StatusCount `json:"counts"`
	}

	TaskInfo struct {
		TaskId             string                  `json:"taskId"`
		SessionId          string                  `json:"sessionId"`
		ParentTaskIds      []string                `json:"parentTaskIds,omitempty"`
		Status             persistence.TaskStatus  `json:"status"`
		Options            persistence.TaskOptions `json:"options"`
		DataDependencies   []string                `json:"dataDependencies,omitempty"`
		ExpectedOutputKeys []string                `json:"expectedOutputKeys"`
		Retries            int32                   `json:"retries"`
		OwnerPodId         string                  `json:"ownerPodId,omitempty"`
		Output             persistence.TaskOutput  `json:"output"`
		CreationDate       time.Time               `json:"creationDate"`
		SubmittedDate      *time.Time              `json:"submittedDate,omitempty"`
		StartDate          *time.Time              `json:"startDate,omitempty"`
		EndDate            *time.Time              `json:"endDate,omitempty"`
	}

	ListTasksResponse struct {
		Tasks []TaskInfo `json:"tasks"`
	}

	TaskIdsRequest struct {
		TaskIds []string `json:"taskIds" binding:"required"`
	}

	GetTaskStatusResponse struct {
		Statuses map[string]persistence.TaskStatus `json:"statuses"`
	}

	CancelTasksResponse struct {
		Matched int64 `json:"matched"`
	}

	WaitForCompletionRequest struct {
		TaskFilterRequest
		StopOnFirstTaskError        bool `json:"stopOnFirstTaskError"`
		StopOnFirstTaskCancellation bool `json:"stopOnFirstTaskCancellation"`
		// TimeoutSeconds caps the wait, the request context only when 0
		TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
	}

	ResultInfo struct {
		Key            string     `json:"key"`
		OwnerTaskId    string     `json:"ownerTaskId,omitempty"`
		Status         string     `json:"status"`
		CreationDate   time.Time  `json:"creationDate"`
		CompletionDate *time.Time `json:"completionDate,omitempty"`
	}

	ListResultsResponse struct {
		Results []ResultInfo `json:"results"`
	}
)

func toSessionInfo(session *persistence.Session) SessionInfo {
	return SessionInfo{
		SessionId:        session.Id,
		Status:           session.Status.String(),
		PartitionIds:     session.PartitionIds,
		Options:          session.Options,
		CreationDate:     session.CreationDate,
		CancellationDate: session.CancellationDate,
	}
}

func toTaskInfo(task *persistence.Task) TaskInfo {
	return TaskInfo{
		TaskId:             task.Id,
		SessionId:          task.SessionId,
		ParentTaskIds:      task.ParentTaskIds,
		Status:             task.Status,
		Options:            task.Options,
		DataDependencies:   task.DataDependencies,
		ExpectedOutputKeys: task.ExpectedOutputKeys,
		Retries:            task.Retries,
		OwnerPodId:         task.OwnerPodId,
		Output:             task.Output,
		CreationDate:       task.CreationDate,
		SubmittedDate:      task.SubmittedDate,
		StartDate:          task.StartDate,
		EndDate:            task.EndDate,
	}
}

func toResultInfo(result *persistence.Result) ResultInfo {
	return ResultInfo{
		Key:            result.Key,
		OwnerTaskId:    result.OwnerTaskId,
		Status:         result.Status.String(),
		CreationDate:   result.CreationDate,
		CompletionDate: result.CompletionDate,
	}
}

func (r TaskFilterRequest) toFilter() persistence.TaskFilter {
	return persistence.TaskFilter{
		SessionId: r.SessionId,
		TaskIds:   r.TaskIds,
		Statuses:  r.Statuses,
	}
}
