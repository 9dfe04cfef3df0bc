// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistencetest

import (
	"time"

	"github.com/xcherryio/taskgrid/common/uuid"
	"github.com/xcherryio/taskgrid/persistence"
)

func newTestSession() persistence.Session {
	return persistence.Session{
		Id:           uuid.NewId(),
		Status:       persistence.SessionStatusRunning,
		PartitionIds: []string{"default"},
		Options: persistence.TaskOptions{
			MaxRetries:  2,
			PartitionId: "default",
		},
		CreationDate: time.Now().Truncate(time.Millisecond),
	}
}

func newTestTask(sessionId string, maxRetries int32) persistence.Task {
	id := uuid.NewId()
	return persistence.Task{
		Id:                 id,
		SessionId:          sessionId,
		Status:             persistence.TaskStatusCreating,
		ParentTaskIds:      []string{sessionId},
		ExpectedOutputKeys: []string{"out-" + id},
		Options: persistence.TaskOptions{
			MaxRetries:  maxRetries,
			PartitionId: "default",
			Options:     map[string]string{"k": "v"},
		},
		Payload:      []byte("payload"),
		CreationDate: time.Now().Truncate(time.Millisecond),
	}
}

func acquireRequest(taskId string, lease time.Duration) persistence.AcquireTaskRequest {
	return persistence.AcquireTaskRequest{
		TaskId:        taskId,
		OwnerPodId:    "pod-test",
		AcquisitionId: uuid.NewId(),
		LeaseDuration: lease,
	}
}
