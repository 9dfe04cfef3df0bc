// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistencetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/taskgrid/persistence"
)

// TaskTableBasicTest covers the creation, the reads and the conditional status updates
func TaskTableBasicTest(t *testing.T, ass *assert.Assertions, table persistence.TaskTable) {
	ctx := context.Background()
	sessionId := newTestSession().Id

	task1 := newTestTask(sessionId, 1)
	task2 := newTestTask(sessionId, 1)
	require.NoError(t, table.CreateTasks(ctx, []persistence.Task{task1, task2}))

	err := table.CreateTasks(ctx, []persistence.Task{task1})
	ass.True(errors.Is(err, persistence.ErrTaskAlreadyExists))

	_, err = table.ReadTask(ctx, "not-a-task")
	ass.True(errors.Is(err, persistence.ErrTaskNotFound))

	read, err := table.ReadTask(ctx, task1.Id)
	require.NoError(t, err)
	ass.Equal(task1.Id, read.Id)
	ass.Equal(sessionId, read.SessionId)
	ass.Equal(persistence.TaskStatusCreating, read.Status)
	ass.Equal(task1.ExpectedOutputKeys, read.ExpectedOutputKeys)
	ass.Equal(task1.Payload, read.Payload)
	ass.Equal("v", read.Options.Options["k"])

	matched, err := table.FinalizeTaskCreation(ctx, []string{task1.Id, task2.Id})
	require.NoError(t, err)
	ass.Equal(int64(2), matched)
	matched, err = table.FinalizeTaskCreation(ctx, []string{task1.Id})
	require.NoError(t, err)
	ass.Equal(int64(0), matched)

	read, err = table.ReadTask(ctx, task1.Id)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusSubmitted, read.Status)
	ass.NotNil(read.SubmittedDate)

	ok, err := persistence.UpdateOneTaskStatus(ctx, table, task1.Id,
		[]persistence.TaskStatus{persistence.TaskStatusCreating}, persistence.TaskStatusFailed)
	require.NoError(t, err)
	ass.False(ok, "the expected status doesn't match")

	ok, err = persistence.UpdateOneTaskStatus(ctx, table, task1.Id,
		[]persistence.TaskStatus{persistence.TaskStatusSubmitted}, persistence.TaskStatusCompleted)
	require.NoError(t, err)
	ass.True(ok)

	// terminal rows never match, replays are no-ops
	ok, err = persistence.UpdateOneTaskStatus(ctx, table, task1.Id, nil, persistence.TaskStatusSubmitted)
	require.NoError(t, err)
	ass.False(ok)
	read, err = table.ReadTask(ctx, task1.Id)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusCompleted, read.Status)

	counts, err := table.CountTasks(ctx, persistence.TaskFilter{SessionId: sessionId})
	require.NoError(t, err)
	ass.Equal(int64(1), persistence.CountOf(counts, persistence.TaskStatusCompleted))
	ass.Equal(int64(1), persistence.CountOf(counts, persistence.TaskStatusSubmitted))

	tasks, err := table.ListTasks(ctx, persistence.TaskFilter{
		SessionId: sessionId,
		Statuses:  []persistence.TaskStatus{persistence.TaskStatusSubmitted},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	ass.Equal(task2.Id, tasks[0].Id)

	require.NoError(t, table.DeleteTasks(ctx, sessionId))
	tasks, err = table.ListTasks(ctx, persistence.TaskFilter{SessionId: sessionId})
	require.NoError(t, err)
	ass.Empty(tasks)
}

// TaskTableAcquireTest covers the acquisition of a task and the lifecycle of its lease
// nolint: funlen
func TaskTableAcquireTest(t *testing.T, ass *assert.Assertions, table persistence.TaskTable) {
	ctx := context.Background()
	sessionId := newTestSession().Id

	task := newTestTask(sessionId, 1)
	require.NoError(t, table.CreateTasks(ctx, []persistence.Task{task}))

	req := acquireRequest(task.Id, time.Minute)
	acquired, err := table.AcquireTask(ctx, req)
	require.NoError(t, err)
	ass.False(acquired, "a task in creation cannot be acquired")

	_, err = table.FinalizeTaskCreation(ctx, []string{task.Id})
	require.NoError(t, err)

	acquired, err = table.AcquireTask(ctx, req)
	require.NoError(t, err)
	ass.True(acquired)

	other := acquireRequest(task.Id, time.Minute)
	acquired, err = table.AcquireTask(ctx, other)
	require.NoError(t, err)
	ass.False(acquired, "the lease of the first acquisition is still valid")

	renewed, err := table.RenewTaskLease(ctx, task.Id, other.AcquisitionId, time.Minute)
	require.NoError(t, err)
	ass.False(renewed)
	renewed, err = table.RenewTaskLease(ctx, task.Id, req.AcquisitionId, time.Minute)
	require.NoError(t, err)
	ass.True(renewed)

	started, err := table.StartTask(ctx, task.Id, other.AcquisitionId)
	require.NoError(t, err)
	ass.False(started)
	started, err = table.StartTask(ctx, task.Id, req.AcquisitionId)
	require.NoError(t, err)
	ass.True(started)

	read, err := table.ReadTask(ctx, task.Id)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusProcessing, read.Status)
	ass.Equal(req.AcquisitionId, read.AcquisitionId)
	ass.Equal("pod-test", read.OwnerPodId)
	ass.NotNil(read.StartDate)

	// a release gives the task back to the queue
	ended, err := table.EndTask(ctx, persistence.EndTaskRequest{
		TaskId:        task.Id,
		AcquisitionId: req.AcquisitionId,
		Status:        persistence.TaskStatusSubmitted,
		CountAsRetry:  true,
	})
	require.NoError(t, err)
	ass.True(ended)

	read, err = table.ReadTask(ctx, task.Id)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusSubmitted, read.Status)
	ass.Equal(int32(1), read.Retries)
	ass.Empty(read.AcquisitionId)

	ended, err = table.EndTask(ctx, persistence.EndTaskRequest{
		TaskId:        task.Id,
		AcquisitionId: req.AcquisitionId,
		Status:        persistence.TaskStatusCompleted,
	})
	require.NoError(t, err)
	ass.False(ended, "a released acquisition cannot end the task")

	second := acquireRequest(task.Id, time.Minute)
	acquired, err = table.AcquireTask(ctx, second)
	require.NoError(t, err)
	ass.True(acquired)

	ended, err = table.EndTask(ctx, persistence.EndTaskRequest{
		TaskId:        task.Id,
		AcquisitionId: second.AcquisitionId,
		Status:        persistence.TaskStatusCompleted,
		Output:        persistence.TaskOutput{Success: true},
	})
	require.NoError(t, err)
	ass.True(ended)

	read, err = table.ReadTask(ctx, task.Id)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusCompleted, read.Status)
	ass.True(read.Output.Success)
	ass.NotNil(read.EndDate)

	acquired, err = table.AcquireTask(ctx, acquireRequest(task.Id, time.Minute))
	require.NoError(t, err)
	ass.False(acquired, "a completed task cannot be acquired")
}

// TaskTableAbandonedLeaseTest covers the takeover of a task whose holder stopped renewing
func TaskTableAbandonedLeaseTest(t *testing.T, ass *assert.Assertions, table persistence.TaskTable) {
	ctx := context.Background()
	sessionId := newTestSession().Id

	task := newTestTask(sessionId, 1)
	require.NoError(t, table.CreateTasks(ctx, []persistence.Task{task}))
	_, err := table.FinalizeTaskCreation(ctx, []string{task.Id})
	require.NoError(t, err)

	first := acquireRequest(task.Id, 10*time.Millisecond)
	acquired, err := table.AcquireTask(ctx, first)
	require.NoError(t, err)
	ass.True(acquired)

	time.Sleep(50 * time.Millisecond)

	second := acquireRequest(task.Id, time.Minute)
	acquired, err = table.AcquireTask(ctx, second)
	require.NoError(t, err)
	ass.True(acquired)

	read, err := table.ReadTask(ctx, task.Id)
	require.NoError(t, err)
	ass.Equal(int32(0), read.Retries, "a takeover is not a retry")
	ass.Equal(second.AcquisitionId, read.AcquisitionId)

	renewed, err := table.RenewTaskLease(ctx, task.Id, first.AcquisitionId, time.Minute)
	require.NoError(t, err)
	ass.False(renewed, "the first holder lost the task")

	// two timeouts exhaust a budget of one retry
	holder := second
	for i := 0; i < 2; i++ {
		ended, err := table.EndTask(ctx, persistence.EndTaskRequest{
			TaskId:        task.Id,
			AcquisitionId: holder.AcquisitionId,
			Status:        persistence.TaskStatusTimeout,
			CountAsRetry:  true,
		})
		require.NoError(t, err)
		ass.True(ended)

		holder = acquireRequest(task.Id, time.Minute)
		acquired, err = table.AcquireTask(ctx, holder)
		require.NoError(t, err)
		ass.Equal(i == 0, acquired)
	}

	read, err = table.ReadTask(ctx, task.Id)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusTimeout, read.Status, "a task over its budget is left untouched")
	ass.Equal(int32(2), read.Retries)
}

// TaskTableConcurrentAcquireTest races acquisitions of the same task, exactly one must win
func TaskTableConcurrentAcquireTest(t *testing.T, ass *assert.Assertions, table persistence.TaskTable) {
	ctx := context.Background()
	sessionId := newTestSession().Id

	task := newTestTask(sessionId, 0)
	require.NoError(t, table.CreateTasks(ctx, []persistence.Task{task}))
	_, err := table.FinalizeTaskCreation(ctx, []string{task.Id})
	require.NoError(t, err)

	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired, err := table.AcquireTask(ctx, acquireRequest(task.Id, time.Minute))
			ass.NoError(err)
			if acquired {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	ass.Equal(1, won)
}

// TaskTableCancelTest covers the cancellation of the tasks of a session
func TaskTableCancelTest(t *testing.T, ass *assert.Assertions, table persistence.TaskTable) {
	ctx := context.Background()
	sessionId := newTestSession().Id

	creating := newTestTask(sessionId, 0)
	submitted := newTestTask(sessionId, 0)
	running := newTestTask(sessionId, 0)
	completed := newTestTask(sessionId, 0)
	require.NoError(t, table.CreateTasks(ctx, []persistence.Task{creating, submitted, running, completed}))
	_, err := table.FinalizeTaskCreation(ctx, []string{submitted.Id, running.Id, completed.Id})
	require.NoError(t, err)

	req := acquireRequest(running.Id, time.Minute)
	acquired, err := table.AcquireTask(ctx, req)
	require.NoError(t, err)
	require.True(t, acquired)
	_, err = persistence.UpdateOneTaskStatus(ctx, table, completed.Id, nil, persistence.TaskStatusCompleted)
	require.NoError(t, err)

	matched, err := table.CancelSessionTasks(ctx, sessionId)
	require.NoError(t, err)
	ass.Equal(int64(3), matched)

	statusOf := func(id string) persistence.TaskStatus {
		read, err := table.ReadTask(ctx, id)
		require.NoError(t, err)
		return read.Status
	}
	ass.Equal(persistence.TaskStatusCanceled, statusOf(creating.Id))
	ass.Equal(persistence.TaskStatusCanceled, statusOf(submitted.Id))
	ass.Equal(persistence.TaskStatusCanceling, statusOf(running.Id))
	ass.Equal(persistence.TaskStatusCompleted, statusOf(completed.Id))

	renewed, err := table.RenewTaskLease(ctx, running.Id, req.AcquisitionId, time.Minute)
	require.NoError(t, err)
	ass.False(renewed, "a canceling task cannot be renewed")

	ended, err := table.EndTask(ctx, persistence.EndTaskRequest{
		TaskId:        running.Id,
		AcquisitionId: req.AcquisitionId,
		Status:        persistence.TaskStatusCanceled,
	})
	require.NoError(t, err)
	ass.True(ended)
	ass.Equal(persistence.TaskStatusCanceled, statusOf(running.Id))

	matched, err = table.CancelTasks(ctx, []string{creating.Id, completed.Id})
	require.NoError(t, err)
	ass.Equal(int64(0), matched)

	givenBack := newTestTask(sessionId, 0)
	require.NoError(t, table.CreateTasks(ctx, []persistence.Task{givenBack}))
	_, err = table.FinalizeTaskCreation(ctx, []string{givenBack.Id})
	require.NoError(t, err)
	req = acquireRequest(givenBack.Id, time.Minute)
	acquired, err = table.AcquireTask(ctx, req)
	require.NoError(t, err)
	require.True(t, acquired)
	matched, err = table.CancelTasks(ctx, []string{givenBack.Id})
	require.NoError(t, err)
	ass.Equal(int64(1), matched)

	ended, err = table.EndTask(ctx, persistence.EndTaskRequest{
		TaskId:        givenBack.Id,
		AcquisitionId: req.AcquisitionId,
		Status:        persistence.TaskStatusSubmitted,
	})
	require.NoError(t, err)
	ass.True(ended)
	read, err := table.ReadTask(ctx, givenBack.Id)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusCanceled, read.Status, "a cancellation is not lost by giving the task back")
	ass.NotNil(read.EndDate)
}
