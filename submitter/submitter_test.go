// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package submitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/persistence/memory"
)

func newTestConfig() config.Config {
	return config.Config{
		ObjectStorage: config.ObjectStorageConfig{
			InlineThreshold: 8,
			ChunkSize:       4,
		},
		SubmitterService: config.SubmitterServiceConfig{
			DefaultPartitionId:  "default",
			AllowedPartitionIds: []string{"default", "gpu"},
			PollingDelay:        10 * time.Millisecond,
			UploadConcurrency:   2,
			EnqueueRetryTimeout: 200 * time.Millisecond,
		},
	}
}

func newTestStorages() (persistence.Storages, *memory.QueueStorage) {
	queue := memory.NewQueueStorage(10, time.Millisecond)
	return persistence.Storages{
		Tasks:    memory.NewTaskTable(),
		Sessions: memory.NewSessionTable(),
		Results:  memory.NewResultTable(),
		Queue:    queue,
		Objects:  memory.NewObjectStorage(),
	}, queue
}

// statusCheckingQueue records the status of every task at the time it is enqueued
type statusCheckingQueue struct {
	*memory.QueueStorage
	tasks    persistence.TaskTable
	statuses []persistence.TaskStatus
}

func (q *statusCheckingQueue) EnqueueMessages(ctx context.Context, partitionId string, priority int, taskIds []string) error {
	for _, id := range taskIds {
		task, err := q.tasks.ReadTask(ctx, id)
		if err != nil {
			return err
		}
		q.statuses = append(q.statuses, task.Status)
	}
	return q.QueueStorage.EnqueueMessages(ctx, partitionId, priority, taskIds)
}

type failingObjectStorage struct {
	persistence.ObjectStorage
}

func (f failingObjectStorage) AddOrUpdate(ctx context.Context, key string, chunks persistence.ChunkStream) error {
	return errors.New("object storage is down")
}

func TestCreateSession(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, _ := newTestStorages()
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	_, err := sub.CreateSession(ctx, []string{"cpu"}, persistence.TaskOptions{})
	ass.Equal(CodeInvalidArgument, CodeOf(err))

	_, err = sub.CreateSession(ctx, nil, persistence.TaskOptions{Priority: 11})
	ass.Equal(CodeInvalidArgument, CodeOf(err))
	ass.True(errors.Is(err, persistence.ErrInvalidPriority))

	_, err = sub.CreateSession(ctx, []string{"default"}, persistence.TaskOptions{PartitionId: "gpu"})
	ass.Equal(CodeInvalidArgument, CodeOf(err))

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{MaxRetries: 3})
	require.NoError(t, err)
	session, err := sub.GetSession(ctx, sessionId)
	require.NoError(t, err)
	ass.Equal([]string{"default"}, session.PartitionIds)
	ass.Equal("default", session.Options.PartitionId)
	ass.Equal(persistence.SessionStatusRunning, session.Status)

	_, err = sub.GetSession(ctx, "unknown")
	ass.Equal(CodeNotFound, CodeOf(err))
}

func TestCreateAndFinalizeTasks(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, queue := newTestStorages()
	checking := &statusCheckingQueue{QueueStorage: queue, tasks: storages.Tasks}
	storages.Queue = checking
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, []string{"default", "gpu"}, persistence.TaskOptions{Priority: 1})
	require.NoError(t, err)

	creation, err := sub.CreateTasks(ctx, sessionId, "", nil, []TaskRequest{
		{ExpectedOutputKeys: []string{"small"}, Payload: [][]byte{[]byte("tiny")}},
		{ExpectedOutputKeys: []string{"large"}, Payload: [][]byte{[]byte("larger than eight")}},
		{ExpectedOutputKeys: []string{"chunked"}, Payload: [][]byte{[]byte("a"), []byte("b")},
			Options: &persistence.TaskOptions{PartitionId: "gpu", Priority: 5}},
	})
	require.NoError(t, err)
	require.Len(t, creation.Tasks, 3)

	small, err := storages.Tasks.ReadTask(ctx, creation.Tasks[0].TaskId)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusCreating, small.Status)
	ass.Equal([]byte("tiny"), small.Payload)
	ass.False(small.HasPayloadInObjectStorage)
	ass.Equal(1, small.Options.Priority)

	large, err := storages.Tasks.ReadTask(ctx, creation.Tasks[1].TaskId)
	require.NoError(t, err)
	ass.Nil(large.Payload)
	ass.True(large.HasPayloadInObjectStorage)

	ass.Equal(0, queue.Len("default"), "nothing is enqueued before the finalization")

	require.NoError(t, sub.FinalizeTaskCreation(ctx, creation))

	ass.Equal(2, queue.Len("default"))
	ass.Equal(1, queue.Len("gpu"))
	for _, status := range checking.statuses {
		ass.Equal(persistence.TaskStatusSubmitted, status)
	}

	stream, err := storages.Objects.GetValues(ctx, persistence.PayloadKey(sessionId, large.Id))
	require.NoError(t, err)
	payload, err := persistence.ReadAll(ctx, stream)
	require.NoError(t, err)
	ass.Equal("larger than eight", string(payload))

	stream, err = storages.Objects.GetValues(ctx, persistence.PayloadKey(sessionId, creation.Tasks[2].TaskId))
	require.NoError(t, err)
	payload, err = persistence.ReadAll(ctx, stream)
	require.NoError(t, err)
	ass.Equal("ab", string(payload))

	result, err := storages.Results.GetResult(ctx, sessionId, "small")
	require.NoError(t, err)
	ass.Equal(creation.Tasks[0].TaskId, result.OwnerTaskId)
	ass.Equal(persistence.ResultStatusCreated, result.Status)
}

func TestCreateTasksValidation(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, _ := newTestStorages()
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)

	_, err = sub.CreateTasks(ctx, "unknown", "", nil, []TaskRequest{{ExpectedOutputKeys: []string{"k"}}})
	ass.Equal(CodeNotFound, CodeOf(err))

	_, err = sub.CreateTasks(ctx, sessionId, "", &persistence.TaskOptions{Priority: 42},
		[]TaskRequest{{ExpectedOutputKeys: []string{"k"}}})
	ass.Equal(CodeInvalidArgument, CodeOf(err))

	_, err = sub.CreateTasks(ctx, sessionId, "", &persistence.TaskOptions{PartitionId: "gpu"},
		[]TaskRequest{{ExpectedOutputKeys: []string{"k"}}})
	ass.Equal(CodeInvalidArgument, CodeOf(err), "gpu is not a partition of the session")

	_, err = sub.CreateTasks(ctx, sessionId, "", nil, []TaskRequest{{}})
	ass.Equal(CodeInvalidArgument, CodeOf(err))

	_, err = sub.SubmitTasks(ctx, sessionId, nil, []TaskRequest{{ExpectedOutputKeys: []string{"k"}}})
	require.NoError(t, err)
	_, err = sub.CreateTasks(ctx, sessionId, "", nil, []TaskRequest{{ExpectedOutputKeys: []string{"k"}}})
	ass.Equal(CodeInvalidArgument, CodeOf(err), "a result key is produced once")
}

func TestFinalizeFailsTasksWhenUploadFails(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, queue := newTestStorages()
	storages.Objects = failingObjectStorage{storages.Objects}
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)
	creation, err := sub.CreateTasks(ctx, sessionId, "", nil, []TaskRequest{
		{ExpectedOutputKeys: []string{"out"}, Payload: [][]byte{[]byte("payload above threshold")}},
	})
	require.NoError(t, err)

	err = sub.FinalizeTaskCreation(ctx, creation)
	ass.Error(err)
	ass.Equal(CodeInternal, CodeOf(err))
	ass.Equal(0, queue.Len("default"))

	task, err := storages.Tasks.ReadTask(ctx, creation.Tasks[0].TaskId)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusFailed, task.Status)
	result, err := storages.Results.GetResult(ctx, sessionId, "out")
	require.NoError(t, err)
	ass.Equal(persistence.ResultStatusAborted, result.Status)
}

// flakyQueue fails the first failures enqueues
type flakyQueue struct {
	*memory.QueueStorage
	failures int
	calls    int
}

func (q *flakyQueue) EnqueueMessages(ctx context.Context, partitionId string, priority int, taskIds []string) error {
	q.calls++
	if q.calls <= q.failures {
		return errors.New("queue is unavailable")
	}
	return q.QueueStorage.EnqueueMessages(ctx, partitionId, priority, taskIds)
}

func TestFinalizeRetriesTheEnqueue(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, queue := newTestStorages()
	flaky := &flakyQueue{QueueStorage: queue, failures: 2}
	storages.Queue = flaky
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)
	created, err := sub.SubmitTasks(ctx, sessionId, nil, []TaskRequest{{ExpectedOutputKeys: []string{"out"}}})
	require.NoError(t, err)

	ass.Equal(3, flaky.calls)
	ass.Equal(1, queue.Len("default"))
	task, err := storages.Tasks.ReadTask(ctx, created[0].TaskId)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusSubmitted, task.Status)
}

func TestFinalizeFailsTasksThatCannotBeEnqueued(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, queue := newTestStorages()
	storages.Queue = &flakyQueue{QueueStorage: queue, failures: 1 << 30}
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)
	creation, err := sub.CreateTasks(ctx, sessionId, "", nil, []TaskRequest{{ExpectedOutputKeys: []string{"out"}}})
	require.NoError(t, err)

	err = sub.FinalizeTaskCreation(ctx, creation)
	ass.Error(err)
	ass.Equal(CodeInternal, CodeOf(err))
	ass.Equal(0, queue.Len("default"))

	task, err := storages.Tasks.ReadTask(ctx, creation.Tasks[0].TaskId)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusFailed, task.Status, "a submitted task without message is not left pending")
	result, err := storages.Results.GetResult(ctx, sessionId, "out")
	require.NoError(t, err)
	ass.Equal(persistence.ResultStatusAborted, result.Status)
}

func TestCancelSession(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, _ := newTestStorages()
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)
	created, err := sub.SubmitTasks(ctx, sessionId, nil, []TaskRequest{
		{ExpectedOutputKeys: []string{"a"}},
		{ExpectedOutputKeys: []string{"b"}},
	})
	require.NoError(t, err)
	_, err = persistence.UpdateOneTaskStatus(ctx, storages.Tasks, created[0].TaskId, nil, persistence.TaskStatusCompleted)
	require.NoError(t, err)

	session, err := sub.CancelSession(ctx, sessionId)
	require.NoError(t, err)
	ass.Equal(persistence.SessionStatusCancelled, session.Status)

	statuses, err := sub.GetTaskStatus(ctx, []string{created[0].TaskId, created[1].TaskId})
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusCompleted, statuses[created[0].TaskId], "completed tasks are not altered")
	ass.Equal(persistence.TaskStatusCanceled, statuses[created[1].TaskId])

	_, err = sub.CancelSession(ctx, sessionId)
	ass.Equal(CodeFailedPrecondition, CodeOf(err))
	_, err = sub.CancelSession(ctx, "unknown")
	ass.Equal(CodeNotFound, CodeOf(err))

	_, err = sub.CreateTasks(ctx, sessionId, "", nil, []TaskRequest{{ExpectedOutputKeys: []string{"c"}}})
	ass.Equal(CodeFailedPrecondition, CodeOf(err))

	_, err = sub.GetTaskStatus(ctx, []string{"unknown"})
	ass.Equal(CodeNotFound, CodeOf(err))
}

func TestWaitForCompletion(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, _ := newTestStorages()
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)
	created, err := sub.SubmitTasks(ctx, sessionId, nil, []TaskRequest{
		{ExpectedOutputKeys: []string{"a"}},
		{ExpectedOutputKeys: []string{"b"}},
	})
	require.NoError(t, err)

	go func() {
		for _, c := range created {
			time.Sleep(30 * time.Millisecond)
			_, _ = persistence.UpdateOneTaskStatus(ctx, storages.Tasks, c.TaskId, nil, persistence.TaskStatusCompleted)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	counts, err := sub.WaitForCompletion(waitCtx, WaitRequest{Filter: persistence.TaskFilter{SessionId: sessionId}})
	require.NoError(t, err)
	ass.Equal(int64(2), persistence.CountOf(counts, persistence.TaskStatusCompleted))
}

func TestWaitForCompletionStopsOnFirstError(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, _ := newTestStorages()
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)
	created, err := sub.SubmitTasks(ctx, sessionId, nil, []TaskRequest{
		{ExpectedOutputKeys: []string{"a"}},
		{ExpectedOutputKeys: []string{"b"}},
	})
	require.NoError(t, err)
	_, err = persistence.UpdateOneTaskStatus(ctx, storages.Tasks, created[0].TaskId, nil, persistence.TaskStatusFailed)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	counts, err := sub.WaitForCompletion(waitCtx, WaitRequest{
		Filter:               persistence.TaskFilter{SessionId: sessionId},
		StopOnFirstTaskError: true,
	})
	require.NoError(t, err)
	ass.Equal(int64(1), persistence.CountOf(counts, persistence.TaskStatusFailed))
	ass.Equal(int64(1), persistence.CountOf(counts, persistence.TaskStatusSubmitted))

	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer shortCancel()
	_, err = sub.WaitForCompletion(shortCtx, WaitRequest{Filter: persistence.TaskFilter{SessionId: sessionId}})
	ass.Error(err, "a submitted task keeps the wait going")
}

func TestResults(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, _ := newTestStorages()
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)

	_, err = sub.TryGetResult(ctx, sessionId, "input")
	ass.Equal(CodeNotFound, CodeOf(err))

	require.NoError(t, sub.UploadResult(ctx, sessionId, "input", persistence.NewChunkStream([]byte("in"), []byte("put"))))
	stream, err := sub.TryGetResult(ctx, sessionId, "input")
	require.NoError(t, err)
	data, err := persistence.ReadAll(ctx, stream)
	require.NoError(t, err)
	ass.Equal("input", string(data))

	_, err = sub.SubmitTasks(ctx, sessionId, nil, []TaskRequest{{ExpectedOutputKeys: []string{"out"}, DataDependencies: []string{"input"}}})
	require.NoError(t, err)
	_, err = sub.TryGetResult(ctx, sessionId, "out")
	ass.Equal(CodeFailedPrecondition, CodeOf(err))

	results, err := sub.ListResults(ctx, sessionId)
	require.NoError(t, err)
	ass.Len(results, 2)
	ass.Equal(4, sub.GetServiceConfiguration().DataChunkMaxSize)
}

func TestSubtaskTakesOverParentOutput(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	storages, _ := newTestStorages()
	sub := NewSubmitter(newTestConfig(), storages, log.NewNopLogger())

	sessionId, err := sub.CreateSession(ctx, nil, persistence.TaskOptions{})
	require.NoError(t, err)
	parents, err := sub.SubmitTasks(ctx, sessionId, nil, []TaskRequest{{ExpectedOutputKeys: []string{"final"}}})
	require.NoError(t, err)
	parentId := parents[0].TaskId

	creation, err := sub.CreateTasks(ctx, sessionId, parentId, nil, []TaskRequest{
		{ExpectedOutputKeys: []string{"final", "partial"}},
	})
	require.NoError(t, err)
	ass.Equal([]string{"final"}, creation.Tasks[0].DelegatedKeys)

	result, err := storages.Results.GetResult(ctx, sessionId, "final")
	require.NoError(t, err)
	ass.Equal(parentId, result.OwnerTaskId, "ownership moves at finalization")

	require.NoError(t, sub.FinalizeTaskCreation(ctx, creation))
	result, err = storages.Results.GetResult(ctx, sessionId, "final")
	require.NoError(t, err)
	ass.Equal(creation.Tasks[0].TaskId, result.OwnerTaskId)

	child, err := storages.Tasks.ReadTask(ctx, creation.Tasks[0].TaskId)
	require.NoError(t, err)
	ass.Equal([]string{parentId}, child.ParentTaskIds)
	ass.Equal(persistence.TaskStatusSubmitted, child.Status)
}
