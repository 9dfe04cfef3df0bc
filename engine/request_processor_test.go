// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/persistence/memory"
	"github.com/xcherryio/taskgrid/worker"
)

func newProcessorTask() *persistence.Task {
	return &persistence.Task{
		Id:                 "task-1",
		SessionId:          "session-1",
		AcquisitionId:      "acquisition-1",
		ExpectedOutputKeys: []string{"a", "b"},
	}
}

func process(
	t *testing.T, objects persistence.ObjectStorage, replies ...*worker.ComputeReply,
) (*ProcessingOutcome, error) {
	task := newProcessorTask()
	w := newFakeWorker(func(_ []*worker.ComputeRequest) []*worker.ComputeReply {
		return replies
	})
	stream, err := w.Open(context.Background())
	require.NoError(t, err)
	requests := NewDataPrefetcher(objects, 4, log.NewNopLogger()).Prefetch(task)
	return NewRequestProcessor(task, objects, nil, log.NewNopLogger()).Process(context.Background(), stream, requests)
}

func TestProcessWritesResults(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	objects := memory.NewObjectStorage()

	outcome, err := process(t, objects,
		&worker.ComputeReply{Kind: worker.ComputeReplyKindResult, Key: "a", Chunk: []byte("12")},
		&worker.ComputeReply{Kind: worker.ComputeReplyKindResult, Key: "b", Chunk: []byte("x"), Last: true},
		&worker.ComputeReply{Kind: worker.ComputeReplyKindResult, Key: "a", Chunk: []byte("34"), Last: true},
		&worker.ComputeReply{Kind: worker.ComputeReplyKindCompletion},
	)
	require.NoError(t, err)
	ass.Equal(persistence.TaskStatusCompleted, outcome.Status)
	ass.Equal([]string{"b", "a"}, outcome.Results)

	_, err = objects.GetValues(ctx, persistence.ResultKey("session-1", "a"))
	ass.ErrorIs(err, persistence.ErrObjectNotFound, "results stay staged until the task completes")
	stream, err := objects.GetValues(ctx, persistence.StagedResultKey("session-1", "a", "acquisition-1"))
	require.NoError(t, err)
	data, err := persistence.ReadAll(ctx, stream)
	require.NoError(t, err)
	ass.Equal("1234", string(data))
}

func TestProcessReportsWorkerError(t *testing.T) {
	outcome, err := process(t, memory.NewObjectStorage(),
		&worker.ComputeReply{Kind: worker.ComputeReplyKindError, Error: "bad input"},
	)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusFailed, outcome.Status)
	assert.Equal(t, "bad input", outcome.Error)
}

func TestProcessRejectsProtocolViolations(t *testing.T) {
	tests := map[string][]*worker.ComputeReply{
		"unexpected output": {
			{Kind: worker.ComputeReplyKindResult, Key: "c", Chunk: []byte("1"), Last: true},
		},
		"result sent twice": {
			{Kind: worker.ComputeReplyKindResult, Key: "a", Last: true},
			{Kind: worker.ComputeReplyKindResult, Key: "a", Last: true},
		},
		"completion with unfinished result": {
			{Kind: worker.ComputeReplyKindResult, Key: "a", Chunk: []byte("1")},
			{Kind: worker.ComputeReplyKindCompletion},
		},
		"no completion": {
			{Kind: worker.ComputeReplyKindResult, Key: "a", Chunk: []byte("1"), Last: true},
		},
		"unknown reply": {
			{Kind: "Unknown"},
		},
		"subtask without creator": {
			{Kind: worker.ComputeReplyKindCreateTask, Tasks: []worker.TaskRequest{{ExpectedOutputKeys: []string{"c"}}}},
		},
	}
	for name, replies := range tests {
		t.Run(name, func(t *testing.T) {
			outcome, err := process(t, memory.NewObjectStorage(), replies...)
			assert.ErrorIs(t, err, ErrWorkerProtocol)
			assert.Equal(t, persistence.TaskStatusUnspecified, outcome.Status)
		})
	}
}

type failingWrites struct {
	persistence.ObjectStorage
}

func (f failingWrites) AddOrUpdate(ctx context.Context, key string, chunks persistence.ChunkStream) error {
	return errors.New("disk full")
}

func TestProcessFailsWhenResultCannotBeStored(t *testing.T) {
	_, err := process(t, failingWrites{memory.NewObjectStorage()},
		&worker.ComputeReply{Kind: worker.ComputeReplyKindResult, Key: "a", Chunk: []byte("1")},
		&worker.ComputeReply{Kind: worker.ComputeReplyKindResult, Key: "a", Chunk: []byte("2"), Last: true},
		&worker.ComputeReply{Kind: worker.ComputeReplyKindCompletion},
	)
	assert.ErrorContains(t, err, "disk full")
}
