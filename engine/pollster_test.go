// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/submitter"
	"github.com/xcherryio/taskgrid/worker"
)

func TestPollsterExecutesSubmittedTasks(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	env := newTestEnv(t, persistence.TaskOptions{})

	// echo every payload into the single output of the task
	w := newFakeWorker(func(requests []*worker.ComputeRequest) []*worker.ComputeReply {
		var payload []byte
		var key string
		for _, req := range requests {
			switch req.Kind {
			case worker.ComputeRequestKindInit:
				key = req.Init.ExpectedOutputKeys[0]
			case worker.ComputeRequestKindPayloadChunk:
				payload = append(payload, req.Chunk...)
			}
		}
		return []*worker.ComputeReply{
			{Kind: worker.ComputeReplyKindResult, Key: key, Chunk: payload, Last: true},
			{Kind: worker.ComputeReplyKindCompletion},
		}
	})

	var requests []submitter.TaskRequest
	for i := 0; i < 5; i++ {
		requests = append(requests, submitter.TaskRequest{
			ExpectedOutputKeys: []string{fmt.Sprintf("out-%d", i)},
			Payload:            [][]byte{[]byte(fmt.Sprintf("v%d", i))},
		})
	}
	// the last task depends on the output of the first one
	requests = append(requests, submitter.TaskRequest{
		ExpectedOutputKeys: []string{"out-last"},
		DataDependencies:   []string{"out-0"},
	})
	ids := env.submit(t, requests...)

	pollster := NewPollster(newTestConfig(), env.storages, env.submitter, w, log.NewNopLogger())
	require.NoError(t, pollster.Start())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	counts, err := env.submitter.WaitForCompletion(waitCtx, submitter.WaitRequest{
		Filter: persistence.TaskFilter{SessionId: env.sessionId},
	})
	require.NoError(t, err)
	ass.Equal(int64(len(ids)), persistence.CountOf(counts, persistence.TaskStatusCompleted))

	stopCtx, cancelStop := context.WithTimeout(ctx, 5*time.Second)
	defer cancelStop()
	require.NoError(t, pollster.Stop(stopCtx))

	for i := 0; i < 5; i++ {
		stream, err := env.submitter.TryGetResult(ctx, env.sessionId, fmt.Sprintf("out-%d", i))
		require.NoError(t, err)
		data, err := persistence.ReadAll(ctx, stream)
		require.NoError(t, err)
		ass.Equal(fmt.Sprintf("v%d", i), string(data))
	}
	ass.Equal(0, env.queue.Len(testPartition))
}

func TestPollsterStopGivesRunningTasksBack(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	env := newTestEnv(t, persistence.TaskOptions{})
	taskId := env.submit(t, submitter.TaskRequest{ExpectedOutputKeys: []string{"out"}})[0]

	w := newBlockingWorker()
	pollster := NewPollster(newTestConfig(), env.storages, env.submitter, w, log.NewNopLogger())
	require.NoError(t, pollster.Start())
	<-w.started

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pollster.Stop(stopCtx))

	task := env.readTask(t, taskId)
	ass.Equal(persistence.TaskStatusSubmitted, task.Status)
	ass.Empty(task.AcquisitionId)
	ass.Equal(1, env.queue.Len(testPartition))
}
