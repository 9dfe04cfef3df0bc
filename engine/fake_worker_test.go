// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/persistence/memory"
	"github.com/xcherryio/taskgrid/submitter"
	"github.com/xcherryio/taskgrid/worker"
)

const testPartition = "default"

// fakeWorker replies to the whole request of an execution with the replies of reply.
// When block is set, Recv waits for the context instead
type fakeWorker struct {
	reply func(requests []*worker.ComputeRequest) []*worker.ComputeReply
	block bool

	mu       sync.Mutex
	received [][]*worker.ComputeRequest
	started  chan struct{}
}

func newFakeWorker(reply func(requests []*worker.ComputeRequest) []*worker.ComputeReply) *fakeWorker {
	return &fakeWorker{reply: reply, started: make(chan struct{}, 16)}
}

func newBlockingWorker() *fakeWorker {
	w := newFakeWorker(nil)
	w.block = true
	return w
}

func completingWorker(results map[string]string) *fakeWorker {
	return newFakeWorker(func(_ []*worker.ComputeRequest) []*worker.ComputeReply {
		var replies []*worker.ComputeReply
		for key, value := range results {
			replies = append(replies, &worker.ComputeReply{
				Kind: worker.ComputeReplyKindResult, Key: key, Chunk: []byte(value), Last: true,
			})
		}
		return append(replies, &worker.ComputeReply{Kind: worker.ComputeReplyKindCompletion})
	})
}

func (w *fakeWorker) Open(ctx context.Context) (worker.Stream, error) {
	return &fakeStream{worker: w}, nil
}

func (w *fakeWorker) Close() error {
	return nil
}

func (w *fakeWorker) executions() [][]*worker.ComputeRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]*worker.ComputeRequest(nil), w.received...)
}

type fakeStream struct {
	worker   *fakeWorker
	requests []*worker.ComputeRequest
	replies  []*worker.ComputeReply
	closed   bool
}

func (s *fakeStream) Send(ctx context.Context, request *worker.ComputeRequest) error {
	if s.closed {
		return worker.ErrStreamClosed
	}
	s.requests = append(s.requests, request)
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.worker.mu.Lock()
	s.worker.received = append(s.worker.received, s.requests)
	s.worker.mu.Unlock()
	s.worker.started <- struct{}{}
	if s.worker.reply != nil {
		s.replies = s.worker.reply(s.requests)
	}
	return nil
}

func (s *fakeStream) Recv(ctx context.Context) (*worker.ComputeReply, error) {
	if s.worker.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(s.replies) == 0 {
		return nil, io.EOF
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type testEnv struct {
	storages  persistence.Storages
	queue     *memory.QueueStorage
	submitter *submitter.Submitter
	sessionId string
}

func newTestConfig() config.Config {
	return config.Config{
		ObjectStorage: config.ObjectStorageConfig{
			InlineThreshold: 8,
			ChunkSize:       4,
		},
		SubmitterService: config.SubmitterServiceConfig{
			DefaultPartitionId: testPartition,
			PollingDelay:       10 * time.Millisecond,
			UploadConcurrency:  2,
		},
		PollsterService: config.PollsterServiceConfig{
			PodId:              "pod-1",
			PartitionId:        testPartition,
			Concurrency:        2,
			MessageBatchSize:   2,
			PollInterval:       10 * time.Millisecond,
			PollIntervalJitter: 5 * time.Millisecond,
			TaskLeaseDuration:  200 * time.Millisecond,
			TaskLeaseRefresh:   20 * time.Millisecond,
			Worker: config.WorkerConfig{
				MaxErrorDetailSize: 32,
			},
		},
	}
}

func newTestEnv(t *testing.T, defaults persistence.TaskOptions) *testEnv {
	queue := memory.NewQueueStorage(10, time.Millisecond)
	storages := persistence.Storages{
		Tasks:    memory.NewTaskTable(),
		Sessions: memory.NewSessionTable(),
		Results:  memory.NewResultTable(),
		Queue:    queue,
		Objects:  memory.NewObjectStorage(),
	}
	sub := submitter.NewSubmitter(newTestConfig(), storages, log.NewNopLogger())
	sessionId, err := sub.CreateSession(context.Background(), nil, defaults)
	require.NoError(t, err)
	return &testEnv{
		storages:  storages,
		queue:     queue,
		submitter: sub,
		sessionId: sessionId,
	}
}

func (e *testEnv) submit(t *testing.T, requests ...submitter.TaskRequest) []string {
	created, err := e.submitter.SubmitTasks(context.Background(), e.sessionId, nil, requests)
	require.NoError(t, err)
	ids := make([]string, 0, len(created))
	for _, c := range created {
		ids = append(ids, c.TaskId)
	}
	return ids
}

func (e *testEnv) pull(t *testing.T) persistence.QueueMessageHandler {
	var message persistence.QueueMessageHandler
	require.Eventually(t, func() bool {
		messages, err := e.queue.PullMessages(context.Background(), testPartition, 1)
		require.NoError(t, err)
		if len(messages) == 0 {
			return false
		}
		message = messages[0]
		return true
	}, time.Second, time.Millisecond)
	return message
}

func (e *testEnv) readTask(t *testing.T, taskId string) *persistence.Task {
	task, err := e.storages.Tasks.ReadTask(context.Background(), taskId)
	require.NoError(t, err)
	return task
}

func newTestHandlerConfig() HandlerConfig {
	cfg := newTestConfig()
	return HandlerConfig{
		PodId:                     cfg.PollsterService.PodId,
		PartitionId:               testPartition,
		TaskLeaseDuration:         cfg.PollsterService.TaskLeaseDuration,
		TaskLeaseRefresh:          cfg.PollsterService.TaskLeaseRefresh,
		CancellationCheckInterval: cfg.PollsterService.PollInterval,
		ChunkSize:                 cfg.ObjectStorage.ChunkSize,
		MaxErrorDetailSize:        cfg.PollsterService.Worker.MaxErrorDetailSize,
		PostProcessingTimeout:     time.Second,
	}
}

func (e *testEnv) newHandler(
	rootCtx context.Context, message persistence.QueueMessageHandler, streams worker.StreamHandler,
) *TaskHandler {
	return NewTaskHandler(rootCtx, newTestHandlerConfig(), e.storages, e.submitter, streams, message,
		log.NewNopLogger())
}

// run drives the handler the way the pollster does and returns the disposition of the message
func run(t *testing.T, ctx context.Context, handler *TaskHandler) (bool, persistence.QueueMessageStatus) {
	acquired, err := handler.AcquireTask(ctx)
	require.NoError(t, err)
	if acquired {
		require.NoError(t, handler.PreProcessing(ctx))
		_ = handler.ExecuteTask(ctx)
		require.NoError(t, handler.PostProcessing(ctx))
	}
	disposition := handler.message.Status()
	require.NoError(t, handler.Dispose(ctx))
	return acquired, disposition
}
