// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/taskgrid/common/uuid"
	"github.com/xcherryio/taskgrid/persistence"
)

// QueueStorageTest covers the priorities and the dispositions of a queue backend.
// The partition must be empty and not shared with other tests
func QueueStorageTest(t *testing.T, ass *assert.Assertions, queue persistence.QueueStorage, partitionId string) {
	ctx := context.Background()

	err := queue.EnqueueMessages(ctx, partitionId, queue.MaxPriority()+1, []string{"task"})
	ass.True(errors.Is(err, persistence.ErrInvalidPriority))
	err = queue.EnqueueMessages(ctx, partitionId, -1, []string{"task"})
	ass.True(errors.Is(err, persistence.ErrInvalidPriority))

	low := uuid.NewId()
	high := uuid.NewId()
	require.NoError(t, queue.EnqueueMessages(ctx, partitionId, 0, []string{low}))
	require.NoError(t, queue.EnqueueMessages(ctx, partitionId, queue.MaxPriority(), []string{high}))

	messages := pullUntil(t, queue, partitionId, 1)
	require.Len(t, messages, 1)
	ass.Equal(high, messages[0].TaskId(), "higher priorities come first")
	ass.NotEmpty(messages[0].MessageId())
	ass.Equal(persistence.QueueMessageStatusWaiting, messages[0].Status())

	messages[0].SetStatus(persistence.QueueMessageStatusProcessed)
	require.NoError(t, messages[0].Close(ctx))
	require.NoError(t, messages[0].Close(ctx), "close is idempotent")

	messages = pullUntil(t, queue, partitionId, 1)
	require.Len(t, messages, 1)
	ass.Equal(low, messages[0].TaskId())
	messages[0].SetStatus(persistence.QueueMessageStatusPostponed)
	require.NoError(t, messages[0].Close(ctx))

	messages = pullUntil(t, queue, partitionId, 1)
	require.Len(t, messages, 1)
	ass.Equal(low, messages[0].TaskId(), "a postponed message comes back")
	messages[0].SetStatus(persistence.QueueMessageStatusCancelled)
	require.NoError(t, messages[0].Close(ctx))

	messages, err = queue.PullMessages(ctx, partitionId, 10)
	require.NoError(t, err)
	ass.Empty(messages)
}

func pullUntil(t *testing.T, queue persistence.QueueStorage, partitionId string, n int) []persistence.QueueMessageHandler {
	ctx := context.Background()
	deadline := time.Now().Add(10 * time.Second)
	var out []persistence.QueueMessageHandler
	for time.Now().Before(deadline) {
		messages, err := queue.PullMessages(ctx, partitionId, n-len(out))
		require.NoError(t, err)
		out = append(out, messages...)
		if len(out) >= n {
			return out
		}
		time.Sleep(20 * time.Millisecond)
	}
	return out
}

func ObjectStorageTest(t *testing.T, ass *assert.Assertions, storage persistence.ObjectStorage) {
	ctx := context.Background()
	key := persistence.ResultKey(uuid.NewId(), "out")

	_, err := storage.GetValues(ctx, key)
	ass.True(errors.Is(err, persistence.ErrObjectNotFound))

	chunks := [][]byte{[]byte("hello "), []byte("chunked "), []byte("world")}
	require.NoError(t, storage.AddOrUpdate(ctx, key, persistence.NewChunkStream(chunks...)))

	stream, err := storage.GetValues(ctx, key)
	require.NoError(t, err)
	data, err := persistence.ReadAll(ctx, stream)
	require.NoError(t, err)
	ass.Equal("hello chunked world", string(data))

	require.NoError(t, storage.AddOrUpdate(ctx, key, persistence.NewChunkStream([]byte("replaced"))))
	stream, err = storage.GetValues(ctx, key)
	require.NoError(t, err)
	data, err = persistence.ReadAll(ctx, stream)
	require.NoError(t, err)
	ass.Equal("replaced", string(data))

	empty := key + "-empty"
	require.NoError(t, storage.AddOrUpdate(ctx, empty, persistence.NewChunkStream()))
	stream, err = storage.GetValues(ctx, empty)
	require.NoError(t, err)
	data, err = persistence.ReadAll(ctx, stream)
	require.NoError(t, err)
	ass.Empty(data)

	require.NoError(t, storage.Delete(ctx, key, empty))
	_, err = storage.GetValues(ctx, key)
	ass.True(errors.Is(err, persistence.ErrObjectNotFound))
	require.NoError(t, storage.Delete(ctx, key), "deleting a missing key is not an error")
}
