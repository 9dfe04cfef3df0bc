// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/persistence/persistencetest"
)

func TestTaskTable(t *testing.T) {
	ass := assert.New(t)
	table := NewTaskTable()
	persistencetest.TaskTableBasicTest(t, ass, table)
	persistencetest.TaskTableAcquireTest(t, ass, table)
	persistencetest.TaskTableAbandonedLeaseTest(t, ass, table)
	persistencetest.TaskTableConcurrentAcquireTest(t, ass, table)
	persistencetest.TaskTableCancelTest(t, ass, table)
}

func TestSessionTable(t *testing.T) {
	persistencetest.SessionTableTest(t, assert.New(t), NewSessionTable())
}

func TestResultTable(t *testing.T) {
	persistencetest.ResultTableTest(t, assert.New(t), NewResultTable())
}

func TestObjectStorage(t *testing.T) {
	persistencetest.ObjectStorageTest(t, assert.New(t), NewObjectStorage())
}

func TestQueueStorage(t *testing.T) {
	queue := NewQueueStorage(10, 10*time.Millisecond)
	defer queue.Close()
	persistencetest.QueueStorageTest(t, assert.New(t), queue, "default")
}

func TestQueueStorageDeadLetterAndRedelivery(t *testing.T) {
	ass := assert.New(t)
	ctx := context.Background()
	queue := NewQueueStorage(10, time.Hour)

	require.NoError(t, queue.EnqueueMessages(ctx, "p", 1, []string{"t1", "t2", "t3"}))
	messages, err := queue.PullMessages(ctx, "p", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	ass.Equal("t1", messages[0].TaskId(), "same priority keeps the enqueue order")
	ass.Equal("t2", messages[1].TaskId())

	messages[0].SetStatus(persistence.QueueMessageStatusPoisonous)
	require.NoError(t, messages[0].Close(ctx))
	ass.Equal([]string{"t1"}, queue.DeadLetters("p"))

	// a waiting message is redelivered at once, a postponed one is hidden
	require.NoError(t, messages[1].Close(ctx))
	ass.Equal(2, queue.Len("p"))

	pulled, err := queue.PullMessages(ctx, "p", 10)
	require.NoError(t, err)
	require.Len(t, pulled, 2)
	ass.Equal("t2", pulled[0].TaskId())
	ass.Equal("t3", pulled[1].TaskId())

	pulled[0].SetStatus(persistence.QueueMessageStatusPostponed)
	require.NoError(t, pulled[0].Close(ctx))
	empty, err := queue.PullMessages(ctx, "p", 10)
	require.NoError(t, err)
	ass.Empty(empty)
	ass.Equal(1, queue.Len("p"))

	require.NoError(t, queue.Close())
	select {
	case <-pulled[1].LeaseLost():
	default:
		ass.Fail("closing the queue loses the leases")
	}

	other, err := queue.PullMessages(ctx, "unknown", 1)
	require.NoError(t, err)
	ass.Empty(other)
}
