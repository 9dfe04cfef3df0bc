// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/persistence/persistencetest"
	"github.com/xcherryio/taskgrid/persistence/queue/pgqueue"
)

func TestTaskTable(t *testing.T) {
	ass := assert.New(t)
	persistencetest.TaskTableBasicTest(t, ass, tables.Tasks)
	persistencetest.TaskTableAcquireTest(t, ass, tables.Tasks)
	persistencetest.TaskTableAbandonedLeaseTest(t, ass, tables.Tasks)
	persistencetest.TaskTableConcurrentAcquireTest(t, ass, tables.Tasks)
	persistencetest.TaskTableCancelTest(t, ass, tables.Tasks)
}

func TestSessionTable(t *testing.T) {
	persistencetest.SessionTableTest(t, assert.New(t), tables.Sessions)
}

func TestResultTable(t *testing.T) {
	persistencetest.ResultTableTest(t, assert.New(t), tables.Results)
}

func TestQueueStorage(t *testing.T) {
	ctx := context.Background()
	queue, err := pgqueue.NewQueueStorage(ctx, config.QueueStorageConfig{
		MaxPriority:   10,
		LeaseDuration: time.Second,
		LeaseRefresh:  200 * time.Millisecond,
		PostponeDelay: 10 * time.Millisecond,
		Postgres: &config.PostgresQueueConfig{
			ConnectionString: fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=disable",
				sqlConfig.User, sqlConfig.Password, sqlConfig.ConnectAddr, sqlConfig.DatabaseName),
			MaxConnections: 4,
		},
	}, log.NewDevelopmentLogger())
	require.NoError(t, err)
	defer queue.Close()

	ass := assert.New(t)
	persistencetest.QueueStorageTest(t, ass, queue, "queue-test")

	require.NoError(t, queue.EnqueueMessages(ctx, "dead-letter-test", 1, []string{"poison"}))
	messages, err := queue.PullMessages(ctx, "dead-letter-test", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	messages[0].SetStatus(persistence.QueueMessageStatusPoisonous)
	require.NoError(t, messages[0].Close(ctx))

	deadLetters, err := queue.DeadLetters(ctx, "dead-letter-test")
	require.NoError(t, err)
	ass.Equal([]string{"poison"}, deadLetters)
}
