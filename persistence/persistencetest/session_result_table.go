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
	"github.com/xcherryio/taskgrid/persistence"
)

func SessionTableTest(t *testing.T, ass *assert.Assertions, table persistence.SessionTable) {
	ctx := context.Background()

	session := newTestSession()
	require.NoError(t, table.CreateSession(ctx, session))
	ass.True(errors.Is(table.CreateSession(ctx, session), persistence.ErrSessionAlreadyExists))

	read, err := table.GetSession(ctx, session.Id)
	require.NoError(t, err)
	ass.Equal(session.Id, read.Id)
	ass.Equal(persistence.SessionStatusRunning, read.Status)
	ass.Equal([]string{"default"}, read.PartitionIds)
	ass.Equal(int32(2), read.Options.MaxRetries)

	_, err = table.GetSession(ctx, "not-a-session")
	ass.True(errors.Is(err, persistence.ErrSessionNotFound))
	_, err = table.IsSessionCancelled(ctx, "not-a-session")
	ass.True(errors.Is(err, persistence.ErrSessionNotFound))

	cancelled, err := table.IsSessionCancelled(ctx, session.Id)
	require.NoError(t, err)
	ass.False(cancelled)

	read, err = table.CancelSession(ctx, session.Id)
	require.NoError(t, err)
	ass.Equal(persistence.SessionStatusCancelled, read.Status)
	ass.NotNil(read.CancellationDate)

	_, err = table.CancelSession(ctx, session.Id)
	ass.True(errors.Is(err, persistence.ErrSessionAlreadyCancelled))
	_, err = table.CancelSession(ctx, "not-a-session")
	ass.True(errors.Is(err, persistence.ErrSessionNotFound))

	cancelled, err = table.IsSessionCancelled(ctx, session.Id)
	require.NoError(t, err)
	ass.True(cancelled)

	sessions, err := table.ListSessions(ctx, persistence.SessionFilter{
		Statuses: []persistence.SessionStatus{persistence.SessionStatusCancelled},
	})
	require.NoError(t, err)
	ass.True(containsSession(sessions, session.Id))

	require.NoError(t, table.DeleteSession(ctx, session.Id))
	_, err = table.GetSession(ctx, session.Id)
	ass.True(errors.Is(err, persistence.ErrSessionNotFound))
}

func ResultTableTest(t *testing.T, ass *assert.Assertions, table persistence.ResultTable) {
	ctx := context.Background()
	sessionId := newTestSession().Id
	now := time.Now().Truncate(time.Millisecond)

	results := []persistence.Result{
		{SessionId: sessionId, Key: "a", OwnerTaskId: "task-1", Status: persistence.ResultStatusCreated, CreationDate: now},
		{SessionId: sessionId, Key: "b", OwnerTaskId: "task-1", Status: persistence.ResultStatusCreated, CreationDate: now},
		{SessionId: sessionId, Key: "c", OwnerTaskId: "task-2", Status: persistence.ResultStatusCreated, CreationDate: now},
	}
	require.NoError(t, table.CreateResults(ctx, results))
	ass.True(errors.Is(table.CreateResults(ctx, results[:1]), persistence.ErrResultAlreadyExists))

	_, err := table.GetResult(ctx, sessionId, "not-a-key")
	ass.True(errors.Is(err, persistence.ErrResultNotFound))

	available, err := table.AreResultsAvailable(ctx, sessionId, []string{"a"})
	require.NoError(t, err)
	ass.False(available)
	available, err = table.AreResultsAvailable(ctx, sessionId, nil)
	require.NoError(t, err)
	ass.True(available, "no dependency is always available")

	matched, err := table.SetResultsAvailable(ctx, sessionId, "task-2", []string{"a"})
	require.NoError(t, err)
	ass.Equal(int64(0), matched, "only the owner completes a result")

	matched, err = table.ChangeResultOwnership(ctx, sessionId, "task-1", []string{"b"}, "task-3")
	require.NoError(t, err)
	ass.Equal(int64(1), matched)

	matched, err = table.SetResultsAvailable(ctx, sessionId, "task-1", []string{"a", "b"})
	require.NoError(t, err)
	ass.Equal(int64(1), matched)

	read, err := table.GetResult(ctx, sessionId, "a")
	require.NoError(t, err)
	ass.Equal(persistence.ResultStatusCompleted, read.Status)
	ass.NotNil(read.CompletionDate)

	available, err = table.AreResultsAvailable(ctx, sessionId, []string{"a"})
	require.NoError(t, err)
	ass.True(available)
	available, err = table.AreResultsAvailable(ctx, sessionId, []string{"a", "b"})
	require.NoError(t, err)
	ass.False(available)

	matched, err = table.AbortTaskResults(ctx, sessionId, "task-2")
	require.NoError(t, err)
	ass.Equal(int64(1), matched)
	read, err = table.GetResult(ctx, sessionId, "c")
	require.NoError(t, err)
	ass.Equal(persistence.ResultStatusAborted, read.Status)

	listed, err := table.ListResults(ctx, sessionId)
	require.NoError(t, err)
	ass.Len(listed, 3)

	require.NoError(t, table.DeleteResults(ctx, sessionId))
	listed, err = table.ListResults(ctx, sessionId)
	require.NoError(t, err)
	ass.Empty(listed)
}

func containsSession(sessions []persistence.Session, id string) bool {
	for _, s := range sessions {
		if s.Id == id {
			return true
		}
	}
	return false
}
