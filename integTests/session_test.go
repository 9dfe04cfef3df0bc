// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package integTests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/service/api"
)

func TestTaskProducesItsOutput(t *testing.T) {
	ass := assert.New(t)
	c := newClient(t)
	sessionId := c.createSession()

	c.submit(sessionId, api.TaskCreationRequest{ExpectedOutputKeys: []string{"out"}, Payload: []byte("hello")})
	counts := c.wait(sessionId, false)

	ass.Equal(int64(1), persistence.CountOf(counts.Counts, persistence.TaskStatusCompleted))
	ass.Equal("HELLO", c.download(sessionId, "out"))
}

func TestTaskWaitsForItsDependencies(t *testing.T) {
	ass := assert.New(t)
	c := newClient(t)
	sessionId := c.createSession()

	c.upload(sessionId, "input", []byte(" and input"))
	c.submit(sessionId,
		api.TaskCreationRequest{ExpectedOutputKeys: []string{"first"}, Payload: []byte("first")},
		api.TaskCreationRequest{
			ExpectedOutputKeys: []string{"second"},
			DataDependencies:   []string{"first", "input"},
			Payload:            []byte("second "),
		},
	)
	counts := c.wait(sessionId, false)

	ass.Equal(int64(2), persistence.CountOf(counts.Counts, persistence.TaskStatusCompleted))
	ass.Equal("SECOND FIRST and input", c.download(sessionId, "second"))
}

func TestFailingTaskStopsTheWait(t *testing.T) {
	ass := assert.New(t)
	c := newClient(t)
	sessionId := c.createSession()

	submitted := c.submit(sessionId, api.TaskCreationRequest{ExpectedOutputKeys: []string{"out"}, Payload: []byte(payloadFail)})
	counts := c.wait(sessionId, true)
	ass.Equal(int64(1), persistence.CountOf(counts.Counts, persistence.TaskStatusFailed))

	var tasks api.ListTasksResponse
	c.post(api.PathListTasks, api.TaskFilterRequest{SessionId: sessionId}, &tasks)
	require.Len(t, tasks.Tasks, 1)
	ass.Equal(submitted[0].TaskId, tasks.Tasks[0].TaskId)
	ass.Contains(tasks.Tasks[0].Output.Error, "asked to fail")

	var results api.ListResultsResponse
	c.post(api.PathListResults, api.SessionRequest{SessionId: sessionId}, &results)
	require.Len(t, results.Results, 1)
	ass.Equal("Aborted", results.Results[0].Status)
}

func TestDelegatedOutputIsProducedBySubtask(t *testing.T) {
	ass := assert.New(t)
	c := newClient(t)
	sessionId := c.createSession()

	c.submit(sessionId, api.TaskCreationRequest{ExpectedOutputKeys: []string{"out"}, Payload: []byte(payloadDelegate)})
	counts := c.wait(sessionId, false)

	ass.Equal(int64(2), persistence.CountOf(counts.Counts, persistence.TaskStatusCompleted))
	ass.Equal("DELEGATED", c.download(sessionId, "out"))
}

func TestCancelledSessionCancelsPendingTasks(t *testing.T) {
	ass := assert.New(t)
	c := newClient(t)
	sessionId := c.createSession()

	// the dependency is never produced, the task stays pending until cancelled
	c.submit(sessionId, api.TaskCreationRequest{
		ExpectedOutputKeys: []string{"out"},
		DataDependencies:   []string{"never"},
	})
	c.post(api.PathCancelSession, api.SessionRequest{SessionId: sessionId}, nil)

	counts := c.wait(sessionId, false)
	ass.Equal(int64(1), persistence.CountOf(counts.Counts, persistence.TaskStatusCanceled))
}
