// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/persistence/memory"
	"github.com/xcherryio/taskgrid/service/pollster"
	"github.com/xcherryio/taskgrid/submitter"
)

func newTestEngine(t *testing.T, pollsterAddresses ...string) (*gin.Engine, persistence.Storages) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		ObjectStorage: config.ObjectStorageConfig{
			InlineThreshold: 8,
			ChunkSize:       4,
		},
		SubmitterService: config.SubmitterServiceConfig{
			DefaultPartitionId: "default",
			PollingDelay:       10 * time.Millisecond,
			UploadConcurrency:  2,
			PollsterAddresses:  pollsterAddresses,
		},
	}
	storages := persistence.Storages{
		Tasks:    memory.NewTaskTable(),
		Sessions: memory.NewSessionTable(),
		Results:  memory.NewResultTable(),
		Queue:    memory.NewQueueStorage(10, time.Millisecond),
		Objects:  memory.NewObjectStorage(),
	}
	sub := submitter.NewSubmitter(cfg, storages, log.NewNopLogger())
	return NewGinEngine(cfg, sub, log.NewNopLogger()), storages
}

func postJSON(t *testing.T, engine *gin.Engine, path string, req any, resp any) int {
	body, err := json.Marshal(req)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body)))
	if resp != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), resp))
	}
	return w.Code
}

func createSession(t *testing.T, engine *gin.Engine) string {
	var resp CreateSessionResponse
	code := postJSON(t, engine, PathCreateSession, CreateSessionRequest{}, &resp)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, resp.SessionId)
	return resp.SessionId
}

func TestSessionEndpoints(t *testing.T) {
	ass := assert.New(t)
	engine, _ := newTestEngine(t)
	sessionId := createSession(t, engine)

	var info SessionInfo
	ass.Equal(http.StatusOK, postJSON(t, engine, PathGetSession, SessionRequest{SessionId: sessionId}, &info))
	ass.Equal("Running", info.Status)
	ass.Equal([]string{"default"}, info.PartitionIds)

	var list ListSessionsResponse
	ass.Equal(http.StatusOK, postJSON(t, engine, PathListSessions, ListSessionsRequest{Statuses: []string{"Running"}}, &list))
	ass.Len(list.Sessions, 1)
	ass.Equal(http.StatusBadRequest, postJSON(t, engine, PathListSessions, ListSessionsRequest{Statuses: []string{"Paused"}}, nil))

	ass.Equal(http.StatusOK, postJSON(t, engine, PathCancelSession, SessionRequest{SessionId: sessionId}, &info))
	ass.Equal("Cancelled", info.Status)
	ass.NotNil(info.CancellationDate)

	ass.Equal(http.StatusConflict, postJSON(t, engine, PathCancelSession, SessionRequest{SessionId: sessionId}, nil))
	ass.Equal(http.StatusNotFound, postJSON(t, engine, PathGetSession, SessionRequest{SessionId: "missing"}, nil))
}

func TestCreateSessionRejectsInvalidPriority(t *testing.T) {
	engine, _ := newTestEngine(t)
	code := postJSON(t, engine, PathCreateSession, CreateSessionRequest{
		DefaultOptions: persistence.TaskOptions{Priority: 11},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestInvalidRequestSchema(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, PathSubmitTasks, bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request schema")

	assert.Equal(t, http.StatusBadRequest, postJSON(t, engine, PathGetSession, SessionRequest{}, nil))
}

func TestSubmitAndCancelTasks(t *testing.T) {
	ass := assert.New(t)
	engine, storages := newTestEngine(t)
	sessionId := createSession(t, engine)

	var submitted SubmitTasksResponse
	code := postJSON(t, engine, PathSubmitTasks, SubmitTasksRequest{
		SessionId: sessionId,
		Tasks: []TaskCreationRequest{
			{ExpectedOutputKeys: []string{"small"}, Payload: []byte("tiny")},
			{ExpectedOutputKeys: []string{"large"}, Payload: []byte("larger than eight bytes")},
		},
	}, &submitted)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, submitted.Tasks, 2)
	ass.Equal("default", submitted.Tasks[0].PartitionId)

	large, err := storages.Tasks.ReadTask(context.Background(), submitted.Tasks[1].TaskId)
	require.NoError(t, err)
	ass.True(large.HasPayloadInObjectStorage)

	ids := []string{submitted.Tasks[0].TaskId, submitted.Tasks[1].TaskId}
	var statuses GetTaskStatusResponse
	ass.Equal(http.StatusOK, postJSON(t, engine, PathGetTaskStatus, TaskIdsRequest{TaskIds: ids}, &statuses))
	ass.Equal(persistence.TaskStatusSubmitted, statuses.Statuses[ids[0]])

	var counts CountTasksResponse
	ass.Equal(http.StatusOK, postJSON(t, engine, PathCountTasks, TaskFilterRequest{SessionId: sessionId}, &counts))
	ass.Equal(int64(2), persistence.CountOf(counts.Counts, persistence.TaskStatusSubmitted))

	var cancelled CancelTasksResponse
	ass.Equal(http.StatusOK, postJSON(t, engine, PathCancelTasks, TaskIdsRequest{TaskIds: ids[:1]}, &cancelled))
	ass.Equal(int64(1), cancelled.Matched)

	var tasks ListTasksResponse
	ass.Equal(http.StatusOK, postJSON(t, engine, PathListTasks, TaskFilterRequest{
		SessionId: sessionId,
		Statuses:  []persistence.TaskStatus{persistence.TaskStatusCanceled},
	}, &tasks))
	require.Len(t, tasks.Tasks, 1)
	ass.Equal(ids[0], tasks.Tasks[0].TaskId)

	ass.Equal(http.StatusNotFound, postJSON(t, engine, PathGetTaskStatus, TaskIdsRequest{TaskIds: []string{"missing"}}, nil))
}

func TestWaitForCompletion(t *testing.T) {
	ass := assert.New(t)
	engine, _ := newTestEngine(t)
	sessionId := createSession(t, engine)

	var counts CountTasksResponse
	ass.Equal(http.StatusOK, postJSON(t, engine, PathWaitForCompletion, WaitForCompletionRequest{
		TaskFilterRequest: TaskFilterRequest{SessionId: sessionId},
	}, &counts))
	ass.Empty(counts.Counts)

	var submitted SubmitTasksResponse
	require.Equal(t, http.StatusOK, postJSON(t, engine, PathSubmitTasks, SubmitTasksRequest{
		SessionId: sessionId,
		Tasks:     []TaskCreationRequest{{ExpectedOutputKeys: []string{"out"}}},
	}, &submitted))

	code := postJSON(t, engine, PathWaitForCompletion, WaitForCompletionRequest{
		TaskFilterRequest: TaskFilterRequest{SessionId: sessionId},
		TimeoutSeconds:    1,
	}, nil)
	ass.Equal(http.StatusRequestTimeout, code)

	ass.Equal(http.StatusOK, postJSON(t, engine, PathCancelSession, SessionRequest{SessionId: sessionId}, nil))
	ass.Equal(http.StatusOK, postJSON(t, engine, PathWaitForCompletion, WaitForCompletionRequest{
		TaskFilterRequest:           TaskFilterRequest{SessionId: sessionId},
		StopOnFirstTaskCancellation: true,
	}, &counts))
	ass.Equal(int64(1), persistence.CountOf(counts.Counts, persistence.TaskStatusCanceled))
}

func TestResultEndpoints(t *testing.T) {
	ass := assert.New(t)
	engine, _ := newTestEngine(t)
	sessionId := createSession(t, engine)
	query := "?" + url.Values{"sessionId": {sessionId}, "key": {"input"}}.Encode()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PathDownloadResult+query, nil))
	ass.Equal(http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, PathUploadResult+query,
		bytes.NewReader([]byte("uploaded result bytes"))))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PathDownloadResult+query, nil))
	ass.Equal(http.StatusOK, w.Code)
	ass.Equal("uploaded result bytes", w.Body.String())

	var results ListResultsResponse
	ass.Equal(http.StatusOK, postJSON(t, engine, PathListResults, SessionRequest{SessionId: sessionId}, &results))
	require.Len(t, results.Results, 1)
	ass.Equal("Completed", results.Results[0].Status)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PathDownloadResult+"?sessionId="+sessionId, nil))
	ass.Equal(http.StatusBadRequest, w.Code)
}

func TestGetServiceConfiguration(t *testing.T) {
	engine, _ := newTestEngine(t)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PathGetServiceConfiguration, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"dataChunkMaxSize":4}`, w.Body.String())
}

func TestSubmitNotifiesPollsters(t *testing.T) {
	var lock sync.Mutex
	var notified []string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pollster.NotifyMessagesRequest
		if r.URL.Path == pollster.PathNotifyNewMessages && json.NewDecoder(r.Body).Decode(&req) == nil {
			lock.Lock()
			notified = append(notified, req.PartitionId)
			lock.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer remote.Close()

	engine, _ := newTestEngine(t, remote.URL)
	sessionId := createSession(t, engine)
	require.Equal(t, http.StatusOK, postJSON(t, engine, PathSubmitTasks, SubmitTasksRequest{
		SessionId: sessionId,
		Tasks: []TaskCreationRequest{
			{ExpectedOutputKeys: []string{"a"}},
			{ExpectedOutputKeys: []string{"b"}},
		},
	}, nil))

	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(notified) == 1
	}, 5*time.Second, 10*time.Millisecond)
	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []string{"default"}, notified)
}
