// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package integTests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/service/api"
)

const serverAddress = "127.0.0.1:18801"

type client struct {
	t       *testing.T
	baseUrl string
}

func newClient(t *testing.T) *client {
	return &client{t: t, baseUrl: "http://" + serverAddress}
}

func (c *client) post(path string, req any, resp any) {
	body, err := json.Marshal(req)
	require.NoError(c.t, err)
	httpResp, err := http.Post(c.baseUrl+path, "application/json", bytes.NewReader(body))
	require.NoError(c.t, err)
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(httpResp.Body)
	require.NoError(c.t, err)
	require.Equal(c.t, http.StatusOK, httpResp.StatusCode, string(respBody))
	if resp != nil {
		require.NoError(c.t, json.Unmarshal(respBody, resp))
	}
}

func (c *client) createSession() string {
	var resp api.CreateSessionResponse
	c.post(api.PathCreateSession, api.CreateSessionRequest{}, &resp)
	return resp.SessionId
}

func (c *client) submit(sessionId string, tasks ...api.TaskCreationRequest) []api.SubmittedTask {
	var resp api.SubmitTasksResponse
	c.post(api.PathSubmitTasks, api.SubmitTasksRequest{SessionId: sessionId, Tasks: tasks}, &resp)
	return resp.Tasks
}

func (c *client) wait(sessionId string, stopOnFirstTaskError bool) api.CountTasksResponse {
	var resp api.CountTasksResponse
	c.post(api.PathWaitForCompletion, api.WaitForCompletionRequest{
		TaskFilterRequest:    api.TaskFilterRequest{SessionId: sessionId},
		StopOnFirstTaskError: stopOnFirstTaskError,
		TimeoutSeconds:       30,
	}, &resp)
	return resp
}

func (c *client) resultQuery(sessionId, key string) string {
	return "?" + url.Values{"sessionId": {sessionId}, "key": {key}}.Encode()
}

func (c *client) upload(sessionId, key string, data []byte) {
	httpResp, err := http.Post(c.baseUrl+api.PathUploadResult+c.resultQuery(sessionId, key),
		"application/octet-stream", bytes.NewReader(data))
	require.NoError(c.t, err)
	defer httpResp.Body.Close()
	require.Equal(c.t, http.StatusOK, httpResp.StatusCode)
}

func (c *client) download(sessionId, key string) string {
	httpResp, err := http.Get(c.baseUrl + api.PathDownloadResult + c.resultQuery(sessionId, key))
	require.NoError(c.t, err)
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(c.t, err)
	require.Equal(c.t, http.StatusOK, httpResp.StatusCode, fmt.Sprintf("result %v: %s", key, body))
	return string(body)
}
