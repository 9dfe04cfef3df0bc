// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"io"

	"github.com/xcherryio/taskgrid/submitter"
)

type Server interface {
	// Start will start running on the background
	Start() error
	Stop(ctx context.Context) error
}

// Service is the interface of API service, which decoupled from REST server framework like Gin
// So that users can choose to use other REST frameworks to serve requests
type Service interface {
	GetServiceConfiguration(ctx context.Context) submitter.ServiceConfiguration
	CreateSession(ctx context.Context, request CreateSessionRequest) (*CreateSessionResponse, *ErrorWithStatus)
	GetSession(ctx context.Context, request SessionRequest) (*SessionInfo, *ErrorWithStatus)
	ListSessions(ctx context.Context, request ListSessionsRequest) (*ListSessionsResponse, *ErrorWithStatus)
	CancelSession(ctx context.Context, request SessionRequest) (*SessionInfo, *ErrorWithStatus)
	SubmitTasks(ctx context.Context, request SubmitTasksRequest) (*SubmitTasksResponse, *ErrorWithStatus)
	CountTasks(ctx context.Context, request TaskFilterRequest) (*CountTasksResponse, *ErrorWithStatus)
	ListTasks(ctx context.Context, request TaskFilterRequest) (*ListTasksResponse, *ErrorWithStatus)
	GetTaskStatus(ctx context.Context, request TaskIdsRequest) (*GetTaskStatusResponse, *ErrorWithStatus)
	CancelTasks(ctx context.Context, request TaskIdsRequest) (*CancelTasksResponse, *ErrorWithStatus)
	WaitForCompletion(ctx context.Context, request WaitForCompletionRequest) (*CountTasksResponse, *ErrorWithStatus)
	UploadResult(ctx context.Context, sessionId, key string, body io.ReadCloser) *ErrorWithStatus
	// DownloadResult writes the bytes of a completed result into w
	DownloadResult(ctx context.Context, sessionId, key string, w io.Writer) *ErrorWithStatus
	ListResults(ctx context.Context, request SessionRequest) (*ListResultsResponse, *ErrorWithStatus)
}
