// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/service/pollster"
	"github.com/xcherryio/taskgrid/submitter"
)

type serviceImpl struct {
	cfg       config.Config
	submitter *submitter.Submitter
	logger    log.Logger
}

func NewServiceImpl(cfg config.Config, sub *submitter.Submitter, logger log.Logger) Service {
	return &serviceImpl{
		cfg:       cfg,
		submitter: sub,
		logger:    logger,
	}
}

func (s serviceImpl) GetServiceConfiguration(_ context.Context) submitter.ServiceConfiguration {
	return s.submitter.GetServiceConfiguration()
}

func (s serviceImpl) CreateSession(
	ctx context.Context, request CreateSessionRequest,
) (*CreateSessionResponse, *ErrorWithStatus) {
	sessionId, err := s.submitter.CreateSession(ctx, request.PartitionIds, request.DefaultOptions)
	if err != nil {
		return nil, s.handleError(err)
	}
	return &CreateSessionResponse{SessionId: sessionId}, nil
}

func (s serviceImpl) GetSession(ctx context.Context, request SessionRequest) (*SessionInfo, *ErrorWithStatus) {
	session, err := s.submitter.GetSession(ctx, request.SessionId)
	if err != nil {
		return nil, s.handleError(err)
	}
	info := toSessionInfo(session)
	return &info, nil
}

func (s serviceImpl) ListSessions(
	ctx context.Context, request ListSessionsRequest,
) (*ListSessionsResponse, *ErrorWithStatus) {
	var filter persistence.SessionFilter
	for _, str := range request.Statuses {
		status, err := persistence.ParseSessionStatus(str)
		if err != nil {
			return nil, NewErrorWithStatus(http.StatusBadRequest, err.Error())
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	sessions, err := s.submitter.ListSessions(ctx, filter)
	if err != nil {
		return nil, s.handleError(err)
	}
	resp := &ListSessionsResponse{Sessions: []SessionInfo{}}
	for i := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionInfo(&sessions[i]))
	}
	return resp, nil
}

func (s serviceImpl) CancelSession(ctx context.Context, request SessionRequest) (*SessionInfo, *ErrorWithStatus) {
	session, err := s.submitter.CancelSession(ctx, request.SessionId)
	if err != nil {
		return nil, s.handleError(err)
	}
	info := toSessionInfo(session)
	return &info, nil
}

func (s serviceImpl) SubmitTasks(
	ctx context.Context, request SubmitTasksRequest,
) (*SubmitTasksResponse, *ErrorWithStatus) {
	requests := make([]submitter.TaskRequest, 0, len(request.Tasks))
	for _, t := range request.Tasks {
		requests = append(requests, submitter.TaskRequest{
			ExpectedOutputKeys: t.ExpectedOutputKeys,
			DataDependencies:   t.DataDependencies,
			Payload:            s.toPayloadChunks(t.Payload),
			Options:            t.Options,
		})
	}
	created, err := s.submitter.SubmitTasks(ctx, request.SessionId, request.Options, requests)
	if err != nil {
		return nil, s.handleError(err)
	}
	s.notifyPollsters(created)
	resp := &SubmitTasksResponse{Tasks: make([]SubmittedTask, 0, len(created))}
	for _, t := range created {
		resp.Tasks = append(resp.Tasks, SubmittedTask{
			TaskId:             t.TaskId,
			ExpectedOutputKeys: t.ExpectedOutputKeys,
			DataDependencies:   t.DataDependencies,
			PartitionId:        t.PartitionId,
			Priority:           t.Priority,
		})
	}
	return resp, nil
}

// toPayloadChunks keeps a payload under the inline threshold in a single chunk
func (s serviceImpl) toPayloadChunks(payload []byte) [][]byte {
	if len(payload) <= s.cfg.ObjectStorage.InlineThreshold {
		if len(payload) == 0 {
			return nil
		}
		return [][]byte{payload}
	}
	return persistence.SplitChunks(payload, s.cfg.ObjectStorage.ChunkSize)
}

func (s serviceImpl) CountTasks(
	ctx context.Context, request TaskFilterRequest,
) (*CountTasksResponse, *ErrorWithStatus) {
	counts, err := s.submitter.CountTasks(ctx, request.toFilter())
	if err != nil {
		return nil, s.handleError(err)
	}
	return &CountTasksResponse{Counts: nonNilCounts(counts)}, nil
}

func (s serviceImpl) ListTasks(ctx context.Context, request TaskFilterRequest) (*ListTasksResponse, *ErrorWithStatus) {
	tasks, err := s.submitter.ListTasks(ctx, request.toFilter())
	if err != nil {
		return nil, s.handleError(err)
	}
	resp := &ListTasksResponse{Tasks: make([]TaskInfo, 0, len(tasks))}
	for i := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskInfo(&tasks[i]))
	}
	return resp, nil
}

func (s serviceImpl) GetTaskStatus(
	ctx context.Context, request TaskIdsRequest,
) (*GetTaskStatusResponse, *ErrorWithStatus) {
	statuses, err := s.submitter.GetTaskStatus(ctx, request.TaskIds)
	if err != nil {
		return nil, s.handleError(err)
	}
	return &GetTaskStatusResponse{Statuses: statuses}, nil
}

func (s serviceImpl) CancelTasks(ctx context.Context, request TaskIdsRequest) (*CancelTasksResponse, *ErrorWithStatus) {
	matched, err := s.submitter.CancelTasks(ctx, request.TaskIds)
	if err != nil {
		return nil, s.handleError(err)
	}
	return &CancelTasksResponse{Matched: matched}, nil
}

func (s serviceImpl) WaitForCompletion(
	ctx context.Context, request WaitForCompletionRequest,
) (*CountTasksResponse, *ErrorWithStatus) {
	if request.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(request.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	counts, err := s.submitter.WaitForCompletion(ctx, submitter.WaitRequest{
		Filter:                      request.toFilter(),
		StopOnFirstTaskError:        request.StopOnFirstTaskError,
		StopOnFirstTaskCancellation: request.StopOnFirstTaskCancellation,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewErrorWithStatus(http.StatusRequestTimeout, "tasks are not completed yet")
		}
		return nil, s.handleError(err)
	}
	return &CountTasksResponse{Counts: nonNilCounts(counts)}, nil
}

func (s serviceImpl) UploadResult(ctx context.Context, sessionId, key string, body io.ReadCloser) *ErrorWithStatus {
	data := persistence.NewReaderChunkStream(body, s.cfg.ObjectStorage.ChunkSize)
	if err := s.submitter.UploadResult(ctx, sessionId, key, data); err != nil {
		return s.handleError(err)
	}
	return nil
}

func (s serviceImpl) DownloadResult(ctx context.Context, sessionId, key string, w io.Writer) *ErrorWithStatus {
	stream, err := s.submitter.TryGetResult(ctx, sessionId, key)
	if err != nil {
		return s.handleError(err)
	}
	defer stream.Close()
	if _, err := io.Copy(w, persistence.NewChunkStreamReader(ctx, stream)); err != nil {
		// the status line may already be sent, only the log can tell
		s.logger.Error("failed to stream result", tag.SessionId(sessionId), tag.ResultKey(key), tag.Error(err))
		return NewErrorWithStatus(http.StatusInternalServerError, err.Error())
	}
	return nil
}

func (s serviceImpl) ListResults(ctx context.Context, request SessionRequest) (*ListResultsResponse, *ErrorWithStatus) {
	results, err := s.submitter.ListResults(ctx, request.SessionId)
	if err != nil {
		return nil, s.handleError(err)
	}
	resp := &ListResultsResponse{Results: make([]ResultInfo, 0, len(results))}
	for i := range results {
		resp.Results = append(resp.Results, toResultInfo(&results[i]))
	}
	return resp, nil
}

// notifyPollsters asks every configured pollster to pull the partitions of the tasks
func (s serviceImpl) notifyPollsters(created []submitter.CreatedTask) {
	seen := map[string]bool{}
	for _, t := range created {
		if seen[t.PartitionId] {
			continue
		}
		seen[t.PartitionId] = true
		for _, address := range s.cfg.SubmitterService.PollsterAddresses {
			s.notifyRemotePollster(address, t.PartitionId)
		}
	}
}

func (s serviceImpl) notifyRemotePollster(address, partitionId string) {
	// execute in the background as best effort
	go func() {
		url := address + pollster.PathNotifyNewMessages
		ctx, canf := context.WithTimeout(context.Background(), time.Second*10)
		defer canf()

		body, err := json.Marshal(pollster.NotifyMessagesRequest{PartitionId: partitionId})
		if err != nil {
			s.logger.Error("failed to serialize notify request", tag.Error(err))
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			s.logger.Error("failed to create request to notify remote pollster",
				tag.Value(url), tag.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			statusCode := -1
			responseBody := "cannot read body from http response"
			if resp != nil {
				defer resp.Body.Close()
				statusCode = resp.StatusCode
				body, err := io.ReadAll(resp.Body)
				if err == nil {
					responseBody = string(body)
				}
			}
			// a pollster serving another partition answers 400, which is expected
			s.logger.Debug("failed to notify remote pollster",
				tag.Address(address), tag.PartitionId(partitionId), tag.Error(err), tag.StatusCode(statusCode),
				tag.Message(responseBody))
			return
		}
		resp.Body.Close()
	}()
}

func (s serviceImpl) handleError(err error) *ErrorWithStatus {
	if submitter.CodeOf(err) == submitter.CodeInternal {
		s.logger.Error("unknown error on operation", tag.Error(err))
	}
	return newSubmitterErrorWithStatus(err)
}

func nonNilCounts(counts []persistence.StatusCount) []persistence.StatusCount {
	if counts == nil {
		return []persistence.StatusCount{}
	}
	return counts
}
