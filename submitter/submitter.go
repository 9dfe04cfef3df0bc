// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package submitter

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/common/uuid"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type (
	// TaskRequest describes a task to create
	TaskRequest struct {
		ExpectedOutputKeys []string
		DataDependencies   []string
		// Payload is the payload split in chunks
		Payload [][]byte
		// Options override the options of the CreateTasks call
		Options *persistence.TaskOptions
	}

	CreatedTask struct {
		TaskId             string
		ExpectedOutputKeys []string
		DataDependencies   []string
		Priority           int
		PartitionId        string
		// DelegatedKeys are the outputs of the parent task this task produces in its place
		DelegatedKeys []string
	}

	// TaskCreation is the outcome of CreateTasks, to be finalized with FinalizeTaskCreation
	TaskCreation struct {
		SessionId    string
		ParentTaskId string
		Tasks        []CreatedTask
		uploads      *errgroup.Group
	}

	// WaitRequest selects the tasks WaitForCompletion waits for
	WaitRequest struct {
		Filter                      persistence.TaskFilter
		StopOnFirstTaskError        bool
		StopOnFirstTaskCancellation bool
	}

	ServiceConfiguration struct {
		DataChunkMaxSize int `json:"dataChunkMaxSize"`
	}
)

// TaskIds returns the ids of the created tasks
func (c *TaskCreation) TaskIds() []string {
	ids := make([]string, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		ids = append(ids, t.TaskId)
	}
	return ids
}

// Submitter is the control plane API used by the clients and by the workers creating subtasks
type Submitter struct {
	cfg      config.Config
	storages persistence.Storages
	logger   log.Logger
}

func NewSubmitter(cfg config.Config, storages persistence.Storages, logger log.Logger) *Submitter {
	return &Submitter{
		cfg:      cfg,
		storages: storages,
		logger:   logger,
	}
}

func (s *Submitter) GetServiceConfiguration() ServiceConfiguration {
	return ServiceConfiguration{
		DataChunkMaxSize: s.cfg.ObjectStorage.ChunkSize,
	}
}

// CreateSession returns the id of a new running session.
// The first partition is the default partition of the tasks of the session
func (s *Submitter) CreateSession(
	ctx context.Context, partitionIds []string, defaultOptions persistence.TaskOptions,
) (string, error) {
	svcCfg := s.cfg.SubmitterService
	if len(partitionIds) == 0 {
		partitionIds = []string{svcCfg.DefaultPartitionId}
	}
	for _, p := range partitionIds {
		if len(svcCfg.AllowedPartitionIds) > 0 && !contains(svcCfg.AllowedPartitionIds, p) {
			return "", newError(CodeInvalidArgument, "partition %v is not allowed", p)
		}
	}
	if defaultOptions.PartitionId == "" {
		defaultOptions.PartitionId = partitionIds[0]
	}
	if !contains(partitionIds, defaultOptions.PartitionId) {
		return "", newError(CodeInvalidArgument,
			"default partition %v is not one of the session partitions", defaultOptions.PartitionId)
	}
	if err := defaultOptions.Validate(s.storages.Queue.MaxPriority()); err != nil {
		return "", &Error{Code: CodeInvalidArgument, Err: err}
	}

	session := persistence.Session{
		Id:           uuid.NewId(),
		Status:       persistence.SessionStatusRunning,
		PartitionIds: partitionIds,
		Options:      defaultOptions,
		CreationDate: time.Now(),
	}
	if err := s.storages.Sessions.CreateSession(ctx, session); err != nil {
		return "", toClientError(err)
	}
	s.logger.Info("session created", tag.SessionId(session.Id), tag.Value(partitionIds))
	return session.Id, nil
}

func (s *Submitter) GetSession(ctx context.Context, sessionId string) (*persistence.Session, error) {
	session, err := s.storages.Sessions.GetSession(ctx, sessionId)
	return session, toClientError(err)
}

func (s *Submitter) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	sessions, err := s.storages.Sessions.ListSessions(ctx, filter)
	return sessions, toClientError(err)
}

// CancelSession cancels the session and every task of the session that is not terminal yet
func (s *Submitter) CancelSession(ctx context.Context, sessionId string) (*persistence.Session, error) {
	session, err := s.storages.Sessions.CancelSession(ctx, sessionId)
	if err != nil {
		return nil, toClientError(err)
	}
	matched, err := s.storages.Tasks.CancelSessionTasks(ctx, sessionId)
	if err != nil {
		return nil, toClientError(err)
	}
	s.logger.Info("session cancelled", tag.SessionId(sessionId), tag.Count(matched))
	return session, nil
}

// CreateTasks writes the tasks in Creating and starts the upload of the payloads too large to be inlined.
// It returns without waiting for the uploads, FinalizeTaskCreation makes the tasks pollable
// nolint: funlen
func (s *Submitter) CreateTasks(
	ctx context.Context, sessionId, parentTaskId string, options *persistence.TaskOptions, requests []TaskRequest,
) (*TaskCreation, error) {
	if len(requests) == 0 {
		return nil, newError(CodeInvalidArgument, "no task to create")
	}
	session, err := s.storages.Sessions.GetSession(ctx, sessionId)
	if err != nil {
		return nil, toClientError(err)
	}
	if session.Status != persistence.SessionStatusRunning {
		return nil, newError(CodeFailedPrecondition, "session %v is %v", sessionId, session.Status)
	}

	base := persistence.MergeTaskOptions(session.Options, options)
	maxPriority := s.storages.Queue.MaxPriority()
	objCfg := s.cfg.ObjectStorage
	now := time.Now()

	uploads, uploadCtx := errgroup.WithContext(ctx)
	if limit := s.cfg.SubmitterService.UploadConcurrency; limit > 0 {
		uploads.SetLimit(limit)
	}

	creation := &TaskCreation{
		SessionId:    sessionId,
		ParentTaskId: parentTaskId,
		uploads:      uploads,
	}
	var tasks []persistence.Task
	var results []persistence.Result
	var payloads []func() error

	for _, req := range requests {
		opts := persistence.MergeTaskOptions(base, req.Options)
		if err := opts.Validate(maxPriority); err != nil {
			return nil, &Error{Code: CodeInvalidArgument, Err: err}
		}
		if !contains(session.PartitionIds, opts.PartitionId) {
			return nil, newError(CodeInvalidArgument, "partition %v is not allowed in session %v", opts.PartitionId, sessionId)
		}
		if len(req.ExpectedOutputKeys) == 0 {
			return nil, newError(CodeInvalidArgument, "a task must have at least one expected output")
		}

		taskId := uuid.NewId()
		created := CreatedTask{
			TaskId:             taskId,
			ExpectedOutputKeys: req.ExpectedOutputKeys,
			DataDependencies:   req.DataDependencies,
			Priority:           opts.Priority,
			PartitionId:        opts.PartitionId,
		}
		for _, key := range req.ExpectedOutputKeys {
			delegated, err := s.isDelegatedOutput(ctx, sessionId, parentTaskId, key)
			if err != nil {
				return nil, toClientError(err)
			}
			if delegated {
				created.DelegatedKeys = append(created.DelegatedKeys, key)
				continue
			}
			results = append(results, persistence.Result{
				SessionId:    sessionId,
				Key:          key,
				OwnerTaskId:  taskId,
				Status:       persistence.ResultStatusCreated,
				CreationDate: now,
			})
		}

		task := persistence.Task{
			Id:                 taskId,
			SessionId:          sessionId,
			Status:             persistence.TaskStatusCreating,
			Options:            opts,
			DataDependencies:   req.DataDependencies,
			ExpectedOutputKeys: req.ExpectedOutputKeys,
			CreationDate:       now,
		}
		if parentTaskId != "" {
			task.ParentTaskIds = []string{parentTaskId}
		}
		if isInlinePayload(req.Payload, objCfg.InlineThreshold) {
			if len(req.Payload) == 1 {
				task.Payload = req.Payload[0]
			}
		} else {
			task.HasPayloadInObjectStorage = true
			key := persistence.PayloadKey(sessionId, taskId)
			chunks := req.Payload
			payloads = append(payloads, func() error {
				return s.storages.Objects.AddOrUpdate(uploadCtx, key, persistence.NewChunkStream(chunks...))
			})
		}
		tasks = append(tasks, task)
		creation.Tasks = append(creation.Tasks, created)
	}

	if len(results) > 0 {
		if err := s.storages.Results.CreateResults(ctx, results); err != nil {
			return nil, toClientError(err)
		}
	}
	if err := s.storages.Tasks.CreateTasks(ctx, tasks); err != nil {
		return nil, toClientError(err)
	}
	for _, upload := range payloads {
		uploads.Go(upload)
	}

	s.logger.Debug("tasks created", tag.SessionId(sessionId), tag.ParentTaskId(parentTaskId),
		tag.TaskIds(creation.TaskIds()))
	return creation, nil
}

// isDelegatedOutput tells if key is an output of the parent task that is not produced yet
func (s *Submitter) isDelegatedOutput(ctx context.Context, sessionId, parentTaskId, key string) (bool, error) {
	if parentTaskId == "" {
		return false, nil
	}
	result, err := s.storages.Results.GetResult(ctx, sessionId, key)
	if errors.Is(err, persistence.ErrResultNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if result.OwnerTaskId != parentTaskId || result.Status != persistence.ResultStatusCreated {
		return false, newError(CodeInvalidArgument, "result %v already exists", key)
	}
	return true, nil
}

// FinalizeTaskCreation waits for the payload uploads, moves the tasks to Submitted and only then
// enqueues them. When an upload failed the tasks are failed and never enqueued
func (s *Submitter) FinalizeTaskCreation(ctx context.Context, creation *TaskCreation) error {
	ids := creation.TaskIds()
	if err := creation.uploads.Wait(); err != nil {
		s.logger.Error("payload upload failed, failing the tasks", tag.SessionId(creation.SessionId),
			tag.TaskIds(ids), tag.Error(err))
		return multierr.Append(&Error{Code: CodeInternal, Err: err},
			s.failTasks(ctx, creation.SessionId, ids, persistence.TaskStatusCreating))
	}

	for _, t := range creation.Tasks {
		if len(t.DelegatedKeys) == 0 {
			continue
		}
		if _, err := s.storages.Results.ChangeResultOwnership(
			ctx, creation.SessionId, creation.ParentTaskId, t.DelegatedKeys, t.TaskId); err != nil {
			return toClientError(err)
		}
	}

	matched, err := s.storages.Tasks.FinalizeTaskCreation(ctx, ids)
	if err != nil {
		return toClientError(err)
	}
	if matched != int64(len(ids)) {
		s.logger.Warn("some tasks were not in creation anymore", tag.SessionId(creation.SessionId),
			tag.Count(matched), tag.TaskIds(ids))
	}

	groups := groupByQueue(creation.Tasks)
	for i, group := range groups {
		if err := s.enqueue(ctx, group); err != nil {
			var pending []string
			for _, g := range groups[i:] {
				pending = append(pending, g.taskIds...)
			}
			s.logger.Error("submitted tasks could not be enqueued, failing them", tag.SessionId(creation.SessionId),
				tag.TaskIds(pending), tag.ConsistencyViolation(), tag.Error(err))
			return multierr.Append(toClientError(err),
				s.failTasks(context.WithoutCancel(ctx), creation.SessionId, pending, persistence.TaskStatusSubmitted))
		}
	}
	return nil
}

// enqueue retries the transient failures of the queue, the rows are already Submitted
func (s *Submitter) enqueue(ctx context.Context, group *queueGroup) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = enqueueRetryInitialInterval
	b.MaxElapsedTime = s.cfg.SubmitterService.EnqueueRetryTimeout
	if b.MaxElapsedTime == 0 {
		b.MaxElapsedTime = defaultEnqueueRetryTimeout
	}
	return backoff.Retry(func() error {
		err := s.storages.Queue.EnqueueMessages(ctx, group.partitionId, group.priority, group.taskIds)
		if errors.Is(err, persistence.ErrInvalidPriority) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// SubmitTasks is CreateTasks followed by FinalizeTaskCreation
func (s *Submitter) SubmitTasks(
	ctx context.Context, sessionId string, options *persistence.TaskOptions, requests []TaskRequest,
) ([]CreatedTask, error) {
	creation, err := s.CreateTasks(ctx, sessionId, "", options, requests)
	if err != nil {
		return nil, err
	}
	if err := s.FinalizeTaskCreation(ctx, creation); err != nil {
		return nil, err
	}
	return creation.Tasks, nil
}

func (s *Submitter) failTasks(
	ctx context.Context, sessionId string, taskIds []string, current persistence.TaskStatus,
) error {
	var errs error
	for _, id := range taskIds {
		_, err := persistence.UpdateOneTaskStatus(ctx, s.storages.Tasks, id,
			[]persistence.TaskStatus{current}, persistence.TaskStatusFailed)
		errs = multierr.Append(errs, err)
		_, err = s.storages.Results.AbortTaskResults(ctx, sessionId, id)
		errs = multierr.Append(errs, err)
	}
	return errs
}

// UploadResult stores data as a completed result of the session, to be used as a dependency
func (s *Submitter) UploadResult(ctx context.Context, sessionId, key string, data persistence.ChunkStream) error {
	defer data.Close()
	if _, err := s.storages.Sessions.GetSession(ctx, sessionId); err != nil {
		return toClientError(err)
	}
	err := s.storages.Results.CreateResults(ctx, []persistence.Result{{
		SessionId:    sessionId,
		Key:          key,
		Status:       persistence.ResultStatusCreated,
		CreationDate: time.Now(),
	}})
	if err != nil {
		return toClientError(err)
	}
	if err := s.storages.Objects.AddOrUpdate(ctx, persistence.ResultKey(sessionId, key), data); err != nil {
		return toClientError(err)
	}
	_, err = s.storages.Results.SetResultsAvailable(ctx, sessionId, "", []string{key})
	return toClientError(err)
}

// TryGetResult streams the bytes of a completed result
func (s *Submitter) TryGetResult(ctx context.Context, sessionId, key string) (persistence.ChunkStream, error) {
	result, err := s.storages.Results.GetResult(ctx, sessionId, key)
	if err != nil {
		return nil, toClientError(err)
	}
	switch result.Status {
	case persistence.ResultStatusCompleted:
	case persistence.ResultStatusAborted:
		return nil, newError(CodeFailedPrecondition, "result %v is aborted", key)
	default:
		return nil, newError(CodeFailedPrecondition, "result %v is not available yet", key)
	}
	stream, err := s.storages.Objects.GetValues(ctx, persistence.ResultKey(sessionId, key))
	if err != nil {
		// the row is completed, the bytes must exist
		return nil, &Error{Code: CodeInternal, Err: err}
	}
	return stream, nil
}

func (s *Submitter) ListResults(ctx context.Context, sessionId string) ([]persistence.Result, error) {
	results, err := s.storages.Results.ListResults(ctx, sessionId)
	return results, toClientError(err)
}

func (s *Submitter) CountTasks(ctx context.Context, filter persistence.TaskFilter) ([]persistence.StatusCount, error) {
	counts, err := s.storages.Tasks.CountTasks(ctx, filter)
	return counts, toClientError(err)
}

func (s *Submitter) ListTasks(ctx context.Context, filter persistence.TaskFilter) ([]persistence.Task, error) {
	tasks, err := s.storages.Tasks.ListTasks(ctx, filter)
	return tasks, toClientError(err)
}

// GetTaskStatus returns the status of every task, NotFound when one of them doesn't exist
func (s *Submitter) GetTaskStatus(ctx context.Context, taskIds []string) (map[string]persistence.TaskStatus, error) {
	statuses := make(map[string]persistence.TaskStatus, len(taskIds))
	for _, id := range taskIds {
		task, err := s.storages.Tasks.ReadTask(ctx, id)
		if err != nil {
			return nil, toClientError(err)
		}
		statuses[id] = task.Status
	}
	return statuses, nil
}

func (s *Submitter) CancelTasks(ctx context.Context, taskIds []string) (int64, error) {
	matched, err := s.storages.Tasks.CancelTasks(ctx, taskIds)
	return matched, toClientError(err)
}

// WaitForCompletion polls the task counts until no selected task is outstanding,
// or until an early stop condition is met. It returns the last counts
func (s *Submitter) WaitForCompletion(ctx context.Context, request WaitRequest) ([]persistence.StatusCount, error) {
	delay := s.cfg.SubmitterService.PollingDelay
	for {
		counts, err := s.storages.Tasks.CountTasks(ctx, request.Filter)
		if err != nil {
			return nil, toClientError(err)
		}
		if isWaitOver(counts, request) {
			return counts, nil
		}

		select {
		case <-ctx.Done():
			return counts, &Error{Code: CodeInternal, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
}

func isWaitOver(counts []persistence.StatusCount, request WaitRequest) bool {
	if request.StopOnFirstTaskError &&
		persistence.CountOf(counts, persistence.TaskStatusFailed)+persistence.CountOf(counts, persistence.TaskStatusError) > 0 {
		return true
	}
	if request.StopOnFirstTaskCancellation &&
		persistence.CountOf(counts, persistence.TaskStatusCanceled)+persistence.CountOf(counts, persistence.TaskStatusCanceling) > 0 {
		return true
	}
	var outstanding int64
	for _, c := range counts {
		if !c.Status.IsTerminal() && c.Status != persistence.TaskStatusProcessed {
			outstanding += c.Count
		}
	}
	return outstanding == 0
}

const (
	enqueueRetryInitialInterval = 50 * time.Millisecond
	defaultEnqueueRetryTimeout  = 10 * time.Second
)

type queueGroup struct {
	partitionId string
	priority    int
	taskIds     []string
}

// groupByQueue groups the tasks by partition and priority, keeping the order of first appearance
func groupByQueue(tasks []CreatedTask) []*queueGroup {
	type queueKey struct {
		partitionId string
		priority    int
	}
	var groups []*queueGroup
	index := map[queueKey]*queueGroup{}
	for _, t := range tasks {
		k := queueKey{partitionId: t.PartitionId, priority: t.Priority}
		g, ok := index[k]
		if !ok {
			g = &queueGroup{partitionId: t.PartitionId, priority: t.Priority}
			index[k] = g
			groups = append(groups, g)
		}
		g.taskIds = append(g.taskIds, t.TaskId)
	}
	return groups
}

func isInlinePayload(chunks [][]byte, threshold int) bool {
	if len(chunks) > 1 {
		return false
	}
	return len(chunks) == 0 || len(chunks[0]) <= threshold
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
