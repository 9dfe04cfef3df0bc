// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/xcherryio/taskgrid/common/lease"
	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/common/uuid"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/worker"
)

type HandlerConfig struct {
	// PodId is written as the owner of the acquired tasks
	PodId             string
	PartitionId       string
	TaskLeaseDuration time.Duration
	TaskLeaseRefresh  time.Duration
	// CancellationCheckInterval is the period of the session and task cancellation checks
	// of a running execution
	CancellationCheckInterval time.Duration
	// ChunkSize of the payload and data chunks sent to the worker
	ChunkSize int
	// MaxErrorDetailSize caps the error written into a failed task
	MaxErrorDetailSize int
	// PostProcessingTimeout bounds the commit of the outcome once the execution ended
	PostProcessingTimeout time.Duration
}

// TaskHandler runs the lifecycle of the task referenced by one queue message:
// AcquireTask, PreProcessing, ExecuteTask, PostProcessing, then Dispose.
// The disposition of the message is set along the way and applied by Dispose
type TaskHandler struct {
	rootCtx  context.Context
	cfg      HandlerConfig
	storages persistence.Storages
	creator  TaskCreator
	streams  worker.StreamHandler
	message  persistence.QueueMessageHandler
	logger   log.Logger

	task          *persistence.Task
	acquisitionId string
	acquiredAt    time.Time
	taskLease     *lease.DeadlineHandler

	// execCtx is cancelled with the cause that interrupts the execution
	execCtx       context.Context
	cancelExec    context.CancelCauseFunc
	cancelTimeout context.CancelFunc

	requests worker.ComputeRequestStream
	stream   worker.Stream
	outcome  *ProcessingOutcome
	execErr  error
	// lostOwnership is set when the acquisition was taken over before the execution started
	lostOwnership bool
	// abandoned is set when the execution could not start for a storage failure
	abandoned bool
	// promoted is set once the staged results are copied to their final keys
	promoted bool

	disposeOnce sync.Once
	disposeErr  error
}

// NewTaskHandler returns the handler of a pulled message. Cancelling rootCtx interrupts the execution
// and gives the task back to the queue
func NewTaskHandler(
	rootCtx context.Context, cfg HandlerConfig, storages persistence.Storages, creator TaskCreator,
	streams worker.StreamHandler, message persistence.QueueMessageHandler, logger log.Logger,
) *TaskHandler {
	if cfg.PostProcessingTimeout == 0 {
		cfg.PostProcessingTimeout = defaultPostProcessingTimeout
	}
	if cfg.CancellationCheckInterval == 0 {
		cfg.CancellationCheckInterval = defaultCancellationCheckInterval
	}
	return &TaskHandler{
		rootCtx:  rootCtx,
		cfg:      cfg,
		storages: storages,
		creator:  creator,
		streams:  streams,
		message:  message,
		logger:   logger.WithTags(tag.MessageId(message.MessageId()), tag.TaskId(message.TaskId())),
	}
}

// Task is the task row as read at acquisition, nil before
func (h *TaskHandler) Task() *persistence.Task {
	return h.task
}

// AcquireTask decides whether this pollster executes the task. When it returns false the disposition
// of the message is already set. An error leaves the disposition to Waiting
func (h *TaskHandler) AcquireTask(ctx context.Context) (bool, error) {
	task, err := h.storages.Tasks.ReadTask(ctx, h.message.TaskId())
	if errors.Is(err, persistence.ErrTaskNotFound) {
		h.logger.Warn("task of the message does not exist, dropping the message")
		h.message.SetStatus(persistence.QueueMessageStatusProcessed)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	h.task = task
	h.logger = h.logger.WithTags(tag.SessionId(task.SessionId))

	switch task.Status {
	case persistence.TaskStatusCanceling:
		return false, h.cancelBeforeExecution(ctx, task.Status)
	case persistence.TaskStatusCompleted:
		h.logger.Debug("task already completed")
		h.message.SetStatus(persistence.QueueMessageStatusProcessed)
		return false, nil
	case persistence.TaskStatusCreating:
		h.logger.Debug("task is still in creation, postponing")
		h.message.SetStatus(persistence.QueueMessageStatusPostponed)
		return false, nil
	case persistence.TaskStatusError, persistence.TaskStatusCanceled:
		h.message.SetStatus(persistence.QueueMessageStatusCancelled)
		return false, nil
	case persistence.TaskStatusFailed:
		h.message.SetStatus(persistence.QueueMessageStatusPoisonous)
		return false, nil
	case persistence.TaskStatusSubmitted, persistence.TaskStatusDispatched,
		persistence.TaskStatusTimeout, persistence.TaskStatusProcessing:
		return h.tryAcquire(ctx)
	default:
		h.logger.Error("task is in a status no pollster can act on",
			tag.TaskStatus(task.Status), tag.ConsistencyViolation())
		return false, fmt.Errorf("%w: %v", ErrUnknownTaskStatus, task.Status)
	}
}

func (h *TaskHandler) tryAcquire(ctx context.Context) (bool, error) {
	task := h.task

	// A running task whose holder still renews its lease is not taken over, so the session and
	// dependency checks are skipped. Its holder observes a session cancellation on its own
	running := task.Status == persistence.TaskStatusDispatched || task.Status == persistence.TaskStatusProcessing
	if running && !isLeaseExpired(task, time.Now()) {
		h.logger.Debug("task is held by another pollster, postponing", tag.PodId(task.OwnerPodId))
		h.message.SetStatus(persistence.QueueMessageStatusPostponed)
		return false, nil
	}

	var cancelled, ready bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cancelled, err = h.storages.Sessions.IsSessionCancelled(gctx, task.SessionId)
		if errors.Is(err, persistence.ErrSessionNotFound) {
			cancelled = true
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		ready, err = h.storages.Results.AreResultsAvailable(gctx, task.SessionId, task.DataDependencies)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	if cancelled {
		return false, h.cancelBeforeExecution(ctx, task.Status)
	}
	if !ready {
		h.logger.Debug("dependencies of the task are not available, postponing")
		h.message.SetStatus(persistence.QueueMessageStatusPostponed)
		return false, nil
	}

	acquisitionId := uuid.NewId()
	acquired, err := h.storages.Tasks.AcquireTask(ctx, persistence.AcquireTaskRequest{
		TaskId:        task.Id,
		OwnerPodId:    h.cfg.PodId,
		AcquisitionId: acquisitionId,
		LeaseDuration: h.cfg.TaskLeaseDuration,
	})
	if err != nil {
		return false, err
	}
	// lost to another pollster, or the retry budget is exhausted
	if !acquired {
		h.logger.Debug("task could not be acquired, postponing", tag.Retries(task.Retries))
		h.message.SetStatus(persistence.QueueMessageStatusPostponed)
		return false, nil
	}

	h.acquisitionId = acquisitionId
	h.acquiredAt = time.Now()
	task.Status = persistence.TaskStatusDispatched
	task.OwnerPodId = h.cfg.PodId
	task.AcquisitionId = acquisitionId
	h.logger = h.logger.WithTags(tag.AcquisitionId(acquisitionId))

	h.taskLease = lease.NewDeadlineHandlerWithTerminalErrors(
		h.cfg.TaskLeaseDuration, h.cfg.TaskLeaseRefresh, h.renewTaskLease, isCancellationError, h.logger)
	h.startExecutionContext()

	tasksAcquired.WithLabelValues(h.cfg.PartitionId).Inc()
	h.logger.Info("task acquired", tag.Retries(task.Retries))
	return true, nil
}

func isLeaseExpired(task *persistence.Task, now time.Time) bool {
	return task.AcquiredUntil == nil || task.AcquiredUntil.Before(now)
}

// startExecutionContext merges every source of interruption into the cause of execCtx
func (h *TaskHandler) startExecutionContext() {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(h.rootCtx))
	h.cancelExec = cancel
	h.cancelTimeout = func() {}
	if maxDuration := time.Duration(h.task.Options.MaxDuration); maxDuration > 0 {
		ctx, h.cancelTimeout = context.WithTimeoutCause(ctx, maxDuration, errMaxDurationElapsed)
	}
	h.execCtx = ctx

	go func() {
		select {
		case <-h.rootCtx.Done():
			cancel(errShutdown)
		case <-h.message.LeaseLost():
			cancel(errMessageLeaseLost)
		case <-h.taskLease.Lost():
			cancel(h.taskLease.Err())
		case <-ctx.Done():
		}
	}()
	go h.watchCancellation(ctx, cancel)
}

// watchCancellation interrupts the execution once the task or its session is cancelled.
// It runs more often than the lease renewal
func (h *TaskHandler) watchCancellation(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(h.cfg.CancellationCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cause := h.checkCancellation(ctx); cause != nil {
				cancel(cause)
				return
			}
		}
	}
}

// checkCancellation ignores storage errors, the lease renewal reports those
func (h *TaskHandler) checkCancellation(ctx context.Context) error {
	cancelled, err := h.storages.Sessions.IsSessionCancelled(ctx, h.task.SessionId)
	if errors.Is(err, persistence.ErrSessionNotFound) || (err == nil && cancelled) {
		return errSessionCancelled
	}
	task, err := h.storages.Tasks.ReadTask(ctx, h.task.Id)
	if err == nil && task.Status == persistence.TaskStatusCanceling {
		return errTaskCancelled
	}
	return nil
}

// renewTaskLease extends the acquisition and reports the cancellations of the task or its session
func (h *TaskHandler) renewTaskLease(ctx context.Context) error {
	renewed, err := h.storages.Tasks.RenewTaskLease(ctx, h.task.Id, h.acquisitionId, h.cfg.TaskLeaseDuration)
	if err != nil {
		return err
	}
	if !renewed {
		task, err := h.storages.Tasks.ReadTask(ctx, h.task.Id)
		if err == nil && task.Status == persistence.TaskStatusCanceling {
			return errTaskCancelled
		}
		return lease.ErrLeaseLost
	}

	cancelled, err := h.storages.Sessions.IsSessionCancelled(ctx, h.task.SessionId)
	if errors.Is(err, persistence.ErrSessionNotFound) || cancelled {
		return errSessionCancelled
	}
	return err
}

// PreProcessing prepares the requests of the worker. The data is read lazily while it is sent
func (h *TaskHandler) PreProcessing(ctx context.Context) error {
	if err := context.Cause(h.execCtx); err != nil {
		return err
	}
	h.requests = NewDataPrefetcher(h.storages.Objects, h.cfg.ChunkSize, h.logger).Prefetch(h.task)
	return nil
}

// ExecuteTask starts the task and drives the worker until its completion or an interruption.
// The returned error is the one of the execution, PostProcessing decides what it means for the task
func (h *TaskHandler) ExecuteTask(ctx context.Context) error {
	started, err := h.storages.Tasks.StartTask(h.execCtx, h.task.Id, h.acquisitionId)
	if err != nil {
		h.abandoned = true
		h.execErr = err
		return err
	}
	if !started {
		h.lostOwnership = true
		return nil
	}
	h.task.Status = persistence.TaskStatusProcessing

	h.stream, err = h.streams.Open(h.execCtx)
	if err != nil {
		h.execErr = fmt.Errorf("failed to open the worker stream: %w", err)
		return h.execErr
	}

	processor := NewRequestProcessor(h.task, h.storages.Objects, h.creator, h.logger)
	h.outcome, h.execErr = processor.Process(h.execCtx, h.stream, h.requests)
	return h.execErr
}

// PostProcessing commits the outcome of the execution. It runs to its end even when ctx is cancelled,
// bounded by the post processing timeout
func (h *TaskHandler) PostProcessing(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.PostProcessingTimeout)
	defer cancel()

	cause := context.Cause(h.execCtx)
	var err error
	switch {
	case h.lostOwnership:
		err = h.discard(ctx)
	case h.abandoned:
		err = h.giveBack(ctx, persistence.TaskStatusSubmitted, false, persistence.QueueMessageStatusPostponed)
	case h.execErr == nil && h.outcome != nil && h.outcome.Status == persistence.TaskStatusCompleted:
		err = h.complete(ctx)
	case h.execErr == nil && h.outcome != nil && h.outcome.Status == persistence.TaskStatusFailed:
		err = h.fail(ctx, h.outcome.Error)
	case cause != nil:
		err = h.interrupted(ctx, cause)
	case h.execErr != nil:
		err = h.fail(ctx, h.execErr.Error())
	default:
		err = h.fail(ctx, "execution ended without outcome")
	}
	// results of a completed task whose promotion failed are kept for inspection
	if h.stream != nil && (h.promoted || h.task.Status != persistence.TaskStatusCompleted) {
		h.dropStagedResults(ctx)
	}

	execDuration.WithLabelValues(h.cfg.PartitionId).Observe(time.Since(h.acquiredAt).Seconds())
	if err != nil {
		postProcessingErrors.WithLabelValues(h.cfg.PartitionId).Inc()
		h.logger.Error("failed to commit the outcome of the task", tag.Error(err))
	}
	return err
}

func (h *TaskHandler) complete(ctx context.Context) error {
	ended, err := h.endTask(ctx, persistence.TaskStatusCompleted, persistence.TaskOutput{Success: true}, false)
	if err != nil {
		return err
	}
	if !ended {
		return h.discard(ctx)
	}

	var errs error
	for _, creation := range h.outcome.Creations {
		errs = multierr.Append(errs, h.creator.FinalizeTaskCreation(ctx, creation))
	}
	if len(h.outcome.Results) > 0 {
		err := h.promoteResults(ctx)
		if err == nil {
			err = retryStorage(ctx, func() error {
				_, err := h.storages.Results.SetResultsAvailable(ctx, h.task.SessionId, h.task.Id, h.outcome.Results)
				return err
			})
		}
		if err != nil {
			h.logger.Error("task completed but its results could not be made available",
				tag.ConsistencyViolation(), tag.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	h.message.SetStatus(persistence.QueueMessageStatusProcessed)
	h.logger.Info("task completed", tag.Count(int64(len(h.outcome.Results))))
	return errs
}

// promoteResults copies the results staged by this acquisition to their final keys.
// Only the acquisition that completed the task gets there
func (h *TaskHandler) promoteResults(ctx context.Context) error {
	for _, key := range h.outcome.Results {
		staged := persistence.StagedResultKey(h.task.SessionId, key, h.acquisitionId)
		err := retryStorage(ctx, func() error {
			stream, err := h.storages.Objects.GetValues(ctx, staged)
			if err != nil {
				return err
			}
			return h.storages.Objects.AddOrUpdate(ctx, persistence.ResultKey(h.task.SessionId, key), stream)
		})
		if err != nil {
			return fmt.Errorf("failed to promote result %q: %w", key, err)
		}
	}
	h.promoted = true
	return nil
}

// dropStagedResults deletes what this acquisition staged, partial writes included
func (h *TaskHandler) dropStagedResults(ctx context.Context) {
	keys := make([]string, 0, len(h.task.ExpectedOutputKeys))
	for _, key := range h.task.ExpectedOutputKeys {
		keys = append(keys, persistence.StagedResultKey(h.task.SessionId, key, h.acquisitionId))
	}
	if len(keys) == 0 {
		return
	}
	if err := h.storages.Objects.Delete(ctx, keys...); err != nil {
		h.logger.Warn("failed to delete the staged results", tag.Error(err))
	}
}

func (h *TaskHandler) fail(ctx context.Context, detail string) error {
	output := persistence.TaskOutput{Error: truncateDetail(detail, h.cfg.MaxErrorDetailSize)}
	ended, err := h.endTask(ctx, persistence.TaskStatusFailed, output, false)
	if err != nil {
		return err
	}
	if !ended {
		return h.discard(ctx)
	}

	h.logger.Warn("task failed", tag.Error(errors.New(output.Error)))
	h.message.SetStatus(persistence.QueueMessageStatusPoisonous)
	return multierr.Append(h.abortResults(ctx), h.cancelChildren(ctx))
}

func (h *TaskHandler) interrupted(ctx context.Context, cause error) error {
	switch {
	case isCancellationError(cause):
		ended, err := h.endTask(ctx, persistence.TaskStatusCanceled, persistence.TaskOutput{Error: cause.Error()}, false)
		if err != nil {
			return err
		}
		if !ended {
			return h.discard(ctx)
		}
		h.logger.Info("task cancelled during its execution", tag.Error(cause))
		h.message.SetStatus(persistence.QueueMessageStatusCancelled)
		return multierr.Append(h.abortResults(ctx), h.cancelChildren(ctx))
	case errors.Is(cause, errMaxDurationElapsed):
		maxDuration := time.Duration(h.task.Options.MaxDuration)
		if h.task.Retries >= h.task.Options.MaxRetries {
			return h.fail(ctx, fmt.Sprintf("%v: %v, no retry left", errMaxDurationElapsed, maxDuration))
		}
		h.logger.Warn("task exceeded its max duration", tag.Duration(maxDuration))
		return h.giveBack(ctx, persistence.TaskStatusTimeout, true, persistence.QueueMessageStatusPostponed)
	case errors.Is(cause, errShutdown):
		return h.giveBack(ctx, persistence.TaskStatusSubmitted, false, persistence.QueueMessageStatusPostponed)
	default:
		// a lost lease is not a failure of the task
		h.logger.Warn("execution interrupted, giving the task back", tag.Error(cause))
		return h.giveBack(ctx, persistence.TaskStatusSubmitted, false, persistence.QueueMessageStatusWaiting)
	}
}

// giveBack ends the acquisition so that the task can be acquired again
func (h *TaskHandler) giveBack(
	ctx context.Context, status persistence.TaskStatus, countAsRetry bool, disposition persistence.QueueMessageStatus,
) error {
	ended, err := h.endTask(ctx, status, persistence.TaskOutput{}, countAsRetry)
	if err != nil {
		return err
	}
	if !ended {
		return h.discard(ctx)
	}

	// a cancellation received during the execution wins over the give back
	task, err := h.storages.Tasks.ReadTask(ctx, h.task.Id)
	if err == nil && task.Status == persistence.TaskStatusCanceled {
		h.task.Status = task.Status
		h.logger.Info("task cancelled during its execution")
		h.message.SetStatus(persistence.QueueMessageStatusCancelled)
		return multierr.Append(h.abortResults(ctx), h.cancelChildren(ctx))
	}
	h.message.SetStatus(disposition)
	return h.cancelChildren(ctx)
}

// discard drops the outcome of an acquisition that was taken over
func (h *TaskHandler) discard(ctx context.Context) error {
	h.logger.Warn("task is not held by this acquisition anymore, discarding the outcome")
	h.message.SetStatus(persistence.QueueMessageStatusProcessed)
	return h.cancelChildren(ctx)
}

func (h *TaskHandler) endTask(
	ctx context.Context, status persistence.TaskStatus, output persistence.TaskOutput, countAsRetry bool,
) (bool, error) {
	var ended bool
	err := retryStorage(ctx, func() error {
		var err error
		ended, err = h.storages.Tasks.EndTask(ctx, persistence.EndTaskRequest{
			TaskId:        h.task.Id,
			AcquisitionId: h.acquisitionId,
			Status:        status,
			Output:        output,
			CountAsRetry:  countAsRetry,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	if ended {
		h.task.Status = status
		tasksEnded.WithLabelValues(h.cfg.PartitionId, status.String()).Inc()
	}
	return ended, nil
}

func (h *TaskHandler) abortResults(ctx context.Context) error {
	return retryStorage(ctx, func() error {
		_, err := h.storages.Results.AbortTaskResults(ctx, h.task.SessionId, h.task.Id)
		return err
	})
}

// cancelChildren cancels the subtasks created by the execution, which are never finalized
func (h *TaskHandler) cancelChildren(ctx context.Context) error {
	if h.outcome == nil || len(h.outcome.Creations) == 0 {
		return nil
	}
	ids := h.outcome.CreatedTaskIds()
	errs := retryStorage(ctx, func() error {
		_, err := h.storages.Tasks.CancelTasks(ctx, ids)
		return err
	})
	for _, id := range ids {
		_, err := h.storages.Results.AbortTaskResults(ctx, h.task.SessionId, id)
		errs = multierr.Append(errs, err)
	}
	return errs
}

// cancelBeforeExecution records the cancellation of a task that was not running for this pollster
func (h *TaskHandler) cancelBeforeExecution(ctx context.Context, current persistence.TaskStatus) error {
	_, err := persistence.UpdateOneTaskStatus(ctx, h.storages.Tasks, h.task.Id,
		[]persistence.TaskStatus{current}, persistence.TaskStatusCanceled)
	if err != nil {
		return err
	}
	if _, err := h.storages.Results.AbortTaskResults(ctx, h.task.SessionId, h.task.Id); err != nil {
		return err
	}
	h.logger.Info("task cancelled before its execution")
	h.message.SetStatus(persistence.QueueMessageStatusCancelled)
	return nil
}

// Dispose releases the task lease, the worker stream and the message. Only the first call has an effect
func (h *TaskHandler) Dispose(ctx context.Context) error {
	h.disposeOnce.Do(func() {
		var errs error
		if h.taskLease != nil {
			h.taskLease.Release()
		}
		if h.cancelExec != nil {
			h.cancelTimeout()
			h.cancelExec(nil)
		}
		if h.stream != nil {
			errs = multierr.Append(errs, h.stream.Close())
		}
		if h.requests != nil {
			errs = multierr.Append(errs, h.requests.Close())
		}
		disposition := h.message.Status()
		errs = multierr.Append(errs, h.message.Close(context.WithoutCancel(ctx)))
		messagesClosed.WithLabelValues(h.cfg.PartitionId, disposition.String()).Inc()
		h.disposeErr = errs
	})
	return h.disposeErr
}

func truncateDetail(detail string, maxSize int) string {
	if maxSize <= 0 || len(detail) <= maxSize {
		return detail
	}
	if maxSize <= len(truncatedSuffix) {
		return detail[:maxSize]
	}
	return detail[:maxSize-len(truncatedSuffix)] + truncatedSuffix
}
