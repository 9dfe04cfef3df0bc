// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xcherryio/taskgrid/persistence"
)

type taskTableImpl struct {
	sync.Mutex
	tasks map[string]*persistence.Task
}

// NewTaskTable returns a TaskTable kept in the process memory
func NewTaskTable() persistence.TaskTable {
	return &taskTableImpl{
		tasks: map[string]*persistence.Task{},
	}
}

func (t *taskTableImpl) CreateTasks(ctx context.Context, tasks []persistence.Task) error {
	t.Lock()
	defer t.Unlock()

	for _, task := range tasks {
		if _, ok := t.tasks[task.Id]; ok {
			return fmt.Errorf("%w: %v", persistence.ErrTaskAlreadyExists, task.Id)
		}
	}
	for _, task := range tasks {
		t.tasks[task.Id] = cloneTask(&task)
	}
	return nil
}

func (t *taskTableImpl) ReadTask(ctx context.Context, taskId string) (*persistence.Task, error) {
	t.Lock()
	defer t.Unlock()

	task, ok := t.tasks[taskId]
	if !ok {
		return nil, fmt.Errorf("%w: %v", persistence.ErrTaskNotFound, taskId)
	}
	return cloneTask(task), nil
}

func (t *taskTableImpl) UpdateTaskStatus(
	ctx context.Context, taskId string, expected []persistence.TaskStatus, status persistence.TaskStatus,
) (int64, error) {
	t.Lock()
	defer t.Unlock()

	task, ok := t.tasks[taskId]
	if !ok || !persistence.CanTransit(task.Status, expected) {
		return 0, nil
	}
	task.Status = status
	if status.IsTerminal() {
		now := time.Now()
		task.EndDate = &now
	}
	return 1, nil
}

func (t *taskTableImpl) FinalizeTaskCreation(ctx context.Context, taskIds []string) (int64, error) {
	t.Lock()
	defer t.Unlock()

	now := time.Now()
	var matched int64
	for _, id := range taskIds {
		task, ok := t.tasks[id]
		if !ok || task.Status != persistence.TaskStatusCreating {
			continue
		}
		task.Status = persistence.TaskStatusSubmitted
		task.SubmittedDate = &now
		matched++
	}
	return matched, nil
}

func (t *taskTableImpl) AcquireTask(ctx context.Context, request persistence.AcquireTaskRequest) (bool, error) {
	t.Lock()
	defer t.Unlock()

	task, ok := t.tasks[request.TaskId]
	if !ok {
		return false, nil
	}
	now := time.Now()
	switch task.Status {
	case persistence.TaskStatusSubmitted, persistence.TaskStatusTimeout:
	case persistence.TaskStatusDispatched, persistence.TaskStatusProcessing:
		// taken over only once the previous holder abandoned it
		if task.AcquiredUntil != nil && !task.AcquiredUntil.Before(now) {
			return false, nil
		}
	default:
		return false, nil
	}
	if task.Retries > task.Options.MaxRetries {
		return false, nil
	}

	until := now.Add(request.LeaseDuration)
	task.Status = persistence.TaskStatusDispatched
	task.OwnerPodId = request.OwnerPodId
	task.AcquisitionId = request.AcquisitionId
	task.AcquiredUntil = &until
	return true, nil
}

func (t *taskTableImpl) RenewTaskLease(
	ctx context.Context, taskId, acquisitionId string, duration time.Duration,
) (bool, error) {
	t.Lock()
	defer t.Unlock()

	task, ok := t.tasks[taskId]
	if !ok || !isHeldBy(task, acquisitionId) {
		return false, nil
	}
	until := time.Now().Add(duration)
	task.AcquiredUntil = &until
	return true, nil
}

func (t *taskTableImpl) StartTask(ctx context.Context, taskId, acquisitionId string) (bool, error) {
	t.Lock()
	defer t.Unlock()

	task, ok := t.tasks[taskId]
	if !ok || task.Status != persistence.TaskStatusDispatched || task.AcquisitionId != acquisitionId {
		return false, nil
	}
	now := time.Now()
	task.Status = persistence.TaskStatusProcessing
	task.StartDate = &now
	return true, nil
}

func (t *taskTableImpl) EndTask(ctx context.Context, request persistence.EndTaskRequest) (bool, error) {
	t.Lock()
	defer t.Unlock()

	task, ok := t.tasks[request.TaskId]
	if !ok || task.AcquisitionId != request.AcquisitionId {
		return false, nil
	}
	switch task.Status {
	case persistence.TaskStatusDispatched, persistence.TaskStatusProcessing, persistence.TaskStatusCanceling:
	default:
		return false, nil
	}

	status := request.Status
	if task.Status == persistence.TaskStatusCanceling && !status.IsTerminal() {
		status = persistence.TaskStatusCanceled
	}
	task.Status = status
	task.Output = request.Output
	task.AcquisitionId = ""
	task.AcquiredUntil = nil
	if request.CountAsRetry {
		task.Retries++
	}
	if status.IsTerminal() {
		now := time.Now()
		task.EndDate = &now
	}
	return true, nil
}

func (t *taskTableImpl) CountTasks(
	ctx context.Context, filter persistence.TaskFilter,
) ([]persistence.StatusCount, error) {
	t.Lock()
	defer t.Unlock()

	counts := map[persistence.TaskStatus]int64{}
	for _, task := range t.tasks {
		if filter.Matches(task) {
			counts[task.Status]++
		}
	}
	out := make([]persistence.StatusCount, 0, len(counts))
	for status, count := range counts {
		out = append(out, persistence.StatusCount{Status: status, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Status < out[j].Status
	})
	return out, nil
}

func (t *taskTableImpl) ListTasks(ctx context.Context, filter persistence.TaskFilter) ([]persistence.Task, error) {
	t.Lock()
	defer t.Unlock()

	var out []persistence.Task
	for _, task := range t.tasks {
		if filter.Matches(task) {
			out = append(out, *cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationDate.Equal(out[j].CreationDate) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreationDate.Before(out[j].CreationDate)
	})
	return out, nil
}

func (t *taskTableImpl) CancelSessionTasks(ctx context.Context, sessionId string) (int64, error) {
	t.Lock()
	defer t.Unlock()

	var matched int64
	for _, task := range t.tasks {
		if task.SessionId == sessionId && cancelTask(task) {
			matched++
		}
	}
	return matched, nil
}

func (t *taskTableImpl) CancelTasks(ctx context.Context, taskIds []string) (int64, error) {
	t.Lock()
	defer t.Unlock()

	var matched int64
	for _, id := range taskIds {
		task, ok := t.tasks[id]
		if ok && cancelTask(task) {
			matched++
		}
	}
	return matched, nil
}

func (t *taskTableImpl) DeleteTasks(ctx context.Context, sessionId string) error {
	t.Lock()
	defer t.Unlock()

	for id, task := range t.tasks {
		if task.SessionId == sessionId {
			delete(t.tasks, id)
		}
	}
	return nil
}

func isHeldBy(task *persistence.Task, acquisitionId string) bool {
	if task.AcquisitionId != acquisitionId {
		return false
	}
	return task.Status == persistence.TaskStatusDispatched || task.Status == persistence.TaskStatusProcessing
}

// cancelTask applies the cancellation rule to a single row, running tasks are left to their holder
func cancelTask(task *persistence.Task) bool {
	switch task.Status {
	case persistence.TaskStatusCreating, persistence.TaskStatusSubmitted,
		persistence.TaskStatusTimeout, persistence.TaskStatusError:
		now := time.Now()
		task.Status = persistence.TaskStatusCanceled
		task.EndDate = &now
		return true
	case persistence.TaskStatusDispatched, persistence.TaskStatusProcessing:
		task.Status = persistence.TaskStatusCanceling
		return true
	default:
		return false
	}
}

func cloneTask(task *persistence.Task) *persistence.Task {
	c := *task
	c.ParentTaskIds = cloneStrings(task.ParentTaskIds)
	c.DataDependencies = cloneStrings(task.DataDependencies)
	c.ExpectedOutputKeys = cloneStrings(task.ExpectedOutputKeys)
	if task.Payload != nil {
		c.Payload = append([]byte(nil), task.Payload...)
	}
	if task.Options.Options != nil {
		c.Options.Options = make(map[string]string, len(task.Options.Options))
		for k, v := range task.Options.Options {
			c.Options.Options[k] = v
		}
	}
	c.AcquiredUntil = cloneTime(task.AcquiredUntil)
	c.SubmittedDate = cloneTime(task.SubmittedDate)
	c.StartDate = cloneTime(task.StartDate)
	c.EndDate = cloneTime(task.EndDate)
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
