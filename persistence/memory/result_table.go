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

type resultId struct {
	sessionId string
	key       string
}

type resultTableImpl struct {
	sync.RWMutex
	results map[resultId]*persistence.Result
}

// NewResultTable returns a ResultTable kept in the process memory
func NewResultTable() persistence.ResultTable {
	return &resultTableImpl{
		results: map[resultId]*persistence.Result{},
	}
}

func (r *resultTableImpl) CreateResults(ctx context.Context, results []persistence.Result) error {
	r.Lock()
	defer r.Unlock()

	for _, result := range results {
		if _, ok := r.results[resultId{result.SessionId, result.Key}]; ok {
			return fmt.Errorf("%w: %v/%v", persistence.ErrResultAlreadyExists, result.SessionId, result.Key)
		}
	}
	for _, result := range results {
		c := result
		r.results[resultId{result.SessionId, result.Key}] = &c
	}
	return nil
}

func (r *resultTableImpl) GetResult(ctx context.Context, sessionId, key string) (*persistence.Result, error) {
	r.RLock()
	defer r.RUnlock()

	result, ok := r.results[resultId{sessionId, key}]
	if !ok {
		return nil, fmt.Errorf("%w: %v/%v", persistence.ErrResultNotFound, sessionId, key)
	}
	c := *result
	c.CompletionDate = cloneTime(result.CompletionDate)
	return &c, nil
}

func (r *resultTableImpl) AreResultsAvailable(ctx context.Context, sessionId string, keys []string) (bool, error) {
	r.RLock()
	defer r.RUnlock()

	for _, key := range keys {
		result, ok := r.results[resultId{sessionId, key}]
		if !ok || result.Status != persistence.ResultStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (r *resultTableImpl) SetResultsAvailable(
	ctx context.Context, sessionId, ownerTaskId string, keys []string,
) (int64, error) {
	r.Lock()
	defer r.Unlock()

	now := time.Now()
	var matched int64
	for _, key := range keys {
		result, ok := r.results[resultId{sessionId, key}]
		if !ok || result.OwnerTaskId != ownerTaskId || result.Status == persistence.ResultStatusAborted {
			continue
		}
		if result.Status != persistence.ResultStatusCompleted {
			result.Status = persistence.ResultStatusCompleted
			result.CompletionDate = &now
		}
		matched++
	}
	return matched, nil
}

func (r *resultTableImpl) AbortTaskResults(ctx context.Context, sessionId, ownerTaskId string) (int64, error) {
	r.Lock()
	defer r.Unlock()

	var matched int64
	for _, result := range r.results {
		if result.SessionId == sessionId && result.OwnerTaskId == ownerTaskId &&
			result.Status == persistence.ResultStatusCreated {
			result.Status = persistence.ResultStatusAborted
			matched++
		}
	}
	return matched, nil
}

func (r *resultTableImpl) ChangeResultOwnership(
	ctx context.Context, sessionId, oldOwnerTaskId string, keys []string, newOwnerTaskId string,
) (int64, error) {
	r.Lock()
	defer r.Unlock()

	var matched int64
	for _, key := range keys {
		result, ok := r.results[resultId{sessionId, key}]
		if !ok || result.OwnerTaskId != oldOwnerTaskId || result.Status != persistence.ResultStatusCreated {
			continue
		}
		result.OwnerTaskId = newOwnerTaskId
		matched++
	}
	return matched, nil
}

func (r *resultTableImpl) ListResults(ctx context.Context, sessionId string) ([]persistence.Result, error) {
	r.RLock()
	defer r.RUnlock()

	var out []persistence.Result
	for _, result := range r.results {
		if result.SessionId == sessionId {
			c := *result
			c.CompletionDate = cloneTime(result.CompletionDate)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (r *resultTableImpl) DeleteResults(ctx context.Context, sessionId string) error {
	r.Lock()
	defer r.Unlock()

	for id := range r.results {
		if id.sessionId == sessionId {
			delete(r.results, id)
		}
	}
	return nil
}
