// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"

	"github.com/xcherryio/taskgrid/extensions"
	"github.com/xcherryio/taskgrid/persistence"
)

type resultTableImpl struct {
	sqlStore
}

var _ persistence.ResultTable = resultTableImpl{}

func (r resultTableImpl) CreateResults(ctx context.Context, results []persistence.Result) error {
	if len(results) == 0 {
		return nil
	}
	return r.inTransaction(ctx, func(tx extensions.SQLTransaction) error {
		for i := range results {
			row := resultToRow(&results[i])
			if err := tx.InsertResult(ctx, row); err != nil {
				return r.translate(err, nil, persistence.ErrResultAlreadyExists,
					fmt.Sprintf("%v/%v", row.SessionId, row.Key))
			}
		}
		return nil
	})
}

func (r resultTableImpl) GetResult(ctx context.Context, sessionId, key string) (*persistence.Result, error) {
	row, err := r.session.SelectResult(ctx, sessionId, key)
	if err != nil {
		return nil, r.translate(err, persistence.ErrResultNotFound, nil, fmt.Sprintf("%v/%v", sessionId, key))
	}
	return rowToResult(row), nil
}

func (r resultTableImpl) AreResultsAvailable(ctx context.Context, sessionId string, keys []string) (bool, error) {
	keys = uniqueStrings(keys)
	if len(keys) == 0 {
		return true, nil
	}
	completed, err := r.session.CountCompletedResults(ctx, sessionId, keys)
	if err != nil {
		return false, err
	}
	return completed == int64(len(keys)), nil
}

func (r resultTableImpl) SetResultsAvailable(
	ctx context.Context, sessionId, ownerTaskId string, keys []string,
) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.session.CompleteResults(ctx, sessionId, ownerTaskId, keys)
}

func (r resultTableImpl) AbortTaskResults(ctx context.Context, sessionId, ownerTaskId string) (int64, error) {
	return r.session.AbortTaskResults(ctx, sessionId, ownerTaskId)
}

func (r resultTableImpl) ChangeResultOwnership(
	ctx context.Context, sessionId, oldOwnerTaskId string, keys []string, newOwnerTaskId string,
) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.session.UpdateResultOwner(ctx, sessionId, oldOwnerTaskId, keys, newOwnerTaskId)
}

func (r resultTableImpl) ListResults(ctx context.Context, sessionId string) ([]persistence.Result, error) {
	rows, err := r.session.SelectResults(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	var results []persistence.Result
	for i := range rows {
		results = append(results, *rowToResult(&rows[i]))
	}
	return results, nil
}

func (r resultTableImpl) DeleteResults(ctx context.Context, sessionId string) error {
	return r.session.DeleteSessionResults(ctx, sessionId)
}
