// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"fmt"
)

// UpdateOneTaskStatus runs the conditional update and checks the matched count:
// zero means the race was lost or the row is already terminal, more than one is a consistency violation
func UpdateOneTaskStatus(
	ctx context.Context, table TaskTable, taskId string, expected []TaskStatus, status TaskStatus,
) (bool, error) {
	matched, err := table.UpdateTaskStatus(ctx, taskId, expected, status)
	if err != nil {
		return false, err
	}
	return CheckSingleMatch(matched, taskId)
}

// CheckSingleMatch interprets the matched count of a conditional update keyed on a unique id
func CheckSingleMatch(matched int64, id string) (bool, error) {
	switch {
	case matched == 0:
		return false, nil
	case matched == 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: id %v matched %v rows", ErrMultipleRowsMatched, id, matched)
	}
}

// CanTransit is the in-memory form of the conditional update guard
func CanTransit(current TaskStatus, expected []TaskStatus) bool {
	if current.IsTerminal() {
		return false
	}
	if len(expected) == 0 {
		return true
	}
	return containsStatus(expected, current)
}
