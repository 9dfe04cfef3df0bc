// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import "fmt"

// PayloadKey is the object storage key of a payload too large to be kept in the task row
func PayloadKey(sessionId, taskId string) string {
	return fmt.Sprintf("payloads/%s/%s", sessionId, taskId)
}

// ResultKey is the object storage key of the bytes of a result
func ResultKey(sessionId, key string) string {
	return fmt.Sprintf("results/%s/%s", sessionId, key)
}

// StagedResultKey is where an acquisition writes a result before the completion of its task
// makes it the owner of ResultKey
func StagedResultKey(sessionId, key, acquisitionId string) string {
	return fmt.Sprintf("staging/%s/%s/%s", sessionId, acquisitionId, key)
}
