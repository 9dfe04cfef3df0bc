// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeTaskOptions(t *testing.T) {
	ass := assert.New(t)

	defaults := TaskOptions{
		Options:         map[string]string{"a": "session", "b": "session"},
		MaxDuration:     Duration(time.Minute),
		MaxRetries:      3,
		Priority:        2,
		PartitionId:     "default",
		ApplicationName: "app",
		EngineType:      "unified",
	}

	merged := MergeTaskOptions(defaults, &TaskOptions{
		Options:    map[string]string{"b": "task", "c": "task"},
		MaxRetries: 5,
		Priority:   7,
	})
	ass.Equal(map[string]string{"a": "session", "b": "task", "c": "task"}, merged.Options)
	ass.Equal(Duration(time.Minute), merged.MaxDuration)
	ass.Equal(int32(5), merged.MaxRetries)
	ass.Equal(7, merged.Priority)
	ass.Equal("default", merged.PartitionId)
	ass.Equal("app", merged.ApplicationName)
	ass.Equal("unified", merged.EngineType)

	ass.Equal(map[string]string{"a": "session", "b": "session"}, defaults.Options, "defaults must not be mutated")

	noOverride := MergeTaskOptions(defaults, nil)
	ass.Equal(defaults, noOverride)
}

func TestTaskOptionsValidate(t *testing.T) {
	ass := assert.New(t)

	ass.Nil(TaskOptions{Priority: 0}.Validate(10))
	ass.Nil(TaskOptions{Priority: 10}.Validate(10))
	err := TaskOptions{Priority: 11}.Validate(10)
	ass.True(errors.Is(err, ErrInvalidPriority))
	ass.Error(TaskOptions{Priority: -1}.Validate(10))
	ass.Error(TaskOptions{MaxRetries: -1}.Validate(10))
}

func TestTaskOptionsJson(t *testing.T) {
	ass := assert.New(t)

	var opts TaskOptions
	ass.Nil(json.Unmarshal([]byte(`{"maxDuration":"1m30s","priority":3}`), &opts))
	ass.Equal(Duration(90*time.Second), opts.MaxDuration)
	ass.Equal(3, opts.Priority)

	out, err := json.Marshal(opts)
	ass.Nil(err)
	ass.JSONEq(`{"maxDuration":"1m30s","priority":3}`, string(out))
}

func TestTaskStatusText(t *testing.T) {
	ass := assert.New(t)

	for _, s := range AllTaskStatuses {
		parsed, err := ParseTaskStatus(s.String())
		ass.Nil(err)
		ass.Equal(s, parsed)
	}
	_, err := ParseTaskStatus("Unknown")
	ass.Error(err)

	ass.True(TaskStatusCompleted.IsTerminal())
	ass.True(TaskStatusFailed.IsTerminal())
	ass.True(TaskStatusCanceled.IsTerminal())
	ass.False(TaskStatusTimeout.IsTerminal())
	ass.False(TaskStatusError.IsTerminal())
}
