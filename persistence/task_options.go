// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"fmt"
	"time"
)

// TaskOptions are the execution settings of a task. A session carries the defaults
type TaskOptions struct {
	Options              map[string]string `json:"options,omitempty"`
	MaxDuration          Duration          `json:"maxDuration,omitempty"`
	MaxRetries           int32             `json:"maxRetries,omitempty"`
	Priority             int               `json:"priority,omitempty"`
	PartitionId          string            `json:"partitionId,omitempty"`
	ApplicationName      string            `json:"applicationName,omitempty"`
	ApplicationVersion   string            `json:"applicationVersion,omitempty"`
	ApplicationNamespace string            `json:"applicationNamespace,omitempty"`
	ApplicationService   string            `json:"applicationService,omitempty"`
	EngineType           string            `json:"engineType,omitempty"`
}

// Duration is a time.Duration that reads and writes as a string like "1m30s" in JSON
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MergeTaskOptions returns the override where each unset field falls back to the defaults.
// The option maps are merged, the keys of the override win
func MergeTaskOptions(defaults TaskOptions, override *TaskOptions) TaskOptions {
	if override == nil {
		merged := defaults
		merged.Options = copyOptions(defaults.Options, nil)
		return merged
	}

	merged := *override
	merged.Options = copyOptions(defaults.Options, override.Options)
	if merged.MaxDuration == 0 {
		merged.MaxDuration = defaults.MaxDuration
	}
	if merged.MaxRetries == 0 {
		merged.MaxRetries = defaults.MaxRetries
	}
	if merged.Priority == 0 {
		merged.Priority = defaults.Priority
	}
	if merged.PartitionId == "" {
		merged.PartitionId = defaults.PartitionId
	}
	if merged.ApplicationName == "" {
		merged.ApplicationName = defaults.ApplicationName
	}
	if merged.ApplicationVersion == "" {
		merged.ApplicationVersion = defaults.ApplicationVersion
	}
	if merged.ApplicationNamespace == "" {
		merged.ApplicationNamespace = defaults.ApplicationNamespace
	}
	if merged.ApplicationService == "" {
		merged.ApplicationService = defaults.ApplicationService
	}
	if merged.EngineType == "" {
		merged.EngineType = defaults.EngineType
	}
	return merged
}

func copyOptions(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Validate checks the options against the highest priority the queue accepts
func (o TaskOptions) Validate(maxPriority int) error {
	if o.MaxDuration < 0 {
		return fmt.Errorf("maxDuration must not be negative")
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must not be negative")
	}
	if o.Priority < 0 || o.Priority > maxPriority {
		return fmt.Errorf("%w: priority %v is out of [0, %v]", ErrInvalidPriority, o.Priority, maxPriority)
	}
	return nil
}
