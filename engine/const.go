// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import "time"

// Default: 100 milliseconds initial interval, 5 seconds max interval, and 2 backoff factor
const (
	defaultStorageRetryInitialInterval = 100 * time.Millisecond
	defaultStorageRetryMaxInterval     = 5 * time.Second
	defaultStorageRetryMultiplier      = 2
)

// defaultPostProcessingTimeout bounds the commit of an outcome when no timeout is configured
const defaultPostProcessingTimeout = 30 * time.Second

// defaultCancellationCheckInterval is used when the handler is given no check interval
const defaultCancellationCheckInterval = time.Second

// truncatedSuffix ends an error detail cut to the max size
const truncatedSuffix = "...(truncated)"
