// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/xcherryio/taskgrid/persistence"
)

func newStorageBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultStorageRetryInitialInterval
	b.Multiplier = defaultStorageRetryMultiplier
	b.MaxInterval = defaultStorageRetryMaxInterval
	// bounded by the context instead
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// retryStorage runs op until it succeeds or the context is done.
// Errors that cannot heal by retrying are returned at once
func retryStorage(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isPermanentStorageError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newStorageBackOff(ctx))
}

func isPermanentStorageError(err error) bool {
	return errors.Is(err, persistence.ErrMultipleRowsMatched) ||
		errors.Is(err, persistence.ErrTaskNotFound) ||
		errors.Is(err, persistence.ErrSessionNotFound) ||
		errors.Is(err, persistence.ErrObjectNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
