// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/persistence/memory"
	"github.com/xcherryio/taskgrid/persistence/objectstorage/redisobjects"
	"github.com/xcherryio/taskgrid/persistence/objectstorage/s3objects"
	"github.com/xcherryio/taskgrid/persistence/queue/pgqueue"
	"github.com/xcherryio/taskgrid/persistence/queue/pulsarqueue"
	"github.com/xcherryio/taskgrid/persistence/sql"
)

// closer releases what a storage holds, e.g. a connection pool
type closer func() error

// NewStorages builds the storages selected by the config.
// The returned closer releases all of them
func NewStorages(ctx context.Context, cfg config.Config, logger log.Logger) (persistence.Storages, closer, error) {
	var storages persistence.Storages
	var closers []closer
	closeAll := func() error {
		var errs error
		// reverse order of creation
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i]())
		}
		return errs
	}

	switch cfg.Database.Backend {
	case config.StorageBackendMemory:
		storages.Tasks = memory.NewTaskTable()
		storages.Sessions = memory.NewSessionTable()
		storages.Results = memory.NewResultTable()
	case config.StorageBackendSQL:
		tables, err := sql.NewSQLTables(*cfg.Database.SQL, logger)
		if err != nil {
			return storages, nil, fmt.Errorf("error on sql tables setup: %w", err)
		}
		storages.Tasks = tables.Tasks
		storages.Sessions = tables.Sessions
		storages.Results = tables.Results
		closers = append(closers, tables.Close)
	default:
		return storages, nil, fmt.Errorf("unsupported database backend %v", cfg.Database.Backend)
	}

	queue, err := newQueueStorage(ctx, cfg.QueueStorage, logger)
	if err != nil {
		return storages, nil, multierr.Append(err, closeAll())
	}
	storages.Queue = queue
	closers = append(closers, queue.Close)

	objects, err := newObjectStorage(cfg.ObjectStorage, logger)
	if err != nil {
		return storages, nil, multierr.Append(err, closeAll())
	}
	storages.Objects = objects
	closers = append(closers, objects.Close)

	logger.Info("storages are ready",
		tag.Backend(fmt.Sprintf("database=%v,queue=%v,objects=%v",
			cfg.Database.Backend, cfg.QueueStorage.Backend, cfg.ObjectStorage.Backend)))
	return storages, closeAll, nil
}

func newQueueStorage(
	ctx context.Context, cfg config.QueueStorageConfig, logger log.Logger,
) (persistence.QueueStorage, error) {
	switch cfg.Backend {
	case config.StorageBackendMemory:
		return memory.NewQueueStorage(cfg.MaxPriority, cfg.PostponeDelay), nil
	case config.StorageBackendPostgres:
		queue, err := pgqueue.NewQueueStorage(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("error on postgres queue setup: %w", err)
		}
		return queue, nil
	case config.StorageBackendPulsar:
		queue, err := pulsarqueue.NewQueueStorage(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("error on pulsar queue setup: %w", err)
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("unsupported queue storage backend %v", cfg.Backend)
	}
}

func newObjectStorage(cfg config.ObjectStorageConfig, logger log.Logger) (persistence.ObjectStorage, error) {
	switch cfg.Backend {
	case config.StorageBackendMemory:
		return memory.NewObjectStorage(), nil
	case config.StorageBackendRedis:
		return redisobjects.NewObjectStorage(*cfg.Redis, logger), nil
	case config.StorageBackendS3:
		objects, err := s3objects.NewObjectStorage(*cfg.S3, cfg.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("error on s3 object storage setup: %w", err)
		}
		return objects, nil
	default:
		return nil, fmt.Errorf("unsupported object storage backend %v", cfg.Backend)
	}
}
