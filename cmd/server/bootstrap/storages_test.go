// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence/persistencetest"
)

func newMemoryConfig(t *testing.T) config.Config {
	cfg := config.Config{
		Database:      config.DatabaseConfig{Backend: config.StorageBackendMemory},
		QueueStorage:  config.QueueStorageConfig{Backend: config.StorageBackendMemory},
		ObjectStorage: config.ObjectStorageConfig{Backend: config.StorageBackendMemory},
		PollsterService: config.PollsterServiceConfig{
			PodId: "test-pod",
		},
	}
	require.NoError(t, cfg.ValidateAndSetDefaults())
	return cfg
}

func TestNewMemoryStorages(t *testing.T) {
	ass := assert.New(t)
	storages, closeAll, err := NewStorages(context.Background(), newMemoryConfig(t), log.NewNopLogger())
	require.NoError(t, err)
	ass.NotNil(storages.Tasks)
	ass.NotNil(storages.Sessions)
	ass.NotNil(storages.Results)
	ass.Equal(10, storages.Queue.MaxPriority())

	persistencetest.ObjectStorageTest(t, ass, storages.Objects)
	ass.NoError(closeAll())
}

func TestNewStoragesRejectsUnknownBackend(t *testing.T) {
	cfg := newMemoryConfig(t)
	cfg.QueueStorage.Backend = "kafka"
	_, _, err := NewStorages(context.Background(), cfg, log.NewNopLogger())
	assert.ErrorContains(t, err, "unsupported queue storage backend kafka")
}
