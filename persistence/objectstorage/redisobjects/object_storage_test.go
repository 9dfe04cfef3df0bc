// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package redisobjects

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence/persistencetest"
)

func TestKeys(t *testing.T) {
	ass := assert.New(t)
	o := &ObjectStorage{keyPrefix: "taskgrid"}
	ass.Equal("taskgrid:results/s/out:meta", o.metaKey("results/s/out"))
	ass.Equal("taskgrid:results/s/out:gen:2", o.chunkKey("results/s/out", "gen", 2))
}

// TestObjectStorage needs a redis server, e.g. TASKGRID_REDIS_ADDR=localhost:6379
func TestObjectStorage(t *testing.T) {
	addr := os.Getenv("TASKGRID_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKGRID_REDIS_ADDR is not set")
	}
	storage := NewObjectStorage(config.RedisConfig{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("test%v", time.Now().UnixNano()),
		Timeout:   5 * time.Second,
	}, log.NewDevelopmentLogger())
	defer storage.Close()

	persistencetest.ObjectStorageTest(t, assert.New(t), storage)
}
