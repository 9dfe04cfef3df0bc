// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xcherryio/taskgrid/persistence"
)

type objectStorageImpl struct {
	sync.RWMutex
	objects map[string][][]byte
}

// NewObjectStorage returns an ObjectStorage kept in the process memory
func NewObjectStorage() persistence.ObjectStorage {
	return &objectStorageImpl{
		objects: map[string][][]byte{},
	}
}

func (o *objectStorageImpl) AddOrUpdate(ctx context.Context, key string, chunks persistence.ChunkStream) error {
	// the object is replaced only once every chunk is read
	read, err := persistence.ReadAllChunks(ctx, chunks)
	if err != nil {
		return err
	}
	stored := make([][]byte, len(read))
	for i, chunk := range read {
		stored[i] = append([]byte(nil), chunk...)
	}

	o.Lock()
	defer o.Unlock()
	o.objects[key] = stored
	return nil
}

func (o *objectStorageImpl) GetValues(ctx context.Context, key string) (persistence.ChunkStream, error) {
	o.RLock()
	defer o.RUnlock()

	chunks, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", persistence.ErrObjectNotFound, key)
	}
	// stored chunks are never mutated, a new object replaces the slice
	return persistence.NewChunkStream(chunks...), nil
}

func (o *objectStorageImpl) Delete(ctx context.Context, keys ...string) error {
	o.Lock()
	defer o.Unlock()

	for _, key := range keys {
		delete(o.objects, key)
	}
	return nil
}

func (o *objectStorageImpl) Close() error {
	return nil
}
