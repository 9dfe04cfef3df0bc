// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package redisobjects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/common/uuid"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
)

// ErrChunkMissing is returned while reading an object that was replaced or deleted meanwhile
var ErrChunkMissing = errors.New("object chunk is missing")

const (
	fieldGeneration = "generation"
	fieldCount      = "count"
	// writeBatchSize is the number of chunks written per pipeline
	writeBatchSize = 16
)

// ObjectStorage keeps every chunk of an object under its own key.
// The chunks of a write go to a new generation, and the object meta hash is switched to it
// once all of them are stored, so a reader never sees a partial object
type ObjectStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	timeout   time.Duration
	logger    log.Logger
}

var _ persistence.ObjectStorage = (*ObjectStorage)(nil)

func NewObjectStorage(cfg config.RedisConfig, logger log.Logger) *ObjectStorage {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewObjectStorageWithClient(client, cfg.KeyPrefix, cfg.Timeout, logger)
}

func NewObjectStorageWithClient(
	client redis.UniversalClient, keyPrefix string, timeout time.Duration, logger log.Logger,
) *ObjectStorage {
	return &ObjectStorage{
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   timeout,
		logger:    logger.WithTags(tag.Backend(string(config.StorageBackendRedis))),
	}
}

func (o *ObjectStorage) metaKey(key string) string {
	return fmt.Sprintf("%v:%v:meta", o.keyPrefix, key)
}

func (o *ObjectStorage) chunkKey(key, generation string, index int) string {
	return fmt.Sprintf("%v:%v:%v:%v", o.keyPrefix, key, generation, index)
}

func (o *ObjectStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *ObjectStorage) AddOrUpdate(ctx context.Context, key string, chunks persistence.ChunkStream) error {
	defer chunks.Close()
	generation := uuid.NewId()

	count := 0
	pending := map[string]interface{}{}
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		cctx, cancel := o.withTimeout(ctx)
		defer cancel()
		err := o.client.MSet(cctx, pending).Err()
		pending = map[string]interface{}{}
		return err
	}

	for {
		chunk, err := chunks.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			pending[o.chunkKey(key, generation, count)] = chunk
			count++
			if len(pending) >= writeBatchSize {
				err = flush()
			}
		}
		if err != nil {
			o.deleteGeneration(key, generation, count)
			return err
		}
	}
	if err := flush(); err != nil {
		o.deleteGeneration(key, generation, count)
		return err
	}

	previous, err := o.readMeta(ctx, key)
	if err != nil && !errors.Is(err, persistence.ErrObjectNotFound) {
		o.deleteGeneration(key, generation, count)
		return err
	}

	cctx, cancel := o.withTimeout(ctx)
	defer cancel()
	if err := o.client.HSet(cctx, o.metaKey(key), fieldGeneration, generation, fieldCount, count).Err(); err != nil {
		o.deleteGeneration(key, generation, count)
		return err
	}
	if previous != nil {
		o.deleteGeneration(key, previous.generation, previous.count)
	}
	return nil
}

type objectMeta struct {
	generation string
	count      int
}

func (o *ObjectStorage) readMeta(ctx context.Context, key string) (*objectMeta, error) {
	cctx, cancel := o.withTimeout(ctx)
	defer cancel()

	values, err := o.client.HMGet(cctx, o.metaKey(key), fieldGeneration, fieldCount).Result()
	if err != nil {
		return nil, err
	}
	generation, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %v", persistence.ErrObjectNotFound, key)
	}
	countStr, _ := values[1].(string)
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, fmt.Errorf("corrupted meta of object %v: %w", key, err)
	}
	return &objectMeta{generation: generation, count: count}, nil
}

func (o *ObjectStorage) GetValues(ctx context.Context, key string) (persistence.ChunkStream, error) {
	meta, err := o.readMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	return &chunkStream{storage: o, key: key, meta: *meta}, nil
}

func (o *ObjectStorage) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		meta, err := o.readMeta(ctx, key)
		if errors.Is(err, persistence.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		cctx, cancel := o.withTimeout(ctx)
		err = o.client.Del(cctx, o.metaKey(key)).Err()
		cancel()
		if err != nil {
			return err
		}
		o.deleteGeneration(key, meta.generation, meta.count)
	}
	return nil
}

// deleteGeneration removes the chunks of a generation no meta points to anymore.
// A failure only leaves garbage behind, so it is logged and not returned
func (o *ObjectStorage) deleteGeneration(key, generation string, count int) {
	if count == 0 {
		return
	}
	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		keys = append(keys, o.chunkKey(key, generation, i))
	}
	ctx, cancel := o.withTimeout(context.Background())
	defer cancel()
	if err := o.client.Del(ctx, keys...).Err(); err != nil {
		o.logger.Warn("failed to delete the chunks of an old object generation",
			tag.ObjectKey(key), tag.Error(err))
	}
}

func (o *ObjectStorage) Close() error {
	return o.client.Close()
}

type chunkStream struct {
	storage *ObjectStorage
	key     string
	meta    objectMeta
	next    int
}

func (s *chunkStream) Next(ctx context.Context) ([]byte, error) {
	if s.next >= s.meta.count {
		return nil, io.EOF
	}
	cctx, cancel := s.storage.withTimeout(ctx)
	defer cancel()

	chunk, err := s.storage.client.Get(cctx, s.storage.chunkKey(s.key, s.meta.generation, s.next)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v chunk %v", ErrChunkMissing, s.key, s.next)
	}
	if err != nil {
		return nil, err
	}
	s.next++
	return chunk, nil
}

func (s *chunkStream) Close() error {
	s.next = s.meta.count
	return nil
}
