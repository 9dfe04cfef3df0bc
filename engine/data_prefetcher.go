// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/worker"
)

// DataPrefetcher resolves the payload and the dependencies of a task into the request stream of a worker
type DataPrefetcher struct {
	objects   persistence.ObjectStorage
	chunkSize int
	logger    log.Logger
}

func NewDataPrefetcher(objects persistence.ObjectStorage, chunkSize int, logger log.Logger) *DataPrefetcher {
	return &DataPrefetcher{
		objects:   objects,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Prefetch returns the requests of the task: the Init header, the payload chunks,
// then every dependency in order, then LastData. The object storage is read lazily,
// a missing object fails the stream with ErrDependencyMissing
func (p *DataPrefetcher) Prefetch(task *persistence.Task) worker.ComputeRequestStream {
	return &prefetchStream{
		prefetcher: p,
		task:       task,
	}
}

const (
	prefetchStageInit = iota
	prefetchStagePayload
	prefetchStageDependencies
	prefetchStageDone
)

type prefetchStream struct {
	prefetcher *DataPrefetcher
	task       *persistence.Task

	stage    int
	depIndex int
	pending  []*worker.ComputeRequest
	// current is the object being streamed, followed by currentEnd
	current    persistence.ChunkStream
	chunkKind  worker.ComputeRequestKind
	currentEnd *worker.ComputeRequest
}

func (s *prefetchStream) Next(ctx context.Context) (*worker.ComputeRequest, error) {
	for {
		if len(s.pending) > 0 {
			req := s.pending[0]
			s.pending = s.pending[1:]
			return req, nil
		}

		if s.current != nil {
			chunk, err := s.current.Next(ctx)
			if errors.Is(err, io.EOF) {
				_ = s.current.Close()
				s.current = nil
				s.pending = append(s.pending, s.currentEnd)
				continue
			}
			if err != nil {
				return nil, err
			}
			return &worker.ComputeRequest{Kind: s.chunkKind, Chunk: chunk}, nil
		}

		if err := s.advance(ctx); err != nil {
			return nil, err
		}
		if s.stage == prefetchStageDone && len(s.pending) == 0 && s.current == nil {
			return nil, io.EOF
		}
	}
}

func (s *prefetchStream) advance(ctx context.Context) error {
	task := s.task
	switch s.stage {
	case prefetchStageInit:
		s.pending = append(s.pending, worker.NewInitRequest(worker.InitRequest{
			SessionId:          task.SessionId,
			TaskId:             task.Id,
			TaskOptions:        task.Options,
			ExpectedOutputKeys: task.ExpectedOutputKeys,
			DataDependencies:   task.DataDependencies,
			ChunkSize:          s.prefetcher.chunkSize,
		}))
		s.stage = prefetchStagePayload
	case prefetchStagePayload:
		if task.HasPayloadInObjectStorage {
			stream, err := s.prefetcher.open(ctx, task, persistence.PayloadKey(task.SessionId, task.Id))
			if err != nil {
				return err
			}
			s.current = stream
		} else {
			s.current = persistence.NewChunkStream(persistence.SplitChunks(task.Payload, s.prefetcher.chunkSize)...)
		}
		s.chunkKind = worker.ComputeRequestKindPayloadChunk
		s.currentEnd = worker.NewRequest(worker.ComputeRequestKindPayloadComplete)
		s.stage = prefetchStageDependencies
	case prefetchStageDependencies:
		if s.depIndex >= len(task.DataDependencies) {
			s.pending = append(s.pending, worker.NewRequest(worker.ComputeRequestKindLastData))
			s.stage = prefetchStageDone
			return nil
		}
		key := task.DataDependencies[s.depIndex]
		s.depIndex++
		stream, err := s.prefetcher.open(ctx, task, persistence.ResultKey(task.SessionId, key))
		if err != nil {
			return err
		}
		s.pending = append(s.pending, worker.NewDataInitRequest(key))
		s.current = stream
		s.chunkKind = worker.ComputeRequestKindDataChunk
		s.currentEnd = worker.NewRequest(worker.ComputeRequestKindDataComplete)
	}
	return nil
}

func (s *prefetchStream) Close() error {
	s.pending = nil
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

func (p *DataPrefetcher) open(ctx context.Context, task *persistence.Task, key string) (persistence.ChunkStream, error) {
	stream, err := p.objects.GetValues(ctx, key)
	if errors.Is(err, persistence.ErrObjectNotFound) {
		p.logger.Error("task data is missing", tag.TaskId(task.Id), tag.SessionId(task.SessionId), tag.ObjectKey(key))
		return nil, fmt.Errorf("%w: %v", ErrDependencyMissing, key)
	}
	return stream, err
}
