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
	"github.com/xcherryio/taskgrid/submitter"
	"github.com/xcherryio/taskgrid/worker"
)

// ProcessingOutcome is what the worker produced. Nothing of it is visible to the clients
// before the post processing commits it
type ProcessingOutcome struct {
	// Status is Completed or Failed once the worker ended the execution, Unspecified otherwise
	Status persistence.TaskStatus
	Error  string
	// Results are the keys whose bytes are fully written under the staged keys of the acquisition
	Results []string
	// Creations are the subtasks asked by the worker, still in creation
	Creations []*submitter.TaskCreation
}

// CreatedTaskIds returns the ids of all the subtasks
func (o *ProcessingOutcome) CreatedTaskIds() []string {
	var ids []string
	for _, c := range o.Creations {
		ids = append(ids, c.TaskIds()...)
	}
	return ids
}

// RequestProcessor drives the exchange with the worker executing one task
type RequestProcessor struct {
	task    *persistence.Task
	objects persistence.ObjectStorage
	creator TaskCreator
	logger  log.Logger

	outcome ProcessingOutcome
	writers map[string]*resultWriter
	written map[string]bool
}

func NewRequestProcessor(
	task *persistence.Task, objects persistence.ObjectStorage, creator TaskCreator, logger log.Logger,
) *RequestProcessor {
	return &RequestProcessor{
		task:    task,
		objects: objects,
		creator: creator,
		logger:  logger,
		writers: map[string]*resultWriter{},
		written: map[string]bool{},
	}
}

// Process sends every request to the worker, then applies the replies until the completion or the error
// of the worker. The outcome is returned even along an error, with the side effects applied so far
func (p *RequestProcessor) Process(
	ctx context.Context, stream worker.Stream, requests worker.ComputeRequestStream,
) (*ProcessingOutcome, error) {
	defer p.abortResults()

	for {
		req, err := requests.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &p.outcome, err
		}
		if err := stream.Send(ctx, req); err != nil {
			return &p.outcome, fmt.Errorf("failed to send %v to the worker: %w", req.Kind, err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return &p.outcome, err
	}

	for {
		reply, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return &p.outcome, fmt.Errorf("%w: reply stream ended without completion", ErrWorkerProtocol)
		}
		if err != nil {
			return &p.outcome, err
		}

		switch reply.Kind {
		case worker.ComputeReplyKindCreateTask:
			err = p.createTasks(ctx, reply.Tasks)
		case worker.ComputeReplyKindResult:
			err = p.writeResult(ctx, reply)
		case worker.ComputeReplyKindCompletion:
			if len(p.writers) > 0 {
				return &p.outcome, fmt.Errorf("%w: completed with unfinished results", ErrWorkerProtocol)
			}
			p.outcome.Status = persistence.TaskStatusCompleted
			return &p.outcome, nil
		case worker.ComputeReplyKindError:
			p.outcome.Status = persistence.TaskStatusFailed
			p.outcome.Error = reply.Error
			return &p.outcome, nil
		default:
			err = fmt.Errorf("%w: unknown reply %q", ErrWorkerProtocol, reply.Kind)
		}
		if err != nil {
			return &p.outcome, err
		}
	}
}

func (p *RequestProcessor) createTasks(ctx context.Context, tasks []worker.TaskRequest) error {
	if p.creator == nil {
		return fmt.Errorf("%w: subtasks are not supported", ErrWorkerProtocol)
	}
	requests := make([]submitter.TaskRequest, 0, len(tasks))
	for _, t := range tasks {
		req := submitter.TaskRequest{
			ExpectedOutputKeys: t.ExpectedOutputKeys,
			DataDependencies:   t.DataDependencies,
			Options:            t.Options,
		}
		if len(t.Payload) > 0 {
			req.Payload = [][]byte{t.Payload}
		}
		requests = append(requests, req)
	}

	creation, err := p.creator.CreateTasks(ctx, p.task.SessionId, p.task.Id, &p.task.Options, requests)
	if err != nil {
		return fmt.Errorf("failed to create subtasks: %w", err)
	}
	p.outcome.Creations = append(p.outcome.Creations, creation)
	p.logger.Debug("subtasks created", tag.TaskIds(creation.TaskIds()))
	return nil
}

func (p *RequestProcessor) writeResult(ctx context.Context, reply *worker.ComputeReply) error {
	key := reply.Key
	if !containsKey(p.task.ExpectedOutputKeys, key) {
		return fmt.Errorf("%w: %q is not an expected output", ErrWorkerProtocol, key)
	}
	if p.written[key] {
		return fmt.Errorf("%w: result %q is sent twice", ErrWorkerProtocol, key)
	}

	w, ok := p.writers[key]
	if !ok {
		w = p.openResult(ctx, key)
		p.writers[key] = w
	}
	if len(reply.Chunk) > 0 {
		if err := w.write(ctx, reply.Chunk); err != nil {
			return fmt.Errorf("failed to write result %q: %w", key, err)
		}
	}
	if !reply.Last {
		return nil
	}

	delete(p.writers, key)
	if err := w.finish(); err != nil {
		return fmt.Errorf("failed to write result %q: %w", key, err)
	}
	p.written[key] = true
	p.outcome.Results = append(p.outcome.Results, key)
	return nil
}

func (p *RequestProcessor) openResult(ctx context.Context, key string) *resultWriter {
	wctx, cancel := context.WithCancel(ctx)
	w := &resultWriter{
		chunks: make(chan []byte),
		done:   make(chan error, 1),
		cancel: cancel,
	}
	objectKey := persistence.StagedResultKey(p.task.SessionId, key, p.task.AcquisitionId)
	go func() {
		w.done <- p.objects.AddOrUpdate(wctx, objectKey, &channelChunkStream{chunks: w.chunks})
	}()
	return w
}

// abortResults stops the uploads of the results the worker didn't finish
func (p *RequestProcessor) abortResults() {
	for key, w := range p.writers {
		w.abort()
		delete(p.writers, key)
	}
}

// resultWriter streams the chunks of one result into the object storage as they arrive
type resultWriter struct {
	chunks chan []byte
	done   chan error
	cancel context.CancelFunc
	ended  bool
	err    error
}

func (w *resultWriter) write(ctx context.Context, chunk []byte) error {
	if w.ended {
		return w.endError()
	}
	select {
	case w.chunks <- chunk:
		return nil
	case err := <-w.done:
		w.ended = true
		w.err = err
		return w.endError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *resultWriter) endError() error {
	if w.err != nil {
		return w.err
	}
	return errors.New("object storage stopped reading")
}

func (w *resultWriter) finish() error {
	defer w.cancel()
	if w.ended {
		return w.err
	}
	close(w.chunks)
	w.ended = true
	w.err = <-w.done
	return w.err
}

func (w *resultWriter) abort() {
	w.cancel()
	if !w.ended {
		w.ended = true
		<-w.done
	}
}

type channelChunkStream struct {
	chunks <-chan []byte
}

func (s *channelChunkStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *channelChunkStream) Close() error {
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
