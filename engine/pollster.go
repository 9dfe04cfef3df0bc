// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xcherryio/taskgrid/common/lease"
	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/worker"
)

type pollsterImpl struct {
	rootCtx    context.Context
	cancelRoot context.CancelFunc
	cfg        config.PollsterServiceConfig
	handlerCfg HandlerConfig
	storages   persistence.Storages
	creator    TaskCreator
	streams    worker.StreamHandler
	logger     log.Logger

	// timer for pulling messages and dispatch to the processors
	pollTimer lease.TimerGate
	// messagesToProcessChan is the channel the processors consume
	messagesToProcessChan chan persistence.QueueMessageHandler
	// inFlight counts the pulled messages not disposed yet, it never exceeds the concurrency
	inFlight atomic.Int32
	wg       sync.WaitGroup
}

func NewPollster(
	cfg config.Config, storages persistence.Storages, creator TaskCreator, streams worker.StreamHandler,
	logger log.Logger,
) Pollster {
	pCfg := cfg.PollsterService
	rootCtx, cancelRoot := context.WithCancel(context.Background())

	return &pollsterImpl{
		rootCtx:    rootCtx,
		cancelRoot: cancelRoot,
		cfg:        pCfg,
		handlerCfg: HandlerConfig{
			PodId:             pCfg.PodId,
			PartitionId:       pCfg.PartitionId,
			TaskLeaseDuration: pCfg.TaskLeaseDuration,
			TaskLeaseRefresh:  pCfg.TaskLeaseRefresh,
			// a cancellation is observed within one polling interval
			CancellationCheckInterval: pCfg.PollInterval,
			ChunkSize:                 cfg.ObjectStorage.ChunkSize,
			MaxErrorDetailSize:        pCfg.Worker.MaxErrorDetailSize,
			PostProcessingTimeout:     pCfg.TaskLeaseDuration,
		},
		storages: storages,
		creator:  creator,
		streams:  streams,
		logger:   logger.WithTags(tag.PartitionId(pCfg.PartitionId), tag.PodId(pCfg.PodId)),

		pollTimer:             lease.NewLocalTimerGate(),
		messagesToProcessChan: make(chan persistence.QueueMessageHandler, pCfg.Concurrency),
	}
}

func (w *pollsterImpl) Start() error {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-w.rootCtx.Done():
					return
				case message := <-w.messagesToProcessChan:
					w.processMessage(message)
					if w.inFlight.Add(-1) == int32(w.cfg.Concurrency-1) {
						// was saturated, pull without waiting for the next interval
						w.pollTimer.Update(time.Now())
					}
				}
			}
		}()
	}

	// fire immediately to make the first pull
	w.pollTimer.Update(time.Now())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.pollTimer.FireChan():
				w.pullAndDispatchAndPrepareNext()
			case <-w.rootCtx.Done():
				w.logger.Info("pollster is being closed")
				return
			}
		}
	}()
	return nil
}

func (w *pollsterImpl) NotifyNewMessages() {
	w.pollTimer.Update(time.Now())
}

// Stop interrupts the executions, which give their tasks back to the queue, and waits for them
func (w *pollsterImpl) Stop(ctx context.Context) error {
	w.cancelRoot()
	// close timer to prevent goroutine leakage
	w.pollTimer.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// messages pulled but never handled go back to the queue
	for {
		select {
		case message := <-w.messagesToProcessChan:
			if err := message.Close(ctx); err != nil {
				w.logger.Warn("failed to release a pulled message", tag.MessageId(message.MessageId()), tag.Error(err))
			}
		default:
			return nil
		}
	}
}

func (w *pollsterImpl) getNextPollTime(interval, jitter time.Duration) time.Time {
	var jitterD time.Duration
	if jitter > 0 {
		jitterD = time.Duration(rand.Int63n(int64(jitter)))
	}
	return time.Now().Add(interval).Add(jitterD)
}

func (w *pollsterImpl) pullAndDispatchAndPrepareNext() {
	free := w.cfg.Concurrency - int(w.inFlight.Load())
	if free <= 0 {
		// a processor triggers the next pull once it is done
		return
	}
	nb := w.cfg.MessageBatchSize
	if nb > free {
		nb = free
	}

	messages, err := w.storages.Queue.PullMessages(w.rootCtx, w.cfg.PartitionId, nb)
	if err != nil {
		if w.rootCtx.Err() != nil {
			return
		}
		w.logger.Error("failed at pulling messages", tag.Error(err))
		w.pollTimer.Update(w.getNextPollTime(w.cfg.PollInterval, w.cfg.PollIntervalJitter))
		return
	}

	for _, message := range messages {
		w.inFlight.Add(1)
		w.messagesToProcessChan <- message
	}
	if len(messages) > 0 {
		messagesPulled.WithLabelValues(w.cfg.PartitionId).Add(float64(len(messages)))
	}
	w.logger.Debug("pull succeeded", tag.Value(len(messages)))

	if len(messages) == nb {
		// more messages are likely waiting
		w.pollTimer.Update(time.Now())
	} else {
		w.pollTimer.Update(w.getNextPollTime(w.cfg.PollInterval, w.cfg.PollIntervalJitter))
	}
}

func (w *pollsterImpl) processMessage(message persistence.QueueMessageHandler) {
	handler := NewTaskHandler(w.rootCtx, w.handlerCfg, w.storages, w.creator, w.streams, message, w.logger)
	defer func() {
		if err := handler.Dispose(w.rootCtx); err != nil {
			w.logger.Warn("failed to dispose the task handler", tag.MessageId(message.MessageId()), tag.Error(err))
		}
	}()

	acquired, err := handler.AcquireTask(w.rootCtx)
	if err != nil {
		w.logger.Error("failed to acquire the task of the message, leaving it to redelivery",
			tag.MessageId(message.MessageId()), tag.TaskId(message.TaskId()), tag.Error(err))
		return
	}
	if !acquired {
		return
	}

	if err := handler.PreProcessing(w.rootCtx); err == nil {
		if err := handler.ExecuteTask(w.rootCtx); err != nil {
			w.logger.Debug("execution ended with an error", tag.TaskId(message.TaskId()), tag.Error(err))
		}
	}
	// errors are logged by the handler
	_ = handler.PostProcessing(w.rootCtx)
}
