// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xcherryio/taskgrid/common/uuid"
	"github.com/xcherryio/taskgrid/persistence"
)

// QueueStorage keeps the messages of every partition in a priority heap.
// A pulled message is held by its puller until closed, the lease is lost only when the queue is closed
type QueueStorage struct {
	sync.Mutex
	maxPriority   int
	postponeDelay time.Duration
	seq           int64
	partitions    map[string]*messagePriorityQueue
	inFlight      map[string]*queuedMessage
	deadLetters   map[string][]string
	closed        chan struct{}
	closeOnce     sync.Once
}

var _ persistence.QueueStorage = (*QueueStorage)(nil)

func NewQueueStorage(maxPriority int, postponeDelay time.Duration) *QueueStorage {
	return &QueueStorage{
		maxPriority:   maxPriority,
		postponeDelay: postponeDelay,
		partitions:    map[string]*messagePriorityQueue{},
		inFlight:      map[string]*queuedMessage{},
		deadLetters:   map[string][]string{},
		closed:        make(chan struct{}),
	}
}

func (q *QueueStorage) MaxPriority() int {
	return q.maxPriority
}

func (q *QueueStorage) EnqueueMessages(
	ctx context.Context, partitionId string, priority int, taskIds []string,
) error {
	if priority < 0 || priority > q.maxPriority {
		return fmt.Errorf("%w: priority %v is out of [0, %v]", persistence.ErrInvalidPriority, priority, q.maxPriority)
	}
	q.Lock()
	defer q.Unlock()

	for _, taskId := range taskIds {
		q.pushLocked(partitionId, &queuedMessage{
			messageId: uuid.NewId(),
			taskId:    taskId,
			priority:  priority,
		})
	}
	return nil
}

func (q *QueueStorage) PullMessages(
	ctx context.Context, partitionId string, nbMessages int,
) ([]persistence.QueueMessageHandler, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.Lock()
	defer q.Unlock()

	pq, ok := q.partitions[partitionId]
	if !ok {
		return []persistence.QueueMessageHandler{}, nil
	}
	items := pq.popVisible(nbMessages, time.Now())
	handlers := make([]persistence.QueueMessageHandler, 0, len(items))
	for _, item := range items {
		q.inFlight[item.messageId] = item
		handlers = append(handlers, &messageHandler{
			queue:       q,
			partitionId: partitionId,
			item:        item,
		})
	}
	return handlers, nil
}

// DeadLetters returns the task ids of the poisonous messages of the partition
func (q *QueueStorage) DeadLetters(partitionId string) []string {
	q.Lock()
	defer q.Unlock()
	return append([]string(nil), q.deadLetters[partitionId]...)
}

// Len returns the number of messages waiting in the partition, postponed ones included
func (q *QueueStorage) Len(partitionId string) int {
	q.Lock()
	defer q.Unlock()
	pq, ok := q.partitions[partitionId]
	if !ok {
		return 0
	}
	return pq.Len()
}

func (q *QueueStorage) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil
}

func (q *QueueStorage) pushLocked(partitionId string, item *queuedMessage) {
	pq, ok := q.partitions[partitionId]
	if !ok {
		pq = newMessagePriorityQueue()
		q.partitions[partitionId] = pq
	}
	if item.seq == 0 {
		q.seq++
		item.seq = q.seq
	}
	heap.Push(pq, item)
}

func (q *QueueStorage) release(partitionId string, item *queuedMessage, status persistence.QueueMessageStatus) {
	q.Lock()
	defer q.Unlock()

	delete(q.inFlight, item.messageId)
	switch status {
	case persistence.QueueMessageStatusProcessed, persistence.QueueMessageStatusCancelled:
	case persistence.QueueMessageStatusPoisonous:
		q.deadLetters[partitionId] = append(q.deadLetters[partitionId], item.taskId)
	case persistence.QueueMessageStatusPostponed:
		item.visibleAt = time.Now().Add(q.postponeDelay)
		q.pushLocked(partitionId, item)
	default:
		// waiting messages are redelivered at once
		item.visibleAt = time.Time{}
		q.pushLocked(partitionId, item)
	}
}

type messageHandler struct {
	queue       *QueueStorage
	partitionId string
	item        *queuedMessage

	mu        sync.Mutex
	status    persistence.QueueMessageStatus
	closeOnce sync.Once
}

func (m *messageHandler) MessageId() string {
	return m.item.messageId
}

func (m *messageHandler) TaskId() string {
	return m.item.taskId
}

func (m *messageHandler) Status() persistence.QueueMessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *messageHandler) SetStatus(status persistence.QueueMessageStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

func (m *messageHandler) LeaseLost() <-chan struct{} {
	return m.queue.closed
}

func (m *messageHandler) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.queue.release(m.partitionId, m.item, m.Status())
	})
	return nil
}
