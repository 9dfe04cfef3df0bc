// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"container/heap"
	"time"
)

type queuedMessage struct {
	messageId string
	taskId    string
	priority  int
	// seq keeps the order of enqueuing among messages of the same priority
	seq       int64
	visibleAt time.Time
}

// messagePriorityQueue implements heap.Interface, Pop gives the highest priority first
type messagePriorityQueue []*queuedMessage

func newMessagePriorityQueue() *messagePriorityQueue {
	pq := make(messagePriorityQueue, 0)
	heap.Init(&pq)
	return &pq
}

func (pq *messagePriorityQueue) Len() int { return len(*pq) }

func (pq *messagePriorityQueue) Less(i, j int) bool {
	a, b := (*pq)[i], (*pq)[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (pq *messagePriorityQueue) Swap(i, j int) {
	(*pq)[i], (*pq)[j] = (*pq)[j], (*pq)[i]
}

func (pq *messagePriorityQueue) Push(x any) {
	item, ok := x.(*queuedMessage)
	if !ok {
		panic("pushed item is not a queuedMessage")
	}
	*pq = append(*pq, item)
}

func (pq *messagePriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*pq = old[0 : n-1]
	return item
}

// popVisible pops up to n messages visible at now, leaving the postponed ones in the queue
func (pq *messagePriorityQueue) popVisible(n int, now time.Time) []*queuedMessage {
	var out, hidden []*queuedMessage
	for pq.Len() > 0 && len(out) < n {
		item := heap.Pop(pq).(*queuedMessage)
		if item.visibleAt.After(now) {
			hidden = append(hidden, item)
			continue
		}
		out = append(out, item)
	}
	for _, item := range hidden {
		heap.Push(pq, item)
	}
	return out
}
