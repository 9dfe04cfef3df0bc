// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package pulsarqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
)

const taskIdProperty = "taskId"

// QueueStorage uses one topic per partition and priority, consumed through a shared subscription.
// The partition ids must be valid topic name segments.
// A pulled message stays unacknowledged until closed, the lease is lost only when the queue is closed
type QueueStorage struct {
	cfg           config.PulsarConfig
	maxPriority   int
	postponeDelay time.Duration
	client        pulsar.Client
	logger        log.Logger

	sync.Mutex
	producers  map[string]pulsar.Producer
	consumers  map[string][]pulsar.Consumer
	deadLetter pulsar.Producer

	closed    chan struct{}
	closeOnce sync.Once
}

var _ persistence.QueueStorage = (*QueueStorage)(nil)

func NewQueueStorage(cfg config.QueueStorageConfig, logger log.Logger) (*QueueStorage, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               cfg.Pulsar.URL,
		OperationTimeout:  cfg.Pulsar.OperationTimeout,
		ConnectionTimeout: cfg.Pulsar.ConnectionTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &QueueStorage{
		cfg:           *cfg.Pulsar,
		maxPriority:   cfg.MaxPriority,
		postponeDelay: cfg.PostponeDelay,
		client:        client,
		logger:        logger.WithTags(tag.Backend(string(config.StorageBackendPulsar))),
		producers:     map[string]pulsar.Producer{},
		consumers:     map[string][]pulsar.Consumer{},
		closed:        make(chan struct{}),
	}, nil
}

func (q *QueueStorage) MaxPriority() int {
	return q.maxPriority
}

func (q *QueueStorage) topic(partitionId string, priority int) string {
	return fmt.Sprintf("%v-%v-p%v", q.cfg.TopicPrefix, partitionId, priority)
}

func (q *QueueStorage) EnqueueMessages(
	ctx context.Context, partitionId string, priority int, taskIds []string,
) error {
	if priority < 0 || priority > q.maxPriority {
		return fmt.Errorf("%w: priority %v is out of [0, %v]", persistence.ErrInvalidPriority, priority, q.maxPriority)
	}
	producer, err := q.getProducer(q.topic(partitionId, priority))
	if err != nil {
		return err
	}
	for _, taskId := range taskIds {
		if _, err := producer.Send(ctx, newTaskMessage(taskId)); err != nil {
			return fmt.Errorf("failed to enqueue task %v: %w", taskId, err)
		}
	}
	return nil
}

// PullMessages drains what the consumers already received, highest priority first. It never blocks
func (q *QueueStorage) PullMessages(
	ctx context.Context, partitionId string, nbMessages int,
) ([]persistence.QueueMessageHandler, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	consumers, err := q.getConsumers(partitionId)
	if err != nil {
		return nil, err
	}

	handlers := make([]persistence.QueueMessageHandler, 0, nbMessages)
	// consumers are ordered by descending priority
	for i, consumer := range consumers {
		priority := q.maxPriority - i
	drain:
		for len(handlers) < nbMessages {
			select {
			case msg, ok := <-consumer.Chan():
				if !ok {
					break drain
				}
				handlers = append(handlers, &messageHandler{
					queue:       q,
					consumer:    consumer,
					msg:         msg.Message,
					partitionId: partitionId,
					priority:    priority,
				})
			default:
				break drain
			}
		}
	}
	return handlers, nil
}

func (q *QueueStorage) getProducer(topic string) (pulsar.Producer, error) {
	q.Lock()
	defer q.Unlock()

	if producer, ok := q.producers[topic]; ok {
		return producer, nil
	}
	producer, err := q.client.CreateProducer(pulsar.ProducerOptions{
		Topic: topic,
	})
	if err != nil {
		return nil, err
	}
	q.producers[topic] = producer
	return producer, nil
}

func (q *QueueStorage) getDeadLetterProducer() (pulsar.Producer, error) {
	q.Lock()
	defer q.Unlock()

	if q.deadLetter != nil {
		return q.deadLetter, nil
	}
	producer, err := q.client.CreateProducer(pulsar.ProducerOptions{
		Topic: q.cfg.DeadLetterTopic,
	})
	if err != nil {
		return nil, err
	}
	q.deadLetter = producer
	return producer, nil
}

func (q *QueueStorage) getConsumers(partitionId string) ([]pulsar.Consumer, error) {
	q.Lock()
	defer q.Unlock()

	if consumers, ok := q.consumers[partitionId]; ok {
		return consumers, nil
	}
	var consumers []pulsar.Consumer
	for priority := q.maxPriority; priority >= 0; priority-- {
		consumer, err := q.client.Subscribe(pulsar.ConsumerOptions{
			Topic:                       q.topic(partitionId, priority),
			SubscriptionName:            q.cfg.Subscription,
			Type:                        pulsar.Shared,
			SubscriptionInitialPosition: pulsar.SubscriptionPositionEarliest,
			NackRedeliveryDelay:         q.postponeDelay,
		})
		if err != nil {
			for _, c := range consumers {
				c.Close()
			}
			return nil, err
		}
		consumers = append(consumers, consumer)
	}
	q.consumers[partitionId] = consumers
	return consumers, nil
}

func (q *QueueStorage) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)

		q.Lock()
		defer q.Unlock()
		for _, consumers := range q.consumers {
			for _, consumer := range consumers {
				consumer.Close()
			}
		}
		for _, producer := range q.producers {
			producer.Close()
		}
		if q.deadLetter != nil {
			q.deadLetter.Close()
		}
		q.client.Close()
	})
	return nil
}

type messageHandler struct {
	queue       *QueueStorage
	consumer    pulsar.Consumer
	msg         pulsar.Message
	partitionId string
	priority    int

	mu        sync.Mutex
	status    persistence.QueueMessageStatus
	closeOnce sync.Once
	closeErr  error
}

func (m *messageHandler) MessageId() string {
	return m.msg.ID().String()
}

func (m *messageHandler) TaskId() string {
	if taskId, ok := m.msg.Properties()[taskIdProperty]; ok {
		return taskId
	}
	return string(m.msg.Payload())
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
		m.closeErr = m.applyStatus(ctx, m.Status())
	})
	return m.closeErr
}

func (m *messageHandler) applyStatus(ctx context.Context, status persistence.QueueMessageStatus) error {
	switch status {
	case persistence.QueueMessageStatusProcessed, persistence.QueueMessageStatusCancelled:
		return m.consumer.Ack(m.msg)
	case persistence.QueueMessageStatusPoisonous:
		producer, err := m.queue.getDeadLetterProducer()
		if err != nil {
			m.consumer.Nack(m.msg)
			return err
		}
		return m.republish(ctx, producer, newTaskMessage(m.TaskId()))
	case persistence.QueueMessageStatusPostponed:
		producer, err := m.queue.getProducer(m.queue.topic(m.partitionId, m.priority))
		if err != nil {
			m.consumer.Nack(m.msg)
			return err
		}
		delayed := newTaskMessage(m.TaskId())
		delayed.DeliverAfter = m.queue.postponeDelay
		return m.republish(ctx, producer, delayed)
	default:
		m.consumer.Nack(m.msg)
		return nil
	}
}

// republish sends a copy of the message and acks the original one.
// When the copy cannot be sent the original is redelivered instead
func (m *messageHandler) republish(ctx context.Context, producer pulsar.Producer, msg *pulsar.ProducerMessage) error {
	if _, err := producer.Send(ctx, msg); err != nil {
		m.consumer.Nack(m.msg)
		return err
	}
	if err := m.consumer.Ack(m.msg); err != nil {
		// the copy is already sent, the original may be delivered once more
		return fmt.Errorf("republished message %v was not acked: %w", m.MessageId(), err)
	}
	return nil
}

func newTaskMessage(taskId string) *pulsar.ProducerMessage {
	return &pulsar.ProducerMessage{
		Payload:    []byte(taskId),
		Properties: map[string]string{taskIdProperty: taskId},
	}
}
