// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package pgqueue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xcherryio/taskgrid/common/lease"
	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/common/uuid"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
)

// QueueStorage keeps the messages in the taskgrid_queue_messages table.
// A pulled message is hidden from the other pollsters until its visibility lease expires,
// the lease is renewed in the background while the message is held
type QueueStorage struct {
	pool          *pgxpool.Pool
	maxPriority   int
	leaseDuration time.Duration
	leaseRefresh  time.Duration
	postponeDelay time.Duration
	logger        log.Logger
}

var _ persistence.QueueStorage = (*QueueStorage)(nil)

func NewQueueStorage(ctx context.Context, cfg config.QueueStorageConfig, logger log.Logger) (*QueueStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres queue connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConnections

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &QueueStorage{
		pool:          pool,
		maxPriority:   cfg.MaxPriority,
		leaseDuration: cfg.LeaseDuration,
		leaseRefresh:  cfg.LeaseRefresh,
		postponeDelay: cfg.PostponeDelay,
		logger:        logger.WithTags(tag.Backend(string(config.StorageBackendPostgres))),
	}, nil
}

func (q *QueueStorage) MaxPriority() int {
	return q.maxPriority
}

const enqueueQuery = `INSERT INTO taskgrid_queue_messages (partition_id, priority, task_id)
	SELECT $1, $2, unnest($3::text[])`

func (q *QueueStorage) EnqueueMessages(
	ctx context.Context, partitionId string, priority int, taskIds []string,
) error {
	if priority < 0 || priority > q.maxPriority {
		return fmt.Errorf("%w: priority %v is out of [0, %v]", persistence.ErrInvalidPriority, priority, q.maxPriority)
	}
	if len(taskIds) == 0 {
		return nil
	}
	_, err := q.pool.Exec(ctx, enqueueQuery, partitionId, priority, taskIds)
	return err
}

// The candidates are locked with SKIP LOCKED so that concurrent pulls never return the same message
const pullQuery = `WITH candidate AS (
		SELECT id FROM taskgrid_queue_messages
		WHERE partition_id = $1 AND NOT dead_letter AND visible_at <= now()
		ORDER BY priority DESC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE taskgrid_queue_messages m
	SET lease_id = $3,
		visible_at = now() + $4::bigint * interval '1 millisecond',
		delivery_count = m.delivery_count + 1
	FROM candidate
	WHERE m.id = candidate.id
	RETURNING m.id, m.task_id, m.priority`

func (q *QueueStorage) PullMessages(
	ctx context.Context, partitionId string, nbMessages int,
) ([]persistence.QueueMessageHandler, error) {
	leaseId := uuid.NewId()
	rows, err := q.pool.Query(ctx, pullQuery, partitionId, nbMessages, leaseId, q.leaseDuration.Milliseconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pulled []pulledRow
	for rows.Next() {
		var row pulledRow
		if err := rows.Scan(&row.id, &row.taskId, &row.priority); err != nil {
			return nil, err
		}
		pulled = append(pulled, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING doesn't keep the order of the candidates
	sort.Slice(pulled, func(i, j int) bool {
		if pulled[i].priority != pulled[j].priority {
			return pulled[i].priority > pulled[j].priority
		}
		return pulled[i].id < pulled[j].id
	})

	handlers := make([]persistence.QueueMessageHandler, 0, len(pulled))
	for _, row := range pulled {
		handlers = append(handlers, q.newMessageHandler(row, leaseId))
	}
	return handlers, nil
}

const deadLettersQuery = `SELECT task_id FROM taskgrid_queue_messages
	WHERE partition_id = $1 AND dead_letter ORDER BY id`

// DeadLetters returns the task ids of the poisonous messages of the partition
func (q *QueueStorage) DeadLetters(ctx context.Context, partitionId string) ([]string, error) {
	rows, err := q.pool.Query(ctx, deadLettersQuery, partitionId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var taskIds []string
	for rows.Next() {
		var taskId string
		if err := rows.Scan(&taskId); err != nil {
			return nil, err
		}
		taskIds = append(taskIds, taskId)
	}
	return taskIds, rows.Err()
}

func (q *QueueStorage) Close() error {
	q.pool.Close()
	return nil
}

type pulledRow struct {
	id       int64
	taskId   string
	priority int32
}

const renewQuery = `UPDATE taskgrid_queue_messages
	SET visible_at = now() + $3::bigint * interval '1 millisecond'
	WHERE id = $1 AND lease_id = $2`

const deleteQuery = `DELETE FROM taskgrid_queue_messages WHERE id = $1 AND lease_id = $2`

const deadLetterQuery = `UPDATE taskgrid_queue_messages
	SET dead_letter = TRUE, lease_id = ''
	WHERE id = $1 AND lease_id = $2`

const requeueQuery = `UPDATE taskgrid_queue_messages
	SET lease_id = '', visible_at = now() + $3::bigint * interval '1 millisecond'
	WHERE id = $1 AND lease_id = $2`

type messageHandler struct {
	queue   *QueueStorage
	row     pulledRow
	leaseId string
	lease   *lease.DeadlineHandler

	mu        sync.Mutex
	status    persistence.QueueMessageStatus
	closeOnce sync.Once
	closeErr  error
}

func (q *QueueStorage) newMessageHandler(row pulledRow, leaseId string) *messageHandler {
	m := &messageHandler{
		queue:   q,
		row:     row,
		leaseId: leaseId,
	}
	m.lease = lease.NewDeadlineHandler(q.leaseDuration, q.leaseRefresh, m.renew,
		q.logger.WithTags(tag.MessageId(m.MessageId()), tag.TaskId(row.taskId)))
	return m
}

func (m *messageHandler) renew(ctx context.Context) error {
	cmdTag, err := m.queue.pool.Exec(ctx, renewQuery, m.row.id, m.leaseId, m.queue.leaseDuration.Milliseconds())
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return lease.ErrLeaseLost
	}
	return nil
}

func (m *messageHandler) MessageId() string {
	return strconv.FormatInt(m.row.id, 10)
}

func (m *messageHandler) TaskId() string {
	return m.row.taskId
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
	return m.lease.Lost()
}

func (m *messageHandler) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.lease.Release()
		m.closeErr = m.applyStatus(ctx, m.Status())
	})
	return m.closeErr
}

func (m *messageHandler) applyStatus(ctx context.Context, status persistence.QueueMessageStatus) error {
	pool := m.queue.pool
	var err error
	switch status {
	case persistence.QueueMessageStatusProcessed, persistence.QueueMessageStatusCancelled:
		_, err = pool.Exec(ctx, deleteQuery, m.row.id, m.leaseId)
	case persistence.QueueMessageStatusPoisonous:
		_, err = pool.Exec(ctx, deadLetterQuery, m.row.id, m.leaseId)
	case persistence.QueueMessageStatusPostponed:
		_, err = pool.Exec(ctx, requeueQuery, m.row.id, m.leaseId, m.queue.postponeDelay.Milliseconds())
	default:
		_, err = pool.Exec(ctx, requeueQuery, m.row.id, m.leaseId, 0)
	}
	if err != nil {
		return fmt.Errorf("failed to apply %v to message %v: %w", status, m.MessageId(), err)
	}
	// a message whose lease was lost belongs to another puller, no row matches
	return nil
}
