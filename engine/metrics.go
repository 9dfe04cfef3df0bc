// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesPulled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgrid_pollster_messages_pulled_total",
		Help: "Total number of queue messages pulled by the pollster",
	}, []string{"partition"})

	messagesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgrid_pollster_messages_closed_total",
		Help: "Total number of queue messages closed, by disposition",
	}, []string{"partition", "disposition"})

	tasksAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgrid_pollster_tasks_acquired_total",
		Help: "Total number of tasks acquired by the pollster",
	}, []string{"partition"})

	tasksEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgrid_pollster_tasks_ended_total",
		Help: "Total number of executions ended, by the status written to the task",
	}, []string{"partition", "status"})

	execDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskgrid_pollster_exec_duration_seconds",
		Help:    "Time from the acquisition of a task to the end of its post processing",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"partition"})

	postProcessingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskgrid_pollster_post_processing_errors_total",
		Help: "Total number of post processings that failed to commit the outcome",
	}, []string{"partition"})
)
