// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import "fmt"

type TaskStatus int32

const (
	TaskStatusUnspecified TaskStatus = 0
	TaskStatusCreating    TaskStatus = 1
	TaskStatusSubmitted   TaskStatus = 2
	TaskStatusDispatched  TaskStatus = 3
	TaskStatusCompleted   TaskStatus = 4
	TaskStatusError       TaskStatus = 5
	TaskStatusTimeout     TaskStatus = 6
	TaskStatusCanceling   TaskStatus = 7
	TaskStatusCanceled    TaskStatus = 8
	TaskStatusProcessing  TaskStatus = 9
	TaskStatusFailed      TaskStatus = 10
	// TaskStatusProcessed only shows up in counts of legacy rows, the pollster never writes it
	TaskStatusProcessed TaskStatus = 11
)

// AllTaskStatuses lists the statuses in their numeric order
var AllTaskStatuses = []TaskStatus{
	TaskStatusUnspecified, TaskStatusCreating, TaskStatusSubmitted, TaskStatusDispatched,
	TaskStatusCompleted, TaskStatusError, TaskStatusTimeout, TaskStatusCanceling,
	TaskStatusCanceled, TaskStatusProcessing, TaskStatusFailed, TaskStatusProcessed,
}

// TerminalTaskStatuses can never be left once reached
var TerminalTaskStatuses = []TaskStatus{TaskStatusCompleted, TaskStatusCanceled, TaskStatusFailed}

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusUnspecified:
		return "Unspecified"
	case TaskStatusCreating:
		return "Creating"
	case TaskStatusSubmitted:
		return "Submitted"
	case TaskStatusDispatched:
		return "Dispatched"
	case TaskStatusCompleted:
		return "Completed"
	case TaskStatusError:
		return "Error"
	case TaskStatusTimeout:
		return "Timeout"
	case TaskStatusCanceling:
		return "Canceling"
	case TaskStatusCanceled:
		return "Canceled"
	case TaskStatusProcessing:
		return "Processing"
	case TaskStatusFailed:
		return "Failed"
	case TaskStatusProcessed:
		return "Processed"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int32(s))
	}
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCanceled || s == TaskStatusFailed
}

// ParseTaskStatus is the reverse of String
func ParseTaskStatus(str string) (TaskStatus, error) {
	for _, s := range AllTaskStatuses {
		if s.String() == str {
			return s, nil
		}
	}
	return TaskStatusUnspecified, fmt.Errorf("unknown task status %q", str)
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type SessionStatus int32

const (
	SessionStatusUnspecified SessionStatus = 0
	SessionStatusRunning     SessionStatus = 1
	SessionStatusCancelled   SessionStatus = 2
)

func (s SessionStatus) String() string {
	switch s {
	case SessionStatusRunning:
		return "Running"
	case SessionStatusCancelled:
		return "Cancelled"
	default:
		return "Unspecified"
	}
}

func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func ParseSessionStatus(str string) (SessionStatus, error) {
	for _, s := range []SessionStatus{SessionStatusRunning, SessionStatusCancelled} {
		if s.String() == str {
			return s, nil
		}
	}
	return SessionStatusUnspecified, fmt.Errorf("unknown session status %q", str)
}

type ResultStatus int32

const (
	ResultStatusUnspecified ResultStatus = 0
	ResultStatusCreated     ResultStatus = 1
	ResultStatusCompleted   ResultStatus = 2
	ResultStatusAborted     ResultStatus = 3
)

func (s ResultStatus) String() string {
	switch s {
	case ResultStatusCreated:
		return "Created"
	case ResultStatusCompleted:
		return "Completed"
	case ResultStatusAborted:
		return "Aborted"
	default:
		return "Unspecified"
	}
}

func (s ResultStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QueueMessageStatus is the disposition a pollster sets on a pulled message.
// It tells the queue what to do with the message once the handler is closed
type QueueMessageStatus int32

const (
	// QueueMessageStatusWaiting leaves the message to the redelivery policy of the queue
	QueueMessageStatusWaiting QueueMessageStatus = iota
	// QueueMessageStatusPostponed requeues the message for a later delivery
	QueueMessageStatusPostponed
	// QueueMessageStatusProcessed acknowledges and removes the message
	QueueMessageStatusProcessed
	// QueueMessageStatusCancelled removes the message, the task will not run
	QueueMessageStatusCancelled
	// QueueMessageStatusPoisonous dead-letters the message
	QueueMessageStatusPoisonous
)

func (s QueueMessageStatus) String() string {
	switch s {
	case QueueMessageStatusWaiting:
		return "Waiting"
	case QueueMessageStatusPostponed:
		return "Postponed"
	case QueueMessageStatusProcessed:
		return "Processed"
	case QueueMessageStatusCancelled:
		return "Cancelled"
	case QueueMessageStatusPoisonous:
		return "Poisonous"
	default:
		return fmt.Sprintf("QueueMessageStatus(%d)", int32(s))
	}
}
