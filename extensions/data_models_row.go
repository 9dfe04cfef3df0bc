// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// The rows are mapped to the columns by converting the field names to snake case,
// the statuses are kept as the int32 values of the persistence enums

type (
	TaskRow struct {
		Id            string
		SessionId     string
		ParentTaskIds pq.StringArray
		Status        int32
		// Options is the JSON form of the task options
		Options types.JSONText
		// MaxRetries is copied out of Options so that acquisitions can be guarded in a single statement
		MaxRetries                int32
		DataDependencies          pq.StringArray
		ExpectedOutputKeys        pq.StringArray
		Retries                   int32
		Payload                   []byte
		HasPayloadInObjectStorage bool
		OwnerPodId                string
		AcquisitionId             string
		AcquiredUntil             *time.Time
		Output                    types.JSONText
		CreationDate              time.Time
		SubmittedDate             *time.Time
		StartDate                 *time.Time
		EndDate                   *time.Time
	}

	AcquireTaskRow struct {
		TaskId        string
		OwnerPodId    string
		AcquisitionId string
		LeaseDuration time.Duration
	}

	EndTaskRow struct {
		TaskId        string
		AcquisitionId string
		Status        int32
		Output        types.JSONText
		CountAsRetry  bool
		// IsTerminal stamps the end date
		IsTerminal bool
	}

	TaskFilterRow struct {
		// SessionId is ignored when empty, so are the empty lists
		SessionId string
		TaskIds   []string
		Statuses  []int32
	}

	StatusCountRow struct {
		Status int32
		Count  int64
	}

	SessionRow struct {
		Id               string
		Status           int32
		PartitionIds     pq.StringArray
		Options          types.JSONText
		CreationDate     time.Time
		CancellationDate *time.Time
	}

	ResultRow struct {
		SessionId      string
		Key            string
		OwnerTaskId    string
		Status         int32
		CreationDate   time.Time
		CompletionDate *time.Time
	}
)
