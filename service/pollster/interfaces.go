// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package pollster

import "context"

type Server interface {
	// Start will start running on the background
	Start() error
	Stop(ctx context.Context) error
}

type Service interface {
	Start() error
	// NotifyNewMessages triggers a pull when the partition is the one this pollster serves
	NotifyNewMessages(request NotifyMessagesRequest) error
	// CheckHealth returns an error when a storage the pollster depends on is unreachable
	CheckHealth(ctx context.Context) error
	Stop(ctx context.Context) error
}

type NotifyMessagesRequest struct {
	PartitionId string `json:"partitionId" binding:"required"`
}
