// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package pollster

import (
	"context"
	"errors"
	"fmt"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/engine"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/worker"
)

// healthCheckSessionId is never created, looking it up only proves the table is reachable
const healthCheckSessionId = "taskgrid-health-check"

type pollsterService struct {
	pollster engine.Pollster
	storages persistence.Storages

	cfg    config.Config
	logger log.Logger
}

func NewPollsterServiceImpl(
	cfg config.Config, storages persistence.Storages, creator engine.TaskCreator, streams worker.StreamHandler,
	logger log.Logger,
) Service {
	return &pollsterService{
		pollster: engine.NewPollster(cfg, storages, creator, streams, logger),
		storages: storages,
		cfg:      cfg,
		logger:   logger,
	}
}

func (p pollsterService) Start() error {
	err := p.pollster.Start()
	if err != nil {
		p.logger.Error("fail to start pollster", tag.Error(err))
		return err
	}
	return nil
}

func (p pollsterService) NotifyNewMessages(request NotifyMessagesRequest) error {
	if request.PartitionId != p.cfg.PollsterService.PartitionId {
		return fmt.Errorf("the partition %v is not served by this instance", request.PartitionId)
	}
	p.pollster.NotifyNewMessages()
	return nil
}

func (p pollsterService) CheckHealth(ctx context.Context) error {
	_, err := p.storages.Sessions.GetSession(ctx, healthCheckSessionId)
	if err == nil || errors.Is(err, persistence.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (p pollsterService) Stop(ctx context.Context) error {
	return p.pollster.Stop(ctx)
}
