// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	rawLog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/service/api"
	"github.com/xcherryio/taskgrid/service/pollster"
	"github.com/xcherryio/taskgrid/submitter"
	"github.com/xcherryio/taskgrid/worker/httpstream"
)

const SubmitterServiceName = "submitter"
const PollsterServiceName = "pollster"

const FlagConfig = "config"
const FlagService = "service"

func StartTaskgridServerCli(c *cli.Context) {
	// register interrupt signal for graceful shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := c.String(FlagConfig)
	services := getServices(c)

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		rawLog.Fatalf("Unable to load config for path %v because of error %v", configPath, err)
	}
	shutdownFunc := StartTaskgridServer(rootCtx, cfg, services)
	// wait for os signals
	<-rootCtx.Done()

	// the pollster gives its running tasks back within the post processing timeout
	ctx, cancF := context.WithTimeout(context.Background(), cfg.PollsterService.TaskLeaseDuration+time.Second*10)
	defer cancF()
	err = shutdownFunc(ctx)
	if err != nil {
		fmt.Println("shutdown error:", err)
	}
}

type GracefulShutdown func(ctx context.Context) error

func StartTaskgridServer(rootCtx context.Context, cfg *config.Config, services map[string]bool) GracefulShutdown {
	if len(services) == 0 {
		services = map[string]bool{SubmitterServiceName: true, PollsterServiceName: true}
	}

	zapLogger, err := cfg.Log.NewZapLogger()
	if err != nil {
		rawLog.Fatalf("Unable to create a new zap logger %v", err)
	}
	logger := log.NewLogger(zapLogger)
	err = cfg.ValidateAndSetDefaults()
	if err != nil {
		logger.Fatal("config is invalid", tag.Error(err))
	}
	logger.Info("config is loaded", tag.Value(cfg.String()))

	storages, closeStorages, err := NewStorages(rootCtx, *cfg, logger)
	if err != nil {
		logger.Fatal("error on persistence setup", tag.Error(err))
	}
	sub := submitter.NewSubmitter(*cfg, storages, logger.WithTags(tag.Service(SubmitterServiceName)))

	var apiServer api.Server
	if services[SubmitterServiceName] {
		apiServer = api.NewDefaultAPIServerWithGin(
			rootCtx, *cfg, sub, logger.WithTags(tag.Service(SubmitterServiceName)))
		err = apiServer.Start()
		if err != nil {
			logger.Fatal("Failed to start submitter server", tag.Error(err))
		}
	}

	var pollsterServer pollster.Server
	streams := httpstream.NewStreamHandler(cfg.PollsterService.Worker, logger)
	if services[PollsterServiceName] {
		pollsterServer = pollster.NewDefaultPollsterServerWithGin(
			rootCtx, *cfg, storages, sub, streams, logger.WithTags(tag.Service(PollsterServiceName)))
		err = pollsterServer.Start()
		if err != nil {
			logger.Fatal("Failed to start pollster server", tag.Error(err))
		}
	}

	return func(ctx context.Context) error {
		// graceful shutdown
		var errs error
		// first stop api server
		if apiServer != nil {
			err := apiServer.Stop(ctx)
			if err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if pollsterServer != nil {
			err := pollsterServer.Stop(ctx)
			if err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		errs = multierr.Append(errs, streams.Close())
		// stop the storages once nothing uses them
		errs = multierr.Append(errs, closeStorages())
		_ = zapLogger.Sync()
		return errs
	}
}

func getServices(c *cli.Context) map[string]bool {
	val := strings.TrimSpace(c.String(FlagService))
	tokens := strings.Split(val, ",")

	services := map[string]bool{}
	for _, token := range tokens {
		t := strings.TrimSpace(token)
		if t == "" {
			continue
		}
		if t != SubmitterServiceName && t != PollsterServiceName {
			rawLog.Fatalf("Unknown service %v, expected %v or %v", t, SubmitterServiceName, PollsterServiceName)
		}
		services[t] = true
	}

	if len(services) == 0 {
		rawLog.Fatal("No services specified for starting")
	}
	return services
}
