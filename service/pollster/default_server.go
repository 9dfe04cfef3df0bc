// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package pollster

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/xcherryio/taskgrid/common/log"
	"github.com/xcherryio/taskgrid/common/log/tag"
	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/engine"
	"github.com/xcherryio/taskgrid/persistence"
	"github.com/xcherryio/taskgrid/worker"
)

const PathNotifyNewMessages = "/internal/api/v1/taskgrid/notify-new-messages"
const PathHealthz = "/healthz"
const PathMetrics = "/metrics"

type defaultSever struct {
	rootCtx context.Context
	cfg     config.Config
	logger  log.Logger

	engine     *gin.Engine
	httpServer *http.Server
	svc        Service
}

// NewGinEngine registers the internal endpoints of the pollster into a new gin engine
func NewGinEngine(cfg config.Config, svc Service, logger log.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := newGinHandler(cfg, svc, logger)

	engine.POST(PathNotifyNewMessages, handler.NotifyNewMessages)
	engine.GET(PathHealthz, handler.Healthz)
	engine.GET(PathMetrics, gin.WrapH(promhttp.Handler()))
	return engine
}

func NewDefaultPollsterServerWithGin(
	rootCtx context.Context, cfg config.Config, storages persistence.Storages, creator engine.TaskCreator,
	streams worker.StreamHandler, logger log.Logger,
) Server {
	svc := NewPollsterServiceImpl(cfg, storages, creator, streams, logger)
	engine := NewGinEngine(cfg, svc, logger)

	svrCfg := cfg.PollsterService.InternalHttpServer
	httpServer := &http.Server{
		Addr:              svrCfg.Address,
		ReadTimeout:       svrCfg.ReadTimeout,
		WriteTimeout:      svrCfg.WriteTimeout,
		ReadHeaderTimeout: svrCfg.ReadHeaderTimeout,
		IdleTimeout:       svrCfg.IdleTimeout,
		MaxHeaderBytes:    svrCfg.MaxHeaderBytes,
		TLSConfig:         svrCfg.TLSConfig,
		Handler:           engine,
		BaseContext: func(listener net.Listener) context.Context {
			// for graceful shutdown
			return rootCtx
		},
	}

	return &defaultSever{
		rootCtx:    rootCtx,
		cfg:        cfg,
		logger:     logger,
		engine:     engine,
		httpServer: httpServer,
		svc:        svc,
	}
}

func (s defaultSever) Start() error {
	go func() {
		err := s.httpServer.ListenAndServe()
		s.logger.Info("Internal Http Server for pollster service is closed", tag.Error(err))
	}()

	return s.svc.Start()
}

func (s defaultSever) Stop(ctx context.Context) error {
	err1 := s.httpServer.Shutdown(ctx)
	err2 := s.svc.Stop(ctx)
	return multierr.Combine(err1, err2)
}
